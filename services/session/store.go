// Package session owns the per-browser-context session lifecycle: it pairs the
// identity provider's notion of "who is signed in" with the user's profile, keeps
// the profile in the local cache and mirrors it to the remote store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stellarion/api/identity"
	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/models"
	"github.com/stellarion/api/repositories"
	"github.com/stellarion/api/services"
	"github.com/stellarion/api/services/mirror"
	"go.uber.org/zap"
)

// ErrOperationInFlight is returned when a mutation starts while another is pending
var ErrOperationInFlight = services.ErrOperationInFlight

// Config holds Store timing settings
type Config struct {
	ResolveTimeout      time.Duration // first provider callback deadline
	RecordLookupTimeout time.Duration // remote profile lookup deadline on sign-in
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		ResolveTimeout:      10 * time.Second,
		RecordLookupTimeout: 3 * time.Second,
	}
}

// Option customizes a Store
type Option func(*Store)

// WithRecords sets the remote system of record consulted on a cache miss
func WithRecords(records repositories.ProfileReader) Option {
	return func(s *Store) {
		s.records = records
	}
}

// WithMirror sets where profile changes are pushed after each mutation
func WithMirror(m mirror.Mirror) Option {
	return func(s *Store) {
		if m != nil {
			s.mirror = m
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the session of one browser context. It is safe for concurrent use.
//
// Every committed transition bumps version. Provider callbacks read the version,
// build their snapshot without holding the lock and commit only if no other
// transition happened meanwhile.
type Store struct {
	provider identity.Provider
	cache    repositories.ProfileCache
	records  repositories.ProfileReader
	mirror   mirror.Mirror
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time

	mu      sync.RWMutex
	state   State
	profile *models.UserProfile
	version uint64

	busy        atomic.Bool
	deferred    atomic.Pointer[deferredUpdate]
	resolveOnce sync.Once
	resolved    chan struct{}
	timer       *time.Timer
	closeOnce   sync.Once
	unsubscribe func()
}

// deferredUpdate is a provider notification that arrived during a mutation
type deferredUpdate struct {
	user *identity.User
}

// NewStore creates a Store and subscribes it to provider state changes.
// The store starts Unresolved and settles on the first provider callback, or on
// Anonymous when cfg.ResolveTimeout passes first.
func NewStore(provider identity.Provider, cache repositories.ProfileCache, logger *zap.Logger, cfg Config, opts ...Option) *Store {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultConfig().ResolveTimeout
	}
	if cfg.RecordLookupTimeout <= 0 {
		cfg.RecordLookupTimeout = DefaultConfig().RecordLookupTimeout
	}

	s := &Store{
		provider: provider,
		cache:    cache,
		mirror:   mirror.Discard{},
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		state:    StateUnresolved,
		resolved: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.timer = time.AfterFunc(cfg.ResolveTimeout, s.onResolveTimeout)
	s.unsubscribe = provider.OnAuthStateChanged(s.handleAuthState)
	return s
}

// Snapshot returns a copy of the current session state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		State:   s.state,
		Loading: s.state == StateUnresolved,
		Profile: s.profile.Clone(),
	}
}

// WaitResolved blocks until the first resolution or until ctx is done
func (s *Store) WaitResolved(ctx context.Context) error {
	select {
	case <-s.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolved reports whether the store has left Unresolved
func (s *Store) Resolved() bool {
	select {
	case <-s.resolved:
		return true
	default:
		return false
	}
}

// Close unsubscribes from the provider and stops the resolve timer
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.timer.Stop()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// SignUp registers a new account and starts an authenticated session with a fresh profile
func (s *Store) SignUp(ctx context.Context, in SignUpInput) (*models.UserProfile, error) {
	role := in.Role
	if role == "" {
		role = rbac.DefaultRole
	}
	if _, err := rbac.Lookup(role); err != nil {
		return nil, services.WrapUnknownRole(err)
	}

	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	displayName := strings.TrimSpace(in.DisplayName)

	user, err := s.provider.CreateUser(ctx, identity.NewAccount{Email: in.Email, Password: in.Password, Role: role})
	if err != nil {
		if user != nil {
			// The account exists but cannot sign in yet. Keep the requested role for
			// the first sign-in after confirmation.
			s.holdPending(ctx, user, in.Email, displayName, role)
		}
		return nil, providerError("sign up failed", err)
	}

	if displayName != "" {
		if err := s.provider.UpdateDisplayName(ctx, displayName); err != nil {
			s.logger.Warn("display name update failed",
				zap.String("user_id", user.ID),
				zap.Error(err))
		}
	}

	email := user.Email
	if email == "" {
		email = in.Email
	}
	profile := models.NewUserProfile(user.ID, email, displayName, role, s.now().UTC())

	s.persist(ctx, profile)
	s.commit(StateAuthenticated, profile)
	s.push(profile)

	s.logger.Info("user signed up",
		zap.String("user_id", profile.ID),
		zap.String("role", string(profile.Role)))
	return profile.Clone(), nil
}

func (s *Store) holdPending(ctx context.Context, user *identity.User, email, displayName string, role rbac.Role) {
	if user.Email != "" {
		email = user.Email
	}
	profile := models.NewUserProfile(user.ID, email, displayName, role, s.now().UTC())
	s.persist(ctx, profile)
	s.push(profile)

	s.logger.Info("account awaiting confirmation",
		zap.String("user_id", profile.ID),
		zap.String("role", string(profile.Role)))
}

// SignIn authenticates with the provider and loads the user's profile.
// The profile comes from the local cache, then the system of record, and is
// synthesized with the default role when neither has it.
func (s *Store) SignIn(ctx context.Context, email, password string) (*models.UserProfile, error) {
	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	user, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, providerError("sign in failed", err)
	}

	profile, source := s.lookupProfile(ctx, user, true)
	profile.LastLoginAt = s.now().UTC()

	s.persist(ctx, profile)
	s.commit(StateAuthenticated, profile)
	s.push(profile)

	s.logger.Info("user signed in",
		zap.String("user_id", profile.ID),
		zap.String("role", string(profile.Role)),
		zap.String("profile_source", source))
	return profile.Clone(), nil
}

// SignOut ends the session. Local state is cleared even when the provider fails;
// the provider error is returned afterwards.
func (s *Store) SignOut(ctx context.Context) error {
	end, err := s.begin()
	if err != nil {
		return err
	}
	defer end()

	providerErr := s.provider.SignOut(ctx)
	s.commit(StateAnonymous, nil)

	if providerErr != nil {
		s.logger.Warn("provider sign out failed", zap.Error(providerErr))
		return providerError("sign out failed", providerErr)
	}
	return nil
}

// UpdateProfile merges patch into the signed-in user's profile data.
// Without an authenticated session it does nothing and returns (nil, nil).
func (s *Store) UpdateProfile(ctx context.Context, patch models.ProfileDataPatch) (*models.UserProfile, error) {
	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	s.mu.RLock()
	version := s.version
	current := s.profile
	state := s.state
	s.mu.RUnlock()

	if state != StateAuthenticated || current == nil {
		return nil, nil
	}

	updated := current.MergeProfileData(patch)
	if !s.commitIfCurrent(version, StateAuthenticated, updated) {
		return nil, services.WrapError(services.ErrorTypeConflict, "session changed during profile update", nil)
	}
	s.persist(ctx, updated)
	s.push(updated)

	return updated.Clone(), nil
}

// handleAuthState is the provider listener
func (s *Store) handleAuthState(user *identity.User) {
	if s.busy.Load() {
		// Replayed by the mutation's end func once it has committed.
		s.deferred.Store(&deferredUpdate{user: user})
		return
	}

	s.mu.RLock()
	version := s.version
	state := s.state
	current := s.profile
	s.mu.RUnlock()

	if user == nil {
		s.commitIfCurrent(version, StateAnonymous, nil)
		return
	}

	if state == StateAuthenticated && current != nil && current.ID == user.ID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RecordLookupTimeout)
	defer cancel()

	profile, source := s.lookupProfile(ctx, user, false)
	if s.commitIfCurrent(version, StateAuthenticated, profile) {
		s.logger.Debug("session restored from provider",
			zap.String("user_id", profile.ID),
			zap.String("profile_source", source))
	}
}

func (s *Store) onResolveTimeout() {
	s.mu.Lock()
	if s.state != StateUnresolved {
		s.mu.Unlock()
		return
	}
	s.state = StateAnonymous
	s.profile = nil
	s.version++
	s.mu.Unlock()

	s.markResolved()
	s.logger.Warn("identity provider did not report in time, falling back to anonymous",
		zap.Duration("timeout", s.cfg.ResolveTimeout))
}

// lookupProfile resolves user's profile: local cache, then system of record, then a
// synthesized profile carrying the provider's account role, or the default role when
// the provider has none. The synthesized profile is persisted so later lookups find it.
func (s *Store) lookupProfile(ctx context.Context, user *identity.User, consultRecords bool) (*models.UserProfile, string) {
	if cached := s.readCache(ctx, user.ID); cached != nil {
		return cached, "cache"
	}

	if consultRecords && s.records != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.RecordLookupTimeout)
		record, err := s.records.GetByID(lookupCtx, user.ID)
		cancel()
		switch {
		case err == nil && record != nil:
			return record, "records"
		case err != nil && !errors.Is(err, repositories.ErrProfileNotFound):
			s.logger.Warn("profile record lookup failed",
				zap.String("user_id", user.ID),
				zap.Error(err))
		}
	}

	// Providers only report roles they have parsed.
	role, source := user.Role, "provider"
	if role == "" {
		role, source = rbac.DefaultRole, "default"
	}
	profile := models.NewUserProfile(user.ID, user.Email, user.DisplayName, role, s.now().UTC())
	s.persist(ctx, profile)
	return profile, source
}

func (s *Store) readCache(ctx context.Context, userID string) *models.UserProfile {
	profile, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("cached profile unreadable, treating as missing",
			zap.String("user_id", userID),
			zap.Bool("corrupt", errors.Is(err, repositories.ErrCorruptProfile)),
			zap.Error(err))
		return nil
	}
	return profile
}

func (s *Store) persist(ctx context.Context, profile *models.UserProfile) {
	if err := s.cache.Put(ctx, profile); err != nil {
		s.logger.Error("failed to persist profile",
			zap.String("user_id", profile.ID),
			zap.Error(err))
	}
}

func (s *Store) push(profile *models.UserProfile) {
	if err := s.mirror.Enqueue(profile); err != nil {
		s.logger.Warn("profile mirror not scheduled",
			zap.String("user_id", profile.ID),
			zap.Error(err))
	}
}

// begin takes the in-flight guard. The returned func releases it and replays the
// last provider notification that arrived meanwhile.
func (s *Store) begin() (func(), error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrOperationInFlight
	}
	s.deferred.Store(nil)
	return func() {
		s.busy.Store(false)
		if d := s.deferred.Swap(nil); d != nil {
			s.handleAuthState(d.user)
		}
	}, nil
}

// commit applies a mutation's result unconditionally
func (s *Store) commit(state State, profile *models.UserProfile) {
	s.mu.Lock()
	s.apply(state, profile)
	s.mu.Unlock()
	s.settle()
}

// commitIfCurrent applies the result only if nothing was committed since version was read
func (s *Store) commitIfCurrent(version uint64, state State, profile *models.UserProfile) bool {
	s.mu.Lock()
	if s.version != version {
		s.mu.Unlock()
		s.logger.Debug("dropping stale session snapshot",
			zap.Uint64("read_version", version))
		return false
	}
	s.apply(state, profile)
	s.mu.Unlock()
	s.settle()
	return true
}

func (s *Store) apply(state State, profile *models.UserProfile) {
	s.state = state
	s.profile = profile.Clone()
	s.version++
}

// settle marks the first resolution after a committed transition
func (s *Store) settle() {
	s.timer.Stop()
	s.markResolved()
}

func (s *Store) markResolved() {
	s.resolveOnce.Do(func() {
		close(s.resolved)
	})
}

func providerError(message string, err error) error {
	var credErr *identity.CredentialError
	if errors.As(err, &credErr) {
		return services.WrapCredential(credErr.Message, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return services.WrapExternal(message, fmt.Errorf("%w: %w", services.ErrIdentityUnavailable, err))
}
