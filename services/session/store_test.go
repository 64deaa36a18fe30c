package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stellarion/api/identity"
	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/models"
	"github.com/stellarion/api/repositories"
	"github.com/stellarion/api/repositories/memory"
	"github.com/stellarion/api/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// scriptedProvider is an identity.Provider whose behaviour each test controls
type scriptedProvider struct {
	mu         sync.Mutex
	listener   identity.StateListener
	silent     bool // do not report on subscribe
	initial    *identity.User
	user       *identity.User
	signInErr  error
	signUpErr  error
	pending    bool // CreateUser returns the new user alongside signUpErr
	signOutErr error
	renameErr  error
	block      chan struct{} // when set, SignIn waits on it
	onSignIn   func()        // runs inside SignIn before returning
	renamed    string
	unsubbed   bool
}

func (p *scriptedProvider) CreateUser(ctx context.Context, account identity.NewAccount) (*identity.User, error) {
	u := &identity.User{ID: "uid-" + account.Email, Email: account.Email, Role: account.Role}
	if p.signUpErr != nil {
		if p.pending {
			return u, p.signUpErr
		}
		return nil, p.signUpErr
	}
	p.emit(u)
	return u, nil
}

func (p *scriptedProvider) SignIn(ctx context.Context, email, password string) (*identity.User, error) {
	if p.block != nil {
		<-p.block
	}
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	u := p.user
	if u == nil {
		u = &identity.User{ID: "uid-" + email, Email: email}
	}
	if p.onSignIn != nil {
		p.onSignIn()
	}
	p.emit(u)
	return u, nil
}

func (p *scriptedProvider) SignOut(ctx context.Context) error {
	p.emit(nil)
	return p.signOutErr
}

func (p *scriptedProvider) UpdateDisplayName(ctx context.Context, displayName string) error {
	if p.renameErr != nil {
		return p.renameErr
	}
	p.mu.Lock()
	p.renamed = displayName
	p.mu.Unlock()
	return nil
}

func (p *scriptedProvider) OnAuthStateChanged(listener identity.StateListener) func() {
	p.mu.Lock()
	p.listener = listener
	silent := p.silent
	initial := p.initial
	p.mu.Unlock()

	if !silent {
		listener(initial)
	}
	return func() {
		p.mu.Lock()
		p.unsubbed = true
		p.listener = nil
		p.mu.Unlock()
	}
}

// emit delivers a state change the way a real provider would
func (p *scriptedProvider) emit(u *identity.User) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l != nil {
		l(u)
	}
}

// recordingMirror captures every enqueued profile
type recordingMirror struct {
	mu       sync.Mutex
	profiles []*models.UserProfile
	err      error
}

func (m *recordingMirror) Enqueue(p *models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = append(m.profiles, p.Clone())
	return m.err
}

func (m *recordingMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.profiles)
}

func (m *recordingMirror) last() *models.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.profiles) == 0 {
		return nil
	}
	return m.profiles[len(m.profiles)-1]
}

// stubRecords is a repositories.ProfileReader over a map
type stubRecords struct {
	profiles map[string]*models.UserProfile
	err      error
	calls    int
}

func (r *stubRecords) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.profiles[id]
	if !ok {
		return nil, repositories.ErrProfileNotFound
	}
	return p.Clone(), nil
}

func domainMessage(t *testing.T, err error) string {
	t.Helper()
	var domainErr *services.DomainError
	require.ErrorAs(t, err, &domainErr)
	return domainErr.Message
}

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestStore(t *testing.T, provider *scriptedProvider, cache repositories.ProfileCache, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	store := NewStore(provider, cache, zap.NewNop(), Config{
		ResolveTimeout:      time.Second,
		RecordLookupTimeout: 100 * time.Millisecond,
	}, opts...)
	t.Cleanup(store.Close)
	return store
}

func TestStore_ResolvesAnonymousOnFirstCallback(t *testing.T) {
	store := newTestStore(t, &scriptedProvider{}, memory.NewProfileCache())

	assert.True(t, store.Resolved())
	snap := store.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Profile)
	assert.False(t, snap.Authenticated())
}

func TestStore_RestoresSessionFromCache(t *testing.T) {
	cache := memory.NewProfileCache()
	cached := models.NewUserProfile("u1", "ada@example.com", "Ada", rbac.RoleMentor, fixedNow.Add(-time.Hour))
	require.NoError(t, cache.Put(context.Background(), cached))

	store := newTestStore(t, &scriptedProvider{initial: &identity.User{ID: "u1", Email: "ada@example.com"}}, cache)

	snap := store.Snapshot()
	require.True(t, snap.Authenticated())
	role, ok := snap.Role()
	assert.True(t, ok)
	assert.Equal(t, rbac.RoleMentor, role)
	assert.Equal(t, "Ada", snap.Profile.DisplayName)
}

func TestStore_RestoreWithoutCacheSynthesizesDefault(t *testing.T) {
	cache := memory.NewProfileCache()
	records := &stubRecords{profiles: map[string]*models.UserProfile{}}

	store := newTestStore(t, &scriptedProvider{initial: &identity.User{ID: "u2", Email: "b@example.com"}}, cache, WithRecords(records))

	snap := store.Snapshot()
	require.True(t, snap.Authenticated())
	assert.Equal(t, rbac.DefaultRole, snap.Profile.Role)
	assert.Equal(t, 0, records.calls, "restore does not consult records")

	persisted, err := cache.Get(context.Background(), "u2")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, rbac.RoleLearner, persisted.Role)
}

func TestStore_ResolveTimeoutFallsBackToAnonymous(t *testing.T) {
	provider := &scriptedProvider{silent: true}
	store := NewStore(provider, memory.NewProfileCache(), zap.NewNop(), Config{
		ResolveTimeout: 20 * time.Millisecond,
	})
	defer store.Close()

	assert.True(t, store.Snapshot().Loading)
	assert.False(t, store.Resolved())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, store.WaitResolved(ctx))

	snap := store.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.False(t, snap.Loading)

	// A late report still applies, and loading never comes back.
	provider.emit(&identity.User{ID: "late", Email: "late@example.com"})
	snap = store.Snapshot()
	assert.True(t, snap.Authenticated())
	assert.False(t, snap.Loading)
}

func TestStore_WaitResolvedHonoursContext(t *testing.T) {
	store := newTestStore(t, &scriptedProvider{silent: true}, memory.NewProfileCache())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.WaitResolved(ctx), context.Canceled)
}

func TestStore_SignUp(t *testing.T) {
	cache := memory.NewProfileCache()
	mirror := &recordingMirror{}
	provider := &scriptedProvider{}
	store := newTestStore(t, provider, cache, WithMirror(mirror))

	profile, err := store.SignUp(context.Background(), SignUpInput{
		Email:       "guide@example.com",
		Password:    "secret1",
		DisplayName: "  Grace ",
		Role:        rbac.RoleGuide,
	})
	require.NoError(t, err)

	assert.Equal(t, "uid-guide@example.com", profile.ID)
	assert.Equal(t, rbac.RoleGuide, profile.Role)
	assert.Equal(t, "Grace", profile.DisplayName)
	assert.Equal(t, fixedNow, profile.CreatedAt)
	assert.Equal(t, fixedNow, profile.LastLoginAt)
	assert.True(t, profile.IsActive)
	assert.Equal(t, "Grace", provider.renamed)

	snap := store.Snapshot()
	require.True(t, snap.Authenticated())
	assert.Equal(t, rbac.RoleGuide, snap.Profile.Role, "callback during sign up must not replace the chosen role")

	cached, err := cache.Get(context.Background(), profile.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleGuide, cached.Role)

	require.Equal(t, 1, mirror.count())
	assert.Equal(t, rbac.RoleGuide, mirror.last().Role)
}

func TestStore_SignUpDefaultsToLearner(t *testing.T) {
	store := newTestStore(t, &scriptedProvider{}, memory.NewProfileCache())

	profile, err := store.SignUp(context.Background(), SignUpInput{Email: "new@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleLearner, profile.Role)
}

func TestStore_SignUpRejectsUnknownRole(t *testing.T) {
	store := newTestStore(t, &scriptedProvider{}, memory.NewProfileCache())

	_, err := store.SignUp(context.Background(), SignUpInput{Email: "x@example.com", Password: "secret1", Role: "wizard"})
	require.Error(t, err)
	assert.True(t, services.IsUnknownRoleError(err))
	assert.Equal(t, StateAnonymous, store.Snapshot().State)
}

func TestStore_SignUpRenameFailureIsNotFatal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	provider := &scriptedProvider{renameErr: errors.New("backend down")}
	store := NewStore(provider, memory.NewProfileCache(), zap.New(core), DefaultConfig())
	defer store.Close()

	profile, err := store.SignUp(context.Background(), SignUpInput{Email: "r@example.com", Password: "secret1", DisplayName: "Rae"})
	require.NoError(t, err)
	assert.Equal(t, "Rae", profile.DisplayName)
	assert.Equal(t, 1, logs.FilterMessage("display name update failed").Len())
}

func TestStore_SignUpCredentialError(t *testing.T) {
	provider := &scriptedProvider{signUpErr: identity.NewCredentialError(identity.CodeEmailInUse, "Email is already in use", nil)}
	store := newTestStore(t, provider, memory.NewProfileCache())

	_, err := store.SignUp(context.Background(), SignUpInput{Email: "dup@example.com", Password: "secret1"})
	require.Error(t, err)
	assert.True(t, services.IsCredentialError(err))
	assert.Equal(t, "Email is already in use", domainMessage(t, err))
	assert.ErrorIs(t, err, identity.ErrCredential)
	assert.False(t, store.Snapshot().Authenticated())
}

func TestStore_SignUpAwaitingConfirmationKeepsRole(t *testing.T) {
	cache := memory.NewProfileCache()
	mirror := &recordingMirror{}
	provider := &scriptedProvider{
		pending:   true,
		signUpErr: identity.NewCredentialError(identity.CodeUserNotConfirmed, "Check your email to confirm the account, then sign in", nil),
	}
	store := newTestStore(t, provider, cache, WithMirror(mirror))

	_, err := store.SignUp(context.Background(), SignUpInput{
		Email:       "pending@example.com",
		Password:    "secret1",
		DisplayName: "Pia",
		Role:        rbac.RoleGuide,
	})
	require.Error(t, err)
	assert.True(t, services.IsCredentialError(err))
	assert.False(t, store.Snapshot().Authenticated())

	held, err := cache.Get(context.Background(), "uid-pending@example.com")
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, rbac.RoleGuide, held.Role)
	assert.Equal(t, "Pia", held.DisplayName)
	require.Equal(t, 1, mirror.count())

	// Confirmed later; the first sign-in finds the held profile.
	provider.signUpErr = nil
	profile, err := store.SignIn(context.Background(), "pending@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleGuide, profile.Role)
}

func TestStore_SignInProfileSources(t *testing.T) {
	t.Run("cache", func(t *testing.T) {
		cache := memory.NewProfileCache()
		require.NoError(t, cache.Put(context.Background(),
			models.NewUserProfile("uid-a@example.com", "a@example.com", "A", rbac.RoleModerator, fixedNow.Add(-48*time.Hour))))
		records := &stubRecords{}
		store := newTestStore(t, &scriptedProvider{}, cache, WithRecords(records))

		profile, err := store.SignIn(context.Background(), "a@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, rbac.RoleModerator, profile.Role)
		assert.Equal(t, fixedNow, profile.LastLoginAt)
		assert.Equal(t, fixedNow.Add(-48*time.Hour), profile.CreatedAt)
		assert.Equal(t, 0, records.calls)
	})

	t.Run("records", func(t *testing.T) {
		cache := memory.NewProfileCache()
		records := &stubRecords{profiles: map[string]*models.UserProfile{
			"uid-b@example.com": models.NewUserProfile("uid-b@example.com", "b@example.com", "B", rbac.RoleAdmin, fixedNow.Add(-time.Hour)),
		}}
		store := newTestStore(t, &scriptedProvider{}, cache, WithRecords(records))

		profile, err := store.SignIn(context.Background(), "b@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, rbac.RoleAdmin, profile.Role)
		assert.Equal(t, 1, records.calls)

		cached, err := cache.Get(context.Background(), profile.ID)
		require.NoError(t, err)
		assert.Equal(t, rbac.RoleAdmin, cached.Role)
	})

	t.Run("provider role on a miss", func(t *testing.T) {
		provider := &scriptedProvider{user: &identity.User{ID: "uid-m", Email: "m@example.com", Role: rbac.RoleMentor}}
		store := newTestStore(t, provider, memory.NewProfileCache(), WithRecords(&stubRecords{}))

		profile, err := store.SignIn(context.Background(), "m@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, rbac.RoleMentor, profile.Role)
	})

	t.Run("records failure falls back to default", func(t *testing.T) {
		records := &stubRecords{err: errors.New("connection refused")}
		store := newTestStore(t, &scriptedProvider{}, memory.NewProfileCache(), WithRecords(records))

		profile, err := store.SignIn(context.Background(), "c@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, rbac.RoleLearner, profile.Role)
	})

	t.Run("corrupt cache entry is a miss", func(t *testing.T) {
		cache := memory.NewProfileCache()
		cache.SetRaw("uid-d@example.com", []byte(`{"id":"uid-d@example.com","role":"wizard"}`))
		store := newTestStore(t, &scriptedProvider{}, cache)

		profile, err := store.SignIn(context.Background(), "d@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, rbac.RoleLearner, profile.Role)

		repaired, err := cache.Get(context.Background(), profile.ID)
		require.NoError(t, err)
		assert.Equal(t, rbac.RoleLearner, repaired.Role)
	})
}

func TestStore_SignInErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{
			name: "credential",
			err:  identity.NewCredentialError(identity.CodeInvalidCredential, "Invalid email or password", nil),
			check: func(t *testing.T, err error) {
				assert.True(t, services.IsCredentialError(err))
			},
		},
		{
			name: "backend",
			err:  errUnreachable,
			check: func(t *testing.T, err error) {
				assert.Equal(t, services.ErrorTypeExternal, services.GetErrorType(err))
				assert.ErrorIs(t, err, services.ErrIdentityUnavailable)
				assert.ErrorIs(t, err, errUnreachable)
			},
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, &scriptedProvider{signInErr: tt.err}, memory.NewProfileCache())

			_, err := store.SignIn(context.Background(), "e@example.com", "bad")
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, StateAnonymous, store.Snapshot().State)
		})
	}
}

var errUnreachable = errors.New("network unreachable")

func TestStore_SignOut(t *testing.T) {
	store := newTestStore(t, &scriptedProvider{}, memory.NewProfileCache())
	_, err := store.SignIn(context.Background(), "f@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, store.SignOut(context.Background()))
	snap := store.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, snap.Profile)
}

func TestStore_SignOutClearsStateWhenProviderFails(t *testing.T) {
	provider := &scriptedProvider{signOutErr: errors.New("revoke failed")}
	store := newTestStore(t, provider, memory.NewProfileCache())
	_, err := store.SignIn(context.Background(), "g@example.com", "secret1")
	require.NoError(t, err)

	err = store.SignOut(context.Background())
	require.Error(t, err)
	assert.Equal(t, services.ErrorTypeExternal, services.GetErrorType(err))
	assert.False(t, store.Snapshot().Authenticated())
}

func TestStore_UpdateProfile(t *testing.T) {
	cache := memory.NewProfileCache()
	mirror := &recordingMirror{}
	store := newTestStore(t, &scriptedProvider{}, cache, WithMirror(mirror))
	signedIn, err := store.SignIn(context.Background(), "h@example.com", "secret1")
	require.NoError(t, err)

	bio := "Trail runner"
	skills := []string{"go", "sql"}
	updated, err := store.UpdateProfile(context.Background(), models.ProfileDataPatch{Bio: &bio, Skills: &skills})
	require.NoError(t, err)
	require.NotNil(t, updated.ProfileData)
	assert.Equal(t, "Trail runner", updated.ProfileData.Bio)
	assert.Equal(t, []string{"go", "sql"}, updated.ProfileData.Skills)
	assert.Equal(t, signedIn.Role, updated.Role)
	assert.Equal(t, signedIn.ID, updated.ID)

	first := "Hana"
	updated, err = store.UpdateProfile(context.Background(), models.ProfileDataPatch{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "Hana", updated.ProfileData.FirstName)
	assert.Equal(t, "Trail runner", updated.ProfileData.Bio, "merge keeps untouched fields")

	cached, err := cache.Get(context.Background(), signedIn.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hana", cached.ProfileData.FirstName)
	assert.Equal(t, 3, mirror.count())
}

func TestStore_UpdateProfileWithoutSessionIsNoop(t *testing.T) {
	cache := memory.NewProfileCache()
	mirror := &recordingMirror{}
	store := newTestStore(t, &scriptedProvider{}, cache, WithMirror(mirror))
	_, err := store.SignIn(context.Background(), "i@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, store.SignOut(context.Background()))
	before := mirror.count()

	bio := "ignored"
	updated, err := store.UpdateProfile(context.Background(), models.ProfileDataPatch{Bio: &bio})
	assert.NoError(t, err)
	assert.Nil(t, updated)
	assert.Equal(t, before, mirror.count())
}

func TestStore_ConcurrentMutationIsRejected(t *testing.T) {
	provider := &scriptedProvider{block: make(chan struct{})}
	store := newTestStore(t, provider, memory.NewProfileCache())

	done := make(chan error, 1)
	go func() {
		_, err := store.SignIn(context.Background(), "j@example.com", "secret1")
		done <- err
	}()

	require.Eventually(t, func() bool { return store.busy.Load() }, time.Second, time.Millisecond)

	err := store.SignOut(context.Background())
	assert.ErrorIs(t, err, ErrOperationInFlight)
	assert.True(t, services.IsInFlightError(err))

	close(provider.block)
	require.NoError(t, <-done)
	assert.True(t, store.Snapshot().Authenticated())
}

func TestStore_CallbackDuringMutationIsReplayedAfterCommit(t *testing.T) {
	provider := &scriptedProvider{}
	store := newTestStore(t, provider, memory.NewProfileCache())

	// The provider reports sign-out before SignIn returns; the replay runs last.
	provider.onSignIn = func() { provider.emit(nil) }
	provider.user = &identity.User{ID: "k", Email: "k@example.com"}

	_, err := store.SignIn(context.Background(), "k@example.com", "secret1")
	require.NoError(t, err)

	// The SignIn emit (same user) was the last deferred notification and is a no-op.
	snap := store.Snapshot()
	assert.True(t, snap.Authenticated())
	assert.Equal(t, "k", snap.Profile.ID)
}

func TestStore_StaleCallbackSnapshotIsDropped(t *testing.T) {
	store := newTestStore(t, &scriptedProvider{}, memory.NewProfileCache())

	store.mu.RLock()
	version := store.version
	store.mu.RUnlock()

	_, err := store.SignIn(context.Background(), "l@example.com", "secret1")
	require.NoError(t, err)

	assert.False(t, store.commitIfCurrent(version, StateAnonymous, nil))
	assert.True(t, store.Snapshot().Authenticated())
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	store := newTestStore(t, &scriptedProvider{}, memory.NewProfileCache())
	_, err := store.SignIn(context.Background(), "m@example.com", "secret1")
	require.NoError(t, err)

	snap := store.Snapshot()
	snap.Profile.Role = rbac.RoleAdmin

	assert.Equal(t, rbac.RoleLearner, store.Snapshot().Profile.Role)
}

func TestStore_CloseUnsubscribes(t *testing.T) {
	provider := &scriptedProvider{}
	store := NewStore(provider, memory.NewProfileCache(), zap.NewNop(), DefaultConfig())

	store.Close()
	store.Close()

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.True(t, provider.unsubbed)
}

func TestStore_WithMemoryProvider(t *testing.T) {
	dir := identity.NewDirectory(4, zap.NewNop())
	cache := memory.NewProfileCache()

	first := NewStore(dir.NewClient(), cache, zap.NewNop(), DefaultConfig())
	defer first.Close()
	_, err := first.SignUp(context.Background(), SignUpInput{
		Email:    "mentor@example.com",
		Password: "secret1",
		Role:     rbac.RoleMentor,
	})
	require.NoError(t, err)

	// A second browser context signs in and finds the cached role.
	second := NewStore(dir.NewClient(), cache, zap.NewNop(), DefaultConfig())
	defer second.Close()
	profile, err := second.SignIn(context.Background(), "mentor@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMentor, profile.Role)

	_, err = second.SignIn(context.Background(), "mentor@example.com", "wrong-password")
	require.Error(t, err)
	assert.True(t, services.IsCredentialError(err))
	assert.Equal(t, "Invalid email or password", domainMessage(t, err))
}
