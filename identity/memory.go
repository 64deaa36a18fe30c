package identity

import (
	"context"
	"net/mail"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stellarion/api/internal/rbac"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Directory is an in-memory account store shared by every MemoryProvider client.
// It stands in for a real identity backend in development and tests.
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]*account // key: lower-cased email
	cost     int
	logger   *zap.Logger
}

type account struct {
	id           string
	email        string
	displayName  string
	role         rbac.Role
	passwordHash []byte
}

// NewDirectory creates an empty directory. cost is the bcrypt cost; zero selects bcrypt.DefaultCost.
func NewDirectory(cost int, logger *zap.Logger) *Directory {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Directory{
		accounts: make(map[string]*account),
		cost:     cost,
		logger:   logger,
	}
}

// Factory returns an identity.Factory producing clients bound to this directory.
func (d *Directory) Factory() Factory {
	return func() Provider {
		return d.NewClient()
	}
}

// NewClient creates a signed-out client.
func (d *Directory) NewClient() *MemoryProvider {
	return &MemoryProvider{
		dir:       d,
		listeners: make(map[int]StateListener),
	}
}

// Count returns the number of registered accounts.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.accounts)
}

func (d *Directory) create(email, password string, role rbac.Role) (*User, error) {
	if err := checkEmail(email); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, NewCredentialError(CodeWeakPassword, "Password should be at least 6 characters", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return nil, err
	}

	key := strings.ToLower(email)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.accounts[key]; exists {
		return nil, NewCredentialError(CodeEmailInUse, "Email is already in use", nil)
	}
	acc := &account{
		id:           uuid.NewString(),
		email:        email,
		role:         role,
		passwordHash: hash,
	}
	d.accounts[key] = acc

	d.logger.Debug("account created", zap.String("user_id", acc.id))
	return acc.user(), nil
}

func (d *Directory) verify(email, password string) (*User, error) {
	if err := checkEmail(email); err != nil {
		return nil, err
	}

	d.mu.RLock()
	acc, ok := d.accounts[strings.ToLower(email)]
	d.mu.RUnlock()

	// Same message for unknown email and wrong password.
	if !ok {
		return nil, NewCredentialError(CodeInvalidCredential, "Invalid email or password", nil)
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return nil, NewCredentialError(CodeInvalidCredential, "Invalid email or password", nil)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return acc.user(), nil
}

func (d *Directory) rename(userID, displayName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, acc := range d.accounts {
		if acc.id == userID {
			acc.displayName = displayName
			return true
		}
	}
	return false
}

func (a *account) user() *User {
	return &User{ID: a.id, Email: a.email, DisplayName: a.displayName, Role: a.role}
}

func checkEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return NewCredentialError(CodeInvalidEmail, "Email address is badly formatted", err)
	}
	return nil
}

// MemoryProvider is one browser context's client of a Directory.
//
// State notifications are delivered synchronously, in order, on the goroutine that
// caused the change, after the client's lock is released.
type MemoryProvider struct {
	dir *Directory

	mu        sync.Mutex
	current   *User
	listeners map[int]StateListener
	nextID    int
}

// CreateUser registers the account and signs the client in.
func (p *MemoryProvider) CreateUser(ctx context.Context, account NewAccount) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user, err := p.dir.create(account.Email, account.Password, account.Role)
	if err != nil {
		return nil, err
	}
	p.setCurrent(user)
	return copyUser(user), nil
}

// SignIn verifies the credentials and signs the client in.
func (p *MemoryProvider) SignIn(ctx context.Context, email, password string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user, err := p.dir.verify(email, password)
	if err != nil {
		return nil, err
	}
	p.setCurrent(user)
	return copyUser(user), nil
}

// SignOut clears the current user.
func (p *MemoryProvider) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.setCurrent(nil)
	return nil
}

// UpdateDisplayName renames the signed-in user. It does not emit a state notification.
func (p *MemoryProvider) UpdateDisplayName(ctx context.Context, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return NewCredentialError(CodeNotSignedIn, "No user is signed in", nil)
	}
	p.dir.rename(p.current.ID, displayName)
	p.current.DisplayName = displayName
	return nil
}

// OnAuthStateChanged subscribes listener and immediately reports the current state.
func (p *MemoryProvider) OnAuthStateChanged(listener StateListener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	current := copyUser(p.current)
	p.mu.Unlock()

	listener(current)

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// CurrentUser returns the signed-in user, or nil.
func (p *MemoryProvider) CurrentUser() *User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyUser(p.current)
}

func (p *MemoryProvider) setCurrent(user *User) {
	p.mu.Lock()
	p.current = copyUser(user)
	listeners := make([]StateListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(copyUser(user))
	}
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
