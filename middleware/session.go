package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/stellarion/api/services/session"
	"go.uber.org/zap"
)

// DefaultCookieName names the browser-context cookie when none is configured
const DefaultCookieName = "stellarion_session"

// SessionRegistry is the subset of session.Registry the middleware needs
type SessionRegistry interface {
	GetOrCreate(id string) (string, *session.Store, bool)
	Rotate(id string) (string, bool)
	Remove(id string)
}

// CookieConfig controls the browser-context cookie
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration // idle TTL of the registry; zero makes it a browser-session cookie
}

// SessionMiddleware binds every request to a browser context and its session store
type SessionMiddleware struct {
	registry SessionRegistry
	cookie   CookieConfig
	logger   *zap.Logger
}

// NewSessionMiddleware creates a new SessionMiddleware
func NewSessionMiddleware(registry SessionRegistry, cookie CookieConfig, logger *zap.Logger) *SessionMiddleware {
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	return &SessionMiddleware{
		registry: registry,
		cookie:   cookie,
		logger:   logger,
	}
}

// Attach looks up the browser context named by the cookie, creating one when the
// cookie is missing, unknown or expired, and stores it in the request context
func (m *SessionMiddleware) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var current string
		if c, err := r.Cookie(m.cookie.Name); err == nil {
			current = c.Value
		}

		id, store, created := m.registry.GetOrCreate(current)
		if created {
			m.logger.Debug("browser context created",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.Bool("replaced", current != ""))
			http.SetCookie(w, m.newCookie(id))
		}

		next.ServeHTTP(w, r.WithContext(WithSession(ctx, id, store)))
	})
}

// Rotate moves the browser context bound to r to a fresh id and reissues the cookie.
// Call it after sign-in so an id known before authentication stops working.
func (m *SessionMiddleware) Rotate(w http.ResponseWriter, r *http.Request) {
	id := GetSessionIDFromContext(r.Context())
	if id == "" {
		return
	}
	newID, ok := m.registry.Rotate(id)
	if !ok {
		m.logger.Warn("browser context vanished before rotation",
			zap.String("request_id", GetRequestIDFromContext(r.Context())))
		return
	}
	http.SetCookie(w, m.newCookie(newID))
}

// Forget drops the browser context bound to r and expires its cookie
func (m *SessionMiddleware) Forget(w http.ResponseWriter, r *http.Request) {
	if id := GetSessionIDFromContext(r.Context()); id != "" {
		m.registry.Remove(id)
	}
	c := m.newCookie("")
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// WaitResolved blocks until the store attached to ctx has resolved or wait elapses.
// It returns false when the store is still unresolved.
func WaitResolved(ctx context.Context, wait time.Duration) bool {
	store := GetStoreFromContext(ctx)
	if store == nil {
		return true
	}
	if store.Resolved() || wait <= 0 {
		return store.Resolved()
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return store.WaitResolved(waitCtx) == nil
}

func (m *SessionMiddleware) newCookie(value string) *http.Cookie {
	c := &http.Cookie{
		Name:     m.cookie.Name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.cookie.MaxAge > 0 {
		c.MaxAge = int(m.cookie.MaxAge / time.Second)
	}
	return c
}
