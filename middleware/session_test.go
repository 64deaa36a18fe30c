package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stellarion/api/identity"
	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/repositories/memory"
	"github.com/stellarion/api/services/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T, dir *identity.Directory) *session.Registry {
	t.Helper()
	cache := memory.NewProfileCache()
	registry := session.NewRegistry(func() *session.Store {
		return session.NewStore(dir.NewClient(), cache, zap.NewNop(), session.DefaultConfig())
	}, 10, time.Hour, zap.NewNop())
	t.Cleanup(registry.Close)
	return registry
}

// signedInStore returns a resolved store whose user holds role
func signedInStore(t *testing.T, dir *identity.Directory, email string, role rbac.Role) *session.Store {
	t.Helper()
	store := session.NewStore(dir.NewClient(), memory.NewProfileCache(), zap.NewNop(), session.DefaultConfig())
	t.Cleanup(store.Close)
	_, err := store.SignUp(context.Background(), session.SignUpInput{Email: email, Password: "secret1", Role: role})
	require.NoError(t, err)
	return store
}

func anonymousStore(t *testing.T, dir *identity.Directory) *session.Store {
	t.Helper()
	store := session.NewStore(dir.NewClient(), memory.NewProfileCache(), zap.NewNop(), session.DefaultConfig())
	t.Cleanup(store.Close)
	require.NoError(t, store.WaitResolved(context.Background()))
	return store
}

func TestSessionAttach(t *testing.T) {
	dir := identity.NewDirectory(4, zap.NewNop())
	registry := newTestRegistry(t, dir)
	mw := NewSessionMiddleware(registry, CookieConfig{Secure: true, MaxAge: time.Hour}, zap.NewNop())

	var seenID string
	handler := mw.Attach(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetSessionIDFromContext(r.Context())
		assert.NotNil(t, GetStoreFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("new visitor gets a cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		c := cookies[0]
		assert.Equal(t, DefaultCookieName, c.Name)
		assert.Equal(t, seenID, c.Value)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, 3600, c.MaxAge)
	})

	t.Run("known cookie is reused", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		firstID := seenID

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: firstID})
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, firstID, seenID)
		assert.Empty(t, w.Result().Cookies())
	})

	t.Run("forged cookie is replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "attacker-chosen"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.NotEqual(t, "attacker-chosen", seenID)
		require.Len(t, w.Result().Cookies(), 1)
		assert.Equal(t, seenID, w.Result().Cookies()[0].Value)
	})
}

func TestSessionForget(t *testing.T) {
	dir := identity.NewDirectory(4, zap.NewNop())
	registry := newTestRegistry(t, dir)
	mw := NewSessionMiddleware(registry, CookieConfig{Name: "sid"}, zap.NewNop())

	var id string
	handler := mw.Attach(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = GetSessionIDFromContext(r.Context())
		mw.Forget(w, r)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	_, ok := registry.Get(id)
	assert.False(t, ok)

	var expired *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "sid" && c.MaxAge < 0 {
			expired = c
		}
	}
	require.NotNil(t, expired)
	assert.Empty(t, expired.Value)
}

func TestGetSnapshotFromContext_NoStore(t *testing.T) {
	snap := GetSnapshotFromContext(context.Background())
	assert.Equal(t, session.StateAnonymous, snap.State)
	assert.False(t, snap.Loading)
	assert.True(t, WaitResolved(context.Background(), time.Second))
}

func TestRequestContext_WithoutRequestID(t *testing.T) {
	handler := RequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, GetRequestIDFromContext(r.Context()))
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, w.Header().Get("X-Request-ID"))

	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", GetRequestIDFromContext(ctx))
}

func TestSessionRotate(t *testing.T) {
	dir := identity.NewDirectory(4, zap.NewNop())
	registry := newTestRegistry(t, dir)
	mw := NewSessionMiddleware(registry, CookieConfig{Name: "sid"}, zap.NewNop())

	var oldID string
	var store *session.Store
	handler := mw.Attach(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		oldID = GetSessionIDFromContext(r.Context())
		store = GetStoreFromContext(r.Context())
		mw.Rotate(w, r)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "planted-before-sign-in"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	newID := cookies[len(cookies)-1].Value
	assert.NotEqual(t, oldID, newID)

	_, ok := registry.Get(oldID)
	assert.False(t, ok, "old id must stop resolving")
	moved, ok := registry.Get(newID)
	require.True(t, ok)
	assert.Same(t, store, moved)

	t.Run("no context attached", func(t *testing.T) {
		w := httptest.NewRecorder()
		mw.Rotate(w, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Empty(t, w.Result().Cookies())
	})
}
