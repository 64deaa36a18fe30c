package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stellarion/api/identity"
	"github.com/stellarion/api/models"
	"github.com/stellarion/api/repositories/memory"
	"github.com/stellarion/api/services/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func signedUp(t *testing.T, dir *identity.Directory, email string, role string) *session.Store {
	t.Helper()
	store := newStore(t, dir)
	w := httptest.NewRecorder()
	NewAuthHandler(nil, zap.NewNop()).HandleSignUp(w, request(store, http.MethodPost, "/api/v1/auth/signup",
		`{"email":"`+email+`","password":"secret1","role":"`+role+`"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	return store
}

func TestHandleGetSession(t *testing.T) {
	dir := identity.NewDirectory(4, zap.NewNop())
	handler := NewSessionHandler(time.Second, zap.NewNop())

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleGetSession(w, request(newStore(t, dir), http.MethodGet, "/api/v1/session", ""))

		assert.Equal(t, http.StatusOK, w.Code)
		snap := decodeSnapshot(t, w)
		assert.Equal(t, session.StateAnonymous, snap.State)
		assert.False(t, snap.Loading)
		assert.Nil(t, snap.Profile)
	})

	t.Run("authenticated", func(t *testing.T) {
		store := signedUp(t, dir, "altair@example.com", "influencer")
		w := httptest.NewRecorder()
		handler.HandleGetSession(w, request(store, http.MethodGet, "/api/v1/session", ""))

		snap := decodeSnapshot(t, w)
		assert.Equal(t, session.StateAuthenticated, snap.State)
		assert.Equal(t, "altair@example.com", snap.Profile.Email)
	})
}

func TestHandleUpdateProfile(t *testing.T) {
	dir := identity.NewDirectory(4, zap.NewNop())
	handler := NewSessionHandler(time.Second, zap.NewNop())

	t.Run("merges into existing profile data", func(t *testing.T) {
		store := signedUp(t, dir, "lyra@example.com", "enthusiast")

		w := httptest.NewRecorder()
		handler.HandleUpdateProfile(w, request(store, http.MethodPatch, "/api/v1/profile",
			`{"firstName":"Lyra","skills":["astrophotography"]}`))
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		handler.HandleUpdateProfile(w, request(store, http.MethodPatch, "/api/v1/profile", `{"bio":"Night owl"}`))
		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data models.UserProfile `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		require.NotNil(t, response.Data.ProfileData)
		assert.Equal(t, "Lyra", response.Data.ProfileData.FirstName)
		assert.Equal(t, "Night owl", response.Data.ProfileData.Bio)
		assert.Equal(t, []string{"astrophotography"}, response.Data.ProfileData.Skills)

		assert.Equal(t, "Night owl", store.Snapshot().Profile.ProfileData.Bio)
	})

	t.Run("signed out", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleUpdateProfile(w, request(newStore(t, dir), http.MethodPatch, "/api/v1/profile", `{"bio":"x"}`))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "unauthorized", decodeError(t, w).Error)
	})

	t.Run("empty patch", func(t *testing.T) {
		store := signedUp(t, dir, "empty@example.com", "learner")
		w := httptest.NewRecorder()
		handler.HandleUpdateProfile(w, request(store, http.MethodPatch, "/api/v1/profile", `{}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid avatar", func(t *testing.T) {
		store := signedUp(t, dir, "avatar@example.com", "learner")
		w := httptest.NewRecorder()
		handler.HandleUpdateProfile(w, request(store, http.MethodPatch, "/api/v1/profile", `{"avatar":"not a url"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Details, "avatar")
	})

	t.Run("unknown field", func(t *testing.T) {
		store := signedUp(t, dir, "role@example.com", "learner")
		w := httptest.NewRecorder()
		handler.HandleUpdateProfile(w, request(store, http.MethodPatch, "/api/v1/profile", `{"role":"admin"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "learner", string(store.Snapshot().Profile.Role))
	})
}

func TestHandleGetSession_WaitIsBounded(t *testing.T) {
	handler := NewSessionHandler(10*time.Millisecond, zap.NewNop())
	dir := identity.NewDirectory(4, zap.NewNop())
	store := session.NewStore(silentProvider{dir.NewClient()}, memory.NewProfileCache(), zap.NewNop(), session.DefaultConfig())
	defer store.Close()

	w := httptest.NewRecorder()
	handler.HandleGetSession(w, request(store, http.MethodGet, "/api/v1/session", ""))

	snap := decodeSnapshot(t, w)
	assert.Equal(t, session.StateUnresolved, snap.State)
	assert.True(t, snap.Loading)
}

type silentProvider struct{ identity.Provider }

func (silentProvider) OnAuthStateChanged(identity.StateListener) func() { return func() {} }
