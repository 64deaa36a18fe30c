package handlers

import (
	"net/http"
	"time"

	"github.com/stellarion/api/middleware"
	"github.com/stellarion/api/models"
	"github.com/stellarion/api/services"
	"github.com/stellarion/api/utils"
	"go.uber.org/zap"
)

// SessionHandler exposes the caller's session and profile
type SessionHandler struct {
	resolveWait time.Duration
	logger      *zap.Logger
}

// NewSessionHandler creates a new SessionHandler. resolveWait bounds how long
// GET /api/v1/session waits for a fresh session to resolve.
func NewSessionHandler(resolveWait time.Duration, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{resolveWait: resolveWait, logger: logger}
}

// HandleGetSession handles GET /api/v1/session
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	store, ok := requireStore(w, r, h.logger)
	if !ok {
		return
	}
	middleware.WaitResolved(r.Context(), h.resolveWait)

	_ = utils.WriteOK(w, store.Snapshot())
}

// HandleUpdateProfile handles PATCH /api/v1/profile
func (h *SessionHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	store, ok := requireStore(w, r, h.logger)
	if !ok {
		return
	}

	var patch models.ProfileDataPatch
	if err := utils.DecodeJSON(w, r, &patch); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&patch); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if patch.IsEmpty() {
		HandleServiceError(w, services.ErrEmptyPatch, h.logger)
		return
	}

	profile, err := store.UpdateProfile(r.Context(), patch)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if profile == nil {
		HandleServiceError(w, services.ErrNotAuthenticated, h.logger)
		return
	}

	_ = utils.WriteOK(w, profile)
}
