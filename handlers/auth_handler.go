package handlers

import (
	"net/http"

	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/middleware"
	"github.com/stellarion/api/services"
	"github.com/stellarion/api/services/session"
	"github.com/stellarion/api/utils"
	"go.uber.org/zap"
)

// signUpRequest is the body of POST /api/v1/auth/signup.
// Password strength is left to the identity provider so its message reaches the user.
type signUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"displayName" validate:"omitempty,max=80"`
	Role        string `json:"role" validate:"omitempty,role"`
}

// signInRequest is the body of POST /api/v1/auth/signin
type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SessionRotator reissues the browser-context id once a user has authenticated
type SessionRotator interface {
	Rotate(w http.ResponseWriter, r *http.Request)
}

// AuthHandler handles sign-up, sign-in and sign-out for the caller's browser context
type AuthHandler struct {
	rotator SessionRotator
	logger  *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. A nil rotator keeps ids across sign-in.
func NewAuthHandler(rotator SessionRotator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{rotator: rotator, logger: logger}
}

// HandleSignUp handles POST /api/v1/auth/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	store, ok := requireStore(w, r, h.logger)
	if !ok {
		return
	}

	var req signUpRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var role rbac.Role
	if req.Role != "" {
		parsed, err := rbac.ParseRole(req.Role)
		if err != nil {
			HandleServiceError(w, services.WrapUnknownRole(err), h.logger)
			return
		}
		role = parsed
	}

	if _, err := store.SignUp(r.Context(), session.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        role,
	}); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.rotate(w, r)
	_ = utils.WriteCreated(w, store.Snapshot())
}

// HandleSignIn handles POST /api/v1/auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	store, ok := requireStore(w, r, h.logger)
	if !ok {
		return
	}

	var req signInRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if _, err := store.SignIn(r.Context(), req.Email, req.Password); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.rotate(w, r)
	_ = utils.WriteOK(w, store.Snapshot())
}

// HandleSignOut handles POST /api/v1/auth/signout.
// The session is cleared locally even when the provider call fails.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	store, ok := requireStore(w, r, h.logger)
	if !ok {
		return
	}

	if err := store.SignOut(r.Context()); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, store.Snapshot())
}

func (h *AuthHandler) rotate(w http.ResponseWriter, r *http.Request) {
	if h.rotator != nil {
		h.rotator.Rotate(w, r)
	}
}

// requireStore fetches the session store attached by the session middleware
func requireStore(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*session.Store, bool) {
	store := middleware.GetStoreFromContext(r.Context())
	if store == nil {
		logger.Error("no session store on request",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path))
		_ = utils.WriteInternalServerError(w, "Session unavailable")
		return nil, false
	}
	return store, true
}
