package handlers

import (
	"net/http"
	"strconv"

	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/models"
	"github.com/stellarion/api/repositories"
	"github.com/stellarion/api/services"
	"github.com/stellarion/api/utils"
	"go.uber.org/zap"
)

const maxProfileListLimit = 200

// ProfileAdminHandler serves admin queries against the profile system of record
type ProfileAdminHandler struct {
	profiles repositories.ProfileRepository
	logger   *zap.Logger
}

// NewProfileAdminHandler creates a new ProfileAdminHandler. profiles is nil when no
// database is configured.
func NewProfileAdminHandler(profiles repositories.ProfileRepository, logger *zap.Logger) *ProfileAdminHandler {
	return &ProfileAdminHandler{
		profiles: profiles,
		logger:   logger,
	}
}

// HandleListByRole handles GET /api/v1/admin/profiles?role=...&limit=...
func (h *ProfileAdminHandler) HandleListByRole(w http.ResponseWriter, r *http.Request) {
	if h.profiles == nil {
		HandleServiceError(w, services.ErrRecordsNotConfigured, h.logger)
		return
	}

	query := r.URL.Query()
	role, err := rbac.ParseRole(query.Get("role"))
	if err != nil {
		HandleServiceError(w, services.WrapUnknownRole(err), h.logger)
		return
	}

	limit := 50
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxProfileListLimit {
			_ = utils.WriteBadRequest(w, "limit must be between 1 and 200", map[string]interface{}{"limit": raw})
			return
		}
	}

	profiles, err := h.profiles.ListByRole(r.Context(), string(role), limit)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to list profiles", err), h.logger)
		return
	}
	if profiles == nil {
		profiles = []*models.UserProfile{}
	}
	_ = utils.WriteOK(w, profiles)
}

// HandleCountByRole handles GET /api/v1/admin/profiles/counts
func (h *ProfileAdminHandler) HandleCountByRole(w http.ResponseWriter, r *http.Request) {
	if h.profiles == nil {
		HandleServiceError(w, services.ErrRecordsNotConfigured, h.logger)
		return
	}

	counts, err := h.profiles.CountByRole(r.Context())
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to count profiles", err), h.logger)
		return
	}

	// Every known role is reported, including those with no profiles.
	out := make(map[rbac.Role]int, len(counts))
	for _, role := range rbac.Roles() {
		out[role] = counts[string(role)]
	}
	_ = utils.WriteOK(w, out)
}
