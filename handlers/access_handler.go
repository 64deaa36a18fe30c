package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/stellarion/api/internal/gate"
	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/middleware"
	"github.com/stellarion/api/services"
	"github.com/stellarion/api/services/session"
	"github.com/stellarion/api/utils"
	"go.uber.org/zap"
)

// RoleResponse is one row of the role table
type RoleResponse struct {
	Role        rbac.Role         `json:"role"`
	Level       int               `json:"level"`
	Permissions []rbac.Permission `json:"permissions"`
	Description string            `json:"description"`
}

// StatsSource reports browser-context statistics
type StatsSource interface {
	Stats() session.RegistryStats
}

// AccessHandler serves role, menu and access-decision queries
type AccessHandler struct {
	gate        *gate.Gate
	stats       StatsSource
	resolveWait time.Duration
	logger      *zap.Logger
}

// NewAccessHandler creates a new AccessHandler
func NewAccessHandler(g *gate.Gate, stats StatsSource, resolveWait time.Duration, logger *zap.Logger) *AccessHandler {
	return &AccessHandler{
		gate:        g,
		stats:       stats,
		resolveWait: resolveWait,
		logger:      logger,
	}
}

// HandleRoles handles GET /api/v1/roles
func (h *AccessHandler) HandleRoles(w http.ResponseWriter, r *http.Request) {
	descriptors := rbac.Descriptors()
	roles := make([]RoleResponse, 0, len(descriptors))
	for _, d := range descriptors {
		description, err := rbac.Describe(d.Role)
		if err != nil {
			HandleServiceError(w, services.WrapInternal("role table is inconsistent", err), h.logger)
			return
		}
		roles = append(roles, RoleResponse{
			Role:        d.Role,
			Level:       d.Level,
			Permissions: d.Permissions,
			Description: description,
		})
	}

	_ = utils.WriteOK(w, roles)
}

// HandleMenu handles GET /api/v1/menu
func (h *AccessHandler) HandleMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	middleware.WaitResolved(ctx, h.resolveWait)

	snap := middleware.GetSnapshotFromContext(ctx)
	if snap.Loading {
		_ = utils.WriteAccepted(w, snap)
		return
	}
	role, ok := snap.Role()
	if !ok {
		HandleServiceError(w, services.ErrNotAuthenticated, h.logger)
		return
	}

	items, err := rbac.MenuItemsForRole(role)
	if err != nil {
		HandleServiceError(w, services.WrapUnknownRole(err), h.logger)
		return
	}
	_ = utils.WriteOK(w, items)
}

// HandleAccess handles GET /api/v1/access?path=... and GET /api/v1/access?roles=a,b
// With path it reports the decision the dashboard gate would make; with roles it
// reports the role-guard decision for an inline region. Neither is enforced.
func (h *AccessHandler) HandleAccess(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	path := query.Get("path")
	rawRoles := query.Get("roles")
	if path == "" && rawRoles == "" {
		_ = utils.WriteBadRequest(w, "path or roles query parameter is required", nil)
		return
	}

	ctx := r.Context()
	middleware.WaitResolved(ctx, h.resolveWait)
	snap := middleware.GetSnapshotFromContext(ctx)

	if path != "" {
		_ = utils.WriteOK(w, h.gate.EvaluatePath(snap, path))
		return
	}

	roles, err := rbac.ParseRoles(strings.Split(rawRoles, ","))
	if err != nil {
		HandleServiceError(w, services.WrapUnknownRole(err), h.logger)
		return
	}
	_ = utils.WriteOK(w, h.gate.Guard(snap, roles))
}

// HandleDashboard handles GET /dashboard/* once the access gate has admitted the request
func (h *AccessHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decision, _ := middleware.GetDecisionFromContext(ctx)
	snap := middleware.GetSnapshotFromContext(ctx)

	payload := map[string]interface{}{
		"path":     r.URL.Path,
		"decision": decision,
		"profile":  snap.Profile,
	}
	// Prefix rules can admit pages the sidebar never links to.
	if role, ok := snap.Role(); ok && role.Valid() {
		payload["listed"] = rbac.HasPageAccess(role, r.URL.Path)
	}
	_ = utils.WriteOK(w, payload)
}

// HandleContexts handles GET /api/v1/admin/contexts
func (h *AccessHandler) HandleContexts(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		HandleServiceError(w, services.ErrSessionNotFound, h.logger)
		return
	}
	_ = utils.WriteOK(w, h.stats.Stats())
}
