package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stellarion/api/internal/gate"
	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/utils"
	"go.uber.org/zap"
)

const decisionKey contextKey = "access_decision"

// AccessMiddleware enforces the access gate on protected routes.
// It must run after SessionMiddleware.Attach.
type AccessMiddleware struct {
	gate        *gate.Gate
	resolveWait time.Duration
	logger      *zap.Logger
}

// NewAccessMiddleware creates a new AccessMiddleware. resolveWait bounds how long a
// request waits for an unresolved session before answering pending.
func NewAccessMiddleware(g *gate.Gate, resolveWait time.Duration, logger *zap.Logger) *AccessMiddleware {
	return &AccessMiddleware{
		gate:        g,
		resolveWait: resolveWait,
		logger:      logger,
	}
}

// Protect evaluates the decoded request path against the route table. The handler
// receives the cleaned path that was evaluated.
func (m *AccessMiddleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		WaitResolved(ctx, m.resolveWait)

		snap := GetSnapshotFromContext(ctx)
		decision := m.gate.EvaluateRequest(snap, r.URL)
		m.enforce(w, withCleanPath(r), decision, next)
	})
}

func withCleanPath(r *http.Request) *http.Request {
	cleaned := gate.CleanPath(r.URL.Path)
	if cleaned == r.URL.Path && r.URL.RawPath == "" {
		return r
	}
	r2 := r.Clone(r.Context())
	r2.URL.Path = cleaned
	r2.URL.RawPath = ""
	return r2
}

// RequireMinimumRole admits signed-in users whose role ranks at least minimum.
// API callers get 401 instead of a sign-in redirect.
func (m *AccessMiddleware) RequireMinimumRole(minimum rbac.Role) func(http.Handler) http.Handler {
	allowed := rbac.RolesAtLeast(minimum)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			WaitResolved(ctx, m.resolveWait)

			decision := m.gate.Evaluate(GetSnapshotFromContext(ctx), allowed, r.URL.Path)
			if decision.Outcome == gate.DeniedUnauthenticated {
				_ = utils.WriteUnauthorized(w, "Sign in required")
				return
			}
			m.enforce(w, r, decision, next)
		})
	}
}

// RequirePermission admits signed-in users whose role carries permission
func (m *AccessMiddleware) RequirePermission(permission rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			WaitResolved(ctx, m.resolveWait)

			snap := GetSnapshotFromContext(ctx)
			if snap.Loading {
				m.enforce(w, r, gate.Decision{Outcome: gate.Pending}, next)
				return
			}
			role, ok := snap.Role()
			if !ok {
				_ = utils.WriteUnauthorized(w, "Sign in required")
				return
			}
			granted, err := rbac.CheckPermission(role, permission)
			if err != nil {
				m.logger.Warn("session carries an unknown role",
					zap.String("request_id", GetRequestIDFromContext(ctx)),
					zap.Error(err))
			}
			if !granted {
				_ = utils.WriteForbidden(w, fmt.Sprintf("Your role %s lacks the %s permission.", role, permission),
					map[string]interface{}{"current_role": role, "permission": permission})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AccessMiddleware) enforce(w http.ResponseWriter, r *http.Request, decision gate.Decision, next http.Handler) {
	ctx := r.Context()
	requestID := GetRequestIDFromContext(ctx)

	switch decision.Outcome {
	case gate.Allowed:
		next.ServeHTTP(w, r.WithContext(WithDecision(ctx, decision)))

	case gate.Pending:
		w.Header().Set("Retry-After", "1")
		_ = utils.WriteAccepted(w, decision)

	case gate.DeniedUnauthenticated:
		m.logger.Debug("redirecting to sign-in",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path))
		http.Redirect(w, r, decision.RedirectTo, http.StatusFound)

	case gate.DeniedForbidden:
		m.logger.Info("access denied",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.String("role", string(decision.CurrentRole)))
		_ = utils.WriteForbidden(w, decision.Message, map[string]interface{}{
			"current_role":   decision.CurrentRole,
			"required_roles": decision.RequiredRoles,
		})

	default:
		m.logger.Error("unexpected access outcome",
			zap.String("request_id", requestID),
			zap.String("outcome", string(decision.Outcome)))
		_ = utils.WriteInternalServerError(w, fmt.Sprintf("unexpected access outcome %q", decision.Outcome))
	}
}

// WithDecision adds the admitting decision to the context
func WithDecision(ctx context.Context, decision gate.Decision) context.Context {
	return context.WithValue(ctx, decisionKey, decision)
}

// GetDecisionFromContext retrieves the decision that admitted the request
func GetDecisionFromContext(ctx context.Context) (gate.Decision, bool) {
	decision, ok := ctx.Value(decisionKey).(gate.Decision)
	return decision, ok
}
