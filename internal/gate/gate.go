// Package gate decides whether a browser context may enter a protected region,
// given its session snapshot and the roles the region accepts.
package gate

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/services/session"
)

// Outcome is the result category of an access decision
type Outcome string

const (
	// Pending means the session has not resolved; render a loading state
	Pending Outcome = "pending"
	// DeniedUnauthenticated means nobody is signed in; redirect to sign-in
	DeniedUnauthenticated Outcome = "denied_unauthenticated"
	// DeniedForbidden means the signed-in role is not accepted
	DeniedForbidden Outcome = "denied_forbidden"
	// Allowed means the region may be rendered
	Allowed Outcome = "allowed"
)

// DefaultSignInPath is where unauthenticated visitors are sent
const DefaultSignInPath = "/login"

// Decision is the full result of Evaluate
type Decision struct {
	Outcome       Outcome     `json:"outcome"`
	RedirectTo    string      `json:"redirectTo,omitempty"`
	Message       string      `json:"message,omitempty"`
	CurrentRole   rbac.Role   `json:"currentRole,omitempty"`
	RequiredRoles []rbac.Role `json:"requiredRoles,omitempty"`
	// Fallback is set by Guard when the caller should render its alternative content
	Fallback bool `json:"fallback,omitempty"`
}

// Allowed reports whether the decision lets the caller through
func (d Decision) Allowed() bool {
	return d.Outcome == Allowed
}

// Gate evaluates access against a route table
type Gate struct {
	signInPath string
	routes     *RouteTable
}

// New creates a gate. An empty signInPath selects DefaultSignInPath.
func New(signInPath string, routes *RouteTable) *Gate {
	if signInPath == "" {
		signInPath = DefaultSignInPath
	}
	if routes == nil {
		routes = NewRouteTable(AllowAuthenticated)
	}
	return &Gate{signInPath: signInPath, routes: routes}
}

// SignInPath returns the redirect target for unauthenticated requests
func (g *Gate) SignInPath() string {
	return g.signInPath
}

// Routes returns the route table used by EvaluatePath
func (g *Gate) Routes() *RouteTable {
	return g.routes
}

// Evaluate decides access for snap to a region requiring one of required.
// An empty required list accepts any authenticated role. requestedPath is carried in
// the sign-in redirect so the visitor can return after signing in.
func (g *Gate) Evaluate(snap session.Snapshot, required []rbac.Role, requestedPath string) Decision {
	if snap.Loading {
		return Decision{Outcome: Pending, RequiredRoles: copyRoles(required)}
	}

	role, ok := snap.Role()
	if !ok {
		return Decision{
			Outcome:       DeniedUnauthenticated,
			RedirectTo:    g.redirectFor(requestedPath),
			RequiredRoles: copyRoles(required),
		}
	}

	if len(required) == 0 || rbac.HasAnyRole(role, required) {
		return Decision{Outcome: Allowed, CurrentRole: role, RequiredRoles: copyRoles(required)}
	}

	return Decision{
		Outcome:       DeniedForbidden,
		Message:       forbiddenMessage(role, required),
		CurrentRole:   role,
		RequiredRoles: copyRoles(required),
	}
}

// EvaluatePath looks the path up in the route table and evaluates the matching rule.
// Paths without a rule follow the table's default policy. path must be decoded.
func (g *Gate) EvaluatePath(snap session.Snapshot, path string) Decision {
	rule, ok := g.routes.Match(path)
	return g.evaluateRule(snap, rule, ok, path)
}

// EvaluateRequest matches the decoded, cleaned path of u and carries the original
// request URI in the sign-in redirect. Callers should serve CleanPath(u.Path) so the
// handler sees the path that was checked.
func (g *Gate) EvaluateRequest(snap session.Snapshot, u *url.URL) Decision {
	rule, ok := g.routes.match(CleanPath(u.Path))
	return g.evaluateRule(snap, rule, ok, u.RequestURI())
}

func (g *Gate) evaluateRule(snap session.Snapshot, rule Rule, ok bool, path string) Decision {
	if ok {
		return g.Evaluate(snap, rule.Roles, path)
	}

	if g.routes.DefaultPolicy() == AllowAuthenticated {
		return g.Evaluate(snap, nil, path)
	}

	// DenyAll still reports pending and unauthenticated the usual way.
	decision := g.Evaluate(snap, nil, path)
	if decision.Outcome == Allowed {
		decision.Outcome = DeniedForbidden
		decision.Message = fmt.Sprintf("Access denied: %s is not open to any role.", path)
	}
	return decision
}

// Guard evaluates an inline, role-only check. Unlike Evaluate it never redirects:
// both denial outcomes set Fallback so the caller renders its alternative content.
func (g *Gate) Guard(snap session.Snapshot, allowed []rbac.Role) Decision {
	decision := g.Evaluate(snap, allowed, "")
	switch decision.Outcome {
	case DeniedUnauthenticated:
		decision.RedirectTo = ""
		decision.Fallback = true
	case DeniedForbidden:
		decision.Fallback = true
		decision.Message = fmt.Sprintf("You need %s role to access this content.", joinRoles(allowed, " or "))
	}
	return decision
}

func (g *Gate) redirectFor(path string) string {
	if path == "" {
		return g.signInPath
	}
	return g.signInPath + "?from=" + url.QueryEscape(path)
}

func forbiddenMessage(current rbac.Role, required []rbac.Role) string {
	return fmt.Sprintf("You don't have permission to access this page. Your role: %s. Required roles: %s.",
		current, joinRoles(required, ", "))
}

func joinRoles(roles []rbac.Role, sep string) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, sep)
}

func copyRoles(roles []rbac.Role) []rbac.Role {
	if len(roles) == 0 {
		return nil
	}
	out := make([]rbac.Role, len(roles))
	copy(out, roles)
	return out
}
