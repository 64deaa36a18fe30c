package gate

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/stellarion/api/internal/rbac"
)

// DefaultPolicy decides paths missing from the route table
type DefaultPolicy string

const (
	// AllowAuthenticated admits any signed-in role
	AllowAuthenticated DefaultPolicy = "allow_authenticated"
	// DenyAll admits nobody
	DenyAll DefaultPolicy = "deny_all"
)

// ParseDefaultPolicy parses a configured policy name
func ParseDefaultPolicy(s string) (DefaultPolicy, error) {
	switch DefaultPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case AllowAuthenticated, "":
		return AllowAuthenticated, nil
	case DenyAll:
		return DenyAll, nil
	default:
		return "", fmt.Errorf("unknown default policy %q", s)
	}
}

// Rule is one route table entry
type Rule struct {
	Prefix string      `json:"prefix"`
	Roles  []rbac.Role `json:"roles"`
}

// RouteTable is an ordered list of path-prefix rules. The first rule whose prefix
// matches on a segment boundary wins.
type RouteTable struct {
	mu     sync.RWMutex
	rules  []Rule
	policy DefaultPolicy
}

// NewRouteTable creates an empty table with the given default policy
func NewRouteTable(policy DefaultPolicy) *RouteTable {
	if policy == "" {
		policy = AllowAuthenticated
	}
	return &RouteTable{policy: policy}
}

// DashboardRoutes builds the table from the dashboard page allow-list
func DashboardRoutes(policy DefaultPolicy) *RouteTable {
	table := NewRouteTable(policy)
	for _, page := range rbac.PageRules() {
		// Page rules only carry known roles.
		_ = table.Add(page.Path, page.Roles...)
	}
	return table
}

// Add appends a rule. Every role must be a known role.
func (t *RouteTable) Add(prefix string, roles ...rbac.Role) error {
	prefix = normalize(prefix)
	for _, r := range roles {
		if _, err := rbac.Lookup(r); err != nil {
			return fmt.Errorf("route %s: %w", prefix, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append(t.rules, Rule{Prefix: prefix, Roles: copyRoles(roles)})
	return nil
}

// Match returns the first rule covering target. A query or fragment is ignored and
// the path is cleaned, so "//" and dot segments cannot step around a rule.
// target must already be percent-decoded.
func (t *RouteTable) Match(target string) (Rule, bool) {
	return t.match(normalize(target))
}

func (t *RouteTable) match(path string) (Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, rule := range t.rules {
		if covers(rule.Prefix, path) {
			return Rule{Prefix: rule.Prefix, Roles: copyRoles(rule.Roles)}, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the rules in match order
func (t *RouteTable) Rules() []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Rule, len(t.rules))
	for i, rule := range t.rules {
		out[i] = Rule{Prefix: rule.Prefix, Roles: copyRoles(rule.Roles)}
	}
	return out
}

// DefaultPolicy returns the policy for unmatched paths
func (t *RouteTable) DefaultPolicy() DefaultPolicy {
	return t.policy
}

// covers reports whether prefix matches path on a segment boundary:
// "/dashboard/admin" covers "/dashboard/admin/users" but not "/dashboard/administer".
func covers(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func normalize(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	return CleanPath(target)
}

// CleanPath roots p and resolves duplicate slashes and dot segments
func CleanPath(p string) string {
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
