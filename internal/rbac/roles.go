package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Role identifies a user's standing on the platform.
type Role string

const (
	RoleLearner    Role = "learner"
	RoleEnthusiast Role = "enthusiast"
	RoleInfluencer Role = "influencer"
	RoleGuide      Role = "guide"
	RoleMentor     Role = "mentor"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
)

// DefaultRole is assigned when sign-up omits a role and when a profile is synthesized.
const DefaultRole = RoleLearner

// Permission is a capability tag granted to one or more roles.
type Permission string

const (
	PermissionRead      Permission = "read"
	PermissionWrite     Permission = "write"
	PermissionDelete    Permission = "delete"
	PermissionAdmin     Permission = "admin"
	PermissionModerate  Permission = "moderate"
	PermissionMentor    Permission = "mentor"
	PermissionGuide     Permission = "guide"
	PermissionInfluence Permission = "influence"
	PermissionAll       Permission = "all"
)

// ErrUnknownRole is returned (or carried by a panic) when a role is outside the enumeration.
var ErrUnknownRole = errors.New("unknown role")

// UnknownRoleError names the offending value.
type UnknownRoleError struct {
	Value string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownRole, e.Value)
}

// Unwrap lets errors.Is match ErrUnknownRole.
func (e *UnknownRoleError) Unwrap() error {
	return ErrUnknownRole
}

// RoleDescriptor holds the level and permission set of a role.
type RoleDescriptor struct {
	Role        Role
	Level       int
	Permissions []Permission

	permissionSet map[Permission]struct{}
}

// Has reports whether the descriptor grants p.
func (d RoleDescriptor) Has(p Permission) bool {
	_, ok := d.permissionSet[p]
	return ok
}

func descriptor(role Role, level int, perms ...Permission) RoleDescriptor {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return RoleDescriptor{Role: role, Level: level, Permissions: perms, permissionSet: set}
}

// roleTable is built once and never mutated.
var roleTable = map[Role]RoleDescriptor{
	RoleAdmin: descriptor(RoleAdmin, 7,
		PermissionRead, PermissionWrite, PermissionDelete, PermissionAdmin, PermissionModerate, PermissionMentor, PermissionAll),
	RoleModerator:  descriptor(RoleModerator, 6, PermissionRead, PermissionWrite, PermissionModerate, PermissionMentor),
	RoleMentor:     descriptor(RoleMentor, 5, PermissionRead, PermissionWrite, PermissionMentor),
	RoleGuide:      descriptor(RoleGuide, 4, PermissionRead, PermissionWrite, PermissionGuide),
	RoleInfluencer: descriptor(RoleInfluencer, 3, PermissionRead, PermissionWrite, PermissionInfluence),
	RoleEnthusiast: descriptor(RoleEnthusiast, 2, PermissionRead, PermissionWrite),
	RoleLearner:    descriptor(RoleLearner, 1, PermissionRead),
}

var orderedRoles = func() []Role {
	roles := make([]Role, 0, len(roleTable))
	for r := range roleTable {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		return roleTable[roles[i]].Level < roleTable[roles[j]].Level
	})
	return roles
}()

// Lookup returns the descriptor for role.
func Lookup(role Role) (RoleDescriptor, error) {
	d, ok := roleTable[role]
	if !ok {
		return RoleDescriptor{}, &UnknownRoleError{Value: string(role)}
	}
	return d, nil
}

// mustLookup is used by the boolean queries, which are only defined for valid roles.
func mustLookup(role Role) RoleDescriptor {
	d, err := Lookup(role)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseRole converts untrusted input into a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleTable[r]; !ok {
		return "", &UnknownRoleError{Value: s}
	}
	return r, nil
}

// ParseRoles parses every value or fails on the first unknown one.
func ParseRoles(values []string) ([]Role, error) {
	roles := make([]Role, 0, len(values))
	for _, v := range values {
		r, err := ParseRole(v)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// Valid reports whether r belongs to the enumeration.
func (r Role) Valid() bool {
	_, ok := roleTable[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

// Level returns the role's level. It panics on an unknown role.
func (r Role) Level() int {
	return mustLookup(r).Level
}

// Roles returns every role ordered from lowest to highest level.
func Roles() []Role {
	out := make([]Role, len(orderedRoles))
	copy(out, orderedRoles)
	return out
}

// RolesAtLeast returns the roles whose level is at least minimum's, lowest first.
func RolesAtLeast(minimum Role) []Role {
	floor := mustLookup(minimum).Level
	var out []Role
	for _, r := range orderedRoles {
		if roleTable[r].Level >= floor {
			out = append(out, r)
		}
	}
	return out
}

// Descriptors returns the full table ordered by level.
func Descriptors() []RoleDescriptor {
	out := make([]RoleDescriptor, 0, len(orderedRoles))
	for _, r := range orderedRoles {
		out = append(out, roleTable[r])
	}
	return out
}
