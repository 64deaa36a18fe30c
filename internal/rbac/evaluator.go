package rbac

// The queries below are total over the role enumeration. Passing a Role that did not
// come from ParseRole or a constant panics with *UnknownRoleError.

// HasPermission reports whether role grants permission.
func HasPermission(role Role, permission Permission) bool {
	return mustLookup(role).Has(permission)
}

// HasRole reports whether current is exactly role.
func HasRole(current, role Role) bool {
	mustLookup(current)
	mustLookup(role)
	return current == role
}

// HasAnyRole reports whether current is one of roles.
func HasAnyRole(current Role, roles []Role) bool {
	mustLookup(current)
	for _, r := range roles {
		if mustLookup(r).Role == current {
			return true
		}
	}
	return false
}

// HasMinimumRole reports whether current sits at or above minimum in the hierarchy.
func HasMinimumRole(current, minimum Role) bool {
	return mustLookup(current).Level >= mustLookup(minimum).Level
}

// CheckPermission is HasPermission for values that have not been validated yet.
func CheckPermission(role Role, permission Permission) (bool, error) {
	d, err := Lookup(role)
	if err != nil {
		return false, err
	}
	return d.Has(permission), nil
}
