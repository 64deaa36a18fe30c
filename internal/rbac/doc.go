// Package rbac provides the role-based access control primitives for Stellarion.
//
// This package implements:
//   - The closed role enumeration and its level/permission table
//   - Permission and hierarchy queries over that table
//   - The dashboard page allow-list and per-role menu items
//
// The tables are immutable for the lifetime of the process. A role value outside
// the enumeration is a programming error and is never mapped onto a default role.
package rbac
