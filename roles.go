package session

import "github.com/clinicore/go-session/client"

// Role is the backend's role vocabulary, re-exported so consumers do not
// reach into the client package for it.
type Role = client.Role

const (
	// RoleUser is a regular dashboard user.
	RoleUser Role = client.RoleUser
	// RoleClientAdmin administers a single customer organization.
	RoleClientAdmin Role = client.RoleClientAdmin
	// RoleSuperAdmin administers the whole platform.
	RoleSuperAdmin Role = client.RoleSuperAdmin
)

// IsValidRole checks if the role is one of the predefined valid roles.
func IsValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleClientAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// ParseRole safely parses a string into a Role.
func ParseRole(raw string) (Role, bool) {
	role := Role(raw)
	return role, IsValidRole(role)
}

// RoleAtLeast checks if a role meets the minimum required level.
func RoleAtLeast(r, minRole Role) bool {
	hierarchy := map[Role]int{
		RoleUser:        0,
		RoleClientAdmin: 1,
		RoleSuperAdmin:  2,
	}

	currentLevel, exists := hierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := hierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// AllRoles returns the predefined roles in hierarchical order.
func AllRoles() []Role {
	return []Role{RoleUser, RoleClientAdmin, RoleSuperAdmin}
}
