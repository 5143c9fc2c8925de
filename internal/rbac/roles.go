// Package rbac gates the admin surface's operations (trigger/recover an
// investigation, inspect routes) by caller role.
package rbac

// SystemRoles bypass all per-operation checks.
var SystemRoles = map[string]bool{
	"system": true,
	"admin":  true,
}

// IsSystemRole returns true if the role should bypass RBAC checks.
func IsSystemRole(role string) bool {
	return SystemRoles[role]
}

// RolePermissions maps non-system roles to the admin operations they may invoke.
var RolePermissions = map[string][]string{
	"operator": {
		"view_route",
		"trigger_investigation",
		"recover_investigation",
	},
	"viewer": {
		"view_route",
	},
}

// HasPermission checks if a role can invoke a specific admin operation.
func HasPermission(role, operation string) bool {
	if IsSystemRole(role) {
		return true
	}

	permissions, exists := RolePermissions[role]
	if !exists {
		return false
	}

	for _, permitted := range permissions {
		if permitted == operation {
			return true
		}
	}
	return false
}
