package shared

// System permission catalogue. These rows are seeded with
// is_system_permission set and can never be deleted.
const (
	PermShowUsers   = "show_users"
	PermCreateUsers = "create_users"
	PermEditUsers   = "edit_users"
	PermDeleteUsers = "delete_users"

	PermShowPermissions   = "show_permissions"
	PermCreatePermissions = "create_permissions"
	PermEditPermissions   = "edit_permissions"
	PermDeletePermissions = "delete_permissions"
	PermAssignPermissions = "assign_permissions"

	PermShowRoles   = "show_roles"
	PermCreateRoles = "create_roles"
	PermEditRoles   = "edit_roles"
	PermDeleteRoles = "delete_roles"
	PermAssignRoles = "assign_roles"

	PermShowAuditLogs = "show_audit_logs"
)

// RoleSuperAdmin is the seeded system role holding the full catalogue. The
// audit log read surface is gated on this role tier rather than a permission.
const RoleSuperAdmin = "super_admin"

// GuardAPI is the default authentication-guard namespace scoping role and
// permission names.
const GuardAPI = "api"

// SystemPermissions lists the seeded catalogue grouped for display.
func SystemPermissions() map[string][]string {
	return map[string][]string{
		"Users":       {PermShowUsers, PermCreateUsers, PermEditUsers, PermDeleteUsers},
		"Permissions": {PermShowPermissions, PermCreatePermissions, PermEditPermissions, PermDeletePermissions, PermAssignPermissions},
		"Roles":       {PermShowRoles, PermCreateRoles, PermEditRoles, PermDeleteRoles, PermAssignRoles},
		"AuditLogs":   {PermShowAuditLogs},
	}
}
