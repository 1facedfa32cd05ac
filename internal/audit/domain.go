package audit

import "time"

// Action codes recorded in audit_logs.
const (
	ActionLoginSuccess   = "login_success"
	ActionLoginFailed    = "login_failed"
	ActionLogout         = "logout"
	ActionProfileUpdated = "profile_updated"

	ActionUserCreated            = "user_created"
	ActionUserUpdated            = "user_updated"
	ActionUserDeleted            = "user_deleted"
	ActionUserRolesUpdated       = "user_roles_updated"
	ActionUserPermissionsUpdated = "user_permissions_updated"

	ActionRoleCreated         = "role_created"
	ActionRoleUpdated         = "role_updated"
	ActionRoleDeleted         = "role_deleted"
	ActionRoleRemovedFromUser = "role_removed_from_user"

	ActionPermissionCreated         = "permission_created"
	ActionPermissionUpdated         = "permission_updated"
	ActionPermissionDeleted         = "permission_deleted"
	ActionPermissionRemovedFromRole = "permission_removed_from_role"
	ActionPermissionRemovedFromUser = "permission_removed_from_user"

	ActionSecurityViolation = "security_violation"
	ActionSecurityAlert     = "security_alert"
)

// Entity types recorded in audit_logs.
const (
	EntityAuthentication  = "authentication"
	EntityUser            = "user"
	EntityRole            = "role"
	EntityPermission      = "permission"
	EntityUserRoles       = "user_roles"
	EntityUserPermissions = "user_permissions"
	EntityRolePermission  = "role_permission"
	EntityUserPermission  = "user_permission"
	EntitySecurity        = "security"
)

// Violation types stored under additional_data.violation_type.
const (
	ViolationSystemRoleDeletion       = "system_role_deletion_attempt"
	ViolationSystemPermissionDeletion = "system_permission_deletion_attempt"
	ViolationPermissionAssignment     = "unauthorized_permission_assignment"
)

// Entry is one immutable audit_logs row. State snapshots and additional data
// are open key-value maps; the log's value is its flexibility, so no
// per-action schema is imposed.
type Entry struct {
	ID             int64          `json:"id"`
	Action         string         `json:"action"`
	EntityType     string         `json:"entity_type"`
	EntityID       *int64         `json:"entity_id"`
	PerformedBy    *int64         `json:"performed_by"`
	IPAddress      string         `json:"ip_address"`
	UserAgent      string         `json:"user_agent"`
	PreviousState  map[string]any `json:"previous_state,omitempty"`
	NewState       map[string]any `json:"new_state,omitempty"`
	AdditionalData map[string]any `json:"additional_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
