package audit

import (
	"time"

	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Entry constructors. Every privileged mutation funnels through exactly one
// of these, so the shape written for a given operation kind lives in one
// place instead of being assembled ad hoc at call sites.

// AuthActivity describes a login/logout style event. userID is nil when the
// handle never resolved to an account.
func AuthActivity(action string, userID *int64, meta shared.RequestMeta, details map[string]any) Entry {
	return Entry{
		Action:         action,
		EntityType:     EntityAuthentication,
		EntityID:       userID,
		PerformedBy:    userID,
		IPAddress:      meta.IP,
		UserAgent:      meta.UserAgent,
		AdditionalData: details,
	}
}

// UserActivity describes a user record mutation.
func UserActivity(action string, performedBy int64, userID *int64, meta shared.RequestMeta, previous, next map[string]any) Entry {
	return Entry{
		Action:        action,
		EntityType:    EntityUser,
		EntityID:      userID,
		PerformedBy:   &performedBy,
		IPAddress:     meta.IP,
		UserAgent:     meta.UserAgent,
		PreviousState: previous,
		NewState:      next,
	}
}

// RoleActivity describes a role mutation with before/after snapshots.
func RoleActivity(action string, performedBy int64, roleID *int64, meta shared.RequestMeta, previous, next map[string]any) Entry {
	return Entry{
		Action:        action,
		EntityType:    EntityRole,
		EntityID:      roleID,
		PerformedBy:   &performedBy,
		IPAddress:     meta.IP,
		UserAgent:     meta.UserAgent,
		PreviousState: previous,
		NewState:      next,
	}
}

// PermissionActivity describes a permission mutation with before/after snapshots.
func PermissionActivity(action string, performedBy int64, permissionID *int64, meta shared.RequestMeta, previous, next map[string]any) Entry {
	return Entry{
		Action:        action,
		EntityType:    EntityPermission,
		EntityID:      permissionID,
		PerformedBy:   &performedBy,
		IPAddress:     meta.IP,
		UserAgent:     meta.UserAgent,
		PreviousState: previous,
		NewState:      next,
	}
}

// UserRolesUpdate captures a role-set sync on a user.
func UserRolesUpdate(performedBy, userID int64, meta shared.RequestMeta, previousRoles, newRoles []int64) Entry {
	return Entry{
		Action:        ActionUserRolesUpdated,
		EntityType:    EntityUserRoles,
		EntityID:      &userID,
		PerformedBy:   &performedBy,
		IPAddress:     meta.IP,
		UserAgent:     meta.UserAgent,
		PreviousState: map[string]any{"roles": previousRoles},
		NewState:      map[string]any{"roles": newRoles},
	}
}

// UserPermissionsUpdate captures a direct-permission sync on a user.
func UserPermissionsUpdate(performedBy, userID int64, meta shared.RequestMeta, previousPerms, newPerms []int64) Entry {
	return Entry{
		Action:        ActionUserPermissionsUpdated,
		EntityType:    EntityUserPermissions,
		EntityID:      &userID,
		PerformedBy:   &performedBy,
		IPAddress:     meta.IP,
		UserAgent:     meta.UserAgent,
		PreviousState: map[string]any{"permissions": previousPerms},
		NewState:      map[string]any{"permissions": newPerms},
	}
}

// PermissionRemoval captures one cascading detachment during a permission
// delete. entityType is "role" or "user".
func PermissionRemoval(action string, performedBy, entityID, permissionID int64, entityType string, meta shared.RequestMeta) Entry {
	auditEntity := EntityUserPermission
	if entityType == "role" {
		auditEntity = EntityRolePermission
	}
	return Entry{
		Action:      action,
		EntityType:  auditEntity,
		EntityID:    &entityID,
		PerformedBy: &performedBy,
		IPAddress:   meta.IP,
		UserAgent:   meta.UserAgent,
		AdditionalData: map[string]any{
			"permission_id": permissionID,
			"entity_id":     entityID,
			"entity_type":   entityType,
		},
	}
}

// RoleRemoval captures one cascading detachment during a role delete.
func RoleRemoval(performedBy, userID, roleID int64, meta shared.RequestMeta) Entry {
	return Entry{
		Action:      ActionRoleRemovedFromUser,
		EntityType:  EntityUserRoles,
		EntityID:    &userID,
		PerformedBy: &performedBy,
		IPAddress:   meta.IP,
		UserAgent:   meta.UserAgent,
		AdditionalData: map[string]any{
			"role_id": roleID,
			"user_id": userID,
		},
	}
}

// SecurityViolation captures a refused action that is itself audit-worthy.
// It is appended outside the refused mutation's transaction so the record
// survives the rollback.
func SecurityViolation(violationType string, actorID int64, meta shared.RequestMeta, details map[string]any) Entry {
	return Entry{
		Action:      ActionSecurityViolation,
		EntityType:  EntitySecurity,
		PerformedBy: &actorID,
		IPAddress:   meta.IP,
		UserAgent:   meta.UserAgent,
		AdditionalData: map[string]any{
			"violation_type": violationType,
			"details":        details,
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// SecurityAlert captures a finding raised by the background scan. It has no
// performing user; the scanner itself is the source.
func SecurityAlert(alertType string, details map[string]any) Entry {
	return Entry{
		Action:     ActionSecurityAlert,
		EntityType: EntitySecurity,
		AdditionalData: map[string]any{
			"alert_type": alertType,
			"details":    details,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	}
}
