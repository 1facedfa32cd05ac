package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sentinel-iam/sentinel-iam/internal/audit"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Recorder appends audit entries outside a mutation transaction. Violation
// records go through here so they survive the refused mutation's rollback.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service implements the role/permission mutation protocol. Every structural
// mutation commits atomically with the audit entry documenting it.
type Service struct {
	repo     Repository
	recorder Recorder
	logger   *slog.Logger
}

// NewService constructs a Service instance.
func NewService(repo Repository, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, recorder: recorder, logger: logger}
}

// UpdateRoleInput carries a partial role update. Nil fields are untouched.
type UpdateRoleInput struct {
	Name          *string
	PermissionIDs []int64
	SyncPerms     bool
}

// UpdatePermissionInput carries a partial permission update.
type UpdatePermissionInput struct {
	Name  *string
	Group *string
}

// ListRoles returns all roles with their permission relations.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches one role with permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// CreateRole inserts a role and syncs its permission set to exactly the given
// ids. Unknown ids are dropped by the membership query.
func (s *Service) CreateRole(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, name string, permissionIDs []int64) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", shared.ErrValidation)
	}
	requested, err := s.repo.PermissionsByIDs(ctx, permissionIDs)
	if err != nil {
		return Role{}, err
	}

	var created Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.InsertRole(ctx, name, actor.ID)
		if err != nil {
			return err
		}
		if err := tx.SyncRolePermissions(ctx, role.ID, permissionIDs); err != nil {
			return err
		}
		created = role
		return tx.InsertAudit(ctx, audit.RoleActivity(audit.ActionRoleCreated, actor.ID, &role.ID, meta, nil, map[string]any{
			"name":        role.Name,
			"permissions": permissionNames(requested),
		}))
	})
	if err != nil {
		return Role{}, err
	}
	return s.repo.GetRole(ctx, created.ID)
}

// UpdateRole renames a role and/or syncs its permission set. System roles
// refuse updates.
func (s *Service) UpdateRole(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, id int64, input UpdateRoleInput) (Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.IsSystemRole {
		return Role{}, fmt.Errorf("%w: system role cannot be updated", shared.ErrForbidden)
	}

	previous := map[string]any{
		"name":        role.Name,
		"permissions": role.PermissionNames(),
		"updated_by":  actor.ID,
	}

	newName := role.Name
	if input.Name != nil {
		newName = strings.TrimSpace(*input.Name)
		if newName == "" {
			return Role{}, fmt.Errorf("%w: role name required", shared.ErrValidation)
		}
	}
	newPermNames := role.PermissionNames()
	if input.SyncPerms {
		requested, err := s.repo.PermissionsByIDs(ctx, input.PermissionIDs)
		if err != nil {
			return Role{}, err
		}
		newPermNames = permissionNames(requested)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.Name != nil {
			if err := tx.UpdateRoleName(ctx, id, newName, actor.ID); err != nil {
				return err
			}
		}
		if input.SyncPerms {
			if err := tx.SyncRolePermissions(ctx, id, input.PermissionIDs); err != nil {
				return err
			}
		}
		return tx.InsertAudit(ctx, audit.RoleActivity(audit.ActionRoleUpdated, actor.ID, &id, meta, previous, map[string]any{
			"name":        newName,
			"permissions": newPermNames,
		}))
	})
	if err != nil {
		return Role{}, err
	}
	return s.repo.GetRole(ctx, id)
}

// DeleteRole removes a non-system role, first revoking it from every user
// holding it. Each detachment is audited, then a summary entry closes the
// transaction. A system role refuses deletion; the refusal itself is recorded
// as a security violation under the attempting actor.
func (s *Service) DeleteRole(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		s.recordViolation(ctx, audit.SecurityViolation(audit.ViolationSystemRoleDeletion, actor.ID, meta, map[string]any{
			"attempted_action": "system_role_deletion",
			"role_id":          role.ID,
			"role_name":        role.Name,
		}))
		return fmt.Errorf("%w: role deletion failed", shared.ErrForbidden)
	}

	userIDs, err := s.repo.UsersWithRole(ctx, id)
	if err != nil {
		return err
	}
	previous := map[string]any{
		"name":        role.Name,
		"permissions": role.PermissionNames(),
		"users":       userIDs,
	}

	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, userID := range userIDs {
			if err := tx.InsertAudit(ctx, audit.RoleRemoval(actor.ID, userID, id, meta)); err != nil {
				return err
			}
		}
		if err := tx.DetachRoleFromUsers(ctx, id); err != nil {
			return err
		}
		if err := tx.SyncRolePermissions(ctx, id, nil); err != nil {
			return err
		}
		if err := tx.DeleteRole(ctx, id); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.RoleActivity(audit.ActionRoleDeleted, actor.ID, &id, meta, previous, nil))
	})
}

// CreatePermission inserts a permission.
func (s *Service) CreatePermission(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, name, group string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name required", shared.ErrValidation)
	}

	var created Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		perm, err := tx.InsertPermission(ctx, name, strings.TrimSpace(group), actor.ID)
		if err != nil {
			return err
		}
		created = perm
		return tx.InsertAudit(ctx, audit.PermissionActivity(audit.ActionPermissionCreated, actor.ID, &perm.ID, meta, nil, map[string]any{
			"name":  perm.Name,
			"group": perm.Group,
		}))
	})
	if err != nil {
		return Permission{}, err
	}
	return created, nil
}

// UpdatePermission rewrites name and/or group. System permissions allow
// updates; only deletion is protected.
func (s *Service) UpdatePermission(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, id int64, input UpdatePermissionInput) (Permission, error) {
	perm, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}

	previous := map[string]any{
		"name":       perm.Name,
		"group":      perm.Group,
		"updated_by": actor.ID,
	}
	newName := perm.Name
	if input.Name != nil {
		newName = strings.TrimSpace(*input.Name)
		if newName == "" {
			return Permission{}, fmt.Errorf("%w: permission name required", shared.ErrValidation)
		}
	}
	newGroup := perm.Group
	if input.Group != nil {
		newGroup = strings.TrimSpace(*input.Group)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdatePermission(ctx, id, newName, newGroup, actor.ID); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.PermissionActivity(audit.ActionPermissionUpdated, actor.ID, &id, meta, previous, map[string]any{
			"name":  newName,
			"group": newGroup,
		}))
	})
	if err != nil {
		return Permission{}, err
	}
	return s.repo.GetPermission(ctx, id)
}

// DeletePermission removes a non-system permission, revoking it from every
// role and every directly-assigned user first. Each detachment writes its own
// audit entry before the final deletion entry summarising all affected
// entities.
func (s *Service) DeletePermission(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, id int64) error {
	perm, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystemPermission {
		s.recordViolation(ctx, audit.SecurityViolation(audit.ViolationSystemPermissionDeletion, actor.ID, meta, map[string]any{
			"attempted_action": "permission_deletion",
			"permission_id":    perm.ID,
			"permission_name":  perm.Name,
		}))
		return fmt.Errorf("%w: permission deletion failed", shared.ErrForbidden)
	}

	roles, err := s.repo.RolesWithPermission(ctx, id)
	if err != nil {
		return err
	}
	userIDs, err := s.repo.UsersWithDirectPermission(ctx, id)
	if err != nil {
		return err
	}

	roleNames := make([]string, 0, len(roles))
	for _, role := range roles {
		roleNames = append(roleNames, role.Name)
	}
	previous := map[string]any{
		"id":    perm.ID,
		"name":  perm.Name,
		"group": perm.Group,
		"affected_entities": map[string]any{
			"roles":        roleNames,
			"direct_users": userIDs,
		},
	}

	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, role := range roles {
			if err := tx.InsertAudit(ctx, audit.PermissionRemoval(audit.ActionPermissionRemovedFromRole, actor.ID, role.ID, id, "role", meta)); err != nil {
				return err
			}
			if err := tx.DetachPermissionFromRole(ctx, role.ID, id); err != nil {
				return err
			}
		}
		for _, userID := range userIDs {
			if err := tx.InsertAudit(ctx, audit.PermissionRemoval(audit.ActionPermissionRemovedFromUser, actor.ID, userID, id, "user", meta)); err != nil {
				return err
			}
			if err := tx.DetachPermissionFromUser(ctx, userID, id); err != nil {
				return err
			}
		}
		if err := tx.DeletePermission(ctx, id); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.PermissionActivity(audit.ActionPermissionDeleted, actor.ID, &id, meta, previous, nil))
	})
}

func (s *Service) recordViolation(ctx context.Context, entry audit.Entry) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, entry); err != nil && s.logger != nil {
		s.logger.Error("record security violation", slog.Any("error", err))
	}
}

func permissionNames(perms []Permission) []string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names
}
