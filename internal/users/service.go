package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sentinel-iam/sentinel-iam/internal/audit"
	"github.com/sentinel-iam/sentinel-iam/internal/rbac"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// GraphReader loads a user's role and direct-permission relations from the
// permission/role graph.
type GraphReader interface {
	RolesForUser(ctx context.Context, userID int64) ([]rbac.Role, error)
	DirectPermissions(ctx context.Context, userID int64) ([]rbac.Permission, error)
}

// PasswordHasher derives a storable hash from a secret.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Recorder appends audit entries outside a mutation transaction.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service handles user management and role/permission assignment.
type Service struct {
	repo     Repository
	graph    GraphReader
	hasher   PasswordHasher
	recorder Recorder
	logger   *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, graph GraphReader, hasher PasswordHasher, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, graph: graph, hasher: hasher, recorder: recorder, logger: logger}
}

// UpdateInput carries a partial user update. Nil fields are untouched.
type UpdateInput struct {
	Name     *string
	Username *string
	Password *string
}

// List returns all users on the standard surface with relations loaded.
func (s *Service) List(ctx context.Context) ([]User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if err := s.loadRelations(ctx, &users[i]); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// Get fetches one user with relations loaded.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := s.loadRelations(ctx, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Create inserts a user and audits the creation.
func (s *Service) Create(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, name, username, password string) (User, error) {
	name = strings.TrimSpace(name)
	username = strings.TrimSpace(username)
	if name == "" || username == "" {
		return User{}, fmt.Errorf("%w: name and username required", shared.ErrValidation)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}

	var created User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.InsertUser(ctx, name, username, hash, actor.ID)
		if err != nil {
			return err
		}
		created = user
		return tx.InsertAudit(ctx, audit.UserActivity(audit.ActionUserCreated, actor.ID, &user.ID, meta, nil, map[string]any{
			"name":     user.Name,
			"username": user.Username,
		}))
	})
	if err != nil {
		return User{}, err
	}
	return created, nil
}

// Update edits profile fields and audits before/after state. The new-state
// snapshot records whether the password changed, never the password itself.
func (s *Service) Update(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, id int64, input UpdateInput) (User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}

	previous := map[string]any{
		"name":     user.Name,
		"username": user.Username,
	}
	newName := user.Name
	if input.Name != nil {
		newName = strings.TrimSpace(*input.Name)
	}
	newUsername := user.Username
	if input.Username != nil {
		newUsername = strings.TrimSpace(*input.Username)
	}
	if newName == "" || newUsername == "" {
		return User{}, fmt.Errorf("%w: name and username required", shared.ErrValidation)
	}

	var hash *string
	if input.Password != nil {
		hashed, err := s.hasher.Hash(*input.Password)
		if err != nil {
			return User{}, err
		}
		hash = &hashed
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateUser(ctx, id, newName, newUsername, hash, actor.ID); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.UserActivity(audit.ActionUserUpdated, actor.ID, &id, meta, previous, map[string]any{
			"name":             newName,
			"username":         newUsername,
			"password_changed": hash != nil,
		}))
	})
	if err != nil {
		return User{}, err
	}
	return s.Get(ctx, id)
}

// Delete detaches the user's roles and direct permissions, soft-deletes the
// record, and audits a snapshot of everything removed.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, id int64) error {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.loadRelations(ctx, &user); err != nil {
		return err
	}

	roleNames := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		roleNames = append(roleNames, role.Name)
	}
	permNames := make([]string, 0, len(user.Permissions))
	for _, perm := range user.Permissions {
		permNames = append(permNames, perm.Name)
	}
	snapshot := map[string]any{
		"id":          user.ID,
		"name":        user.Name,
		"username":    user.Username,
		"roles":       roleNames,
		"permissions": permNames,
	}

	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DetachUserRoles(ctx, id); err != nil {
			return err
		}
		if err := tx.DetachUserPermissions(ctx, id); err != nil {
			return err
		}
		if err := tx.SoftDeleteUser(ctx, id, actor.ID); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.UserActivity(audit.ActionUserDeleted, actor.ID, &id, meta, snapshot, nil))
	})
}

// AssignRoles syncs the user's role set to exactly the given ids. Unknown
// ids are dropped without error. Self-assignment is a usage error, not a
// security violation.
func (s *Service) AssignRoles(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, id int64, roleIDs []int64) (User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if actor.ID == user.ID {
		return User{}, fmt.Errorf("%w: roles cannot be self-assigned", shared.ErrValidation)
	}

	previous, err := s.repo.UserRoleIDs(ctx, id)
	if err != nil {
		return User{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SyncUserRoles(ctx, id, roleIDs); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.UserRolesUpdate(actor.ID, id, meta, previous, roleIDs))
	})
	if err != nil {
		return User{}, err
	}
	return s.Get(ctx, id)
}

// AssignPermissions syncs the user's direct permissions to the intersection
// of the requested ids and the acting actor's own effective set. A non-empty
// request with an empty intersection is refused as a security violation; a
// partial intersection is applied silently.
func (s *Service) AssignPermissions(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, id int64, permissionIDs []int64) (User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if actor.ID == user.ID {
		return User{}, fmt.Errorf("%w: permissions cannot be self-assigned", shared.ErrValidation)
	}

	previous, err := s.repo.UserDirectPermissionIDs(ctx, id)
	if err != nil {
		return User{}, err
	}

	allowed := intersect(permissionIDs, actor.PermissionIDs)
	if len(allowed) == 0 && len(permissionIDs) > 0 {
		s.recordViolation(ctx, audit.SecurityViolation(audit.ViolationPermissionAssignment, actor.ID, meta, map[string]any{
			"attempted_action":      "assign_permissions",
			"target_user_id":        user.ID,
			"requested_permissions": permissionIDs,
			"user_permissions":      actor.PermissionIDs,
		}))
		return User{}, fmt.Errorf("%w: unauthorized permission assignment", shared.ErrForbidden)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SyncUserPermissions(ctx, id, allowed); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.UserPermissionsUpdate(actor.ID, id, meta, previous, allowed))
	})
	if err != nil {
		return User{}, err
	}
	return s.Get(ctx, id)
}

func (s *Service) loadRelations(ctx context.Context, user *User) error {
	roles, err := s.graph.RolesForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	perms, err := s.graph.DirectPermissions(ctx, user.ID)
	if err != nil {
		return err
	}
	user.Roles = roles
	user.Permissions = perms
	return nil
}

func (s *Service) recordViolation(ctx context.Context, entry audit.Entry) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, entry); err != nil && s.logger != nil {
		s.logger.Error("record security violation", slog.Any("error", err))
	}
}

func intersect(requested, held []int64) []int64 {
	set := make(map[int64]struct{}, len(held))
	for _, id := range held {
		set[id] = struct{}{}
	}
	var out []int64
	for _, id := range requested {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
