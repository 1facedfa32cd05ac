package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-iam/sentinel-iam/internal/audit"
	"github.com/sentinel-iam/sentinel-iam/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Repository defines graph data access. All structural writes run through
// WithTx; nothing else touches roles, permissions or their join tables.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	ExistingPermissionNames(ctx context.Context, names []string) ([]string, error)
	ExistingRoleNames(ctx context.Context, names []string) ([]string, error)
	RolesWithPermission(ctx context.Context, permissionID int64) ([]Role, error)
	UsersWithRole(ctx context.Context, roleID int64) ([]int64, error)
	UsersWithDirectPermission(ctx context.Context, permissionID int64) ([]int64, error)
	RolesForUser(ctx context.Context, userID int64) ([]Role, error)
	DirectPermissions(ctx context.Context, userID int64) ([]Permission, error)
	EffectivePermissions(ctx context.Context, userID int64) ([]Permission, error)
}

// TxRepository defines graph mutations inside a transaction. InsertAudit
// writes through the same transaction, so mutation and audit entry commit or
// roll back together.
type TxRepository interface {
	InsertRole(ctx context.Context, name string, createdBy int64) (Role, error)
	UpdateRoleName(ctx context.Context, id int64, name string, updatedBy int64) error
	DeleteRole(ctx context.Context, id int64) error
	SyncRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	DetachRoleFromUsers(ctx context.Context, roleID int64) error

	InsertPermission(ctx context.Context, name, group string, createdBy int64) (Permission, error)
	UpdatePermission(ctx context.Context, id int64, name, group string, updatedBy int64) error
	DeletePermission(ctx context.Context, id int64) error
	DetachPermissionFromRole(ctx context.Context, roleID, permissionID int64) error
	DetachPermissionFromUser(ctx context.Context, userID, permissionID int64) error

	InsertAudit(ctx context.Context, entry audit.Entry) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

type pgTxRepository struct {
	tx pgx.Tx
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

// WithTx runs fn inside a transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", shared.ErrStorage, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &pgTxRepository{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit tx: %v", shared.ErrStorage, err)
	}
	return nil
}

const roleColumns = `id, name, guard_name, is_system_role, created_by, updated_by, created_at, updated_at`

// GetRole fetches a role with its permission relation loaded.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	perms, err := r.rolePermissions(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

// ListRoles returns all roles ordered by id, permission relations loaded.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := r.rolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

const permissionColumns = `id, name, guard_name, group_name, is_system_permission, created_by, updated_by, created_at, updated_at`

// GetPermission fetches a permission by id.
func (r *PGRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.ErrNotFound
		}
		return Permission{}, err
	}
	return perm, nil
}

// ListPermissions returns all permissions ordered by group then name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY group_name, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// PermissionsByIDs returns the permissions whose ids are in the given set.
// Unknown ids are silently absent from the result.
func (r *PGRepository) PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// ExistingPermissionNames returns which of the given names exist.
func (r *PGRepository) ExistingPermissionNames(ctx context.Context, names []string) ([]string, error) {
	return r.existingNames(ctx, `SELECT name FROM permissions WHERE name = ANY($1)`, names)
}

// ExistingRoleNames returns which of the given names exist.
func (r *PGRepository) ExistingRoleNames(ctx context.Context, names []string) ([]string, error) {
	return r.existingNames(ctx, `SELECT name FROM roles WHERE name = ANY($1)`, names)
}

func (r *PGRepository) existingNames(ctx context.Context, query string, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, query, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var found []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		found = append(found, name)
	}
	return found, rows.Err()
}

// RolesWithPermission returns the roles referencing the permission.
func (r *PGRepository) RolesWithPermission(ctx context.Context, permissionID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.name, r.guard_name, r.is_system_role, r.created_by, r.updated_by, r.created_at, r.updated_at
		FROM roles r JOIN role_permissions rp ON rp.role_id = r.id
		WHERE rp.permission_id = $1 ORDER BY r.id`, permissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UsersWithRole returns ids of users holding the role.
func (r *PGRepository) UsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	return r.collectIDs(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
}

// UsersWithDirectPermission returns ids of users holding the permission directly.
func (r *PGRepository) UsersWithDirectPermission(ctx context.Context, permissionID int64) ([]int64, error) {
	return r.collectIDs(ctx, `SELECT user_id FROM user_permissions WHERE permission_id = $1 ORDER BY user_id`, permissionID)
}

func (r *PGRepository) collectIDs(ctx context.Context, query string, arg any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RolesForUser returns the roles assigned to the user.
func (r *PGRepository) RolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.name, r.guard_name, r.is_system_role, r.created_by, r.updated_by, r.created_at, r.updated_at
		FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 ORDER BY r.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// DirectPermissions returns permissions assigned to the user outside any role.
func (r *PGRepository) DirectPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.name, p.guard_name, p.group_name, p.is_system_permission, p.created_by, p.updated_by, p.created_at, p.updated_at
		FROM permissions p JOIN user_permissions up ON up.permission_id = p.id
		WHERE up.user_id = $1 ORDER BY p.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// EffectivePermissions returns the deduplicated union of the user's direct
// permissions and the permissions of every role they hold.
func (r *PGRepository) EffectivePermissions(ctx context.Context, userID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT p.id, p.name, p.guard_name, p.group_name, p.is_system_permission, p.created_by, p.updated_by, p.created_at, p.updated_at
		FROM permissions p
		LEFT JOIN user_permissions up ON up.permission_id = p.id AND up.user_id = $1
		LEFT JOIN role_permissions rp ON rp.permission_id = p.id
		LEFT JOIN user_roles ur ON ur.role_id = rp.role_id AND ur.user_id = $1
		WHERE up.user_id IS NOT NULL OR ur.user_id IS NOT NULL
		ORDER BY p.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (r *PGRepository) rolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.name, p.guard_name, p.group_name, p.is_system_permission, p.created_by, p.updated_by, p.created_at, p.updated_at
		FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1 ORDER BY p.id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// InsertRole creates a role stamped with its creator.
func (t *pgTxRepository) InsertRole(ctx context.Context, name string, createdBy int64) (Role, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO roles (name, created_by) VALUES ($1, $2) RETURNING `+roleColumns, name, createdBy)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapWriteError(err)
	}
	return role, nil
}

// UpdateRoleName renames a role and stamps the updater.
func (t *pgTxRepository) UpdateRoleName(ctx context.Context, id int64, name string, updatedBy int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE roles SET name = $2, updated_by = $3, updated_at = NOW() WHERE id = $1`, id, name, updatedBy)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteRole removes the role row. Join rows cascade at the schema level but
// callers detach explicitly first so each detachment is audited.
func (t *pgTxRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SyncRolePermissions replaces the role's permission set with exactly the
// given ids. Ids not present in permissions are dropped by the join.
func (t *pgTxRepository) SyncRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return mapWriteError(err)
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, id FROM permissions WHERE id = ANY($2)`, roleID, permissionIDs); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// DetachRoleFromUsers removes the role from every user holding it.
func (t *pgTxRepository) DetachRoleFromUsers(ctx context.Context, roleID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID)
	return mapWriteError(err)
}

// InsertPermission creates a permission stamped with its creator.
func (t *pgTxRepository) InsertPermission(ctx context.Context, name, group string, createdBy int64) (Permission, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO permissions (name, group_name, created_by) VALUES ($1, $2, $3) RETURNING `+permissionColumns, name, group, createdBy)
	perm, err := scanPermission(row)
	if err != nil {
		return Permission{}, mapWriteError(err)
	}
	return perm, nil
}

// UpdatePermission rewrites name and group and stamps the updater.
func (t *pgTxRepository) UpdatePermission(ctx context.Context, id int64, name, group string, updatedBy int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE permissions SET name = $2, group_name = $3, updated_by = $4, updated_at = NOW() WHERE id = $1`, id, name, group, updatedBy)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeletePermission removes the permission row.
func (t *pgTxRepository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DetachPermissionFromRole revokes one permission from one role.
func (t *pgTxRepository) DetachPermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return mapWriteError(err)
}

// DetachPermissionFromUser revokes one directly-assigned permission.
func (t *pgTxRepository) DetachPermissionFromUser(ctx context.Context, userID, permissionID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	return mapWriteError(err)
}

// InsertAudit appends an audit entry inside the open transaction.
func (t *pgTxRepository) InsertAudit(ctx context.Context, entry audit.Entry) error {
	return audit.Insert(ctx, t.tx, entry)
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.GuardName, &role.IsSystemRole,
		&role.CreatedBy, &role.UpdatedBy, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.GuardName, &perm.Group, &perm.IsSystemPermission,
		&perm.CreatedBy, &perm.UpdatedBy, &perm.CreatedAt, &perm.UpdatedAt)
	return perm, err
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return httpx.ErrDuplicate
	}
	return fmt.Errorf("%w: %v", shared.ErrStorage, err)
}
