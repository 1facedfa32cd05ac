package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-iam/sentinel-iam/internal/audit"
	"github.com/sentinel-iam/sentinel-iam/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Repository defines the standard user management data surface. Every query
// excludes soft-deleted rows and super-admin accounts.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetUser(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UserRoleIDs(ctx context.Context, id int64) ([]int64, error)
	UserDirectPermissionIDs(ctx context.Context, id int64) ([]int64, error)
}

// TxRepository defines user mutations inside a transaction.
type TxRepository interface {
	InsertUser(ctx context.Context, name, username, passwordHash string, createdBy int64) (User, error)
	UpdateUser(ctx context.Context, id int64, name, username string, passwordHash *string, updatedBy int64) error
	SoftDeleteUser(ctx context.Context, id, deletedBy int64) error
	DetachUserRoles(ctx context.Context, id int64) error
	DetachUserPermissions(ctx context.Context, id int64) error
	SyncUserRoles(ctx context.Context, id int64, roleIDs []int64) error
	SyncUserPermissions(ctx context.Context, id int64, permissionIDs []int64) error

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

const userColumns = `id, name, username, created_by, updated_by, created_at, updated_at, deleted_at`

const standardSurface = `is_super_admin = FALSE AND deleted_at IS NULL`

// GetUser fetches a user on the standard surface.
func (r *PGRepository) GetUser(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 AND `+standardSurface, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: user not found", shared.ErrNotFound)
		}
		return User{}, err
	}
	return user, nil
}

// ListUsers returns all users on the standard surface ordered by id.
func (r *PGRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE `+standardSurface+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UserRoleIDs returns ids of the roles assigned to the user.
func (r *PGRepository) UserRoleIDs(ctx context.Context, id int64) ([]int64, error) {
	return r.collectIDs(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, id)
}

// UserDirectPermissionIDs returns ids of the user's direct permissions.
func (r *PGRepository) UserDirectPermissionIDs(ctx context.Context, id int64) ([]int64, error) {
	return r.collectIDs(ctx, `SELECT permission_id FROM user_permissions WHERE user_id = $1 ORDER BY permission_id`, id)
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

// InsertUser creates a user stamped with its creator.
func (t *pgTxRepository) InsertUser(ctx context.Context, name, username, passwordHash string, createdBy int64) (User, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO users (name, username, password_hash, created_by)
		VALUES ($1, $2, $3, $4) RETURNING `+userColumns, name, username, passwordHash, createdBy)
	user, err := scanUser(row)
	if err != nil {
		return User{}, mapWriteError(err)
	}
	return user, nil
}

// UpdateUser rewrites profile fields, replacing the password hash only when
// one is supplied.
func (t *pgTxRepository) UpdateUser(ctx context.Context, id int64, name, username string, passwordHash *string, updatedBy int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET name = $2, username = $3,
		password_hash = COALESCE($4, password_hash), updated_by = $5, updated_at = NOW()
		WHERE id = $1 AND `+standardSurface, id, name, username, passwordHash, updatedBy)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user not found", shared.ErrNotFound)
	}
	return nil
}

// SoftDeleteUser marks the row deleted; the record itself stays for audit
// attribution.
func (t *pgTxRepository) SoftDeleteUser(ctx context.Context, id, deletedBy int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET deleted_at = NOW(), updated_by = $2, updated_at = NOW()
		WHERE id = $1 AND `+standardSurface, id, deletedBy)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user not found", shared.ErrNotFound)
	}
	return nil
}

// DetachUserRoles removes every role from the user.
func (t *pgTxRepository) DetachUserRoles(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id)
	return mapWriteError(err)
}

// DetachUserPermissions removes every direct permission from the user.
func (t *pgTxRepository) DetachUserPermissions(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, id)
	return mapWriteError(err)
}

// SyncUserRoles replaces the user's role set with exactly the given ids.
// Ids not resolving to an existing role are dropped by the join.
func (t *pgTxRepository) SyncUserRoles(ctx context.Context, id int64, roleIDs []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
		return mapWriteError(err)
	}
	if len(roleIDs) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE id = ANY($2)`, id, roleIDs); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// SyncUserPermissions replaces the user's direct permission set.
func (t *pgTxRepository) SyncUserPermissions(ctx context.Context, id int64, permissionIDs []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, id); err != nil {
		return mapWriteError(err)
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO user_permissions (user_id, permission_id)
		SELECT $1, id FROM permissions WHERE id = ANY($2)`, id, permissionIDs); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// InsertAudit appends an audit entry inside the open transaction.
func (t *pgTxRepository) InsertAudit(ctx context.Context, entry audit.Entry) error {
	return audit.Insert(ctx, t.tx, entry)
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	var deletedAt *time.Time
	err := row.Scan(&user.ID, &user.Name, &user.Username, &user.CreatedBy, &user.UpdatedBy,
		&user.CreatedAt, &user.UpdatedAt, &deletedAt)
	user.DeletedAt = deletedAt
	return user, err
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
