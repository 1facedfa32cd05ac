package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-iam/sentinel-iam/internal/audit"
	"github.com/sentinel-iam/sentinel-iam/internal/platform/db"
	"github.com/sentinel-iam/sentinel-iam/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (*Account, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	ActorForAccount(ctx context.Context, account *Account) (shared.Actor, error)
	UpdateProfile(ctx context.Context, id int64, name, username string, passwordHash *string, entry audit.Entry) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `id, name, username, password_hash, is_super_admin, created_at, updated_at`

// FindByUsername fetches a live account by username.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (*Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE username = $1 AND deleted_at IS NULL`, username)
	return scanAccount(row)
}

// GetAccount fetches a live account by id.
func (r *PGRepository) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanAccount(row)
}

// ActorForAccount loads the account's roles and effective permissions into a
// request identity.
func (r *PGRepository) ActorForAccount(ctx context.Context, account *Account) (shared.Actor, error) {
	actor := shared.Actor{
		ID:           account.ID,
		Name:         account.Name,
		Username:     account.Username,
		IsSuperAdmin: account.IsSuperAdmin,
	}

	rows, err := r.pool.Query(ctx,
		`SELECT r.name FROM roles r
		 JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = $1
		 ORDER BY r.name`, account.ID)
	if err != nil {
		return shared.Actor{}, fmt.Errorf("%w: load roles: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return shared.Actor{}, fmt.Errorf("%w: scan role: %v", shared.ErrStorage, err)
		}
		actor.Roles = append(actor.Roles, name)
	}
	if err := rows.Err(); err != nil {
		return shared.Actor{}, fmt.Errorf("%w: load roles: %v", shared.ErrStorage, err)
	}

	permRows, err := r.pool.Query(ctx,
		`SELECT DISTINCT p.id, p.name FROM permissions p
		 LEFT JOIN user_permissions up ON up.permission_id = p.id AND up.user_id = $1
		 LEFT JOIN role_permissions rp ON rp.permission_id = p.id
		 LEFT JOIN user_roles ur ON ur.role_id = rp.role_id AND ur.user_id = $1
		 WHERE up.user_id IS NOT NULL OR ur.user_id IS NOT NULL
		 ORDER BY p.id`, account.ID)
	if err != nil {
		return shared.Actor{}, fmt.Errorf("%w: load permissions: %v", shared.ErrStorage, err)
	}
	defer permRows.Close()
	for permRows.Next() {
		var (
			id   int64
			name string
		)
		if err := permRows.Scan(&id, &name); err != nil {
			return shared.Actor{}, fmt.Errorf("%w: scan permission: %v", shared.ErrStorage, err)
		}
		actor.PermissionIDs = append(actor.PermissionIDs, id)
		actor.Permissions = append(actor.Permissions, name)
	}
	if err := permRows.Err(); err != nil {
		return shared.Actor{}, fmt.Errorf("%w: load permissions: %v", shared.ErrStorage, err)
	}
	return actor, nil
}

// UpdateProfile edits the account's own fields and appends the audit entry
// within the same transaction.
func (r *PGRepository) UpdateProfile(ctx context.Context, id int64, name, username string, passwordHash *string, entry audit.Entry) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users
			 SET name = $2, username = $3,
			     password_hash = COALESCE($4, password_hash),
			     updated_by = $1, updated_at = NOW()
			 WHERE id = $1 AND deleted_at IS NULL`,
			id, name, username, passwordHash)
		if err != nil {
			return mapWriteError(err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: user not found", shared.ErrNotFound)
		}
		return audit.Insert(ctx, tx, entry)
	})
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return httpx.ErrDuplicate
	}
	return fmt.Errorf("%w: update profile: %v", shared.ErrStorage, err)
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Username, &a.PasswordHash, &a.IsSuperAdmin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user not found", shared.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: scan account: %v", shared.ErrStorage, err)
	}
	return &a, nil
}

var _ Repository = (*PGRepository)(nil)
