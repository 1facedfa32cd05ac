package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ListFilters narrows the audit read path. Zero values mean "no filter".
type ListFilters struct {
	Action      string
	EntityType  string
	PerformedBy int64
	From        time.Time
	To          time.Time
	Page        int
	PageSize    int
}

// Repository reads audit_logs rows for the list surface.
type Repository interface {
	ListEntries(ctx context.Context, filters ListFilters, limit, offset int) ([]Entry, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListEntries returns entries newest first, applying the given filters.
func (r *PGRepository) ListEntries(ctx context.Context, filters ListFilters, limit, offset int) ([]Entry, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filters.Action != "" {
		add("action = $%d", filters.Action)
	}
	if filters.EntityType != "" {
		add("entity_type = $%d", filters.EntityType)
	}
	if filters.PerformedBy != 0 {
		add("performed_by = $%d", filters.PerformedBy)
	}
	if !filters.From.IsZero() {
		add("created_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("created_at <= $%d", filters.To)
	}

	query := `SELECT id, action, entity_type, entity_id, performed_by,
		COALESCE(ip_address, ''), COALESCE(user_agent, ''),
		previous_state, new_state, additional_data, created_at
		FROM audit_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.PerformedBy,
			&e.IPAddress, &e.UserAgent, &e.PreviousState, &e.NewState, &e.AdditionalData, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
