package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Querier is the subset of pgx execution shared by *pgxpool.Pool and pgx.Tx.
// Mutation services pass their open transaction here so the audit row commits
// atomically with the graph change it documents.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertEntry = `INSERT INTO audit_logs
	(action, entity_type, entity_id, performed_by, ip_address, user_agent, previous_state, new_state, additional_data)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Insert appends one entry through the given querier. Pure insert; the store
// never updates or deletes rows.
func Insert(ctx context.Context, q Querier, e Entry) error {
	if e.Action == "" || e.EntityType == "" {
		return errors.New("audit: entry requires action and entity_type")
	}
	previous, err := marshalState(e.PreviousState)
	if err != nil {
		return err
	}
	next, err := marshalState(e.NewState)
	if err != nil {
		return err
	}
	additional, err := marshalState(e.AdditionalData)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, insertEntry,
		e.Action, e.EntityType, e.EntityID, e.PerformedBy,
		nullable(e.IPAddress), nullable(e.UserAgent),
		previous, next, additional,
	); err != nil {
		return fmt.Errorf("%w: audit insert: %v", shared.ErrStorage, err)
	}
	return nil
}

// Recorder appends entries on its own connection, outside any caller
// transaction. Used for authentication events and for security violations
// that must outlive a rolled-back mutation.
type Recorder struct {
	pool *pgxpool.Pool

	// OnViolation, when set, is invoked for every recorded
	// security_violation entry.
	OnViolation func()
}

// NewRecorder returns a Recorder writing through the given pool.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record persists the entry immediately.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if r == nil || r.pool == nil {
		return errors.New("audit: recorder not initialised")
	}
	if err := Insert(ctx, r.pool, e); err != nil {
		return err
	}
	if e.Action == ActionSecurityViolation && r.OnViolation != nil {
		r.OnViolation()
	}
	return nil
}

func marshalState(state map[string]any) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal state: %w", err)
	}
	return data, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
