// Package activity is the append-only audit trail for the close workflow.
// Entries are written in the same transaction as the mutation they describe
// and are never updated or deleted.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one audit trail record keyed to a period.
type Entry struct {
	ID        int64          `json:"id"`
	PeriodID  int64          `json:"period_id"`
	Action    string         `json:"action"`
	ActorID   int64          `json:"actor_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx so entries can join the
// transaction performing the mutation they record.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository persists and reads activity log rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record appends one entry. There is no update or delete counterpart.
func (r *Repository) Record(ctx context.Context, db Execer, e Entry) error {
	if e.PeriodID == 0 || e.Action == "" {
		return errors.New("activity: period id and action required")
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO close_activity_log (period_id, action, actor_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		e.PeriodID, e.Action, e.ActorID, metaJSON)
	return err
}

// List returns entries for a period, most recent first.
func (r *Repository) List(ctx context.Context, periodID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, period_id, action, actor_id, metadata, created_at
		FROM close_activity_log
		WHERE period_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, periodID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.PeriodID, &e.Action, &e.ActorID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
