package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx so lock writes can join
// the workflow transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository persists transaction locks and reads the register.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertLock freezes the date range for a period. Idempotent per period.
func (r *Repository) InsertLock(ctx context.Context, db Execer, periodID int64, start, end time.Time) error {
	_, err := db.Exec(ctx, `
		INSERT INTO transaction_locks (period_id, start_date, end_date, locked_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (period_id) DO NOTHING`,
		periodID, start, end)
	return err
}

// DeleteLock reverses a freeze when a period is unlocked.
func (r *Repository) DeleteLock(ctx context.Context, db Execer, periodID int64) error {
	_, err := db.Exec(ctx, `DELETE FROM transaction_locks WHERE period_id = $1`, periodID)
	return err
}

// LockCovering reports whether any active lock covers the given entry date.
func (r *Repository) LockCovering(ctx context.Context, date time.Time) (bool, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM transaction_locks
		WHERE start_date <= $1 AND end_date >= $1`, date).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ReconciliationStats aggregates reconciled counts and amounts for a date range.
func (r *Repository) ReconciliationStats(ctx context.Context, start, end time.Time) (ReconciliationStats, error) {
	var (
		stats         ReconciliationStats
		matchedAmount string
		totalAmount   string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE reconciled),
			COUNT(*),
			COALESCE(SUM(amount) FILTER (WHERE reconciled), 0)::text,
			COALESCE(SUM(amount), 0)::text
		FROM ledger_transactions
		WHERE entry_date BETWEEN $1 AND $2`,
		start, end).Scan(&stats.MatchedCount, &stats.TotalCount, &matchedAmount, &totalAmount)
	if err != nil {
		return ReconciliationStats{}, err
	}
	if stats.MatchedAmount, err = decimal.NewFromString(matchedAmount); err != nil {
		return ReconciliationStats{}, err
	}
	if stats.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return ReconciliationStats{}, err
	}
	return stats, nil
}
