package close

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/activity"
	"github.com/ledgerline/ledgerline/internal/ledger"
	"github.com/ledgerline/ledgerline/internal/shared"
)

const periodColumns = `id, name, period_type, start_date, end_date, status, notes,
	approved_at, approved_by, created_by, created_at, updated_at`

const itemColumns = `id, period_id, category, name, description, is_required, status,
	completed_at, completed_by, skip_reason, auto_matched, auto_total, created_at, updated_at`

// Repository persists period close state in Postgres.
type Repository struct {
	pool        *pgxpool.Pool
	activity    *activity.Repository
	locks       *ledger.Repository
	idempotency *shared.IdempotencyStore
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool, activityRepo *activity.Repository, lockRepo *ledger.Repository, idemStore *shared.IdempotencyStore) *Repository {
	return &Repository{pool: pool, activity: activityRepo, locks: lockRepo, idempotency: idemStore}
}

// WithTx executes fn inside a repeatable-read transaction. Activity entries and
// transaction locks written through the TxRepository commit atomically with the
// status change.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("close: repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txRepository{tx: tx, parent: r}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListPeriods returns periods ordered by start date descending.
func (r *Repository) ListPeriods(ctx context.Context, limit, offset int) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+periodColumns+`
		FROM close_periods
		ORDER BY start_date DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// LoadPeriod fetches a single period by id.
func (r *Repository) LoadPeriod(ctx context.Context, id int64) (Period, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM close_periods WHERE id = $1`, id)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, fmt.Errorf("%w: period %d", ErrNotFound, id)
		}
		return Period{}, err
	}
	return p, nil
}

// ListChecklistItems returns items grouped by category in display order,
// insertion order inside a category.
func (r *Repository) ListChecklistItems(ctx context.Context, periodID int64) ([]ChecklistItem, error) {
	return listChecklistItems(ctx, r.pool, periodID)
}

// PeriodRangeConflict reports whether an existing period overlaps the range.
func (r *Repository) PeriodRangeConflict(ctx context.Context, start, end time.Time) (bool, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM close_periods
		WHERE start_date <= $2 AND end_date >= $1`, start, end).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateStatusParams drives the compare-and-set status transition.
type UpdateStatusParams struct {
	ID          int64
	From        PeriodStatus
	To          PeriodStatus
	SetApproved bool
	ActorID     int64
}

type txRepository struct {
	tx     pgx.Tx
	parent *Repository
}

func (t *txRepository) InsertPeriod(ctx context.Context, in CreatePeriodInput) (Period, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO close_periods (name, period_type, start_date, end_date, status, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING `+periodColumns,
		in.Name, in.Type, in.StartDate, in.EndDate, StatusOpen, in.Notes, in.ActorID)
	return scanPeriod(row)
}

func (t *txRepository) LoadPeriodForUpdate(ctx context.Context, id int64) (Period, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM close_periods WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, fmt.Errorf("%w: period %d", ErrNotFound, id)
		}
		return Period{}, err
	}
	return p, nil
}

// UpdatePeriodStatus applies the transition with a compare-and-set guard: the
// write only lands when the row still carries the status the caller read.
func (t *txRepository) UpdatePeriodStatus(ctx context.Context, in UpdateStatusParams) (Period, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE close_periods
		SET status = $3,
			approved_at = CASE WHEN $4 THEN NOW() ELSE approved_at END,
			approved_by = CASE WHEN $4 THEN $5 ELSE approved_by END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+periodColumns,
		in.ID, in.From, in.To, in.SetApproved, in.ActorID)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, fmt.Errorf("%w: period %d moved out of %s", ErrConflict, in.ID, in.From)
		}
		return Period{}, err
	}
	return p, nil
}

func (t *txRepository) InsertChecklistItems(ctx context.Context, periodID int64, defs []ItemDefinition) ([]ChecklistItem, error) {
	items := make([]ChecklistItem, 0, len(defs))
	for _, def := range defs {
		row := t.tx.QueryRow(ctx, `
			INSERT INTO close_checklist_items (period_id, category, name, description, is_required, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			RETURNING `+itemColumns,
			periodID, def.Category, def.Name, def.Description, def.Required, ItemStatusPending)
		item, err := scanItem(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (t *txRepository) ListChecklistItems(ctx context.Context, periodID int64) ([]ChecklistItem, error) {
	return listChecklistItems(ctx, t.tx, periodID)
}

func (t *txRepository) LoadChecklistItemForUpdate(ctx context.Context, itemID int64) (ChecklistItem, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM close_checklist_items WHERE id = $1 FOR UPDATE`, itemID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChecklistItem{}, fmt.Errorf("%w: checklist item %d", ErrNotFound, itemID)
		}
		return ChecklistItem{}, err
	}
	return item, nil
}

func (t *txRepository) CompleteChecklistItem(ctx context.Context, itemID, actorID int64) (ChecklistItem, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE close_checklist_items
		SET status = $2, completed_at = NOW(), completed_by = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+itemColumns,
		itemID, ItemStatusCompleted, actorID)
	return scanItem(row)
}

func (t *txRepository) SkipChecklistItem(ctx context.Context, itemID int64, reason string, actorID int64) (ChecklistItem, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE close_checklist_items
		SET status = $2, skip_reason = $3, completed_by = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+itemColumns,
		itemID, ItemStatusSkipped, reason, actorID)
	return scanItem(row)
}

func (t *txRepository) SetAutoCheckResult(ctx context.Context, itemID int64, result AutoCheckResult) (ChecklistItem, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE close_checklist_items
		SET auto_matched = $2, auto_total = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+itemColumns,
		itemID, result.Matched, result.Total)
	return scanItem(row)
}

// ClaimIdempotencyKey inserts the key on the workflow transaction, so a
// rollback releases the claim along with everything else.
func (t *txRepository) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	if t.parent.idempotency == nil {
		return fmt.Errorf("close: idempotency store not configured")
	}
	return t.parent.idempotency.CheckAndInsert(ctx, t.tx, key, module)
}

func (t *txRepository) RecordActivity(ctx context.Context, e activity.Entry) error {
	return t.parent.activity.Record(ctx, t.tx, e)
}

func (t *txRepository) FreezeTransactions(ctx context.Context, p Period) error {
	return t.parent.locks.InsertLock(ctx, t.tx, p.ID, p.StartDate, p.EndDate)
}

func (t *txRepository) UnfreezeTransactions(ctx context.Context, periodID int64) error {
	return t.parent.locks.DeleteLock(ctx, t.tx, periodID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// categoryNames renders Categories for the SQL ordering clause, keeping the
// display order defined in one place.
func categoryNames() []string {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = string(c)
	}
	return names
}

func listChecklistItems(ctx context.Context, db querier, periodID int64) ([]ChecklistItem, error) {
	rows, err := db.Query(ctx, `
		SELECT `+itemColumns+`
		FROM close_checklist_items
		WHERE period_id = $1
		ORDER BY
			array_position($2::text[], category::text),
			id`, periodID, categoryNames())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ChecklistItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(
		&p.ID, &p.Name, &p.Type, &p.StartDate, &p.EndDate, &p.Status, &p.Notes,
		&p.ApprovedAt, &p.ApprovedBy, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Period{}, err
	}
	return p, nil
}

func scanItem(row pgx.Row) (ChecklistItem, error) {
	var (
		item        ChecklistItem
		skipReason  pgtype.Text
		autoMatched *int
		autoTotal   *int
	)
	// skip_reason stays NULL until the item is skipped.
	err := row.Scan(
		&item.ID, &item.PeriodID, &item.Category, &item.Name, &item.Description,
		&item.IsRequired, &item.Status, &item.CompletedAt, &item.CompletedBy,
		&skipReason, &autoMatched, &autoTotal, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return ChecklistItem{}, err
	}
	item.SkipReason = skipReason.String
	if autoTotal != nil {
		matched := 0
		if autoMatched != nil {
			matched = *autoMatched
		}
		result := NewAutoCheckResult(matched, *autoTotal)
		item.AutoCheck = &result
	}
	return item, nil
}
