package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/close"
)

type autoCheckService interface {
	RunAutoChecks(ctx context.Context, periodID, actorID int64) ([]close.ChecklistItem, error)
}

// AutoCheckJob refreshes checklist auto-check results in the background.
type AutoCheckJob struct {
	Service autoCheckService
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewAutoCheckJob initialises the auto-check handler.
func NewAutoCheckJob(service autoCheckService, pool *pgxpool.Pool, logger *slog.Logger) *AutoCheckJob {
	return &AutoCheckJob{
		Service: service,
		Pool:    pool,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle verifies one period's auto-checkable items.
func (j *AutoCheckJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("autocheck: handler not configured")
	}
	var payload AutoCheckPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.PeriodID == 0 {
		return asynq.SkipRetry
	}
	start := j.now()
	items, err := j.Service.RunAutoChecks(ctx, payload.PeriodID, payload.ActorID)
	if err != nil {
		// A period that moved out of in_progress is not worth retrying.
		if errors.Is(err, close.ErrNotFound) {
			return asynq.SkipRetry
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("autocheck done",
			slog.Int64("period_id", payload.PeriodID),
			slog.Int("items", len(items)),
			slog.Duration("took", j.now().Sub(start)),
		)
	}
	return nil
}

// HandleScan runs auto-checks for every period currently mid-close. One scan
// ID ties the per-period log lines of a run together.
func (j *AutoCheckJob) HandleScan(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil || j.Pool == nil {
		return errors.New("autocheck: scan handler not configured")
	}
	scanID := uuid.NewString()
	rows, err := j.Pool.Query(ctx, `SELECT id FROM close_periods WHERE status = $1`, close.StatusInProgress)
	if err != nil {
		return err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := j.Service.RunAutoChecks(ctx, id, 0); err != nil {
			if j.Logger != nil {
				j.Logger.Warn("autocheck scan period failed",
					slog.String("scan_id", scanID),
					slog.Int64("period_id", id), slog.Any("error", err))
			}
		}
	}
	if j.Logger != nil {
		j.Logger.Info("autocheck scan done",
			slog.String("scan_id", scanID), slog.Int("periods", len(ids)))
	}
	return nil
}

func (j *AutoCheckJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
