package close

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ledgerline/ledgerline/internal/activity"
	"github.com/ledgerline/ledgerline/internal/ledger"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPeriods(ctx context.Context, limit, offset int) ([]Period, error)
	LoadPeriod(ctx context.Context, id int64) (Period, error)
	ListChecklistItems(ctx context.Context, periodID int64) ([]ChecklistItem, error)
	PeriodRangeConflict(ctx context.Context, start, end time.Time) (bool, error)
}

// TxRepository groups the mutations available inside one workflow transaction.
type TxRepository interface {
	InsertPeriod(ctx context.Context, in CreatePeriodInput) (Period, error)
	LoadPeriodForUpdate(ctx context.Context, id int64) (Period, error)
	UpdatePeriodStatus(ctx context.Context, in UpdateStatusParams) (Period, error)
	InsertChecklistItems(ctx context.Context, periodID int64, defs []ItemDefinition) ([]ChecklistItem, error)
	ListChecklistItems(ctx context.Context, periodID int64) ([]ChecklistItem, error)
	LoadChecklistItemForUpdate(ctx context.Context, itemID int64) (ChecklistItem, error)
	CompleteChecklistItem(ctx context.Context, itemID, actorID int64) (ChecklistItem, error)
	SkipChecklistItem(ctx context.Context, itemID int64, reason string, actorID int64) (ChecklistItem, error)
	SetAutoCheckResult(ctx context.Context, itemID int64, result AutoCheckResult) (ChecklistItem, error)
	ClaimIdempotencyKey(ctx context.Context, key, module string) error
	RecordActivity(ctx context.Context, e activity.Entry) error
	FreezeTransactions(ctx context.Context, p Period) error
	UnfreezeTransactions(ctx context.Context, periodID int64) error
}

// StatsPort provides reconciliation figures for auto-checks.
type StatsPort interface {
	ReconciliationStats(ctx context.Context, start, end time.Time) (ledger.ReconciliationStats, error)
}

// ProgressCache caches derived progress per period.
type ProgressCache interface {
	Get(ctx context.Context, periodID int64) (Progress, bool)
	Set(ctx context.Context, periodID int64, p Progress)
	Invalidate(ctx context.Context, periodID int64)
}

// PeriodDetail bundles a period with its derived progress so mutations return
// the updated state in one round trip.
type PeriodDetail struct {
	Period   Period   `json:"period"`
	Progress Progress `json:"progress"`
}

// Service enforces the period workflow state machine and checklist gating.
type Service struct {
	repo       RepositoryPort
	stats      StatsPort
	cache      ProgressCache
	now        func() time.Time
	progressSF singleflight.Group

	enqueueAutoCheck func(ctx context.Context, periodID, actorID int64)
}

// NewService constructs a Service instance.
func NewService(repo RepositoryPort, stats StatsPort, cache ProgressCache) *Service {
	return &Service{
		repo:  repo,
		stats: stats,
		cache: cache,
		now:   time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithAutoCheckEnqueue registers a hook invoked after a successful start so
// auto-check results populate in the background.
func (s *Service) WithAutoCheckEnqueue(fn func(ctx context.Context, periodID, actorID int64)) {
	s.enqueueAutoCheck = fn
}

// ListPeriods returns paginated periods.
func (s *Service) ListPeriods(ctx context.Context, limit, offset int) ([]Period, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	return s.repo.ListPeriods(ctx, limit, offset)
}

// GetPeriod returns a period with its derived progress.
func (s *Service) GetPeriod(ctx context.Context, id int64) (PeriodDetail, error) {
	period, err := s.repo.LoadPeriod(ctx, id)
	if err != nil {
		return PeriodDetail{}, err
	}
	progress, err := s.Progress(ctx, id)
	if err != nil {
		return PeriodDetail{}, err
	}
	return PeriodDetail{Period: period, Progress: progress}, nil
}

// CreatePeriod inserts a new period after validating the range.
func (s *Service) CreatePeriod(ctx context.Context, in CreatePeriodInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	conflict, err := s.repo.PeriodRangeConflict(ctx, in.StartDate, in.EndDate)
	if err != nil {
		return Period{}, err
	}
	if conflict {
		return Period{}, ErrPeriodOverlap
	}
	var period Period
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		period, e = tx.InsertPeriod(ctx, in)
		return e
	})
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

// Start moves an open period into the close process and seeds its checklist.
// The idempotency key is claimed inside the transition transaction, so a
// failed start releases its key and a retry runs for real; only a key consumed
// by a committed start replays the current state.
func (s *Service) Start(ctx context.Context, periodID, actorID int64, idempotencyKey string) (PeriodDetail, error) {
	detail, err := s.apply(ctx, periodID, ActionStart, actorID, "", strings.TrimSpace(idempotencyKey))
	if err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return s.GetPeriod(ctx, periodID)
		}
		return PeriodDetail{}, err
	}
	if s.enqueueAutoCheck != nil {
		s.enqueueAutoCheck(ctx, periodID, actorID)
	}
	return detail, nil
}

// Lock freezes transaction mutability without finalising the period.
func (s *Service) Lock(ctx context.Context, periodID, actorID int64) (PeriodDetail, error) {
	return s.apply(ctx, periodID, ActionLock, actorID, "", "")
}

// Submit hands the period over for approval.
func (s *Service) Submit(ctx context.Context, periodID, actorID int64) (PeriodDetail, error) {
	return s.apply(ctx, periodID, ActionSubmit, actorID, "", "")
}

// Approve locks the period and stamps approved_at.
func (s *Service) Approve(ctx context.Context, periodID, actorID int64) (PeriodDetail, error) {
	return s.apply(ctx, periodID, ActionApprove, actorID, "", "")
}

// Reject returns the period to in_progress; completed checklist items are kept.
func (s *Service) Reject(ctx context.Context, periodID, actorID int64, reason string) (PeriodDetail, error) {
	return s.apply(ctx, periodID, ActionReject, actorID, reason, "")
}

// Unlock reverses a lock for correction.
func (s *Service) Unlock(ctx context.Context, periodID, actorID int64, reason string) (PeriodDetail, error) {
	return s.apply(ctx, periodID, ActionUnlock, actorID, reason, "")
}

// Close irreversibly finalises an approved, locked period.
func (s *Service) Close(ctx context.Context, periodID, actorID int64) (PeriodDetail, error) {
	return s.apply(ctx, periodID, ActionClose, actorID, "", "")
}

// apply is the single transition engine: load under lock, validate against the
// state machine, compare-and-set the status, then run the action's side
// effects in the same transaction.
func (s *Service) apply(ctx context.Context, periodID int64, action Action, actorID int64, reason, idemKey string) (PeriodDetail, error) {
	reason = strings.TrimSpace(reason)
	var updated Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if idemKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, idemKey, "close."+string(action)); err != nil {
				return err
			}
		}
		period, err := tx.LoadPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		next, err := NextStatus(period, action, reason)
		if err != nil {
			return err
		}
		updated, err = tx.UpdatePeriodStatus(ctx, UpdateStatusParams{
			ID:          period.ID,
			From:        period.Status,
			To:          next,
			SetApproved: action == ActionApprove,
			ActorID:     actorID,
		})
		if err != nil {
			return err
		}
		if action == ActionStart {
			if _, err := tx.InsertChecklistItems(ctx, period.ID, ChecklistTemplate(period.Type)); err != nil {
				return err
			}
		}
		if freezesTransactions(next) && !freezesTransactions(period.Status) {
			if err := tx.FreezeTransactions(ctx, updated); err != nil {
				return err
			}
		}
		if action == ActionUnlock {
			if err := tx.UnfreezeTransactions(ctx, period.ID); err != nil {
				return err
			}
		}
		meta := map[string]any{"from": period.Status, "to": next}
		if reason != "" {
			meta["reason"] = reason
		}
		return tx.RecordActivity(ctx, activity.Entry{
			PeriodID: period.ID,
			Action:   action.ActivityAction(),
			ActorID:  actorID,
			Metadata: meta,
		})
	})
	if err != nil {
		return PeriodDetail{}, err
	}
	s.invalidateProgress(ctx, periodID)
	progress, err := s.Progress(ctx, periodID)
	if err != nil {
		return PeriodDetail{}, err
	}
	return PeriodDetail{Period: updated, Progress: progress}, nil
}

// Checklist returns the period's items with derived progress.
func (s *Service) Checklist(ctx context.Context, periodID int64) ([]ChecklistItem, Progress, error) {
	if _, err := s.repo.LoadPeriod(ctx, periodID); err != nil {
		return nil, Progress{}, err
	}
	items, err := s.repo.ListChecklistItems(ctx, periodID)
	if err != nil {
		return nil, Progress{}, err
	}
	return items, ComputeProgress(items), nil
}

// CompleteItem marks a checklist item completed.
func (s *Service) CompleteItem(ctx context.Context, itemID, actorID int64) (ChecklistItem, Progress, error) {
	return s.mutateItem(ctx, itemID, func(ctx context.Context, tx TxRepository) (ChecklistItem, error) {
		return tx.CompleteChecklistItem(ctx, itemID, actorID)
	}, "checklist_completed", actorID, nil)
}

// SkipItem marks a checklist item skipped with a mandatory reason.
func (s *Service) SkipItem(ctx context.Context, itemID int64, reason string, actorID int64) (ChecklistItem, Progress, error) {
	if err := validateSkipReason(reason); err != nil {
		return ChecklistItem{}, Progress{}, err
	}
	reason = strings.TrimSpace(reason)
	return s.mutateItem(ctx, itemID, func(ctx context.Context, tx TxRepository) (ChecklistItem, error) {
		return tx.SkipChecklistItem(ctx, itemID, reason, actorID)
	}, "checklist_skipped", actorID, map[string]any{"reason": reason})
}

func (s *Service) mutateItem(
	ctx context.Context,
	itemID int64,
	mutate func(context.Context, TxRepository) (ChecklistItem, error),
	logAction string,
	actorID int64,
	meta map[string]any,
) (ChecklistItem, Progress, error) {
	var (
		item     ChecklistItem
		progress Progress
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadChecklistItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		period, err := tx.LoadPeriodForUpdate(ctx, current.PeriodID)
		if err != nil {
			return err
		}
		if err := validateItemMutation(period, current); err != nil {
			return err
		}
		item, err = mutate(ctx, tx)
		if err != nil {
			return err
		}
		items, err := tx.ListChecklistItems(ctx, period.ID)
		if err != nil {
			return err
		}
		progress = ComputeProgress(items)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["item_id"] = item.ID
		meta["item_name"] = item.Name
		return tx.RecordActivity(ctx, activity.Entry{
			PeriodID: period.ID,
			Action:   logAction,
			ActorID:  actorID,
			Metadata: meta,
		})
	})
	if err != nil {
		return ChecklistItem{}, Progress{}, err
	}
	s.invalidateProgress(ctx, item.PeriodID)
	if s.cache != nil {
		s.cache.Set(ctx, item.PeriodID, progress)
	}
	return item, progress, nil
}

// Progress computes checklist progress for a period, serving from cache and
// collapsing concurrent recomputation.
func (s *Service) Progress(ctx context.Context, periodID int64) (Progress, error) {
	if s.cache != nil {
		if p, ok := s.cache.Get(ctx, periodID); ok {
			return p, nil
		}
	}
	v, err, _ := s.progressSF.Do(progressKey(periodID), func() (any, error) {
		// Collapsed callers share this flight; detach from the first
		// caller's ctx so its cancellation cannot fail the others.
		fctx := context.WithoutCancel(ctx)
		items, err := s.repo.ListChecklistItems(fctx, periodID)
		if err != nil {
			return Progress{}, err
		}
		p := ComputeProgress(items)
		if s.cache != nil {
			s.cache.Set(fctx, periodID, p)
		}
		return p, nil
	})
	if err != nil {
		return Progress{}, err
	}
	return v.(Progress), nil
}

// RunAutoChecks refreshes auto-check results for items whose category supports
// automated verification. Item status is never changed.
func (s *Service) RunAutoChecks(ctx context.Context, periodID, actorID int64) ([]ChecklistItem, error) {
	if s.stats == nil {
		return nil, errors.New("close: reconciliation stats source not configured")
	}
	period, err := s.repo.LoadPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	stats, err := s.stats.ReconciliationStats(ctx, period.StartDate, period.EndDate)
	if err != nil {
		return nil, err
	}
	result := NewAutoCheckResult(stats.MatchedCount, stats.TotalCount)

	var checked []ChecklistItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		items, err := tx.ListChecklistItems(ctx, periodID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if !SupportsAutoCheck(item.Category) {
				continue
			}
			updated, err := tx.SetAutoCheckResult(ctx, item.ID, result)
			if err != nil {
				return err
			}
			checked = append(checked, updated)
		}
		if len(checked) == 0 {
			return nil
		}
		return tx.RecordActivity(ctx, activity.Entry{
			PeriodID: periodID,
			Action:   "checklist_auto_checked",
			ActorID:  actorID,
			Metadata: map[string]any{
				"matched":        result.Matched,
				"total":          result.Total,
				"matched_amount": stats.MatchedAmount.String(),
				"total_amount":   stats.TotalAmount.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return checked, nil
}

// Actions evaluates the workflow actions available for a period. This is the
// propose step of the two-phase destructive action API.
func (s *Service) Actions(ctx context.Context, periodID int64) ([]ActionState, error) {
	period, err := s.repo.LoadPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	return AvailableActions(period), nil
}

func (s *Service) invalidateProgress(ctx context.Context, periodID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, periodID)
	}
}

func progressKey(periodID int64) string {
	return "progress:" + strconv.FormatInt(periodID, 10)
}
