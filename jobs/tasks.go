package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAutoCheck refreshes auto-check results for one period.
	TaskTypeAutoCheck = "close:autocheck"
	// TaskTypeAutoCheckScan fans auto-checks out over every mid-close period.
	TaskTypeAutoCheckScan = "close:autocheck_scan"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// AutoCheckPayload identifies the period to verify. An ActorID of zero is
// recorded as the system actor in the activity log.
type AutoCheckPayload struct {
	PeriodID int64 `json:"period_id"`
	ActorID  int64 `json:"actor_id"`
}

// NewAutoCheckTask constructs an Asynq task for one period.
func NewAutoCheckTask(payload AutoCheckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAutoCheck, data), nil
}

// NewAutoCheckScanTask constructs the periodic scan task.
func NewAutoCheckScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypeAutoCheckScan, nil)
}

// IdempotencyCleanupPayload bounds the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, data), nil
}
