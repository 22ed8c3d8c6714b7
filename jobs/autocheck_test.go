package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/ledgerline/ledgerline/internal/close"
)

type stubAutoCheckService struct {
	runFn func(context.Context, int64, int64) ([]close.ChecklistItem, error)
}

func (s *stubAutoCheckService) RunAutoChecks(ctx context.Context, periodID, actorID int64) ([]close.ChecklistItem, error) {
	if s.runFn != nil {
		return s.runFn(ctx, periodID, actorID)
	}
	return nil, nil
}

func testJobLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAutoCheckHandleRunsService(t *testing.T) {
	var gotPeriod, gotActor int64
	svc := &stubAutoCheckService{
		runFn: func(ctx context.Context, periodID, actorID int64) ([]close.ChecklistItem, error) {
			gotPeriod, gotActor = periodID, actorID
			return []close.ChecklistItem{{ID: 1}}, nil
		},
	}
	job := NewAutoCheckJob(svc, nil, testJobLogger())

	task, err := NewAutoCheckTask(AutoCheckPayload{PeriodID: 42, ActorID: 7})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if gotPeriod != 42 || gotActor != 7 {
		t.Fatalf("unexpected call: period=%d actor=%d", gotPeriod, gotActor)
	}
}

func TestAutoCheckHandleSkipsBadPayload(t *testing.T) {
	job := NewAutoCheckJob(&stubAutoCheckService{}, nil, testJobLogger())

	err := job.Handle(context.Background(), asynq.NewTask(TaskTypeAutoCheck, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for malformed payload, got %v", err)
	}

	err = job.Handle(context.Background(), asynq.NewTask(TaskTypeAutoCheck, []byte(`{"period_id":0}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for zero period id, got %v", err)
	}
}

func TestAutoCheckHandleSkipsVanishedPeriod(t *testing.T) {
	svc := &stubAutoCheckService{
		runFn: func(ctx context.Context, periodID, actorID int64) ([]close.ChecklistItem, error) {
			return nil, close.ErrNotFound
		},
	}
	job := NewAutoCheckJob(svc, nil, testJobLogger())

	task, err := NewAutoCheckTask(AutoCheckPayload{PeriodID: 42})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for vanished period, got %v", err)
	}
}

func TestAutoCheckHandleRetriesTransientErrors(t *testing.T) {
	boom := errors.New("connection reset")
	svc := &stubAutoCheckService{
		runFn: func(ctx context.Context, periodID, actorID int64) ([]close.ChecklistItem, error) {
			return nil, boom
		},
	}
	job := NewAutoCheckJob(svc, nil, testJobLogger())

	task, err := NewAutoCheckTask(AutoCheckPayload{PeriodID: 42})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	got := job.Handle(context.Background(), task)
	if !errors.Is(got, boom) {
		t.Fatalf("transient errors must propagate for retry, got %v", got)
	}
	if errors.Is(got, asynq.SkipRetry) {
		t.Fatalf("transient errors must not skip retry")
	}
}
