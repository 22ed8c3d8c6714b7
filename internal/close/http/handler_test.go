package closehttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerline/ledgerline/internal/activity"
	"github.com/ledgerline/ledgerline/internal/close"
	"github.com/ledgerline/ledgerline/internal/shared"
)

func TestListPeriodsEnvelope(t *testing.T) {
	svc := &stubCloseService{
		listPeriodsFn: func(ctx context.Context, limit, offset int) ([]close.Period, error) {
			if limit != 25 || offset != 0 {
				t.Fatalf("unexpected pagination: limit=%d offset=%d", limit, offset)
			}
			return []close.Period{
				{
					ID:        1,
					Name:      "January 2025 Close",
					Type:      close.PeriodTypeMonthly,
					StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
					EndDate:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
					Status:    close.StatusOpen,
				},
			}, nil
		},
	}
	rr := serve(t, svc, httptest.NewRequest(http.MethodGet, "/periods", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}
	periods, ok := body["periods"].([]any)
	if !ok || len(periods) != 1 {
		t.Fatalf("expected one period, got %v", body["periods"])
	}
}

func TestListPeriodsPagination(t *testing.T) {
	svc := &stubCloseService{
		listPeriodsFn: func(ctx context.Context, limit, offset int) ([]close.Period, error) {
			if limit != 10 || offset != 20 {
				t.Fatalf("unexpected pagination: limit=%d offset=%d", limit, offset)
			}
			return nil, nil
		},
	}
	rr := serve(t, svc, httptest.NewRequest(http.MethodGet, "/periods?per_page=10&page=3", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if periods, ok := body["periods"].([]any); !ok || len(periods) != 0 {
		t.Fatalf("nil result must render as empty array, got %v", body["periods"])
	}
}

func TestCreatePeriodValidation(t *testing.T) {
	svc := &stubCloseService{}

	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "invalid JSON",
			body: "{",
			want: "invalid JSON body",
		},
		{
			name: "missing name",
			body: `{"period_type":"monthly","start_date":"2025-01-01","end_date":"2025-01-31"}`,
			want: "PeriodName is required",
		},
		{
			name: "unknown type",
			body: `{"period_name":"x","period_type":"weekly","start_date":"2025-01-01","end_date":"2025-01-31"}`,
			want: "PeriodType must be one of: monthly quarterly annual",
		},
		{
			name: "bad date format",
			body: `{"period_name":"x","period_type":"monthly","start_date":"01/01/2025","end_date":"2025-01-31"}`,
			want: "start_date must be YYYY-MM-DD",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/periods", strings.NewReader(tc.body))
			rr := serve(t, svc, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.want {
				t.Fatalf("expected error %q, got %v", tc.want, body["error"])
			}
		})
	}
}

func TestCreatePeriodPassesActor(t *testing.T) {
	var captured close.CreatePeriodInput
	svc := &stubCloseService{
		createPeriodFn: func(ctx context.Context, in close.CreatePeriodInput) (close.Period, error) {
			captured = in
			return close.Period{ID: 12, Name: in.Name, Status: close.StatusOpen}, nil
		},
	}
	body := `{"period_name":"February 2025 Close","period_type":"monthly","start_date":"2025-02-01","end_date":"2025-02-28","notes":"short month"}`
	req := httptest.NewRequest(http.MethodPost, "/periods", strings.NewReader(body))
	req = req.WithContext(shared.ContextWithActor(req.Context(), 42))

	rr := serve(t, svc, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if captured.ActorID != 42 {
		t.Fatalf("expected actor 42, got %d", captured.ActorID)
	}
	if captured.Type != close.PeriodTypeMonthly {
		t.Fatalf("unexpected period type %s", captured.Type)
	}
	if captured.Notes != "short month" {
		t.Fatalf("notes not forwarded: %+v", captured)
	}
	if !captured.EndDate.Equal(time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end date not parsed: %v", captured.EndDate)
	}
}

func TestStartForwardsIdempotencyKey(t *testing.T) {
	var gotKey string
	svc := &stubCloseService{
		startFn: func(ctx context.Context, periodID, actorID int64, key string) (close.PeriodDetail, error) {
			gotKey = key
			return close.PeriodDetail{
				Period:   close.Period{ID: periodID, Status: close.StatusInProgress},
				Progress: close.Progress{Total: 10},
			}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/periods/5/start", nil)
	req.Header.Set("Idempotency-Key", "retry-abc")

	rr := serve(t, svc, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotKey != "retry-abc" {
		t.Fatalf("expected idempotency key forwarded, got %q", gotKey)
	}
	body := decodeBody(t, rr)
	period, ok := body["period"].(map[string]any)
	if !ok || period["status"] != "in_progress" {
		t.Fatalf("unexpected period payload: %v", body["period"])
	}
	if _, ok := body["progress"]; !ok {
		t.Fatalf("expected progress in transition response")
	}
}

func TestRejectForwardsReason(t *testing.T) {
	var gotReason string
	svc := &stubCloseService{
		rejectFn: func(ctx context.Context, periodID, actorID int64, reason string) (close.PeriodDetail, error) {
			gotReason = reason
			return close.PeriodDetail{Period: close.Period{ID: periodID, Status: close.StatusInProgress}}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/periods/5/reject", strings.NewReader(`{"reason":"bank rec incomplete"}`))

	rr := serve(t, svc, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotReason != "bank rec incomplete" {
		t.Fatalf("expected reason forwarded, got %q", gotReason)
	}
}

func TestTransitionErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid transition", err: &close.TransitionError{Action: close.ActionStart, From: close.StatusClosed}, want: http.StatusConflict},
		{name: "validation", err: close.ErrValidation, want: http.StatusBadRequest},
		{name: "not found", err: close.ErrNotFound, want: http.StatusNotFound},
		{name: "cas conflict", err: close.ErrConflict, want: http.StatusConflict},
		{name: "timeout", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCloseService{
				lockFn: func(ctx context.Context, periodID, actorID int64) (close.PeriodDetail, error) {
					return close.PeriodDetail{}, tc.err
				},
			}
			rr := serve(t, svc, httptest.NewRequest(http.MethodPost, "/periods/5/lock", nil))
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			body := decodeBody(t, rr)
			if msg, ok := body["error"].(string); !ok || msg == "" {
				t.Fatalf("expected error message in envelope, got %v", body)
			}
		})
	}
}

func TestTransitionObserved(t *testing.T) {
	obs := &stubObserver{}
	svc := &stubCloseService{
		approveFn: func(ctx context.Context, periodID, actorID int64) (close.PeriodDetail, error) {
			return close.PeriodDetail{}, close.ErrConflict
		},
	}
	h := newTestHandler(svc).WithMetrics(obs)
	r := chi.NewRouter()
	h.MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/periods/5/approve", nil))

	if len(obs.calls) != 1 {
		t.Fatalf("expected one observation, got %d", len(obs.calls))
	}
	if obs.calls[0].action != "approve" || obs.calls[0].success {
		t.Fatalf("unexpected observation: %+v", obs.calls[0])
	}
}

func TestInvalidPeriodID(t *testing.T) {
	svc := &stubCloseService{}
	for _, path := range []string{"/periods/abc", "/periods/0", "/periods/-3"} {
		rr := serve(t, svc, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rr.Code)
		}
	}
}

func TestChecklistEndpoint(t *testing.T) {
	svc := &stubCloseService{
		checklistFn: func(ctx context.Context, periodID int64) ([]close.ChecklistItem, close.Progress, error) {
			return []close.ChecklistItem{
					{ID: 1, PeriodID: periodID, Category: close.CategoryBankReconciliation, Name: "Reconcile bank accounts", Status: close.ItemStatusCompleted},
					{ID: 2, PeriodID: periodID, Category: close.CategoryReview, Name: "Review trial balance", Status: close.ItemStatusPending},
				}, close.Progress{Total: 2, Completed: 1, Pending: 1, Percentage: 50}, nil
		},
	}
	rr := serve(t, svc, httptest.NewRequest(http.MethodGet, "/periods/5/checklist", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected two items, got %v", body["items"])
	}
	progress, ok := body["progress"].(map[string]any)
	if !ok || progress["percentage"] != float64(50) {
		t.Fatalf("unexpected progress: %v", body["progress"])
	}
}

func TestSkipItemForwardsReason(t *testing.T) {
	var gotItemID int64
	var gotReason string
	svc := &stubCloseService{
		skipItemFn: func(ctx context.Context, itemID int64, reason string, actorID int64) (close.ChecklistItem, close.Progress, error) {
			gotItemID = itemID
			gotReason = reason
			return close.ChecklistItem{ID: itemID, Status: close.ItemStatusSkipped, SkipReason: reason}, close.Progress{Total: 10, Skipped: 1, Percentage: 10}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/checklist/9/skip", strings.NewReader(`{"reason":"no payroll this month"}`))
	rr := serve(t, svc, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotItemID != 9 || gotReason != "no payroll this month" {
		t.Fatalf("unexpected call: item=%d reason=%q", gotItemID, gotReason)
	}
}

func TestActionsEndpoint(t *testing.T) {
	svc := &stubCloseService{
		actionsFn: func(ctx context.Context, periodID int64) ([]close.ActionState, error) {
			return close.AvailableActions(close.Period{ID: periodID, Status: close.StatusOpen}), nil
		},
	}
	rr := serve(t, svc, httptest.NewRequest(http.MethodGet, "/periods/5/actions", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	actions, ok := body["actions"].([]any)
	if !ok || len(actions) == 0 {
		t.Fatalf("expected action states, got %v", body["actions"])
	}
	first, ok := actions[0].(map[string]any)
	if !ok {
		t.Fatalf("unexpected action payload: %v", actions[0])
	}
	if _, ok := first["allowed"]; !ok {
		t.Fatalf("expected allowed flag in action state: %v", first)
	}
}

func TestActivityLogEndpoint(t *testing.T) {
	lister := &stubActivityLister{
		listFn: func(ctx context.Context, periodID int64, limit int) ([]activity.Entry, error) {
			return []activity.Entry{
				{ID: 2, PeriodID: periodID, Action: "period_submitted", ActorID: 1},
				{ID: 1, PeriodID: periodID, Action: "period_started", ActorID: 1},
			}, nil
		},
	}
	h := NewHandler(testLogger(), &stubCloseService{}, lister)
	r := chi.NewRouter()
	h.MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/periods/5/activity-log", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	entries, ok := body["entries"].([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("expected two entries, got %v", body["entries"])
	}
}

// =============================================================================
// STUBS
// =============================================================================

type stubCloseService struct {
	listPeriodsFn   func(context.Context, int, int) ([]close.Period, error)
	getPeriodFn     func(context.Context, int64) (close.PeriodDetail, error)
	createPeriodFn  func(context.Context, close.CreatePeriodInput) (close.Period, error)
	startFn         func(context.Context, int64, int64, string) (close.PeriodDetail, error)
	lockFn          func(context.Context, int64, int64) (close.PeriodDetail, error)
	submitFn        func(context.Context, int64, int64) (close.PeriodDetail, error)
	approveFn       func(context.Context, int64, int64) (close.PeriodDetail, error)
	rejectFn        func(context.Context, int64, int64, string) (close.PeriodDetail, error)
	unlockFn        func(context.Context, int64, int64, string) (close.PeriodDetail, error)
	closeFn         func(context.Context, int64, int64) (close.PeriodDetail, error)
	checklistFn     func(context.Context, int64) ([]close.ChecklistItem, close.Progress, error)
	completeItemFn  func(context.Context, int64, int64) (close.ChecklistItem, close.Progress, error)
	skipItemFn      func(context.Context, int64, string, int64) (close.ChecklistItem, close.Progress, error)
	runAutoChecksFn func(context.Context, int64, int64) ([]close.ChecklistItem, error)
	actionsFn       func(context.Context, int64) ([]close.ActionState, error)
}

func (s *stubCloseService) ListPeriods(ctx context.Context, limit, offset int) ([]close.Period, error) {
	if s.listPeriodsFn != nil {
		return s.listPeriodsFn(ctx, limit, offset)
	}
	return nil, nil
}

func (s *stubCloseService) GetPeriod(ctx context.Context, id int64) (close.PeriodDetail, error) {
	if s.getPeriodFn != nil {
		return s.getPeriodFn(ctx, id)
	}
	return close.PeriodDetail{}, nil
}

func (s *stubCloseService) CreatePeriod(ctx context.Context, in close.CreatePeriodInput) (close.Period, error) {
	if s.createPeriodFn != nil {
		return s.createPeriodFn(ctx, in)
	}
	return close.Period{}, nil
}

func (s *stubCloseService) Start(ctx context.Context, periodID, actorID int64, key string) (close.PeriodDetail, error) {
	if s.startFn != nil {
		return s.startFn(ctx, periodID, actorID, key)
	}
	return close.PeriodDetail{}, nil
}

func (s *stubCloseService) Lock(ctx context.Context, periodID, actorID int64) (close.PeriodDetail, error) {
	if s.lockFn != nil {
		return s.lockFn(ctx, periodID, actorID)
	}
	return close.PeriodDetail{}, nil
}

func (s *stubCloseService) Submit(ctx context.Context, periodID, actorID int64) (close.PeriodDetail, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, periodID, actorID)
	}
	return close.PeriodDetail{}, nil
}

func (s *stubCloseService) Approve(ctx context.Context, periodID, actorID int64) (close.PeriodDetail, error) {
	if s.approveFn != nil {
		return s.approveFn(ctx, periodID, actorID)
	}
	return close.PeriodDetail{}, nil
}

func (s *stubCloseService) Reject(ctx context.Context, periodID, actorID int64, reason string) (close.PeriodDetail, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, periodID, actorID, reason)
	}
	return close.PeriodDetail{}, nil
}

func (s *stubCloseService) Unlock(ctx context.Context, periodID, actorID int64, reason string) (close.PeriodDetail, error) {
	if s.unlockFn != nil {
		return s.unlockFn(ctx, periodID, actorID, reason)
	}
	return close.PeriodDetail{}, nil
}

func (s *stubCloseService) Close(ctx context.Context, periodID, actorID int64) (close.PeriodDetail, error) {
	if s.closeFn != nil {
		return s.closeFn(ctx, periodID, actorID)
	}
	return close.PeriodDetail{}, nil
}

func (s *stubCloseService) Checklist(ctx context.Context, periodID int64) ([]close.ChecklistItem, close.Progress, error) {
	if s.checklistFn != nil {
		return s.checklistFn(ctx, periodID)
	}
	return nil, close.Progress{}, nil
}

func (s *stubCloseService) CompleteItem(ctx context.Context, itemID, actorID int64) (close.ChecklistItem, close.Progress, error) {
	if s.completeItemFn != nil {
		return s.completeItemFn(ctx, itemID, actorID)
	}
	return close.ChecklistItem{}, close.Progress{}, nil
}

func (s *stubCloseService) SkipItem(ctx context.Context, itemID int64, reason string, actorID int64) (close.ChecklistItem, close.Progress, error) {
	if s.skipItemFn != nil {
		return s.skipItemFn(ctx, itemID, reason, actorID)
	}
	return close.ChecklistItem{}, close.Progress{}, nil
}

func (s *stubCloseService) RunAutoChecks(ctx context.Context, periodID, actorID int64) ([]close.ChecklistItem, error) {
	if s.runAutoChecksFn != nil {
		return s.runAutoChecksFn(ctx, periodID, actorID)
	}
	return nil, nil
}

func (s *stubCloseService) Actions(ctx context.Context, periodID int64) ([]close.ActionState, error) {
	if s.actionsFn != nil {
		return s.actionsFn(ctx, periodID)
	}
	return nil, nil
}

type stubActivityLister struct {
	listFn func(context.Context, int64, int) ([]activity.Entry, error)
}

func (s *stubActivityLister) List(ctx context.Context, periodID int64, limit int) ([]activity.Entry, error) {
	if s.listFn != nil {
		return s.listFn(ctx, periodID, limit)
	}
	return nil, nil
}

type observation struct {
	action  string
	success bool
}

type stubObserver struct {
	calls []observation
}

func (s *stubObserver) ObserveTransition(action string, success bool) {
	s.calls = append(s.calls, observation{action: action, success: success})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(svc *stubCloseService) *Handler {
	return NewHandler(testLogger(), svc, &stubActivityLister{})
}

func serve(t *testing.T, svc *stubCloseService, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	h := newTestHandler(svc)
	r := chi.NewRouter()
	h.MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}
