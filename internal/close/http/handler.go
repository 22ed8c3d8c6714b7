// Package closehttp exposes the period close workflow as the REST JSON API
// consumed by the back-office presenter.
package closehttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ledgerline/ledgerline/internal/activity"
	"github.com/ledgerline/ledgerline/internal/close"
	"github.com/ledgerline/ledgerline/internal/platform/httpx"
	"github.com/ledgerline/ledgerline/internal/shared"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
)

type closeService interface {
	ListPeriods(ctx context.Context, limit, offset int) ([]close.Period, error)
	GetPeriod(ctx context.Context, id int64) (close.PeriodDetail, error)
	CreatePeriod(ctx context.Context, in close.CreatePeriodInput) (close.Period, error)
	Start(ctx context.Context, periodID, actorID int64, idempotencyKey string) (close.PeriodDetail, error)
	Lock(ctx context.Context, periodID, actorID int64) (close.PeriodDetail, error)
	Submit(ctx context.Context, periodID, actorID int64) (close.PeriodDetail, error)
	Approve(ctx context.Context, periodID, actorID int64) (close.PeriodDetail, error)
	Reject(ctx context.Context, periodID, actorID int64, reason string) (close.PeriodDetail, error)
	Unlock(ctx context.Context, periodID, actorID int64, reason string) (close.PeriodDetail, error)
	Close(ctx context.Context, periodID, actorID int64) (close.PeriodDetail, error)
	Checklist(ctx context.Context, periodID int64) ([]close.ChecklistItem, close.Progress, error)
	CompleteItem(ctx context.Context, itemID, actorID int64) (close.ChecklistItem, close.Progress, error)
	SkipItem(ctx context.Context, itemID int64, reason string, actorID int64) (close.ChecklistItem, close.Progress, error)
	RunAutoChecks(ctx context.Context, periodID, actorID int64) ([]close.ChecklistItem, error)
	Actions(ctx context.Context, periodID int64) ([]close.ActionState, error)
}

type activityLister interface {
	List(ctx context.Context, periodID int64, limit int) ([]activity.Entry, error)
}

// transitionObserver counts workflow transition attempts, see observability.Metrics.
type transitionObserver interface {
	ObserveTransition(action string, success bool)
}

// Handler wires HTTP endpoints for the close workflow.
type Handler struct {
	logger   *slog.Logger
	service  closeService
	activity activityLister
	validate *validator.Validate
	metrics  transitionObserver
}

// NewHandler constructs a close HTTP handler.
func NewHandler(logger *slog.Logger, service closeService, activityLog activityLister) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		activity: activityLog,
		validate: validator.New(),
	}
}

// WithMetrics attaches the transition counter.
func (h *Handler) WithMetrics(m transitionObserver) *Handler {
	h.metrics = m
	return h
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/periods", func(r chi.Router) {
		r.Get("/", h.listPeriods)
		r.Post("/", h.createPeriod)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getPeriod)
			r.Get("/actions", h.periodActions)
			r.Get("/checklist", h.checklist)
			r.Get("/activity-log", h.activityLog)
			r.Post("/start", h.transition(close.ActionStart))
			r.Post("/lock", h.transition(close.ActionLock))
			r.Post("/submit", h.transition(close.ActionSubmit))
			r.Post("/approve", h.transition(close.ActionApprove))
			r.Post("/reject", h.transition(close.ActionReject))
			r.Post("/unlock", h.transition(close.ActionUnlock))
			r.Post("/close", h.transition(close.ActionClose))
			r.Post("/auto-check", h.autoCheck)
		})
	})
	r.Route("/checklist/{itemID}", func(r chi.Router) {
		r.Post("/complete", h.completeItem)
		r.Post("/skip", h.skipItem)
	})
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	perPage := queryInt(r, "per_page")
	page := queryInt(r, "page")
	if page <= 0 {
		page = 1
	}
	limit := shared.PerPage(perPage, defaultPerPage, maxPerPage)
	periods, err := h.service.ListPeriods(r.Context(), limit, (page-1)*limit)
	if err != nil {
		h.respondError(w, r, "list periods", err)
		return
	}
	if periods == nil {
		periods = []close.Period{}
	}
	httpx.Success(w, http.StatusOK, map[string]any{"periods": periods})
}

type createPeriodRequest struct {
	PeriodName string `json:"period_name" validate:"required"`
	PeriodType string `json:"period_type" validate:"required,oneof=monthly quarterly annual"`
	StartDate  string `json:"start_date" validate:"required"`
	EndDate    string `json:"end_date" validate:"required"`
	Notes      string `json:"notes"`
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}
	period, err := h.service.CreatePeriod(r.Context(), close.CreatePeriodInput{
		Name:      req.PeriodName,
		Type:      close.PeriodType(req.PeriodType),
		StartDate: start,
		EndDate:   end,
		Notes:     req.Notes,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, "create period", err)
		return
	}
	httpx.Success(w, http.StatusCreated, map[string]any{"period": period})
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.GetPeriod(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get period", err)
		return
	}
	httpx.Success(w, http.StatusOK, map[string]any{
		"period":   detail.Period,
		"progress": detail.Progress,
	})
}

func (h *Handler) periodActions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actions, err := h.service.Actions(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "period actions", err)
		return
	}
	httpx.Success(w, http.StatusOK, map[string]any{"actions": actions})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// transition builds the confirm-step handler for one workflow action. The
// reason body is only read for actions that require one.
func (h *Handler) transition(action close.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		actor := shared.ActorFromContext(r.Context())
		var reason string
		if action.RequiresReason() {
			var req reasonRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			reason = req.Reason
		}

		var (
			detail close.PeriodDetail
			err    error
		)
		switch action {
		case close.ActionStart:
			detail, err = h.service.Start(r.Context(), id, actor, r.Header.Get("Idempotency-Key"))
		case close.ActionLock:
			detail, err = h.service.Lock(r.Context(), id, actor)
		case close.ActionSubmit:
			detail, err = h.service.Submit(r.Context(), id, actor)
		case close.ActionApprove:
			detail, err = h.service.Approve(r.Context(), id, actor)
		case close.ActionReject:
			detail, err = h.service.Reject(r.Context(), id, actor, reason)
		case close.ActionUnlock:
			detail, err = h.service.Unlock(r.Context(), id, actor, reason)
		case close.ActionClose:
			detail, err = h.service.Close(r.Context(), id, actor)
		}
		if h.metrics != nil {
			h.metrics.ObserveTransition(string(action), err == nil)
		}
		if err != nil {
			h.respondError(w, r, string(action)+" period", err)
			return
		}
		httpx.Success(w, http.StatusOK, map[string]any{
			"period":   detail.Period,
			"progress": detail.Progress,
		})
	}
}

func (h *Handler) checklist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	items, progress, err := h.service.Checklist(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "checklist", err)
		return
	}
	if items == nil {
		items = []close.ChecklistItem{}
	}
	httpx.Success(w, http.StatusOK, map[string]any{
		"items":    items,
		"progress": progress,
	})
}

func (h *Handler) completeItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	item, progress, err := h.service.CompleteItem(r.Context(), itemID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "complete item", err)
		return
	}
	httpx.Success(w, http.StatusOK, map[string]any{
		"item":     item,
		"progress": progress,
	})
}

func (h *Handler) skipItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req reasonRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	item, progress, err := h.service.SkipItem(r.Context(), itemID, req.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "skip item", err)
		return
	}
	httpx.Success(w, http.StatusOK, map[string]any{
		"item":     item,
		"progress": progress,
	})
}

func (h *Handler) autoCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	items, err := h.service.RunAutoChecks(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "auto-check", err)
		return
	}
	if items == nil {
		items = []close.ChecklistItem{}
	}
	httpx.Success(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) activityLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit := shared.PerPage(queryInt(r, "per_page"), defaultPerPage, maxPerPage)
	entries, err := h.activity.List(r.Context(), id, limit)
	if err != nil {
		h.respondError(w, r, "activity log", err)
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	httpx.Success(w, http.StatusOK, map[string]any{"entries": entries})
}

// respondError maps domain errors onto the response envelope. Nothing retries
// automatically; every failure requires explicit user re-action.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, close.ErrValidation):
		httpx.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, close.ErrNotFound):
		httpx.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, close.ErrInvalidTransition):
		httpx.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, close.ErrConflict):
		httpx.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, close.ErrPeriodOverlap):
		httpx.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) int {
	value, _ := strconv.Atoi(r.URL.Query().Get(name))
	return value
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Tag() == "oneof" {
			return fe.Field() + " must be one of: " + fe.Param()
		}
		return fe.Field() + " is required"
	}
	return "invalid request"
}
