package close

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PeriodStatus enumerates accounting period lifecycle stages.
type PeriodStatus string

const (
	StatusOpen            PeriodStatus = "open"
	StatusInProgress      PeriodStatus = "in_progress"
	StatusPendingApproval PeriodStatus = "pending_approval"
	StatusLocked          PeriodStatus = "locked"
	StatusClosed          PeriodStatus = "closed"
)

// PeriodStatuses lists every legal status value.
var PeriodStatuses = []PeriodStatus{
	StatusOpen,
	StatusInProgress,
	StatusPendingApproval,
	StatusLocked,
	StatusClosed,
}

// Valid reports whether the status is one of the enumerated values.
func (s PeriodStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusPendingApproval, StatusLocked, StatusClosed:
		return true
	default:
		return false
	}
}

// PeriodType classifies the span of a period.
type PeriodType string

const (
	PeriodTypeMonthly   PeriodType = "monthly"
	PeriodTypeQuarterly PeriodType = "quarterly"
	PeriodTypeAnnual    PeriodType = "annual"
)

// Valid reports whether the period type is supported.
func (t PeriodType) Valid() bool {
	switch t {
	case PeriodTypeMonthly, PeriodTypeQuarterly, PeriodTypeAnnual:
		return true
	default:
		return false
	}
}

// Category groups checklist items for display and auto-check routing.
type Category string

const (
	CategoryBankReconciliation Category = "bank_reconciliation"
	CategoryRevenue            Category = "revenue"
	CategoryExpenses           Category = "expenses"
	CategoryPayroll            Category = "payroll"
	CategoryAdjustments        Category = "adjustments"
	CategoryReview             Category = "review"
)

// Categories lists checklist categories in display order.
var Categories = []Category{
	CategoryBankReconciliation,
	CategoryRevenue,
	CategoryExpenses,
	CategoryPayroll,
	CategoryAdjustments,
	CategoryReview,
}

// ItemStatus describes checklist item progress.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusSkipped    ItemStatus = "skipped"
	ItemStatusBlocked    ItemStatus = "blocked"
)

// Terminal reports whether the item can no longer be mutated.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusSkipped
}

// Period encapsulates the lifecycle record of an accounting period.
type Period struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	Type       PeriodType   `json:"period_type"`
	StartDate  time.Time    `json:"start_date"`
	EndDate    time.Time    `json:"end_date"`
	Status     PeriodStatus `json:"status"`
	Notes      string       `json:"notes,omitempty"`
	ApprovedAt *time.Time   `json:"approved_at,omitempty"`
	ApprovedBy *int64       `json:"approved_by,omitempty"`
	CreatedBy  int64        `json:"created_by"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Approved reports whether the period carries an approval timestamp.
func (p Period) Approved() bool {
	return p.ApprovedAt != nil
}

// AutoCheckResult holds the outcome of an automated checklist verification.
type AutoCheckResult struct {
	Matched    int `json:"matched"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// ChecklistItem captures a task required before a period may be closed.
type ChecklistItem struct {
	ID          int64            `json:"id"`
	PeriodID    int64            `json:"period_id"`
	Category    Category         `json:"category"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	IsRequired  bool             `json:"is_required"`
	Status      ItemStatus       `json:"status"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CompletedBy *int64           `json:"completed_by,omitempty"`
	SkipReason  string           `json:"skip_reason,omitempty"`
	AutoCheck   *AutoCheckResult `json:"auto_check_result,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Progress aggregates checklist completion for a period. Derived, never stored.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Skipped    int `json:"skipped"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Blocked    int `json:"blocked"`
	Percentage int `json:"percentage"`
}

// CreatePeriodInput captures validation rules for new periods.
type CreatePeriodInput struct {
	Name      string
	Type      PeriodType
	StartDate time.Time
	EndDate   time.Time
	Notes     string
	ActorID   int64
}

// Validate ensures the create period input is coherent.
func (in CreatePeriodInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: period name required", ErrValidation)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown period type %q", ErrValidation, string(in.Type))
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return fmt.Errorf("%w: start and end date required", ErrValidation)
	}
	if in.StartDate.After(in.EndDate) {
		return fmt.Errorf("%w: start date cannot be after end date", ErrValidation)
	}
	return nil
}

// Sentinel errors surfaced by the workflow and checklist engine.
var (
	// ErrInvalidTransition is returned for operations not legal from the current status.
	ErrInvalidTransition = errors.New("close: invalid transition")
	// ErrValidation indicates missing or malformed caller input.
	ErrValidation = errors.New("close: validation failed")
	// ErrNotFound indicates a period or checklist item does not exist.
	ErrNotFound = errors.New("close: not found")
	// ErrConflict indicates the status changed between read and write.
	ErrConflict = errors.New("close: concurrent update conflict")
	// ErrPeriodOverlap indicates the requested range collides with an existing period.
	ErrPeriodOverlap = errors.New("close: period overlaps existing range")
)

// TransitionError explains which action was blocked and why.
type TransitionError struct {
	Action Action
	From   PeriodStatus
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("close: cannot %s period in status %s: %s", e.Action, e.From, e.Reason)
	}
	return fmt.Sprintf("close: cannot %s period in status %s", e.Action, e.From)
}

// Unwrap makes the error match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

var titleCaser = cases.Title(language.English)

// Label renders an enum value for display: "pending_approval" becomes "Pending Approval".
func Label[T ~string](value T) string {
	return titleCaser.String(strings.ReplaceAll(string(value), "_", " "))
}
