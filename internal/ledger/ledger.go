// Package ledger owns the transaction register touched by the close workflow:
// locking transaction mutability for a period's date range and providing the
// reconciliation figures consumed by checklist auto-checks.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPeriodLocked is returned when a write targets a frozen date range.
var ErrPeriodLocked = errors.New("ledger: period is locked for posting")

// Transaction is a register entry inside a period's date range.
type Transaction struct {
	ID         int64
	EntryDate  time.Time
	Amount     decimal.Decimal
	Currency   string
	Reconciled bool
	CreatedAt  time.Time
}

// ReconciliationStats summarises how much of a date range has been reconciled.
type ReconciliationStats struct {
	MatchedCount  int
	TotalCount    int
	MatchedAmount decimal.Decimal
	TotalAmount   decimal.Decimal
}

// Lock freezes transaction mutability for a period's date range.
type Lock struct {
	PeriodID  int64
	StartDate time.Time
	EndDate   time.Time
	LockedAt  time.Time
}
