package close

import (
	"fmt"
	"sort"
	"strings"
)

// ItemDefinition describes a checklist entry seeded when a close starts.
type ItemDefinition struct {
	Category    Category
	Name        string
	Description string
	Required    bool
}

// monthlyChecklist is the base template applied to every period type.
var monthlyChecklist = []ItemDefinition{
	{Category: CategoryBankReconciliation, Name: "Reconcile bank accounts", Description: "Match bank statement lines against recorded transactions.", Required: true},
	{Category: CategoryBankReconciliation, Name: "Reconcile crypto wallets", Description: "Confirm wallet balances against the transaction register."},
	{Category: CategoryRevenue, Name: "Review invoice cut-off", Description: "Confirm invoices are recognised in the correct period.", Required: true},
	{Category: CategoryRevenue, Name: "Review deferred revenue", Description: "Release deferred balances earned this period."},
	{Category: CategoryExpenses, Name: "Record accrued expenses", Description: "Accrue invoices received after period end.", Required: true},
	{Category: CategoryExpenses, Name: "Review supplier statements"},
	{Category: CategoryPayroll, Name: "Post payroll journal", Description: "Book salaries, taxes, and social charges.", Required: true},
	{Category: CategoryAdjustments, Name: "Post depreciation", Required: true},
	{Category: CategoryAdjustments, Name: "Review FX revaluation"},
	{Category: CategoryReview, Name: "Review trial balance", Description: "Scan account balances for anomalies before submission.", Required: true},
}

var quarterlyExtras = []ItemDefinition{
	{Category: CategoryAdjustments, Name: "Review provisions", Description: "Reassess provisions and contingent liabilities.", Required: true},
	{Category: CategoryReview, Name: "Prepare quarterly management pack"},
}

var annualExtras = []ItemDefinition{
	{Category: CategoryAdjustments, Name: "Review provisions", Description: "Reassess provisions and contingent liabilities.", Required: true},
	{Category: CategoryAdjustments, Name: "Compute income tax position", Required: true},
	{Category: CategoryReview, Name: "Prepare statutory accounts", Required: true},
	{Category: CategoryReview, Name: "Compile audit support file"},
}

// ChecklistTemplate returns the seed definitions for a period type, ordered by
// category display order with insertion order preserved inside a category.
func ChecklistTemplate(t PeriodType) []ItemDefinition {
	defs := make([]ItemDefinition, 0, len(monthlyChecklist)+len(annualExtras))
	defs = append(defs, monthlyChecklist...)
	switch t {
	case PeriodTypeQuarterly:
		defs = append(defs, quarterlyExtras...)
	case PeriodTypeAnnual:
		defs = append(defs, annualExtras...)
	}
	sort.SliceStable(defs, func(i, j int) bool {
		return categoryRank(defs[i].Category) < categoryRank(defs[j].Category)
	})
	return defs
}

func categoryRank(c Category) int {
	for i, candidate := range Categories {
		if candidate == c {
			return i
		}
	}
	return len(Categories)
}

// ComputeProgress aggregates checklist counts. It never fails: an empty
// checklist yields zeros.
func ComputeProgress(items []ChecklistItem) Progress {
	var p Progress
	p.Total = len(items)
	for _, item := range items {
		switch item.Status {
		case ItemStatusCompleted:
			p.Completed++
		case ItemStatusSkipped:
			p.Skipped++
		case ItemStatusBlocked:
			p.Blocked++
		case ItemStatusInProgress:
			p.InProgress++
		default:
			p.Pending++
		}
	}
	if p.Total > 0 {
		done := p.Completed + p.Skipped
		p.Percentage = (done*100 + p.Total/2) / p.Total
	}
	return p
}

// GroupByCategory buckets items for display, keeping insertion order inside
// each category and returning categories in display order.
func GroupByCategory(items []ChecklistItem) map[Category][]ChecklistItem {
	groups := make(map[Category][]ChecklistItem, len(Categories))
	for _, item := range items {
		groups[item.Category] = append(groups[item.Category], item)
	}
	return groups
}

// validateItemMutation gates complete and skip operations: the owning period
// must be mid-close and the item must not already be terminal.
func validateItemMutation(period Period, item ChecklistItem) error {
	if period.Status != StatusInProgress {
		return fmt.Errorf("%w: checklist is read-only while period is %s", ErrInvalidTransition, period.Status)
	}
	if item.Status.Terminal() {
		return fmt.Errorf("%w: item already %s", ErrInvalidTransition, item.Status)
	}
	return nil
}

// validateSkipReason enforces the non-empty justification rule for skips.
func validateSkipReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: skip requires a reason", ErrValidation)
	}
	return nil
}

// SupportsAutoCheck reports whether a category has an automated verification.
// Only bank reconciliation compares against the transaction register today.
func SupportsAutoCheck(c Category) bool {
	return c == CategoryBankReconciliation
}

// NewAutoCheckResult derives the stored result from reconciliation counts.
func NewAutoCheckResult(matched, total int) AutoCheckResult {
	result := AutoCheckResult{Matched: matched, Total: total}
	if total > 0 {
		result.Percentage = (matched*100 + total/2) / total
	}
	return result
}
