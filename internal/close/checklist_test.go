package close

import (
	"errors"
	"testing"
)

func TestComputeProgressRounding(t *testing.T) {
	cases := []struct {
		name      string
		completed int
		skipped   int
		pending   int
		want      int
	}{
		{name: "six done two skipped of ten", completed: 6, skipped: 2, pending: 2, want: 80},
		{name: "one of three", completed: 1, pending: 2, want: 33},
		{name: "two of three", completed: 2, pending: 1, want: 67},
		{name: "all done", completed: 4, want: 100},
		{name: "nothing done", pending: 5, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var items []ChecklistItem
			for i := 0; i < tc.completed; i++ {
				items = append(items, ChecklistItem{Status: ItemStatusCompleted})
			}
			for i := 0; i < tc.skipped; i++ {
				items = append(items, ChecklistItem{Status: ItemStatusSkipped})
			}
			for i := 0; i < tc.pending; i++ {
				items = append(items, ChecklistItem{Status: ItemStatusPending})
			}
			p := ComputeProgress(items)
			if p.Percentage != tc.want {
				t.Fatalf("expected %d%%, got %d%%", tc.want, p.Percentage)
			}
			if p.Completed != tc.completed || p.Skipped != tc.skipped || p.Pending != tc.pending {
				t.Fatalf("unexpected counts: %+v", p)
			}
		})
	}
}

func TestComputeProgressEmptyChecklist(t *testing.T) {
	p := ComputeProgress(nil)
	if p.Total != 0 || p.Percentage != 0 {
		t.Fatalf("expected zero progress, got %+v", p)
	}
}

func TestComputeProgressCountsBlockedAndInProgress(t *testing.T) {
	p := ComputeProgress([]ChecklistItem{
		{Status: ItemStatusBlocked},
		{Status: ItemStatusInProgress},
		{Status: ItemStatusCompleted},
	})
	if p.Blocked != 1 || p.InProgress != 1 || p.Completed != 1 {
		t.Fatalf("unexpected counts: %+v", p)
	}
	if p.Percentage != 33 {
		t.Fatalf("expected 33%%, got %d%%", p.Percentage)
	}
}

func TestChecklistTemplatePerPeriodType(t *testing.T) {
	monthly := ChecklistTemplate(PeriodTypeMonthly)
	quarterly := ChecklistTemplate(PeriodTypeQuarterly)
	annual := ChecklistTemplate(PeriodTypeAnnual)

	if len(monthly) != 10 {
		t.Fatalf("expected 10 monthly items, got %d", len(monthly))
	}
	if len(quarterly) != len(monthly)+2 {
		t.Fatalf("expected %d quarterly items, got %d", len(monthly)+2, len(quarterly))
	}
	if len(annual) != len(monthly)+4 {
		t.Fatalf("expected %d annual items, got %d", len(monthly)+4, len(annual))
	}

	// Categories must come out in display order regardless of template merging.
	lastRank := -1
	for _, def := range annual {
		rank := categoryRank(def.Category)
		if rank < lastRank {
			t.Fatalf("category %s out of display order", def.Category)
		}
		lastRank = rank
	}
}

func TestGroupByCategoryKeepsInsertionOrder(t *testing.T) {
	items := []ChecklistItem{
		{ID: 1, Category: CategoryRevenue},
		{ID: 2, Category: CategoryBankReconciliation},
		{ID: 3, Category: CategoryRevenue},
	}
	groups := GroupByCategory(items)
	rev := groups[CategoryRevenue]
	if len(rev) != 2 || rev[0].ID != 1 || rev[1].ID != 3 {
		t.Fatalf("unexpected revenue group: %+v", rev)
	}
	if len(groups[CategoryBankReconciliation]) != 1 {
		t.Fatalf("expected single bank reconciliation item")
	}
}

func TestValidateItemMutation(t *testing.T) {
	inProgress := Period{Status: StatusInProgress}
	if err := validateItemMutation(inProgress, ChecklistItem{Status: ItemStatusPending}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := validateItemMutation(Period{Status: StatusLocked}, ChecklistItem{Status: ItemStatusPending}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for locked period, got %v", err)
	}
	if err := validateItemMutation(inProgress, ChecklistItem{Status: ItemStatusCompleted}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for completed item, got %v", err)
	}
	if err := validateItemMutation(inProgress, ChecklistItem{Status: ItemStatusSkipped}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for skipped item, got %v", err)
	}
}

func TestValidateSkipReason(t *testing.T) {
	if err := validateSkipReason("waiting on statement"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, reason := range []string{"", "   ", "\t\n"} {
		if err := validateSkipReason(reason); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %q, got %v", reason, err)
		}
	}
}

func TestSupportsAutoCheck(t *testing.T) {
	if !SupportsAutoCheck(CategoryBankReconciliation) {
		t.Fatalf("expected bank reconciliation to support auto-check")
	}
	for _, c := range []Category{CategoryRevenue, CategoryExpenses, CategoryPayroll, CategoryAdjustments, CategoryReview} {
		if SupportsAutoCheck(c) {
			t.Fatalf("expected %s to not support auto-check", c)
		}
	}
}

func TestNewAutoCheckResult(t *testing.T) {
	r := NewAutoCheckResult(6, 8)
	if r.Percentage != 75 {
		t.Fatalf("expected 75%%, got %d%%", r.Percentage)
	}
	if r := NewAutoCheckResult(0, 0); r.Percentage != 0 {
		t.Fatalf("expected 0%% for empty register, got %d%%", r.Percentage)
	}
	if r := NewAutoCheckResult(2, 3); r.Percentage != 67 {
		t.Fatalf("expected rounded 67%%, got %d%%", r.Percentage)
	}
}

func TestLabel(t *testing.T) {
	if got := Label(StatusPendingApproval); got != "Pending Approval" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := Label(CategoryBankReconciliation); got != "Bank Reconciliation" {
		t.Fatalf("unexpected label %q", got)
	}
}
