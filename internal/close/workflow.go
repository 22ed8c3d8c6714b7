package close

import (
	"errors"
	"fmt"
	"strings"
)

// Action identifies a workflow operation on a period.
type Action string

const (
	ActionStart   Action = "start"
	ActionLock    Action = "lock"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionUnlock  Action = "unlock"
	ActionClose   Action = "close"
)

// Actions lists workflow operations in lifecycle order.
var Actions = []Action{
	ActionStart,
	ActionLock,
	ActionSubmit,
	ActionApprove,
	ActionReject,
	ActionUnlock,
	ActionClose,
}

// transitions is the closed set of legal status changes. Anything absent here
// fails with ErrInvalidTransition; the controller never silently ignores a request.
var transitions = map[PeriodStatus]map[Action]PeriodStatus{
	StatusOpen: {
		ActionStart: StatusInProgress,
	},
	StatusInProgress: {
		ActionLock:   StatusLocked,
		ActionSubmit: StatusPendingApproval,
	},
	StatusPendingApproval: {
		ActionLock:    StatusLocked,
		ActionApprove: StatusLocked,
		ActionReject:  StatusInProgress,
	},
	StatusLocked: {
		ActionUnlock: StatusInProgress,
		ActionClose:  StatusClosed,
	},
}

// reasonRequired marks actions that remove a protection and therefore demand
// a human-supplied justification. Approve and close add protection and do not.
var reasonRequired = map[Action]bool{
	ActionReject: true,
	ActionUnlock: true,
}

// RequiresReason reports whether the action demands a justification string.
func (a Action) RequiresReason() bool {
	return reasonRequired[a]
}

// activityActions maps workflow actions to their audit trail entries.
var activityActions = map[Action]string{
	ActionStart:   "period_started",
	ActionLock:    "period_locked",
	ActionSubmit:  "period_submitted",
	ActionApprove: "period_approved",
	ActionReject:  "period_rejected",
	ActionUnlock:  "period_unlocked",
	ActionClose:   "period_closed",
}

// ActivityAction returns the audit action name recorded for a transition.
func (a Action) ActivityAction() string {
	return activityActions[a]
}

// NextStatus validates an action against the period's current state and returns
// the resulting status. Reject and unlock require a non-empty reason; close
// requires a prior approval.
func NextStatus(p Period, action Action, reason string) (PeriodStatus, error) {
	targets, ok := transitions[p.Status]
	if !ok {
		return "", &TransitionError{Action: action, From: p.Status}
	}
	to, ok := targets[action]
	if !ok {
		return "", &TransitionError{Action: action, From: p.Status}
	}
	if action == ActionClose && !p.Approved() {
		return "", &TransitionError{Action: action, From: p.Status, Reason: "period has not been approved"}
	}
	if action.RequiresReason() && strings.TrimSpace(reason) == "" {
		return "", fmt.Errorf("%w: %s requires a reason", ErrValidation, action)
	}
	return to, nil
}

// freezesTransactions reports whether the target state locks transaction
// mutability for the period's date range.
func freezesTransactions(s PeriodStatus) bool {
	return s == StatusLocked || s == StatusClosed
}

// ActionState describes one workflow action for the propose step of the
// two-phase API: the presenter renders confirmation prompts from it and only
// then invokes the matching operation endpoint.
type ActionState struct {
	Action         Action `json:"action"`
	Allowed        bool   `json:"allowed"`
	RequiresReason bool   `json:"requires_reason"`
	Confirm        string `json:"confirm,omitempty"`
	Blocked        string `json:"blocked_reason,omitempty"`
}

var confirmPrompts = map[Action]string{
	ActionLock:   "Lock this period? Transactions inside its date range become read-only.",
	ActionUnlock: "Unlock this period for correction? A reason will be recorded in the audit trail.",
	ActionClose:  "Close this period permanently? This cannot be undone.",
}

// AvailableActions evaluates every workflow action against the period state.
func AvailableActions(p Period) []ActionState {
	states := make([]ActionState, 0, len(Actions))
	for _, action := range Actions {
		state := ActionState{
			Action:         action,
			RequiresReason: action.RequiresReason(),
			Confirm:        confirmPrompts[action],
		}
		// Probe with a placeholder reason so only the state gate decides.
		if _, err := NextStatus(p, action, "probe"); err != nil {
			var terr *TransitionError
			state.Allowed = false
			if errors.As(err, &terr) {
				state.Blocked = terr.Error()
			}
		} else {
			state.Allowed = true
		}
		states = append(states, state)
	}
	return states
}
