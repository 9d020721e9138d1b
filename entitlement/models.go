// Package entitlement holds the decision types returned by entitlement
// checks: may an action proceed, and how much quota remains.
package entitlement

import (
	"time"

	"github.com/praxishq/entitle/usage"
)

// Decision is the outcome of a single entitlement check or usage
// attempt for one action.
type Decision struct {
	Allowed   bool             `json:"allowed"`
	Action    usage.ActionKind `json:"action"`
	Used      int64            `json:"used"`
	Quota     int64            `json:"quota"`
	Remaining int64            `json:"remaining"`
	PeriodEnd time.Time        `json:"period_end"`
	Reason    string           `json:"reason,omitempty"`
}

// Unlimited reports whether the decision's quota is uncapped.
func (d *Decision) Unlimited() bool {
	return d.Quota == usage.Unlimited
}

// ActionUsage is one row of a usage summary.
type ActionUsage struct {
	Action    usage.ActionKind `json:"action"`
	Used      int64            `json:"used"`
	Quota     int64            `json:"quota"`
	Remaining int64            `json:"remaining"`
}

// Usage is the read-only per-user usage snapshot for display purposes.
type Usage struct {
	UserID      string        `json:"user_id"`
	TierID      string        `json:"tier_id"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
	Actions     []ActionUsage `json:"actions"`
}

// Find returns the summary row for an action, if present.
func (u *Usage) Find(action usage.ActionKind) (ActionUsage, bool) {
	for _, row := range u.Actions {
		if row.Action == action {
			return row, true
		}
	}
	return ActionUsage{}, false
}
