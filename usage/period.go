package usage

import (
	"time"

	"github.com/praxishq/entitle/subscription"
)

// Period is a half-open billing window [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// IsZero reports whether the window is unset.
func (p Period) IsZero() bool {
	return p.Start.IsZero() && p.End.IsZero()
}

// CalendarMonth returns the UTC calendar month containing now. Used for
// users without a provider-anchored billing period.
func CalendarMonth(now time.Time) Period {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// Advance rolls the window forward by whole cadence steps until it
// contains now. A window already containing now is returned unchanged,
// so concurrent callers computing the rollover agree on the same period.
func Advance(p Period, cadence subscription.Cadence, now time.Time) Period {
	if p.IsZero() {
		return CalendarMonth(now)
	}
	for !now.Before(p.End) {
		p = Period{Start: p.End, End: cadence.Next(p.End)}
	}
	return p
}

// CurrentPeriod computes the active billing window for a subscription
// record at time now: the provider-anchored window advanced to now when
// one exists, else the UTC calendar month.
func CurrentPeriod(r *subscription.Record, now time.Time) Period {
	if r == nil || r.CurrentPeriodStart.IsZero() || r.CurrentPeriodEnd.IsZero() {
		return CalendarMonth(now)
	}
	cadence := r.Cadence
	if !cadence.Valid() {
		cadence = subscription.CadenceMonthly
	}
	return Advance(Period{Start: r.CurrentPeriodStart, End: r.CurrentPeriodEnd}, cadence, now)
}
