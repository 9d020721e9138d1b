package subscription

import (
	"time"

	"github.com/praxishq/entitle/id"
	"github.com/praxishq/entitle/types"
)

type Status string

const (
	StatusNone     Status = "none"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
// A canceled user resubscribes by creating a fresh record, never by
// reviving the old one.
func (s Status) Terminal() bool {
	return s == StatusCanceled
}

// CanTransition reports whether the status machine permits from → to.
//
//	none → active
//	active ⇄ past_due
//	active|past_due → canceled (terminal)
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusNone:
		return to == StatusActive || to == StatusCanceled
	case StatusActive:
		return to == StatusPastDue || to == StatusCanceled
	case StatusPastDue:
		return to == StatusActive || to == StatusCanceled
	case StatusCanceled:
		return false
	}
	return false
}

type Cadence string

const (
	CadenceMonthly Cadence = "monthly"
	CadenceAnnual  Cadence = "annual"
)

// Valid reports whether c is a known cadence value.
func (c Cadence) Valid() bool {
	return c == CadenceMonthly || c == CadenceAnnual
}

// Next returns the instant one billing cycle after t.
func (c Cadence) Next(t time.Time) time.Time {
	if c == CadenceAnnual {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// Record is the authoritative internal subscription state for one user.
// Exactly one non-canceled Record exists per user at a time. Records are
// logically deleted (status → canceled) rather than removed, so usage
// history stays attributable.
type Record struct {
	types.Entity
	ID                     id.SubscriptionID `json:"id"`
	UserID                 string            `json:"user_id"`
	TierID                 string            `json:"tier_id"`
	Status                 Status            `json:"status"`
	Cadence                Cadence           `json:"cadence"`
	ProviderCustomerID     string            `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID string            `json:"provider_subscription_id,omitempty"`
	CurrentPeriodStart     time.Time         `json:"current_period_start"`
	CurrentPeriodEnd       time.Time         `json:"current_period_end"`
	// ProviderUpdatedAt is the provider timestamp of the last applied
	// reconciliation event. Events earlier than it are dropped as
	// stale; events at or after it apply.
	ProviderUpdatedAt time.Time  `json:"provider_updated_at"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
}

// DefaultRecord returns the synthesized "no active subscription" record
// for a user with no stored state. Reads never return nil.
func DefaultRecord(userID string) *Record {
	return &Record{
		UserID:  userID,
		Status:  StatusNone,
		Cadence: CadenceMonthly,
	}
}

// Active reports whether the record entitles the user to metered actions.
func (r *Record) Active() bool {
	return r.Status == StatusActive
}

// HasProviderSubscription reports whether the record is linked to a
// billing-provider subscription.
func (r *Record) HasProviderSubscription() bool {
	return r.ProviderSubscriptionID != ""
}

// ProviderEvent is a reconciliation input sourced from the billing
// provider, delivered at-least-once and possibly out of order. OccurredAt
// is the provider's own timestamp and is the sole ordering key.
type ProviderEvent struct {
	ID                     id.EventID `json:"id"`
	ProviderSubscriptionID string     `json:"provider_subscription_id"`
	Status                 Status     `json:"status"`
	PeriodStart            time.Time  `json:"period_start"`
	PeriodEnd              time.Time  `json:"period_end"`
	OccurredAt             time.Time  `json:"occurred_at"`
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
