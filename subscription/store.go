package subscription

import (
	"context"
	"time"

	"github.com/praxishq/entitle/id"
)

// Store is the subscription slice of the unified storage interface.
type Store interface {
	CreateSubscription(ctx context.Context, r *Record) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Record, error)
	// GetSubscriptionByUser returns the single non-canceled record for
	// the user.
	GetSubscriptionByUser(ctx context.Context, userID string) (*Record, error)
	GetSubscriptionByProvider(ctx context.Context, providerSubID string) (*Record, error)
	ListSubscriptions(ctx context.Context, userID string, opts ListOpts) ([]*Record, error)
	UpdateSubscription(ctx context.Context, r *Record) error
	CancelSubscription(ctx context.Context, subID id.SubscriptionID, canceledAt time.Time) error
	// ApplyProviderState applies a reconciliation event atomically: the
	// stored record is updated iff ev.OccurredAt is at or after the
	// stored ProviderUpdatedAt. Stale or duplicate events are no-ops.
	ApplyProviderState(ctx context.Context, ev *ProviderEvent) (*Record, error)
	// SetCustomerID records the provider customer id for a user iff none
	// is stored yet (compare-and-set). Returns the winning id either way.
	SetCustomerID(ctx context.Context, userID, customerID string) (string, error)
	// GetCustomerID returns the stored provider customer id for a user,
	// or "" when the user has never been mapped. The mapping outlives
	// subscription records: a user with no record can still hold one.
	GetCustomerID(ctx context.Context, userID string) (string, error)
}
