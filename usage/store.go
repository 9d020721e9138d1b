package usage

import (
	"context"
	"time"
)

// Store is the metering slice of the unified storage interface.
type Store interface {
	// IncrementUsage atomically increments the counter identified by
	// key, creating it lazily with the given period end on first touch.
	// When limit is not Unlimited, the increment is conditional: it
	// commits only while the committed count stays at or under limit,
	// so exactly the calls that were under quota at commit time
	// succeed. An over-quota call fails without incrementing.
	IncrementUsage(ctx context.Context, key Key, periodEnd time.Time, limit int64) (*Record, error)
	// GetUsage returns the counter for key, or a zero-count record if
	// no touch has happened yet in the period.
	GetUsage(ctx context.Context, key Key) (*Record, error)
	ListUsage(ctx context.Context, userID string, opts QueryOpts) ([]*Record, error)
}
