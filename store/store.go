package store

import (
	"context"

	"github.com/praxishq/entitle/export"
	"github.com/praxishq/entitle/subscription"
	"github.com/praxishq/entitle/usage"
)

// Store is the unified storage interface for all engine entities,
// composed from the per-domain slices. Backends implement the whole
// thing; narrower consumers (the billing gateway, export workers)
// depend only on the slice they use.
type Store interface {
	subscription.Store
	usage.Store
	export.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
