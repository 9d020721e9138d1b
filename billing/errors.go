package billing

import "errors"

// Sentinel errors for gateway failure modes.
var (
	// ErrProviderUnavailable is returned when an external provider call
	// fails after its retry budget is exhausted.
	ErrProviderUnavailable = errors.New("billing: provider unavailable")
	// ErrNotConfigured is returned when the gateway has no provider.
	ErrNotConfigured = errors.New("billing: provider not configured")
	// ErrInvalidTier is returned for an unknown tier or a tier that has
	// no provider price for the requested cadence.
	ErrInvalidTier = errors.New("billing: invalid tier or price")
)
