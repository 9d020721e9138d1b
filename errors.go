package entitle

import (
	"errors"
	"fmt"

	"github.com/praxishq/entitle/billing"
	"github.com/praxishq/entitle/tier"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("entitle: not found")
	ErrAlreadyExists = errors.New("entitle: already exists")
	ErrInvalidInput  = errors.New("entitle: invalid input")
	ErrUnauthorized  = errors.New("entitle: unauthorized")
	ErrConflict      = errors.New("entitle: conflict, concurrent transition lost the race")

	// Tier errors
	ErrTierNotFound = tier.ErrNotFound
	ErrInvalidTier  = billing.ErrInvalidTier

	// Subscription errors
	ErrSubscriptionNotFound        = errors.New("entitle: subscription not found")
	ErrSubscriptionCanceled        = errors.New("entitle: subscription is canceled")
	ErrNoActiveSubscription        = errors.New("entitle: no active subscription")
	ErrInvalidTransition           = errors.New("entitle: invalid subscription status transition")
	ErrStaleEvent                  = errors.New("entitle: stale provider event")
	ErrUnknownProviderSubscription = errors.New("entitle: unknown provider subscription")

	// Entitlement / metering errors
	ErrQuotaExceeded = errors.New("entitle: quota exceeded")
	ErrInvalidAction = errors.New("entitle: unknown action kind")

	// Billing provider errors
	ErrProviderUnavailable   = billing.ErrProviderUnavailable
	ErrProviderNotConfigured = billing.ErrNotConfigured

	// Export pipeline errors
	ErrExportJobNotFound = errors.New("entitle: export job not found")
	ErrInvalidExportType = errors.New("entitle: invalid export type or format")
	ErrExportUnavailable = errors.New("entitle: export store unavailable")

	// Store errors
	ErrStoreNotReady     = errors.New("entitle: store not ready")
	ErrStoreClosed       = errors.New("entitle: store is closed")
	ErrTransactionFailed = errors.New("entitle: transaction failed")
	ErrMigrationFailed   = errors.New("entitle: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("entitle: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTierNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrExportJobNotFound)
}

// IsQuotaError returns true if the error is an entitlement denial.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrNoActiveSubscription)
}

// IsConflict returns true if the error is a lost concurrent transition,
// e.g. a double-claim of an export job.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryable returns true if the error is temporary and the operation
// can be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrExportUnavailable) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed)
}
