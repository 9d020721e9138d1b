// Package plugin provides an extensible hook system for the engine.
// Plugins attach to lifecycle events: metrics, audit, notifications,
// and export workers all integrate through these interfaces.
package plugin

import "context"

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called when a new subscription record is created.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, record interface{}) error
}

// OnSubscriptionChanged is called when a subscription changes tier.
type OnSubscriptionChanged interface {
	Plugin
	OnSubscriptionChanged(ctx context.Context, record interface{}, oldTier, newTier string) error
}

// OnSubscriptionCanceled is called when a subscription is canceled.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, record interface{}) error
}

// OnSubscriptionReconciled is called when a provider event is applied.
// Dropped (stale or unknown) events do not fire this hook.
type OnSubscriptionReconciled interface {
	Plugin
	OnSubscriptionReconciled(ctx context.Context, record interface{}, event interface{}) error
}

// OnReconcileDropped is called when a provider event is dropped as
// stale, duplicate, or unmapped.
type OnReconcileDropped interface {
	Plugin
	OnReconcileDropped(ctx context.Context, event interface{}, reason string) error
}

// ──────────────────────────────────────────────────
// Entitlement and metering hooks
// ──────────────────────────────────────────────────

// OnEntitlementChecked is called after every entitlement decision.
type OnEntitlementChecked interface {
	Plugin
	OnEntitlementChecked(ctx context.Context, decision interface{}) error
}

// OnUsageRecorded is called after a usage increment commits.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, userID, action string, count int64) error
}

// OnQuotaExceeded is called when a usage attempt is denied over quota.
type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, userID, action string, used, limit int64) error
}

// ──────────────────────────────────────────────────
// Export pipeline hooks
// ──────────────────────────────────────────────────

// OnExportRequested is called when an export job is queued.
type OnExportRequested interface {
	Plugin
	OnExportRequested(ctx context.Context, job interface{}) error
}

// OnExportClaimed is called when a worker wins the claim on a job.
type OnExportClaimed interface {
	Plugin
	OnExportClaimed(ctx context.Context, job interface{}, workerID string) error
}

// OnExportCompleted is called when a job reaches completed.
type OnExportCompleted interface {
	Plugin
	OnExportCompleted(ctx context.Context, job interface{}) error
}

// OnExportFailed is called when a job reaches failed.
type OnExportFailed interface {
	Plugin
	OnExportFailed(ctx context.Context, job interface{}, reason string) error
}

// ──────────────────────────────────────────────────
// Billing provider hooks
// ──────────────────────────────────────────────────

// BillingProviderPlugin supplies a billing provider implementation.
type BillingProviderPlugin interface {
	Plugin
	Provider() interface{} // Returns billing.Provider
}

// OnProviderSync is called after an outbound billing provider call.
type OnProviderSync interface {
	Plugin
	OnProviderSync(ctx context.Context, operation string, success bool, err error) error
}

// OnWebhookReceived is called when a provider webhook payload arrives,
// before reconciliation.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, provider string, payload []byte) error
}
