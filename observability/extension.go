// Package observability provides a metrics extension for the entitlement
// engine that records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/praxishq/entitle/entitlement"
	"github.com/praxishq/entitle/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                   = (*MetricsExtension)(nil)
	_ plugin.OnInit                   = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionChanged    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled   = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionReconciled = (*MetricsExtension)(nil)
	_ plugin.OnReconcileDropped       = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementChecked     = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded          = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExceeded          = (*MetricsExtension)(nil)
	_ plugin.OnExportRequested        = (*MetricsExtension)(nil)
	_ plugin.OnExportClaimed          = (*MetricsExtension)(nil)
	_ plugin.OnExportCompleted        = (*MetricsExtension)(nil)
	_ plugin.OnExportFailed           = (*MetricsExtension)(nil)
	_ plugin.OnProviderSync           = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived        = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an engine plugin to automatically track entitlement
// and export pipeline metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Subscription metrics
	SubscriptionCreated    Counter
	SubscriptionChanged    Counter
	SubscriptionCanceled   Counter
	SubscriptionReconciled Counter
	ReconcileDroppedStale  Counter
	ReconcileDroppedOrphan Counter

	// Entitlement metrics
	EntitlementChecks Counter
	EntitlementDenied Counter
	UsageRecorded     Counter
	QuotaExceeded     Counter

	// Export pipeline metrics
	ExportRequested Counter
	ExportClaimed   Counter
	ExportCompleted Counter
	ExportFailed    Counter

	// Provider metrics
	ProviderSyncSuccess Counter
	ProviderSyncFailure Counter
	WebhookReceived     Counter
	WebhookBytes        Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Subscription metrics
		SubscriptionCreated:    factory.Counter("entitle.subscription.created"),
		SubscriptionChanged:    factory.Counter("entitle.subscription.changed"),
		SubscriptionCanceled:   factory.Counter("entitle.subscription.canceled"),
		SubscriptionReconciled: factory.Counter("entitle.subscription.reconciled"),
		ReconcileDroppedStale:  factory.Counter("entitle.reconcile.dropped.stale"),
		ReconcileDroppedOrphan: factory.Counter("entitle.reconcile.dropped.unknown"),

		// Entitlement metrics
		EntitlementChecks: factory.Counter("entitle.entitlement.checks"),
		EntitlementDenied: factory.Counter("entitle.entitlement.denied"),
		UsageRecorded:     factory.Counter("entitle.usage.recorded"),
		QuotaExceeded:     factory.Counter("entitle.usage.quota_exceeded"),

		// Export pipeline metrics
		ExportRequested: factory.Counter("entitle.export.requested"),
		ExportClaimed:   factory.Counter("entitle.export.claimed"),
		ExportCompleted: factory.Counter("entitle.export.completed"),
		ExportFailed:    factory.Counter("entitle.export.failed"),

		// Provider metrics
		ProviderSyncSuccess: factory.Counter("entitle.provider.sync.success"),
		ProviderSyncFailure: factory.Counter("entitle.provider.sync.failure"),
		WebhookReceived:     factory.Counter("entitle.webhook.received"),
		WebhookBytes:        factory.Histogram("entitle.webhook.payload_bytes"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ interface{}) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (m *MetricsExtension) OnSubscriptionChanged(_ context.Context, _ interface{}, _, _ string) error {
	m.SubscriptionChanged.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ interface{}) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnSubscriptionReconciled implements plugin.OnSubscriptionReconciled.
func (m *MetricsExtension) OnSubscriptionReconciled(_ context.Context, _, _ interface{}) error {
	m.SubscriptionReconciled.Inc()
	return nil
}

// OnReconcileDropped implements plugin.OnReconcileDropped.
func (m *MetricsExtension) OnReconcileDropped(_ context.Context, _ interface{}, reason string) error {
	if reason == "stale" {
		m.ReconcileDroppedStale.Inc()
	} else {
		m.ReconcileDroppedOrphan.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Entitlement and metering hooks
// ──────────────────────────────────────────────────

// OnEntitlementChecked implements plugin.OnEntitlementChecked.
func (m *MetricsExtension) OnEntitlementChecked(_ context.Context, decision interface{}) error {
	m.EntitlementChecks.Inc()
	if d, ok := decision.(*entitlement.Decision); ok && !d.Allowed {
		m.EntitlementDenied.Inc()
	}
	return nil
}

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, _, _ string, _ int64) error {
	m.UsageRecorded.Inc()
	return nil
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (m *MetricsExtension) OnQuotaExceeded(_ context.Context, _, _ string, _, _ int64) error {
	m.QuotaExceeded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Export pipeline hooks
// ──────────────────────────────────────────────────

// OnExportRequested implements plugin.OnExportRequested.
func (m *MetricsExtension) OnExportRequested(_ context.Context, _ interface{}) error {
	m.ExportRequested.Inc()
	return nil
}

// OnExportClaimed implements plugin.OnExportClaimed.
func (m *MetricsExtension) OnExportClaimed(_ context.Context, _ interface{}, _ string) error {
	m.ExportClaimed.Inc()
	return nil
}

// OnExportCompleted implements plugin.OnExportCompleted.
func (m *MetricsExtension) OnExportCompleted(_ context.Context, _ interface{}) error {
	m.ExportCompleted.Inc()
	return nil
}

// OnExportFailed implements plugin.OnExportFailed.
func (m *MetricsExtension) OnExportFailed(_ context.Context, _ interface{}, _ string) error {
	m.ExportFailed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Provider hooks
// ──────────────────────────────────────────────────

// OnProviderSync implements plugin.OnProviderSync.
func (m *MetricsExtension) OnProviderSync(_ context.Context, _ string, success bool, _ error) error {
	if success {
		m.ProviderSyncSuccess.Inc()
	} else {
		m.ProviderSyncFailure.Inc()
	}
	return nil
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _ string, payload []byte) error {
	m.WebhookReceived.Inc()
	m.WebhookBytes.Observe(float64(len(payload)))
	return nil
}
