// Package audithook bridges entitlement engine lifecycle events to an
// audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/praxishq/entitle/entitlement"
	"github.com/praxishq/entitle/export"
	"github.com/praxishq/entitle/plugin"
	"github.com/praxishq/entitle/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                   = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated    = (*Extension)(nil)
	_ plugin.OnSubscriptionChanged    = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled   = (*Extension)(nil)
	_ plugin.OnSubscriptionReconciled = (*Extension)(nil)
	_ plugin.OnReconcileDropped       = (*Extension)(nil)
	_ plugin.OnEntitlementChecked     = (*Extension)(nil)
	_ plugin.OnQuotaExceeded          = (*Extension)(nil)
	_ plugin.OnExportRequested        = (*Extension)(nil)
	_ plugin.OnExportClaimed          = (*Extension)(nil)
	_ plugin.OnExportCompleted        = (*Extension)(nil)
	_ plugin.OnExportFailed           = (*Extension)(nil)
	_ plugin.OnProviderSync           = (*Extension)(nil)
	_ plugin.OnWebhookReceived        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges engine lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, record interface{}) error {
	rec, _ := record.(*subscription.Record)
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subscriptionID(rec), CategorySubscription, nil,
		"user_id", subscriptionUser(rec),
		"tier", subscriptionTier(rec),
	)
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (e *Extension) OnSubscriptionChanged(ctx context.Context, record interface{}, oldTier, newTier string) error {
	rec, _ := record.(*subscription.Record)
	return e.record(ctx, ActionSubscriptionChanged, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subscriptionID(rec), CategorySubscription, nil,
		"user_id", subscriptionUser(rec),
		"old_tier", oldTier,
		"new_tier", newTier,
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, record interface{}) error {
	rec, _ := record.(*subscription.Record)
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subscriptionID(rec), CategorySubscription, nil,
		"user_id", subscriptionUser(rec),
		"tier", subscriptionTier(rec),
	)
}

// OnSubscriptionReconciled implements plugin.OnSubscriptionReconciled.
func (e *Extension) OnSubscriptionReconciled(ctx context.Context, record, event interface{}) error {
	rec, _ := record.(*subscription.Record)
	kv := []any{
		"user_id", subscriptionUser(rec),
	}
	if ev, ok := event.(*subscription.ProviderEvent); ok {
		kv = append(kv,
			"event_id", ev.ID.String(),
			"provider_subscription_id", ev.ProviderSubscriptionID,
			"status", string(ev.Status),
		)
	}
	return e.record(ctx, ActionSubscriptionReconciled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subscriptionID(rec), CategoryIntegration, nil, kv...)
}

// OnReconcileDropped implements plugin.OnReconcileDropped.
func (e *Extension) OnReconcileDropped(ctx context.Context, event interface{}, reason string) error {
	var resourceID string
	kv := []any{"drop_reason", reason}
	if ev, ok := event.(*subscription.ProviderEvent); ok {
		resourceID = ev.ProviderSubscriptionID
		kv = append(kv,
			"event_id", ev.ID.String(),
			"status", string(ev.Status),
			"occurred_at", ev.OccurredAt,
		)
	}
	return e.record(ctx, ActionReconcileDropped, SeverityWarning, OutcomePartial,
		ResourceSubscription, resourceID, CategoryIntegration, nil, kv...)
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnEntitlementChecked implements plugin.OnEntitlementChecked.
// Only denied checks are audited to keep the trail useful.
func (e *Extension) OnEntitlementChecked(ctx context.Context, decision interface{}) error {
	d, ok := decision.(*entitlement.Decision)
	if !ok || d.Allowed {
		return nil
	}
	return e.record(ctx, ActionEntitlementDenied, SeverityWarning, OutcomeFailure,
		ResourceEntitlement, string(d.Action), CategoryAccess, nil,
		"action", string(d.Action),
		"used", d.Used,
		"quota", d.Quota,
		"reason", d.Reason,
	)
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (e *Extension) OnQuotaExceeded(ctx context.Context, userID, action string, used, limit int64) error {
	return e.record(ctx, ActionQuotaExceeded, SeverityWarning, OutcomeFailure,
		ResourceEntitlement, action, CategoryAccess, nil,
		"user_id", userID,
		"action", action,
		"used", used,
		"limit", limit,
	)
}

// ──────────────────────────────────────────────────
// Export pipeline hooks
// ──────────────────────────────────────────────────

// OnExportRequested implements plugin.OnExportRequested.
func (e *Extension) OnExportRequested(ctx context.Context, job interface{}) error {
	j, _ := job.(*export.Job)
	return e.record(ctx, ActionExportRequested, SeverityInfo, OutcomeSuccess,
		ResourceExportJob, exportJobID(j), CategoryCompliance, nil,
		"user_id", exportJobUser(j),
		"type", exportJobType(j),
	)
}

// OnExportClaimed implements plugin.OnExportClaimed.
func (e *Extension) OnExportClaimed(ctx context.Context, job interface{}, workerID string) error {
	j, _ := job.(*export.Job)
	return e.record(ctx, ActionExportClaimed, SeverityInfo, OutcomeSuccess,
		ResourceExportJob, exportJobID(j), CategoryCompliance, nil,
		"user_id", exportJobUser(j),
		"worker_id", workerID,
	)
}

// OnExportCompleted implements plugin.OnExportCompleted.
func (e *Extension) OnExportCompleted(ctx context.Context, job interface{}) error {
	j, _ := job.(*export.Job)
	return e.record(ctx, ActionExportCompleted, SeverityInfo, OutcomeSuccess,
		ResourceExportJob, exportJobID(j), CategoryCompliance, nil,
		"user_id", exportJobUser(j),
		"type", exportJobType(j),
	)
}

// OnExportFailed implements plugin.OnExportFailed.
func (e *Extension) OnExportFailed(ctx context.Context, job interface{}, reason string) error {
	j, _ := job.(*export.Job)
	return e.record(ctx, ActionExportFailed, SeverityError, OutcomeFailure,
		ResourceExportJob, exportJobID(j), CategoryCompliance, nil,
		"user_id", exportJobUser(j),
		"fail_reason", reason,
	)
}

// ──────────────────────────────────────────────────
// Provider hooks
// ──────────────────────────────────────────────────

// OnProviderSync implements plugin.OnProviderSync.
func (e *Extension) OnProviderSync(ctx context.Context, operation string, success bool, err error) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if !success {
		severity, outcome = SeverityError, OutcomeFailure
	}
	return e.record(ctx, ActionProviderSync, severity, outcome,
		ResourceProvider, operation, CategoryIntegration, err,
		"operation", operation,
	)
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, provider string, payload []byte) error {
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, provider, CategoryIntegration, nil,
		"provider", provider,
		"payload_bytes", len(payload),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

func subscriptionID(r *subscription.Record) string {
	if r == nil {
		return ""
	}
	return r.ID.String()
}

func subscriptionUser(r *subscription.Record) string {
	if r == nil {
		return ""
	}
	return r.UserID
}

func subscriptionTier(r *subscription.Record) string {
	if r == nil {
		return ""
	}
	return r.TierID
}

func exportJobID(j *export.Job) string {
	if j == nil {
		return ""
	}
	return j.ID.String()
}

func exportJobUser(j *export.Job) string {
	if j == nil {
		return ""
	}
	return j.UserID
}

func exportJobType(j *export.Job) string {
	if j == nil {
		return ""
	}
	return string(j.Type)
}
