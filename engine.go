package entitle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/praxishq/entitle/billing"
	"github.com/praxishq/entitle/entitlement"
	"github.com/praxishq/entitle/export"
	"github.com/praxishq/entitle/id"
	"github.com/praxishq/entitle/plugin"
	"github.com/praxishq/entitle/store"
	"github.com/praxishq/entitle/subscription"
	"github.com/praxishq/entitle/tier"
	"github.com/praxishq/entitle/types"
	"github.com/praxishq/entitle/usage"
)

// Engine is the entitlement and metering engine: tier catalog,
// subscription state, quota enforcement, and the export job pipeline.
type Engine struct {
	store       store.Store
	catalog     *tier.Catalog
	provider    billing.Provider
	gateway     *billing.Gateway
	gatewayOpts []billing.Option
	plugins     *plugin.Registry
	logger      *slog.Logger

	// now is the clock; injectable so period rollover is testable.
	now func() time.Time
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		catalog: tier.DefaultCatalog(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	e.plugins = plugin.NewRegistry(e.logger)

	for _, opt := range opts {
		opt(e)
	}

	e.gateway = billing.NewGateway(e.provider, e.catalog, e.store, e.buildGatewayOpts()...)

	return e
}

// buildGatewayOpts threads the engine's logger and plugin hooks into
// the gateway ahead of any caller-supplied options.
func (e *Engine) buildGatewayOpts() []billing.Option {
	opts := []billing.Option{
		billing.WithLogger(e.logger),
		billing.WithSyncHook(func(ctx context.Context, operation string, success bool, err error) {
			e.plugins.EmitProviderSync(ctx, operation, success, err)
		}),
	}
	return append(opts, e.gatewayOpts...)
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithCatalog replaces the default tier catalog.
func WithCatalog(c *tier.Catalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithProvider sets the billing provider.
func WithProvider(p billing.Provider) Option {
	return func(e *Engine) {
		e.provider = p
	}
}

// WithGatewayOptions passes options through to the billing gateway.
func WithGatewayOptions(opts ...billing.Option) Option {
	return func(e *Engine) {
		e.gatewayOpts = append(e.gatewayOpts, opts...)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	// A plugin may supply the billing provider when none was configured
	// directly.
	if e.provider == nil {
		for _, pp := range e.plugins.BillingProviders() {
			if p, ok := pp.Provider().(billing.Provider); ok && p != nil {
				e.provider = p
				e.gateway = billing.NewGateway(p, e.catalog, e.store, e.buildGatewayOpts()...)
				break
			}
		}
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("entitlement engine started",
		"tiers", len(e.catalog.List()),
		"billing_configured", e.provider != nil,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Billing returns the billing gateway.
func (e *Engine) Billing() *billing.Gateway {
	return e.gateway
}

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry {
	return e.plugins
}

// ──────────────────────────────────────────────────
// Tier Catalog
// ──────────────────────────────────────────────────

// Tiers returns all tiers in catalog order.
func (e *Engine) Tiers() []tier.Tier {
	return e.catalog.List()
}

// Tier returns a tier by id.
func (e *Engine) Tier(tierID string) (tier.Tier, error) {
	return e.catalog.Get(tierID)
}

// ──────────────────────────────────────────────────
// Subscription Management
// ──────────────────────────────────────────────────

// Subscription returns the user's current subscription record. Users
// with no stored state get a synthesized default record; the result is
// never nil.
func (e *Engine) Subscription(ctx context.Context, userID string) (*subscription.Record, error) {
	rec, err := e.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return subscription.DefaultRecord(userID), nil
		}
		return nil, err
	}
	return rec, nil
}

// SetTier assigns a tier to a user directly, bypassing the billing
// provider. It activates the existing record or creates a new one,
// keeping at most one non-canceled record per user.
func (e *Engine) SetTier(ctx context.Context, userID, tierID string, cadence subscription.Cadence) (*subscription.Record, error) {
	if _, err := e.catalog.Get(tierID); err != nil {
		return nil, err
	}
	if !cadence.Valid() {
		return nil, &ValidationError{Field: "cadence", Message: "unknown billing cadence"}
	}

	now := e.now()

	rec, err := e.store.GetSubscriptionByUser(ctx, userID)
	switch {
	case err == nil:
		oldTier := rec.TierID
		rec.TierID = tierID
		rec.Cadence = cadence
		rec.Status = subscription.StatusActive
		if rec.CurrentPeriodEnd.IsZero() || !rec.CurrentPeriodEnd.After(now) {
			rec.CurrentPeriodStart = now
			rec.CurrentPeriodEnd = cadence.Next(now)
		}
		if err := e.store.UpdateSubscription(ctx, rec); err != nil {
			return nil, err
		}
		e.logger.Info("tier assigned", "user_id", userID, "tier_id", tierID, "cadence", cadence)
		e.plugins.EmitSubscriptionChanged(ctx, rec, oldTier, tierID)
		return rec, nil

	case IsNotFound(err):
		rec = &subscription.Record{
			Entity:             types.NewEntity(),
			ID:                 id.NewSubscriptionID(),
			UserID:             userID,
			TierID:             tierID,
			Status:             subscription.StatusActive,
			Cadence:            cadence,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   cadence.Next(now),
		}
		if err := e.store.CreateSubscription(ctx, rec); err != nil {
			return nil, err
		}
		e.logger.Info("subscription created", "user_id", userID, "tier_id", tierID, "cadence", cadence)
		e.plugins.EmitSubscriptionCreated(ctx, rec)
		return rec, nil

	default:
		return nil, err
	}
}

// LinkProviderSubscription attaches the billing provider's subscription
// id to the user's record after checkout, so later provider events can
// be routed to it. Events arriving before the link are dropped as
// unknown and recovered by the provider's retry.
func (e *Engine) LinkProviderSubscription(ctx context.Context, userID, providerSubID string) error {
	if providerSubID == "" {
		return ErrInvalidInput
	}

	rec, err := e.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return err
	}

	rec.ProviderSubscriptionID = providerSubID
	if err := e.store.UpdateSubscription(ctx, rec); err != nil {
		return err
	}

	e.logger.Info("provider subscription linked",
		"user_id", userID, "provider_subscription_id", providerSubID)
	return nil
}

// CancelSubscription cancels the user's subscription. Canceled is
// terminal: resubscribing creates a fresh record. In-flight export jobs
// for the user are failed, never left running against a dead
// subscription.
func (e *Engine) CancelSubscription(ctx context.Context, userID string) error {
	rec, err := e.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return err
	}

	now := e.now()
	if err := e.store.CancelSubscription(ctx, rec.ID, now); err != nil {
		return err
	}

	failed, err := e.store.FailActiveExportJobs(ctx, userID, "subscription canceled", now)
	if err != nil {
		e.logger.Error("failed to cancel in-flight export jobs",
			"user_id", userID, "error", err)
	} else if failed > 0 {
		e.logger.Info("canceled in-flight export jobs",
			"user_id", userID, "count", failed)
	}

	e.plugins.EmitSubscriptionCanceled(ctx, rec)
	return nil
}

// Reconcile applies a billing-provider event to the owning subscription
// record. Delivery is at-least-once and possibly out of order: stale and
// duplicate events are dropped, as are events for provider subscriptions
// with no local record. Drops are logged and hooked, never surfaced to
// the webhook caller.
func (e *Engine) Reconcile(ctx context.Context, ev *subscription.ProviderEvent) error {
	if ev == nil || ev.ProviderSubscriptionID == "" {
		return ErrInvalidInput
	}
	if !ev.Status.Valid() {
		return &ValidationError{Field: "status", Message: "unknown subscription status"}
	}

	rec, err := e.store.ApplyProviderState(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrStaleEvent):
		e.logger.Warn("dropped stale provider event",
			"provider_subscription_id", ev.ProviderSubscriptionID,
			"occurred_at", ev.OccurredAt,
		)
		e.plugins.EmitReconcileDropped(ctx, ev, "stale")
		return nil
	case errors.Is(err, ErrUnknownProviderSubscription):
		e.logger.Warn("dropped event for unknown provider subscription",
			"provider_subscription_id", ev.ProviderSubscriptionID,
		)
		e.plugins.EmitReconcileDropped(ctx, ev, "unknown_subscription")
		return nil
	default:
		return err
	}

	// A reconciled cancellation tears down in-flight exports the same
	// way a direct cancellation does.
	if rec.Status == subscription.StatusCanceled {
		if _, err := e.store.FailActiveExportJobs(ctx, rec.UserID, "subscription canceled", e.now()); err != nil {
			e.logger.Error("failed to cancel in-flight export jobs",
				"user_id", rec.UserID, "error", err)
		}
		e.plugins.EmitSubscriptionCanceled(ctx, rec)
	}

	e.logger.Info("provider event applied",
		"user_id", rec.UserID,
		"status", rec.Status,
		"period_end", rec.CurrentPeriodEnd,
	)
	e.plugins.EmitSubscriptionReconciled(ctx, rec, ev)
	return nil
}

// ReconcileWebhook is the webhook entry point: it records the inbound
// payload for metrics and audit, then applies the parsed event.
// Signature verification and payload parsing happen at the transport
// layer before this call.
func (e *Engine) ReconcileWebhook(ctx context.Context, provider string, payload []byte, ev *subscription.ProviderEvent) error {
	e.plugins.EmitWebhookReceived(ctx, provider, payload)
	return e.Reconcile(ctx, ev)
}

// ──────────────────────────────────────────────────
// Entitlement + Metering
// ──────────────────────────────────────────────────

// CanPerform is the read-only entitlement gate: may the user perform the
// action right now. It never consumes quota; a true answer can go stale
// the moment it is returned, so mutating callers must use RecordUsage.
func (e *Engine) CanPerform(ctx context.Context, userID string, action usage.ActionKind) (*entitlement.Decision, error) {
	if !action.Valid() {
		return nil, ErrInvalidAction
	}

	rec, err := e.Subscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.Active() {
		return denied(action, "no active subscription"), nil
	}

	t, err := e.catalog.Get(rec.TierID)
	if err != nil {
		return nil, err
	}
	limit := t.Quota(action)
	if limit == 0 {
		return denied(action, "action not included in tier"), nil
	}

	period := usage.CurrentPeriod(rec, e.now())
	urec, err := e.store.GetUsage(ctx, usage.Key{
		UserID:      userID,
		Action:      action,
		PeriodStart: period.Start,
	})
	if err != nil {
		return nil, err
	}

	d := decision(action, urec.Count, limit, period.End)
	e.plugins.EmitEntitlementChecked(ctx, d)
	return d, nil
}

// RecordUsage is the usage attempt: it re-checks entitlement and
// increments the counter in one atomic store operation, so concurrent
// attempts at the quota boundary admit exactly the remaining quota. On
// denial the returned decision carries the current usage and the error
// is ErrQuotaExceeded.
func (e *Engine) RecordUsage(ctx context.Context, userID string, action usage.ActionKind) (*entitlement.Decision, error) {
	if !action.Valid() {
		return nil, ErrInvalidAction
	}

	rec, err := e.Subscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.Active() {
		return denied(action, "no active subscription"), ErrNoActiveSubscription
	}

	t, err := e.catalog.Get(rec.TierID)
	if err != nil {
		return nil, err
	}
	limit := t.Quota(action)
	if limit == 0 {
		return denied(action, "action not included in tier"), ErrQuotaExceeded
	}

	period := usage.CurrentPeriod(rec, e.now())
	key := usage.Key{UserID: userID, Action: action, PeriodStart: period.Start}

	urec, err := e.store.IncrementUsage(ctx, key, period.End, limit)
	if err != nil {
		if IsQuotaError(err) {
			d := denied(action, "quota exceeded")
			d.Used = limit
			d.Quota = limit
			d.PeriodEnd = period.End
			if cur, gerr := e.store.GetUsage(ctx, key); gerr == nil {
				d.Used = cur.Count
			}
			e.plugins.EmitQuotaExceeded(ctx, userID, string(action), d.Used, limit)
			e.plugins.EmitEntitlementChecked(ctx, d)
			return d, err
		}
		return nil, err
	}

	d := decision(action, urec.Count, limit, period.End)
	// The increment committed, so this attempt was admitted even when it
	// consumed the last unit of quota. decision() computes Allowed from
	// the post-increment count, which answers "may the NEXT attempt
	// proceed" and belongs to CanPerform, not here.
	d.Allowed = true
	d.Reason = ""
	e.plugins.EmitUsageRecorded(ctx, userID, string(action), urec.Count)
	e.plugins.EmitEntitlementChecked(ctx, d)
	return d, nil
}

// UsageInfo returns the user's usage snapshot for the current period:
// used, quota, and remaining per metered action. Read-only and safe to
// render directly.
func (e *Engine) UsageInfo(ctx context.Context, userID string) (*entitlement.Usage, error) {
	rec, err := e.Subscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	var t tier.Tier
	if rec.TierID != "" {
		if t, err = e.catalog.Get(rec.TierID); err != nil {
			return nil, err
		}
	}

	period := usage.CurrentPeriod(rec, e.now())
	info := &entitlement.Usage{
		UserID:      userID,
		TierID:      rec.TierID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
	}

	for _, action := range usage.Kinds() {
		quota := int64(0)
		if rec.Active() {
			quota = t.Quota(action)
		}

		urec, err := e.store.GetUsage(ctx, usage.Key{
			UserID:      userID,
			Action:      action,
			PeriodStart: period.Start,
		})
		if err != nil {
			return nil, err
		}

		info.Actions = append(info.Actions, entitlement.ActionUsage{
			Action:    action,
			Used:      urec.Count,
			Quota:     quota,
			Remaining: remaining(urec.Count, quota),
		})
	}

	return info, nil
}

// ──────────────────────────────────────────────────
// Export Pipeline
// ──────────────────────────────────────────────────

// RequestExport queues a compliance export job. Exports cover regulated
// client data, so a storage failure is surfaced as ErrExportUnavailable
// rather than silently dropped, and cross-user scope requires an
// elevated request.
func (e *Engine) RequestExport(ctx context.Context, userID string, req export.Request) (*export.Job, error) {
	if !req.Type.Valid() {
		return nil, ErrInvalidExportType
	}
	if !req.Format.Valid() {
		return nil, &ValidationError{Field: "format", Message: "unknown export format"}
	}
	if req.SubjectUserID != "" && req.SubjectUserID != userID && !req.Elevated {
		return nil, ErrUnauthorized
	}

	job := &export.Job{
		Entity:      types.NewEntity(),
		ID:          id.NewExportJobID(),
		UserID:      req.Subject(userID),
		Type:        req.Type,
		Format:      req.Format,
		Filters:     req.Filters,
		Fields:      req.Fields,
		Status:      export.StatusQueued,
		RequestedAt: e.now(),
	}

	if err := e.store.CreateExportJob(ctx, job); err != nil {
		e.logger.Error("failed to queue export job",
			"user_id", job.UserID, "type", job.Type, "error", err)
		return nil, ErrExportUnavailable
	}

	e.logger.Info("export job queued",
		"job_id", job.ID, "user_id", job.UserID,
		"type", job.Type, "format", job.Format,
	)
	e.plugins.EmitExportRequested(ctx, job)
	return job, nil
}

// GetExport returns an export job by id.
func (e *Engine) GetExport(ctx context.Context, jobID id.ExportJobID) (*export.Job, error) {
	return e.store.GetExportJob(ctx, jobID)
}

// ListExports returns the user's export jobs, most recent first.
func (e *Engine) ListExports(ctx context.Context, userID string, limit int) ([]*export.Job, error) {
	return e.store.ListExportJobs(ctx, userID, export.ListOpts{Limit: limit})
}

// ClaimExport moves a queued job to processing on behalf of a worker.
// Exactly one concurrent claimer wins; the rest get ErrConflict.
func (e *Engine) ClaimExport(ctx context.Context, jobID id.ExportJobID, workerID string) (*export.Job, error) {
	job, err := e.store.ClaimExportJob(ctx, jobID, workerID, e.now())
	if err != nil {
		return nil, err
	}

	e.plugins.EmitExportClaimed(ctx, job, workerID)
	return job, nil
}

// CompleteExport marks a processing job completed with the location of
// the produced artifact. Completed is terminal.
func (e *Engine) CompleteExport(ctx context.Context, jobID id.ExportJobID, resultLocation string) error {
	if err := e.store.CompleteExportJob(ctx, jobID, resultLocation, e.now()); err != nil {
		return err
	}

	job, err := e.store.GetExportJob(ctx, jobID)
	if err != nil {
		return err
	}

	e.logger.Info("export job completed", "job_id", jobID, "user_id", job.UserID)
	e.plugins.EmitExportCompleted(ctx, job)
	return nil
}

// FailExport marks a job failed with a reason. Failed is terminal; the
// user may request a fresh export.
func (e *Engine) FailExport(ctx context.Context, jobID id.ExportJobID, reason string) error {
	if err := e.store.FailExportJob(ctx, jobID, reason, e.now()); err != nil {
		return err
	}

	job, err := e.store.GetExportJob(ctx, jobID)
	if err != nil {
		return err
	}

	e.logger.Warn("export job failed",
		"job_id", jobID, "user_id", job.UserID, "reason", reason)
	e.plugins.EmitExportFailed(ctx, job, reason)
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func decision(action usage.ActionKind, used, limit int64, periodEnd time.Time) *entitlement.Decision {
	d := &entitlement.Decision{
		Action:    action,
		Used:      used,
		Quota:     limit,
		Remaining: remaining(used, limit),
		PeriodEnd: periodEnd,
	}
	d.Allowed = limit == usage.Unlimited || used < limit
	if !d.Allowed {
		d.Reason = "quota exceeded"
	}
	return d
}

func denied(action usage.ActionKind, reason string) *entitlement.Decision {
	return &entitlement.Decision{Action: action, Reason: reason}
}

func remaining(used, limit int64) int64 {
	if limit == usage.Unlimited {
		return usage.Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
