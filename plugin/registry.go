package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const hookTimeout = 5 * time.Second

// Registry manages plugin registration and event dispatch.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	logger  *slog.Logger

	// Cached interface implementations to avoid repeated type assertions
	// on the hot paths.
	initHooks             []OnInit
	shutdownHooks         []OnShutdown
	subCreatedHooks       []OnSubscriptionCreated
	subChangedHooks       []OnSubscriptionChanged
	subCanceledHooks      []OnSubscriptionCanceled
	subReconciledHooks    []OnSubscriptionReconciled
	reconcileDroppedHooks []OnReconcileDropped
	entitlementHooks      []OnEntitlementChecked
	usageHooks            []OnUsageRecorded
	quotaHooks            []OnQuotaExceeded
	exportRequestedHooks  []OnExportRequested
	exportClaimedHooks    []OnExportClaimed
	exportCompletedHooks  []OnExportCompleted
	exportFailedHooks     []OnExportFailed
	providerSyncHooks     []OnProviderSync
	webhookHooks          []OnWebhookReceived
	providerPlugins       []BillingProviderPlugin
}

// NewRegistry creates a new plugin registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		plugins: make(map[string]Plugin),
		logger:  logger,
	}
}

// WithLogger replaces the registry logger.
func (r *Registry) WithLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Register adds a plugin to the registry and caches which hook
// interfaces it implements.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin: cannot register nil plugin")
	}

	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin: plugin name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin: plugin %q already registered", name)
	}

	r.plugins[name] = p

	if h, ok := p.(OnInit); ok {
		r.initHooks = append(r.initHooks, h)
	}
	if h, ok := p.(OnShutdown); ok {
		r.shutdownHooks = append(r.shutdownHooks, h)
	}
	if h, ok := p.(OnSubscriptionCreated); ok {
		r.subCreatedHooks = append(r.subCreatedHooks, h)
	}
	if h, ok := p.(OnSubscriptionChanged); ok {
		r.subChangedHooks = append(r.subChangedHooks, h)
	}
	if h, ok := p.(OnSubscriptionCanceled); ok {
		r.subCanceledHooks = append(r.subCanceledHooks, h)
	}
	if h, ok := p.(OnSubscriptionReconciled); ok {
		r.subReconciledHooks = append(r.subReconciledHooks, h)
	}
	if h, ok := p.(OnReconcileDropped); ok {
		r.reconcileDroppedHooks = append(r.reconcileDroppedHooks, h)
	}
	if h, ok := p.(OnEntitlementChecked); ok {
		r.entitlementHooks = append(r.entitlementHooks, h)
	}
	if h, ok := p.(OnUsageRecorded); ok {
		r.usageHooks = append(r.usageHooks, h)
	}
	if h, ok := p.(OnQuotaExceeded); ok {
		r.quotaHooks = append(r.quotaHooks, h)
	}
	if h, ok := p.(OnExportRequested); ok {
		r.exportRequestedHooks = append(r.exportRequestedHooks, h)
	}
	if h, ok := p.(OnExportClaimed); ok {
		r.exportClaimedHooks = append(r.exportClaimedHooks, h)
	}
	if h, ok := p.(OnExportCompleted); ok {
		r.exportCompletedHooks = append(r.exportCompletedHooks, h)
	}
	if h, ok := p.(OnExportFailed); ok {
		r.exportFailedHooks = append(r.exportFailedHooks, h)
	}
	if h, ok := p.(OnProviderSync); ok {
		r.providerSyncHooks = append(r.providerSyncHooks, h)
	}
	if h, ok := p.(OnWebhookReceived); ok {
		r.webhookHooks = append(r.webhookHooks, h)
	}
	if h, ok := p.(BillingProviderPlugin); ok {
		r.providerPlugins = append(r.providerPlugins, h)
	}

	r.logger.Info("plugin registered",
		slog.String("name", name),
		slog.Any("interfaces", getImplementedInterfaces(p)),
	)

	return nil
}

// Get returns a registered plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// List returns the names of all registered plugins.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}

// BillingProviders returns all registered billing provider plugins.
func (r *Registry) BillingProviders() []BillingProviderPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BillingProviderPlugin, len(r.providerPlugins))
	copy(out, r.providerPlugins)
	return out
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

// EmitInit notifies all plugins that the engine has started.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	hooks := make([]OnInit, len(r.initHooks))
	copy(hooks, r.initHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnInit", func(ctx context.Context) error {
			return h.OnInit(ctx, engine)
		})
	}
}

// EmitShutdown notifies all plugins that the engine is stopping.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	hooks := make([]OnShutdown, len(r.shutdownHooks))
	copy(hooks, r.shutdownHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnShutdown", func(ctx context.Context) error {
			return h.OnShutdown(ctx)
		})
	}
}

// EmitSubscriptionCreated notifies plugins of a new subscription.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, record interface{}) {
	r.mu.RLock()
	hooks := make([]OnSubscriptionCreated, len(r.subCreatedHooks))
	copy(hooks, r.subCreatedHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnSubscriptionCreated", func(ctx context.Context) error {
			return h.OnSubscriptionCreated(ctx, record)
		})
	}
}

// EmitSubscriptionChanged notifies plugins of a tier change.
func (r *Registry) EmitSubscriptionChanged(ctx context.Context, record interface{}, oldTier, newTier string) {
	r.mu.RLock()
	hooks := make([]OnSubscriptionChanged, len(r.subChangedHooks))
	copy(hooks, r.subChangedHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnSubscriptionChanged", func(ctx context.Context) error {
			return h.OnSubscriptionChanged(ctx, record, oldTier, newTier)
		})
	}
}

// EmitSubscriptionCanceled notifies plugins of a cancellation.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, record interface{}) {
	r.mu.RLock()
	hooks := make([]OnSubscriptionCanceled, len(r.subCanceledHooks))
	copy(hooks, r.subCanceledHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnSubscriptionCanceled", func(ctx context.Context) error {
			return h.OnSubscriptionCanceled(ctx, record)
		})
	}
}

// EmitSubscriptionReconciled notifies plugins of an applied provider event.
func (r *Registry) EmitSubscriptionReconciled(ctx context.Context, record, event interface{}) {
	r.mu.RLock()
	hooks := make([]OnSubscriptionReconciled, len(r.subReconciledHooks))
	copy(hooks, r.subReconciledHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnSubscriptionReconciled", func(ctx context.Context) error {
			return h.OnSubscriptionReconciled(ctx, record, event)
		})
	}
}

// EmitReconcileDropped notifies plugins of a dropped provider event.
func (r *Registry) EmitReconcileDropped(ctx context.Context, event interface{}, reason string) {
	r.mu.RLock()
	hooks := make([]OnReconcileDropped, len(r.reconcileDroppedHooks))
	copy(hooks, r.reconcileDroppedHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnReconcileDropped", func(ctx context.Context) error {
			return h.OnReconcileDropped(ctx, event, reason)
		})
	}
}

// EmitEntitlementChecked notifies plugins of an entitlement decision.
func (r *Registry) EmitEntitlementChecked(ctx context.Context, decision interface{}) {
	r.mu.RLock()
	hooks := make([]OnEntitlementChecked, len(r.entitlementHooks))
	copy(hooks, r.entitlementHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnEntitlementChecked", func(ctx context.Context) error {
			return h.OnEntitlementChecked(ctx, decision)
		})
	}
}

// EmitUsageRecorded notifies plugins of a committed usage increment.
func (r *Registry) EmitUsageRecorded(ctx context.Context, userID, action string, count int64) {
	r.mu.RLock()
	hooks := make([]OnUsageRecorded, len(r.usageHooks))
	copy(hooks, r.usageHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnUsageRecorded", func(ctx context.Context) error {
			return h.OnUsageRecorded(ctx, userID, action, count)
		})
	}
}

// EmitQuotaExceeded notifies plugins of a quota denial.
func (r *Registry) EmitQuotaExceeded(ctx context.Context, userID, action string, used, limit int64) {
	r.mu.RLock()
	hooks := make([]OnQuotaExceeded, len(r.quotaHooks))
	copy(hooks, r.quotaHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnQuotaExceeded", func(ctx context.Context) error {
			return h.OnQuotaExceeded(ctx, userID, action, used, limit)
		})
	}
}

// EmitExportRequested notifies plugins of a queued export job.
func (r *Registry) EmitExportRequested(ctx context.Context, job interface{}) {
	r.mu.RLock()
	hooks := make([]OnExportRequested, len(r.exportRequestedHooks))
	copy(hooks, r.exportRequestedHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnExportRequested", func(ctx context.Context) error {
			return h.OnExportRequested(ctx, job)
		})
	}
}

// EmitExportClaimed notifies plugins of a claimed export job.
func (r *Registry) EmitExportClaimed(ctx context.Context, job interface{}, workerID string) {
	r.mu.RLock()
	hooks := make([]OnExportClaimed, len(r.exportClaimedHooks))
	copy(hooks, r.exportClaimedHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnExportClaimed", func(ctx context.Context) error {
			return h.OnExportClaimed(ctx, job, workerID)
		})
	}
}

// EmitExportCompleted notifies plugins of a completed export job.
func (r *Registry) EmitExportCompleted(ctx context.Context, job interface{}) {
	r.mu.RLock()
	hooks := make([]OnExportCompleted, len(r.exportCompletedHooks))
	copy(hooks, r.exportCompletedHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnExportCompleted", func(ctx context.Context) error {
			return h.OnExportCompleted(ctx, job)
		})
	}
}

// EmitExportFailed notifies plugins of a failed export job.
func (r *Registry) EmitExportFailed(ctx context.Context, job interface{}, reason string) {
	r.mu.RLock()
	hooks := make([]OnExportFailed, len(r.exportFailedHooks))
	copy(hooks, r.exportFailedHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnExportFailed", func(ctx context.Context) error {
			return h.OnExportFailed(ctx, job, reason)
		})
	}
}

// EmitProviderSync notifies plugins of an outbound billing provider call.
func (r *Registry) EmitProviderSync(ctx context.Context, operation string, success bool, err error) {
	r.mu.RLock()
	hooks := make([]OnProviderSync, len(r.providerSyncHooks))
	copy(hooks, r.providerSyncHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnProviderSync", func(ctx context.Context) error {
			return h.OnProviderSync(ctx, operation, success, err)
		})
	}
}

// EmitWebhookReceived notifies plugins of an inbound provider webhook.
func (r *Registry) EmitWebhookReceived(ctx context.Context, provider string, payload []byte) {
	r.mu.RLock()
	hooks := make([]OnWebhookReceived, len(r.webhookHooks))
	copy(hooks, r.webhookHooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		r.callHook(ctx, h.Name(), "OnWebhookReceived", func(ctx context.Context) error {
			return h.OnWebhookReceived(ctx, provider, payload)
		})
	}
}

// callHook invokes a plugin hook with a timeout. Hook errors are logged,
// never propagated: a misbehaving plugin must not break the engine.
func (r *Registry) callHook(ctx context.Context, pluginName, hookName string, fn func(ctx context.Context) error) {
	hookCtx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	if err := fn(hookCtx); err != nil {
		r.logger.Error("plugin hook failed",
			slog.String("plugin", pluginName),
			slog.String("hook", hookName),
			slog.String("error", err.Error()),
		)
	}
}

// getImplementedInterfaces reports which hooks a plugin implements,
// for registration logging.
func getImplementedInterfaces(p Plugin) []string {
	var interfaces []string

	if _, ok := p.(OnInit); ok {
		interfaces = append(interfaces, "OnInit")
	}
	if _, ok := p.(OnShutdown); ok {
		interfaces = append(interfaces, "OnShutdown")
	}
	if _, ok := p.(OnSubscriptionCreated); ok {
		interfaces = append(interfaces, "OnSubscriptionCreated")
	}
	if _, ok := p.(OnSubscriptionChanged); ok {
		interfaces = append(interfaces, "OnSubscriptionChanged")
	}
	if _, ok := p.(OnSubscriptionCanceled); ok {
		interfaces = append(interfaces, "OnSubscriptionCanceled")
	}
	if _, ok := p.(OnSubscriptionReconciled); ok {
		interfaces = append(interfaces, "OnSubscriptionReconciled")
	}
	if _, ok := p.(OnReconcileDropped); ok {
		interfaces = append(interfaces, "OnReconcileDropped")
	}
	if _, ok := p.(OnEntitlementChecked); ok {
		interfaces = append(interfaces, "OnEntitlementChecked")
	}
	if _, ok := p.(OnUsageRecorded); ok {
		interfaces = append(interfaces, "OnUsageRecorded")
	}
	if _, ok := p.(OnQuotaExceeded); ok {
		interfaces = append(interfaces, "OnQuotaExceeded")
	}
	if _, ok := p.(OnExportRequested); ok {
		interfaces = append(interfaces, "OnExportRequested")
	}
	if _, ok := p.(OnExportClaimed); ok {
		interfaces = append(interfaces, "OnExportClaimed")
	}
	if _, ok := p.(OnExportCompleted); ok {
		interfaces = append(interfaces, "OnExportCompleted")
	}
	if _, ok := p.(OnExportFailed); ok {
		interfaces = append(interfaces, "OnExportFailed")
	}
	if _, ok := p.(OnProviderSync); ok {
		interfaces = append(interfaces, "OnProviderSync")
	}
	if _, ok := p.(OnWebhookReceived); ok {
		interfaces = append(interfaces, "OnWebhookReceived")
	}
	if _, ok := p.(BillingProviderPlugin); ok {
		interfaces = append(interfaces, "BillingProviderPlugin")
	}

	return interfaces
}
