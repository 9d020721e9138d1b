package audithook

// Action constants for audit events.
const (
	// Subscription actions
	ActionSubscriptionCreated    = "subscription.created"
	ActionSubscriptionChanged    = "subscription.changed"
	ActionSubscriptionCanceled   = "subscription.canceled"
	ActionSubscriptionReconciled = "subscription.reconciled"
	ActionReconcileDropped       = "subscription.reconcile_dropped"

	// Entitlement actions
	ActionEntitlementDenied = "entitlement.denied"
	ActionQuotaExceeded     = "quota.exceeded"

	// Export actions
	ActionExportRequested = "export.requested"
	ActionExportClaimed   = "export.claimed"
	ActionExportCompleted = "export.completed"
	ActionExportFailed    = "export.failed"

	// Provider actions
	ActionProviderSync    = "provider.sync"
	ActionWebhookReceived = "webhook.received"
)

// Resource constants for audit events.
const (
	ResourceSubscription = "subscription"
	ResourceEntitlement  = "entitlement"
	ResourceExportJob    = "export_job"
	ResourceProvider     = "provider"
	ResourceWebhook      = "webhook"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
	CategoryAccess       = "access"
	CategoryCompliance   = "compliance"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
