// Package entitle provides a subscription entitlement, usage metering,
// and compliance export engine for Go applications.
//
// Entitle is designed as a library, not a service. Import it directly
// into your Go application. It provides:
//
//   - Tier-based entitlement checks with per-action billing-period quotas
//   - Atomic usage metering that never over-admits under concurrency
//   - Billing provider reconciliation with out-of-order event handling
//   - A compliance export job pipeline with at-most-one worker claims
//   - Pluggable billing provider integration via the billing gateway
//   - Lifecycle hooks for audit trails and metrics
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    entitle "github.com/praxishq/entitle"
//	    "github.com/praxishq/entitle/store/postgres"
//	)
//
//	store := postgres.New(db)
//
//	eng := entitle.New(store)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// Tiers define which actions are available and at what per-period
// limits. The built-in catalog covers free, solo, group, and
// enterprise; supply your own with WithCatalog:
//
//	catalog, _ := tier.NewCatalog(tier.Tier{
//	    ID: "clinic",
//	    Quotas: map[usage.ActionKind]int64{
//	        usage.ActionConversation: 500,
//	        usage.ActionExport:       25,
//	    },
//	})
//
// Subscriptions connect users to tiers:
//
//	err := eng.SetTier(ctx, userID, tier.Solo, subscription.CadenceMonthly)
//
// Entitlement checks answer whether a user may perform an action, and
// RecordUsage consumes quota atomically:
//
//	d, _ := eng.CanPerform(ctx, userID, usage.ActionExport)
//	if d.Allowed {
//	    d, err = eng.RecordUsage(ctx, userID, usage.ActionExport)
//	}
//
// Compliance exports queue independently of tier and are processed by
// workers that claim jobs exactly once:
//
//	job, _ := eng.RequestExport(ctx, userID, export.Request{
//	    Type:   export.TypeFullAccount,
//	    Format: export.FormatJSON,
//	})
//	job, _ = eng.ClaimExport(ctx, job.ID, workerID)
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	exp_01h455vb4pex5vsknk084sn02q   // Export job ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package entitle
