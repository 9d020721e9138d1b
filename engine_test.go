package entitle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/praxishq/entitle"
	"github.com/praxishq/entitle/export"
	"github.com/praxishq/entitle/store/memory"
	"github.com/praxishq/entitle/subscription"
	"github.com/praxishq/entitle/tier"
	"github.com/praxishq/entitle/usage"
)

// testClock is a settable clock for driving period rollover.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newEngine(t *testing.T, opts ...entitle.Option) *entitle.Engine {
	t.Helper()

	eng := entitle.New(memory.New(), opts...)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Stop(); err != nil {
			t.Errorf("stop engine: %v", err)
		}
	})
	return eng
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	t.Run("DefaultRecordForUnknownUser", func(t *testing.T) {
		rec, err := eng.Subscription(ctx, "user_nobody")
		if err != nil {
			t.Fatal(err)
		}
		if rec == nil {
			t.Fatal("expected a synthesized record, got nil")
		}
		if rec.Status != subscription.StatusNone {
			t.Fatalf("expected status none, got %s", rec.Status)
		}
	})

	t.Run("SetTierCreatesActiveRecord", func(t *testing.T) {
		rec, err := eng.SetTier(ctx, "user_1", tier.Solo, subscription.CadenceMonthly)
		if err != nil {
			t.Fatal(err)
		}
		if !rec.Active() {
			t.Fatalf("expected active record, got status %s", rec.Status)
		}
		if rec.TierID != tier.Solo {
			t.Fatalf("expected tier %s, got %s", tier.Solo, rec.TierID)
		}
		if !rec.CurrentPeriodEnd.After(rec.CurrentPeriodStart) {
			t.Fatal("expected a forward billing period")
		}
	})

	t.Run("SetTierRejectsUnknownTier", func(t *testing.T) {
		if _, err := eng.SetTier(ctx, "user_1", "platinum", subscription.CadenceMonthly); !entitle.IsNotFound(err) {
			t.Fatalf("expected tier not found, got %v", err)
		}
	})

	t.Run("SetTierChangesExistingRecord", func(t *testing.T) {
		rec, err := eng.SetTier(ctx, "user_1", tier.Group, subscription.CadenceAnnual)
		if err != nil {
			t.Fatal(err)
		}
		if rec.TierID != tier.Group || rec.Cadence != subscription.CadenceAnnual {
			t.Fatalf("tier change not applied: %s/%s", rec.TierID, rec.Cadence)
		}

		// Still a single record, not a second one.
		got, err := eng.Subscription(ctx, "user_1")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != rec.ID {
			t.Fatal("expected tier change to reuse the existing record")
		}
	})

	t.Run("CancelIsTerminal", func(t *testing.T) {
		if err := eng.CancelSubscription(ctx, "user_1"); err != nil {
			t.Fatal(err)
		}

		rec, err := eng.Subscription(ctx, "user_1")
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != subscription.StatusNone {
			t.Fatalf("expected synthesized default after cancel, got %s", rec.Status)
		}

		// Resubscribing creates a fresh record.
		fresh, err := eng.SetTier(ctx, "user_1", tier.Solo, subscription.CadenceMonthly)
		if err != nil {
			t.Fatal(err)
		}
		if !fresh.Active() {
			t.Fatal("expected resubscribe to yield an active record")
		}
	})
}

func TestEntitlementAndMetering(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	if _, err := eng.SetTier(ctx, "user_2", tier.Solo, subscription.CadenceMonthly); err != nil {
		t.Fatal(err)
	}

	t.Run("CanPerformDoesNotConsume", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			d, err := eng.CanPerform(ctx, "user_2", usage.ActionConversation)
			if err != nil {
				t.Fatal(err)
			}
			if !d.Allowed {
				t.Fatalf("expected allowed, got denied: %s", d.Reason)
			}
			if d.Used != 0 {
				t.Fatalf("read-only gate consumed quota: used=%d", d.Used)
			}
		}
	})

	t.Run("RecordUsageStopsAtQuota", func(t *testing.T) {
		// Solo allows 10 exports per period.
		for i := int64(1); i <= 10; i++ {
			d, err := eng.RecordUsage(ctx, "user_2", usage.ActionExport)
			if err != nil {
				t.Fatalf("attempt %d: %v", i, err)
			}
			if d.Used != i {
				t.Fatalf("attempt %d: expected used=%d, got %d", i, i, d.Used)
			}
			// Every committed attempt is an admission, including the one
			// that consumes the last unit of quota.
			if !d.Allowed {
				t.Fatalf("attempt %d committed but reports denied: %s", i, d.Reason)
			}
		}

		d, err := eng.RecordUsage(ctx, "user_2", usage.ActionExport)
		if !entitle.IsQuotaError(err) {
			t.Fatalf("expected quota error, got %v", err)
		}
		if d == nil || d.Allowed {
			t.Fatal("expected a denied decision alongside the error")
		}
		if d.Used != 10 || d.Remaining != 0 {
			t.Fatalf("denied decision inconsistent: used=%d remaining=%d", d.Used, d.Remaining)
		}
	})

	t.Run("UnknownActionRejected", func(t *testing.T) {
		if _, err := eng.RecordUsage(ctx, "user_2", usage.ActionKind("teleport")); !errors.Is(err, entitle.ErrInvalidAction) {
			t.Fatalf("expected ErrInvalidAction, got %v", err)
		}
	})

	t.Run("NoSubscriptionDenies", func(t *testing.T) {
		d, err := eng.CanPerform(ctx, "user_none", usage.ActionConversation)
		if err != nil {
			t.Fatal(err)
		}
		if d.Allowed {
			t.Fatal("expected denial without a subscription")
		}

		if _, err := eng.RecordUsage(ctx, "user_none", usage.ActionConversation); !errors.Is(err, entitle.ErrNoActiveSubscription) {
			t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
		}
	})

	t.Run("UsageInfoSnapshot", func(t *testing.T) {
		info, err := eng.UsageInfo(ctx, "user_2")
		if err != nil {
			t.Fatal(err)
		}
		if info.TierID != tier.Solo {
			t.Fatalf("expected tier %s, got %s", tier.Solo, info.TierID)
		}

		row, ok := info.Find(usage.ActionExport)
		if !ok {
			t.Fatal("expected an export row in the snapshot")
		}
		if row.Used != 10 || row.Quota != 10 || row.Remaining != 0 {
			t.Fatalf("unexpected export row: %+v", row)
		}
	})
}

func TestPeriodRollover(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	eng := newEngine(t, entitle.WithClock(clock.Now))

	if _, err := eng.SetTier(ctx, "user_3", tier.Solo, subscription.CadenceMonthly); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if _, err := eng.RecordUsage(ctx, "user_3", usage.ActionConversation); err != nil {
			t.Fatal(err)
		}
	}

	// Crossing the period boundary starts a fresh counter.
	clock.now = clock.now.AddDate(0, 1, 2)

	d, err := eng.RecordUsage(ctx, "user_3", usage.ActionConversation)
	if err != nil {
		t.Fatal(err)
	}
	if d.Used != 1 {
		t.Fatalf("expected a fresh counter after rollover, got used=%d", d.Used)
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	if _, err := eng.SetTier(ctx, "user_4", tier.Solo, subscription.CadenceMonthly); err != nil {
		t.Fatal(err)
	}
	if err := eng.LinkProviderSubscription(ctx, "user_4", "psub_41"); err != nil {
		t.Fatal(err)
	}

	t1 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	periodEnd := t1.AddDate(0, 1, 0)

	t.Run("AppliesNewerEvent", func(t *testing.T) {
		err := eng.Reconcile(ctx, &subscription.ProviderEvent{
			ProviderSubscriptionID: "psub_41",
			Status:                 subscription.StatusPastDue,
			PeriodStart:            t1,
			PeriodEnd:              periodEnd,
			OccurredAt:             t2,
		})
		if err != nil {
			t.Fatal(err)
		}

		rec, err := eng.Subscription(ctx, "user_4")
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != subscription.StatusPastDue {
			t.Fatalf("expected past_due, got %s", rec.Status)
		}
	})

	t.Run("OutOfOrderEventDropped", func(t *testing.T) {
		// An older event arriving late must not rewind state.
		err := eng.Reconcile(ctx, &subscription.ProviderEvent{
			ProviderSubscriptionID: "psub_41",
			Status:                 subscription.StatusActive,
			PeriodStart:            t1,
			PeriodEnd:              periodEnd,
			OccurredAt:             t1,
		})
		if err != nil {
			t.Fatalf("drops must not surface: %v", err)
		}

		rec, err := eng.Subscription(ctx, "user_4")
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != subscription.StatusPastDue {
			t.Fatalf("stale event rewound state to %s", rec.Status)
		}
	})

	t.Run("DuplicateEventIdempotent", func(t *testing.T) {
		ev := &subscription.ProviderEvent{
			ProviderSubscriptionID: "psub_41",
			Status:                 subscription.StatusActive,
			PeriodStart:            t1,
			PeriodEnd:              periodEnd,
			OccurredAt:             t2.Add(time.Hour),
		}
		if err := eng.Reconcile(ctx, ev); err != nil {
			t.Fatal(err)
		}
		if err := eng.Reconcile(ctx, ev); err != nil {
			t.Fatalf("duplicate delivery must be a no-op: %v", err)
		}

		rec, err := eng.Subscription(ctx, "user_4")
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != subscription.StatusActive {
			t.Fatalf("expected active, got %s", rec.Status)
		}
	})

	t.Run("UnknownProviderSubscriptionDropped", func(t *testing.T) {
		err := eng.Reconcile(ctx, &subscription.ProviderEvent{
			ProviderSubscriptionID: "psub_unmapped",
			Status:                 subscription.StatusActive,
			OccurredAt:             t2,
		})
		if err != nil {
			t.Fatalf("unknown subscription must be dropped, got %v", err)
		}
	})

	t.Run("ReconciledCancellationFailsExports", func(t *testing.T) {
		job, err := eng.RequestExport(ctx, "user_4", export.Request{
			Type:   export.TypeClientRecords,
			Format: export.FormatCSV,
		})
		if err != nil {
			t.Fatal(err)
		}

		err = eng.Reconcile(ctx, &subscription.ProviderEvent{
			ProviderSubscriptionID: "psub_41",
			Status:                 subscription.StatusCanceled,
			OccurredAt:             t2.Add(2 * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}

		got, err := eng.GetExport(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != export.StatusFailed {
			t.Fatalf("expected in-flight export failed on cancellation, got %s", got.Status)
		}
	})
}

// hookRecorder is a plugin capturing webhook hook invocations.
type hookRecorder struct {
	webhooks []string
}

func (h *hookRecorder) Name() string { return "hook-recorder" }

func (h *hookRecorder) OnWebhookReceived(_ context.Context, provider string, payload []byte) error {
	h.webhooks = append(h.webhooks, provider+":"+string(payload))
	return nil
}

func TestReconcileWebhookFiresHooks(t *testing.T) {
	ctx := context.Background()
	rec := &hookRecorder{}
	eng := newEngine(t, entitle.WithPlugin(rec))

	if _, err := eng.SetTier(ctx, "user_8", tier.Solo, subscription.CadenceMonthly); err != nil {
		t.Fatal(err)
	}
	if err := eng.LinkProviderSubscription(ctx, "user_8", "psub_81"); err != nil {
		t.Fatal(err)
	}

	payload := []byte(`{"type":"customer.subscription.updated"}`)
	err := eng.ReconcileWebhook(ctx, "stripe", payload, &subscription.ProviderEvent{
		ProviderSubscriptionID: "psub_81",
		Status:                 subscription.StatusActive,
		OccurredAt:             time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.webhooks) != 1 || rec.webhooks[0] != "stripe:"+string(payload) {
		t.Fatalf("webhook hook not fired as expected: %v", rec.webhooks)
	}
}

func TestExportPipeline(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	t.Run("QueuesWithoutSubscription", func(t *testing.T) {
		// Compliance exports are a data-access right, not a tier perk.
		job, err := eng.RequestExport(ctx, "user_5", export.Request{
			Type:   export.TypeFullAccount,
			Format: export.FormatJSON,
		})
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != export.StatusQueued {
			t.Fatalf("expected queued, got %s", job.Status)
		}
	})

	t.Run("RejectsInvalidType", func(t *testing.T) {
		_, err := eng.RequestExport(ctx, "user_5", export.Request{
			Type:   export.Type("memes"),
			Format: export.FormatCSV,
		})
		if !errors.Is(err, entitle.ErrInvalidExportType) {
			t.Fatalf("expected ErrInvalidExportType, got %v", err)
		}
	})

	t.Run("CrossUserScopeRequiresElevation", func(t *testing.T) {
		_, err := eng.RequestExport(ctx, "user_5", export.Request{
			Type:          export.TypeClientRecords,
			Format:        export.FormatCSV,
			SubjectUserID: "user_6",
		})
		if !errors.Is(err, entitle.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}

		job, err := eng.RequestExport(ctx, "admin_1", export.Request{
			Type:          export.TypeClientRecords,
			Format:        export.FormatCSV,
			SubjectUserID: "user_6",
			Elevated:      true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if job.UserID != "user_6" {
			t.Fatalf("expected job scoped to subject, got %s", job.UserID)
		}
	})

	t.Run("ClaimCompleteLifecycle", func(t *testing.T) {
		job, err := eng.RequestExport(ctx, "user_7", export.Request{
			Type:   export.TypeAppointments,
			Format: export.FormatCSV,
		})
		if err != nil {
			t.Fatal(err)
		}

		claimed, err := eng.ClaimExport(ctx, job.ID, "worker_a")
		if err != nil {
			t.Fatal(err)
		}
		if claimed.Status != export.StatusProcessing || claimed.WorkerID != "worker_a" {
			t.Fatalf("unexpected claim result: %+v", claimed)
		}

		// Second claim loses.
		if _, err := eng.ClaimExport(ctx, job.ID, "worker_b"); !entitle.IsConflict(err) {
			t.Fatalf("expected conflict on double claim, got %v", err)
		}

		if err := eng.CompleteExport(ctx, job.ID, "s3://exports/user_7/appointments.csv"); err != nil {
			t.Fatal(err)
		}

		// Terminal states never transition again.
		if err := eng.FailExport(ctx, job.ID, "late failure"); !entitle.IsConflict(err) {
			t.Fatalf("expected conflict failing a completed job, got %v", err)
		}

		got, err := eng.GetExport(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != export.StatusCompleted || got.ResultLocation == "" {
			t.Fatalf("unexpected final job state: %+v", got)
		}
	})

	t.Run("ListMostRecentFirst", func(t *testing.T) {
		jobs, err := eng.ListExports(ctx, "user_7", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(jobs) != 1 {
			t.Fatalf("expected 1 job, got %d", len(jobs))
		}
	})
}
