package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxishq/entitle"
	"github.com/praxishq/entitle/export"
	"github.com/praxishq/entitle/id"
	"github.com/praxishq/entitle/store/memory"
	"github.com/praxishq/entitle/subscription"
	"github.com/praxishq/entitle/types"
	"github.com/praxishq/entitle/usage"
)

func newActiveRecord(userID, providerSubID string) *subscription.Record {
	r := &subscription.Record{
		ID:                     id.NewSubscriptionID(),
		UserID:                 userID,
		TierID:                 "solo",
		Status:                 subscription.StatusActive,
		Cadence:                subscription.CadenceMonthly,
		ProviderSubscriptionID: providerSubID,
	}
	r.Entity = types.NewEntity()
	return r
}

func TestIncrementUsageQuotaBoundaryConcurrent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	key := usage.Key{
		UserID:      "user_1",
		Action:      usage.ActionConversation,
		PeriodStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	periodEnd := key.PeriodStart.AddDate(0, 1, 0)

	const attempts = 150
	const quota = 100

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.IncrementUsage(ctx, key, periodEnd, quota)
		}(i)
	}
	wg.Wait()

	var ok, denied int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case entitle.IsQuotaError(err):
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, quota, ok, "exactly quota increments must succeed")
	assert.Equal(t, attempts-quota, denied)

	rec, err := s.GetUsage(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(quota), rec.Count)
}

func TestIncrementUsageUnlimited(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	key := usage.Key{
		UserID:      "user_1",
		Action:      usage.ActionMessage,
		PeriodStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	for i := 0; i < 10; i++ {
		_, err := s.IncrementUsage(ctx, key, key.PeriodStart.AddDate(0, 1, 0), usage.Unlimited)
		require.NoError(t, err)
	}

	rec, err := s.GetUsage(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.Count)
}

func TestIncrementUsageNewPeriodStartsFresh(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	june := usage.Key{
		UserID:      "user_1",
		Action:      usage.ActionConversation,
		PeriodStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	july := june
	july.PeriodStart = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.IncrementUsage(ctx, june, june.PeriodStart.AddDate(0, 1, 0), 100)
		require.NoError(t, err)
	}

	rec, err := s.IncrementUsage(ctx, july, july.PeriodStart.AddDate(0, 1, 0), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Count, "first touch in the new period starts at 1")

	// Old period retained for audit.
	old, err := s.GetUsage(ctx, june)
	require.NoError(t, err)
	assert.Equal(t, int64(5), old.Count)
}

func TestGetUsageUntouchedPeriodIsZero(t *testing.T) {
	s := memory.New()

	rec, err := s.GetUsage(context.Background(), usage.Key{
		UserID:      "user_1",
		Action:      usage.ActionConversation,
		PeriodStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Count)
}

func TestApplyProviderStateOrdering(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	rec := newActiveRecord("user_1", "ps_1")
	require.NoError(t, s.CreateSubscription(ctx, rec))

	t1 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	// Later event arrives first.
	_, err := s.ApplyProviderState(ctx, &subscription.ProviderEvent{
		ProviderSubscriptionID: "ps_1",
		Status:                 subscription.StatusActive,
		PeriodEnd:              t2.AddDate(0, 1, 0),
		OccurredAt:             t2,
	})
	require.NoError(t, err)

	// Earlier event arrives second: stale, dropped.
	_, err = s.ApplyProviderState(ctx, &subscription.ProviderEvent{
		ProviderSubscriptionID: "ps_1",
		Status:                 subscription.StatusPastDue,
		PeriodEnd:              t1.AddDate(0, 1, 0),
		OccurredAt:             t1,
	})
	assert.ErrorIs(t, err, entitle.ErrStaleEvent)

	got, err := s.GetSubscriptionByUser(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, t2.AddDate(0, 1, 0), got.CurrentPeriodEnd)
}

func TestApplyProviderStateDuplicateIsIdempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.CreateSubscription(ctx, newActiveRecord("user_1", "ps_1")))

	ev := &subscription.ProviderEvent{
		ProviderSubscriptionID: "ps_1",
		Status:                 subscription.StatusPastDue,
		OccurredAt:             time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	first, err := s.ApplyProviderState(ctx, ev)
	require.NoError(t, err)
	second, err := s.ApplyProviderState(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
}

func TestApplyProviderStateUnknownSubscription(t *testing.T) {
	s := memory.New()

	_, err := s.ApplyProviderState(context.Background(), &subscription.ProviderEvent{
		ProviderSubscriptionID: "ps_missing",
		Status:                 subscription.StatusActive,
		OccurredAt:             time.Now(),
	})
	assert.ErrorIs(t, err, entitle.ErrUnknownProviderSubscription)
}

func TestSetCustomerIDCompareAndSet(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	winner, err := s.SetCustomerID(ctx, "user_1", "cus_a")
	require.NoError(t, err)
	assert.Equal(t, "cus_a", winner)

	winner, err = s.SetCustomerID(ctx, "user_1", "cus_b")
	require.NoError(t, err)
	assert.Equal(t, "cus_a", winner, "first writer wins")
}

func TestSingleNonCanceledRecordPerUser(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.CreateSubscription(ctx, newActiveRecord("user_1", "ps_1")))

	err := s.CreateSubscription(ctx, newActiveRecord("user_1", "ps_2"))
	assert.ErrorIs(t, err, entitle.ErrAlreadyExists)

	// After cancel, a fresh record is allowed.
	first, err := s.GetSubscriptionByUser(ctx, "user_1")
	require.NoError(t, err)
	require.NoError(t, s.CancelSubscription(ctx, first.ID, time.Now()))

	require.NoError(t, s.CreateSubscription(ctx, newActiveRecord("user_1", "ps_2")))
}

func newQueuedJob(userID string) *export.Job {
	j := &export.Job{
		ID:          id.NewExportJobID(),
		UserID:      userID,
		Type:        export.TypeClientRecords,
		Format:      export.FormatCSV,
		Status:      export.StatusQueued,
		RequestedAt: time.Now().UTC(),
	}
	j.Entity = types.NewEntity()
	return j
}

func TestClaimExportJobAtMostOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newQueuedJob("user_1")
	require.NoError(t, s.CreateExportJob(ctx, j))

	const workers = 20
	errs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ClaimExportJob(ctx, j.ID, "worker", time.Now())
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case entitle.IsConflict(err):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won, "exactly one worker claims the job")
	assert.Equal(t, workers-1, lost)
}

func TestTerminalJobRejectsClaim(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newQueuedJob("user_1")
	require.NoError(t, s.CreateExportJob(ctx, j))

	_, err := s.ClaimExportJob(ctx, j.ID, "w1", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CompleteExportJob(ctx, j.ID, "s3://exports/1.csv", time.Now()))

	_, err = s.ClaimExportJob(ctx, j.ID, "w2", time.Now())
	assert.ErrorIs(t, err, entitle.ErrConflict)

	err = s.FailExportJob(ctx, j.ID, "late", time.Now())
	assert.ErrorIs(t, err, entitle.ErrConflict, "completed never transitions again")
}

func TestListExportJobsMostRecentFirst(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	older := newQueuedJob("user_1")
	older.RequestedAt = time.Now().Add(-time.Hour)
	newer := newQueuedJob("user_1")
	require.NoError(t, s.CreateExportJob(ctx, older))
	require.NoError(t, s.CreateExportJob(ctx, newer))
	require.NoError(t, s.CreateExportJob(ctx, newQueuedJob("user_2")))

	jobs, err := s.ListExportJobs(ctx, "user_1", export.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.ID.String(), jobs[0].ID.String())
	assert.Equal(t, older.ID.String(), jobs[1].ID.String())

	jobs, err = s.ListExportJobs(ctx, "user_1", export.ListOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestFailActiveExportJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	queued := newQueuedJob("user_1")
	claimed := newQueuedJob("user_1")
	done := newQueuedJob("user_1")
	require.NoError(t, s.CreateExportJob(ctx, queued))
	require.NoError(t, s.CreateExportJob(ctx, claimed))
	require.NoError(t, s.CreateExportJob(ctx, done))

	_, err := s.ClaimExportJob(ctx, claimed.ID, "w1", time.Now())
	require.NoError(t, err)
	_, err = s.ClaimExportJob(ctx, done.ID, "w1", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CompleteExportJob(ctx, done.ID, "s3://exports/done.csv", time.Now()))

	n, err := s.FailActiveExportJobs(ctx, "user_1", "subscription canceled", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.GetExportJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, export.StatusCompleted, got.Status, "terminal jobs untouched")
}
