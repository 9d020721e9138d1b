package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	entitle "github.com/praxishq/entitle"
	"github.com/praxishq/entitle/export"
	"github.com/praxishq/entitle/id"
	entitlestore "github.com/praxishq/entitle/store"
	"github.com/praxishq/entitle/subscription"
	"github.com/praxishq/entitle/types"
	"github.com/praxishq/entitle/usage"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
// Quota increments and export claims are single conditional statements,
// so the invariants hold across processes, not just goroutines.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("entitle/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, r *subscription.Record) error {
	m := toSubscriptionModel(r)
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		// The partial unique index on (user_id) rejects a second
		// non-canceled record.
		if existing, lookupErr := s.GetSubscriptionByUser(ctx, r.UserID); lookupErr == nil && existing != nil {
			return entitle.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Record, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.Record, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Where("status != $2", string(subscription.StatusCanceled)).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByProvider(ctx context.Context, providerSubID string) (*subscription.Record, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("provider_subscription_id = $1", providerSubID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Record, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)

	argIdx := 1
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Record, len(models))
	for i := range models {
		r, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, r *subscription.Record) error {
	m := toSubscriptionModel(r)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return entitle.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, canceledAt time.Time) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusCanceled)).
		Set("canceled_at = $2", canceledAt).
		Set("updated_at = $3", now()).
		Where("id = $4", subID.String()).
		Where("status != $5", string(subscription.StatusCanceled)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetSubscription(ctx, subID); err != nil {
			return err
		}
		return entitle.ErrSubscriptionCanceled
	}
	return nil
}

func (s *Store) ApplyProviderState(ctx context.Context, ev *subscription.ProviderEvent) (*subscription.Record, error) {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(ev.Status)).
		Set("current_period_start = $2", ev.PeriodStart).
		Set("current_period_end = $3", ev.PeriodEnd).
		Set("provider_updated_at = $4", ev.OccurredAt).
		Set("canceled_at = CASE WHEN $5 AND canceled_at IS NULL THEN $6 ELSE canceled_at END",
			ev.Status.Terminal(), ev.OccurredAt).
		Set("updated_at = $7", now()).
		Where("provider_subscription_id = $8", ev.ProviderSubscriptionID).
		Where("provider_updated_at <= $9", ev.OccurredAt).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		if _, err := s.GetSubscriptionByProvider(ctx, ev.ProviderSubscriptionID); err != nil {
			if entitle.IsNotFound(err) {
				return nil, entitle.ErrUnknownProviderSubscription
			}
			return nil, err
		}
		return nil, entitle.ErrStaleEvent
	}

	return s.GetSubscriptionByProvider(ctx, ev.ProviderSubscriptionID)
}

func (s *Store) SetCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	m := &customerModel{
		UserID:     userID,
		CustomerID: customerID,
		CreatedAt:  now(),
	}
	if _, err := s.pg.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx); err != nil {
		return "", err
	}

	var winner string
	err := s.pg.NewRaw(`
		SELECT customer_id FROM entitle_customers WHERE user_id = $1
	`, userID).Scan(ctx, &winner)
	if err != nil {
		return "", err
	}

	// Backfill the live record so gateway reads see the mapping.
	_, err = s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("provider_customer_id = $1", winner).
		Set("updated_at = $2", now()).
		Where("user_id = $3", userID).
		Where("status != $4", string(subscription.StatusCanceled)).
		Where("provider_customer_id = ''").
		Exec(ctx)
	if err != nil {
		return "", err
	}

	return winner, nil
}

func (s *Store) GetCustomerID(ctx context.Context, userID string) (string, error) {
	var customerID string
	err := s.pg.NewRaw(`
		SELECT customer_id FROM entitle_customers WHERE user_id = $1
	`, userID).Scan(ctx, &customerID)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return customerID, nil
}

// ==================== Usage Store ====================

func (s *Store) IncrementUsage(ctx context.Context, key usage.Key, periodEnd time.Time, limit int64) (*usage.Record, error) {
	t := now()
	recID := id.NewUsageRecordID()

	// The quota check and the increment are one statement: the row lock
	// taken by the upsert serializes concurrent attempts, and the WHERE
	// clause turns an over-quota attempt into zero affected rows.
	var (
		gotID   string
		count   int64
		pEnd    time.Time
		created time.Time
		updated time.Time
	)
	err := s.pg.NewRaw(`
		INSERT INTO entitle_usage_counters (id, user_id, action, count, period_start, period_end, created_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $6)
		ON CONFLICT (user_id, action, period_start) DO UPDATE
		SET count = entitle_usage_counters.count + 1, updated_at = $6
		WHERE $7 OR entitle_usage_counters.count < $8
		RETURNING id, count, period_end, created_at, updated_at
	`, recID.String(), key.UserID, string(key.Action), key.PeriodStart, periodEnd, t,
		limit == usage.Unlimited, limit).
		Scan(ctx, &gotID, &count, &pEnd, &created, &updated)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrQuotaExceeded
		}
		return nil, err
	}

	parsedID, err := id.ParseUsageRecordID(gotID)
	if err != nil {
		return nil, err
	}
	return &usage.Record{
		Entity:      types.Entity{CreatedAt: created, UpdatedAt: updated},
		ID:          parsedID,
		UserID:      key.UserID,
		Action:      key.Action,
		Count:       count,
		PeriodStart: key.PeriodStart,
		PeriodEnd:   pEnd,
	}, nil
}

func (s *Store) GetUsage(ctx context.Context, key usage.Key) (*usage.Record, error) {
	m := new(usageCounterModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", key.UserID).
		Where("action = $2", string(key.Action)).
		Where("period_start = $3", key.PeriodStart).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			// An untouched period reads as zero, not as an error.
			return &usage.Record{
				UserID:      key.UserID,
				Action:      key.Action,
				PeriodStart: key.PeriodStart,
			}, nil
		}
		return nil, err
	}
	return fromUsageCounterModel(m)
}

func (s *Store) ListUsage(ctx context.Context, userID string, opts usage.QueryOpts) ([]*usage.Record, error) {
	var models []usageCounterModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)

	argIdx := 1
	if opts.Action != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("action = $%d", argIdx), string(opts.Action))
	}
	if !opts.Since.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("period_start >= $%d", argIdx), opts.Since)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("period_start DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*usage.Record, len(models))
	for i := range models {
		r, err := fromUsageCounterModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Export Job Store ====================

func (s *Store) CreateExportJob(ctx context.Context, j *export.Job) error {
	m := toExportJobModel(j)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetExportJob(ctx context.Context, jobID id.ExportJobID) (*export.Job, error) {
	m := new(exportJobModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", jobID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrExportJobNotFound
		}
		return nil, err
	}
	return fromExportJobModel(m)
}

func (s *Store) ListExportJobs(ctx context.Context, userID string, opts export.ListOpts) ([]*export.Job, error) {
	var models []exportJobModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)

	argIdx := 1
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("requested_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*export.Job, len(models))
	for i := range models {
		j, err := fromExportJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = j
	}
	return result, nil
}

func (s *Store) ClaimExportJob(ctx context.Context, jobID id.ExportJobID, workerID string, at time.Time) (*export.Job, error) {
	res, err := s.pg.NewUpdate((*exportJobModel)(nil)).
		Set("status = $1", string(export.StatusProcessing)).
		Set("worker_id = $2", workerID).
		Set("started_at = $3", at).
		Set("updated_at = $4", now()).
		Where("id = $5", jobID.String()).
		Where("status = $6", string(export.StatusQueued)).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// The job exists but someone else got there first, or it is
		// already terminal.
		if _, err := s.GetExportJob(ctx, jobID); err != nil {
			return nil, err
		}
		return nil, entitle.ErrConflict
	}

	return s.GetExportJob(ctx, jobID)
}

func (s *Store) CompleteExportJob(ctx context.Context, jobID id.ExportJobID, resultLocation string, at time.Time) error {
	return s.finishExportJob(ctx, jobID, export.StatusCompleted, resultLocation, "", at)
}

func (s *Store) FailExportJob(ctx context.Context, jobID id.ExportJobID, reason string, at time.Time) error {
	return s.finishExportJob(ctx, jobID, export.StatusFailed, "", reason, at)
}

func (s *Store) finishExportJob(ctx context.Context, jobID id.ExportJobID, to export.Status, resultLocation, reason string, at time.Time) error {
	from := string(export.StatusProcessing)
	if to == export.StatusFailed {
		// queued jobs may fail directly, e.g. on cancellation sweep
		from = ""
	}

	q := s.pg.NewUpdate((*exportJobModel)(nil)).
		Set("status = $1", string(to)).
		Set("result_location = $2", resultLocation).
		Set("error_reason = $3", reason).
		Set("completed_at = $4", at).
		Set("updated_at = $5", now()).
		Where("id = $6", jobID.String())
	if from != "" {
		q = q.Where("status = $7", from)
	} else {
		q = q.Where("status IN ($7, $8)",
			string(export.StatusQueued), string(export.StatusProcessing))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetExportJob(ctx, jobID); err != nil {
			return err
		}
		return entitle.ErrConflict
	}
	return nil
}

func (s *Store) FailActiveExportJobs(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	res, err := s.pg.NewUpdate((*exportJobModel)(nil)).
		Set("status = $1", string(export.StatusFailed)).
		Set("error_reason = $2", reason).
		Set("completed_at = $3", at).
		Set("updated_at = $4", now()).
		Where("user_id = $5", userID).
		Where("status IN ($6, $7)",
			string(export.StatusQueued), string(export.StatusProcessing)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
