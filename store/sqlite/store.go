package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM. The
// conditional-write semantics match the postgres store; SQLite's
// single-writer model serializes the quota and claim statements.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("entitle/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/sqlite: migration failed: %w", err)
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
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if existing, lookupErr := s.GetSubscriptionByUser(ctx, r.UserID); lookupErr == nil && existing != nil {
			return entitle.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Record, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Where("status != ?", string(subscription.StatusCanceled)).
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
	err := s.sdb.NewSelect(m).
		Where("provider_subscription_id = ?", providerSubID).
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
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
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
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
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
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusCanceled)).
		Set("canceled_at = ?", canceledAt).
		Set("updated_at = ?", now()).
		Where("id = ?", subID.String()).
		Where("status != ?", string(subscription.StatusCanceled)).
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
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(ev.Status)).
		Set("current_period_start = ?", ev.PeriodStart).
		Set("current_period_end = ?", ev.PeriodEnd).
		Set("provider_updated_at = ?", ev.OccurredAt).
		Set("canceled_at = CASE WHEN ? AND canceled_at IS NULL THEN ? ELSE canceled_at END",
			ev.Status.Terminal(), ev.OccurredAt).
		Set("updated_at = ?", now()).
		Where("provider_subscription_id = ?", ev.ProviderSubscriptionID).
		Where("provider_updated_at <= ?", ev.OccurredAt).
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
	if _, err := s.sdb.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx); err != nil {
		return "", err
	}

	var winner string
	err := s.sdb.NewRaw(`
		SELECT customer_id FROM entitle_customers WHERE user_id = ?
	`, userID).Scan(ctx, &winner)
	if err != nil {
		return "", err
	}

	_, err = s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("provider_customer_id = ?", winner).
		Set("updated_at = ?", now()).
		Where("user_id = ?", userID).
		Where("status != ?", string(subscription.StatusCanceled)).
		Where("provider_customer_id = ''").
		Exec(ctx)
	if err != nil {
		return "", err
	}

	return winner, nil
}

func (s *Store) GetCustomerID(ctx context.Context, userID string) (string, error) {
	var customerID string
	err := s.sdb.NewRaw(`
		SELECT customer_id FROM entitle_customers WHERE user_id = ?
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

	var (
		gotID   string
		count   int64
		pEnd    time.Time
		created time.Time
		updated time.Time
	)
	err := s.sdb.NewRaw(`
		INSERT INTO entitle_usage_counters (id, user_id, action, count, period_start, period_end, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT (user_id, action, period_start) DO UPDATE
		SET count = count + 1, updated_at = excluded.updated_at
		WHERE ? OR count < ?
		RETURNING id, count, period_end, created_at, updated_at
	`, recID.String(), key.UserID, string(key.Action), key.PeriodStart, periodEnd, t, t,
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
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", key.UserID).
		Where("action = ?", string(key.Action)).
		Where("period_start = ?", key.PeriodStart).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
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
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID)

	if opts.Action != "" {
		q = q.Where("action = ?", string(opts.Action))
	}
	if !opts.Since.IsZero() {
		q = q.Where("period_start >= ?", opts.Since)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetExportJob(ctx context.Context, jobID id.ExportJobID) (*export.Job, error) {
	m := new(exportJobModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", jobID.String()).
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
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
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
	res, err := s.sdb.NewUpdate((*exportJobModel)(nil)).
		Set("status = ?", string(export.StatusProcessing)).
		Set("worker_id = ?", workerID).
		Set("started_at = ?", at).
		Set("updated_at = ?", now()).
		Where("id = ?", jobID.String()).
		Where("status = ?", string(export.StatusQueued)).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
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
	q := s.sdb.NewUpdate((*exportJobModel)(nil)).
		Set("status = ?", string(to)).
		Set("result_location = ?", resultLocation).
		Set("error_reason = ?", reason).
		Set("completed_at = ?", at).
		Set("updated_at = ?", now()).
		Where("id = ?", jobID.String())
	if to == export.StatusFailed {
		// queued jobs may fail directly, e.g. on cancellation sweep
		q = q.Where("status IN (?, ?)",
			string(export.StatusQueued), string(export.StatusProcessing))
	} else {
		q = q.Where("status = ?", string(export.StatusProcessing))
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
	res, err := s.sdb.NewUpdate((*exportJobModel)(nil)).
		Set("status = ?", string(export.StatusFailed)).
		Set("error_reason = ?", reason).
		Set("completed_at = ?", at).
		Set("updated_at = ?", now()).
		Where("user_id = ?", userID).
		Where("status IN (?, ?)",
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
