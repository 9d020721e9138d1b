package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	entitle "github.com/praxishq/entitle"
	"github.com/praxishq/entitle/export"
	"github.com/praxishq/entitle/id"
	entitlestore "github.com/praxishq/entitle/store"
	"github.com/praxishq/entitle/subscription"
	"github.com/praxishq/entitle/usage"
)

// Collection name constants.
const (
	colSubscriptions = "entitle_subscriptions"
	colUsageCounters = "entitle_usage_counters"
	colExportJobs    = "entitle_export_jobs"
	colCustomers     = "entitle_customers"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Cross-process guarantees lean on single-document atomicity: the
// conditional quota increment and the export claim are each one
// findAndModify, and the reconciliation apply is guarded by the stored
// provider timestamp in its filter.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("entitle/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		// The partial unique index on user_id rejects a second live
		// record for the same user.
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Record, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.Record, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"user_id": userID,
			"status":  bson.M{"$ne": string(subscription.StatusCanceled)},
		}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription by user: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetSubscriptionByProvider(ctx context.Context, providerSubID string) (*subscription.Record, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"provider_subscription_id": providerSubID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription by provider: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Record, error) {
	var models []subscriptionModel

	filter := bson.M{"user_id": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list subscriptions: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, canceledAt time.Time) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{
			"_id":    subID.String(),
			"status": bson.M{"$ne": string(subscription.StatusCanceled)},
		}).
		Set("status", string(subscription.StatusCanceled)).
		Set("canceled_at", canceledAt).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: cancel subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetSubscription(ctx, subID); err != nil {
			return err
		}
		return entitle.ErrSubscriptionCanceled
	}
	return nil
}

func (s *Store) ApplyProviderState(ctx context.Context, ev *subscription.ProviderEvent) (*subscription.Record, error) {
	t := now()

	// Pipeline update so canceled_at is only stamped on the first
	// terminal transition. The provider_updated_at filter makes stale
	// and duplicate deliveries match nothing.
	update := bson.A{bson.M{"$set": bson.M{
		"status":               string(ev.Status),
		"current_period_start": ev.PeriodStart,
		"current_period_end":   ev.PeriodEnd,
		"provider_updated_at":  ev.OccurredAt,
		"updated_at":           t,
		"canceled_at": bson.M{"$cond": bson.A{
			bson.M{"$and": bson.A{
				ev.Status.Terminal(),
				bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$canceled_at", nil}}, nil}},
			}},
			ev.OccurredAt,
			"$canceled_at",
		}},
	}}}

	var m subscriptionModel
	err := s.mdb.Collection(colSubscriptions).FindOneAndUpdate(ctx,
		bson.M{
			"provider_subscription_id": ev.ProviderSubscriptionID,
			"provider_updated_at":      bson.M{"$lte": ev.OccurredAt},
		},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if !isNoDocuments(err) {
			return nil, fmt.Errorf("entitle/mongo: apply provider state: %w", err)
		}
		if _, err := s.GetSubscriptionByProvider(ctx, ev.ProviderSubscriptionID); err != nil {
			if entitle.IsNotFound(err) {
				return nil, entitle.ErrUnknownProviderSubscription
			}
			return nil, err
		}
		return nil, entitle.ErrStaleEvent
	}

	return fromSubscriptionModel(&m)
}

func (s *Store) SetCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	m := &customerModel{
		UserID:     userID,
		CustomerID: customerID,
		CreatedAt:  now(),
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		// First writer wins; a duplicate key here just means someone
		// else already mapped the user.
		if !mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("entitle/mongo: set customer id: %w", err)
		}
	}

	var winner customerModel
	err := s.mdb.NewFind(&winner).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		return "", fmt.Errorf("entitle/mongo: set customer id: %w", err)
	}

	// Backfill the live record so gateway reads see the mapping.
	_, err = s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{
			"user_id":              userID,
			"status":               bson.M{"$ne": string(subscription.StatusCanceled)},
			"provider_customer_id": "",
		}).
		Set("provider_customer_id", winner.CustomerID).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("entitle/mongo: set customer id: %w", err)
	}

	return winner.CustomerID, nil
}

func (s *Store) GetCustomerID(ctx context.Context, userID string) (string, error) {
	var m customerModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return "", nil
		}
		return "", fmt.Errorf("entitle/mongo: get customer id: %w", err)
	}
	return m.CustomerID, nil
}

// ==================== Usage Store ====================

func (s *Store) IncrementUsage(ctx context.Context, key usage.Key, periodEnd time.Time, limit int64) (*usage.Record, error) {
	t := now()

	filter := bson.M{
		"user_id":      key.UserID,
		"action":       string(key.Action),
		"period_start": key.PeriodStart,
	}
	if limit != usage.Unlimited {
		filter["count"] = bson.M{"$lt": limit}
	}

	update := bson.M{
		"$inc": bson.M{"count": int64(1)},
		"$set": bson.M{"updated_at": t},
		"$setOnInsert": bson.M{
			"_id":        id.NewUsageRecordID().String(),
			"period_end": periodEnd,
			"created_at": t,
		},
	}

	// The upsert races an at-quota document through the unique counter
	// index: the count filter rejects the existing document, the insert
	// path collides with it, and the duplicate key reads as a denial.
	var m usageCounterModel
	err := s.mdb.Collection(colUsageCounters).FindOneAndUpdate(ctx,
		filter,
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, entitle.ErrQuotaExceeded
		}
		return nil, fmt.Errorf("entitle/mongo: increment usage: %w", err)
	}

	return fromUsageCounterModel(&m)
}

func (s *Store) GetUsage(ctx context.Context, key usage.Key) (*usage.Record, error) {
	var m usageCounterModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"user_id":      key.UserID,
			"action":       string(key.Action),
			"period_start": key.PeriodStart,
		}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			// An untouched period reads as zero, not as an error.
			return &usage.Record{
				UserID:      key.UserID,
				Action:      key.Action,
				PeriodStart: key.PeriodStart,
			}, nil
		}
		return nil, fmt.Errorf("entitle/mongo: get usage: %w", err)
	}
	return fromUsageCounterModel(&m)
}

func (s *Store) ListUsage(ctx context.Context, userID string, opts usage.QueryOpts) ([]*usage.Record, error) {
	var models []usageCounterModel

	filter := bson.M{"user_id": userID}
	if opts.Action != "" {
		filter["action"] = string(opts.Action)
	}
	if !opts.Since.IsZero() {
		filter["period_start"] = bson.M{"$gte": opts.Since}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "period_start", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list usage: %w", err)
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: create export job: %w", err)
	}
	return nil
}

func (s *Store) GetExportJob(ctx context.Context, jobID id.ExportJobID) (*export.Job, error) {
	var m exportJobModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": jobID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrExportJobNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get export job: %w", err)
	}
	return fromExportJobModel(&m)
}

func (s *Store) ListExportJobs(ctx context.Context, userID string, opts export.ListOpts) ([]*export.Job, error) {
	var models []exportJobModel

	filter := bson.M{"user_id": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "requested_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list export jobs: %w", err)
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
	var m exportJobModel
	err := s.mdb.Collection(colExportJobs).FindOneAndUpdate(ctx,
		bson.M{
			"_id":    jobID.String(),
			"status": string(export.StatusQueued),
		},
		bson.M{"$set": bson.M{
			"status":     string(export.StatusProcessing),
			"worker_id":  workerID,
			"started_at": at,
			"updated_at": now(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if !isNoDocuments(err) {
			return nil, fmt.Errorf("entitle/mongo: claim export job: %w", err)
		}
		// The job exists but someone else got there first, or it is
		// already terminal.
		if _, err := s.GetExportJob(ctx, jobID); err != nil {
			return nil, err
		}
		return nil, entitle.ErrConflict
	}
	return fromExportJobModel(&m)
}

func (s *Store) CompleteExportJob(ctx context.Context, jobID id.ExportJobID, resultLocation string, at time.Time) error {
	return s.finishExportJob(ctx, jobID, export.StatusCompleted, resultLocation, "", at)
}

func (s *Store) FailExportJob(ctx context.Context, jobID id.ExportJobID, reason string, at time.Time) error {
	return s.finishExportJob(ctx, jobID, export.StatusFailed, "", reason, at)
}

func (s *Store) finishExportJob(ctx context.Context, jobID id.ExportJobID, to export.Status, resultLocation, reason string, at time.Time) error {
	var from interface{} = string(export.StatusProcessing)
	if to == export.StatusFailed {
		// queued jobs may fail directly, e.g. on cancellation sweep
		from = bson.M{"$in": []string{
			string(export.StatusQueued),
			string(export.StatusProcessing),
		}}
	}

	res, err := s.mdb.NewUpdate((*exportJobModel)(nil)).
		Filter(bson.M{"_id": jobID.String(), "status": from}).
		Set("status", string(to)).
		Set("result_location", resultLocation).
		Set("error_reason", reason).
		Set("completed_at", at).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: finish export job: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetExportJob(ctx, jobID); err != nil {
			return err
		}
		return entitle.ErrConflict
	}
	return nil
}

func (s *Store) FailActiveExportJobs(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	res, err := s.mdb.Collection(colExportJobs).UpdateMany(ctx,
		bson.M{
			"user_id": userID,
			"status": bson.M{"$in": []string{
				string(export.StatusQueued),
				string(export.StatusProcessing),
			}},
		},
		bson.M{"$set": bson.M{
			"status":       string(export.StatusFailed),
			"error_reason": reason,
			"completed_at": at,
			"updated_at":   now(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: fail active export jobs: %w", err)
	}
	return res.ModifiedCount, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSubscriptions: {
			{
				// One live record per user; canceled history stays.
				Keys: bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
					"status": bson.M{"$in": bson.A{
						string(subscription.StatusActive),
						string(subscription.StatusPastDue),
					}},
				}),
			},
			{
				Keys: bson.D{{Key: "provider_subscription_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
					"provider_subscription_id": bson.M{"$gt": ""},
				}),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colUsageCounters: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "action", Value: 1}, {Key: "period_start", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colExportJobs: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "requested_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "requested_at", Value: 1}}},
		},
		colCustomers: {},
	}
}
