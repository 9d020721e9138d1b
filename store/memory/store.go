// Package memory is the mutex-guarded in-memory Store implementation.
// It is the reference backend: every conditional primitive (quota
// increment, provider-event ordering, job claim) holds the store lock
// for the whole check-and-write, so its semantics define what the
// database backends must match.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/praxishq/entitle"
	"github.com/praxishq/entitle/export"
	"github.com/praxishq/entitle/id"
	"github.com/praxishq/entitle/subscription"
	"github.com/praxishq/entitle/types"
	"github.com/praxishq/entitle/usage"
)

type Store struct {
	mu sync.RWMutex

	// Subscription storage
	subscriptions map[string]*subscription.Record // by record id
	byUser        map[string]string               // userID -> non-canceled record id
	byProvider    map[string]string               // provider sub id -> record id
	customers     map[string]string               // userID -> provider customer id

	// Usage counters, keyed per (user, action, period start)
	counters map[usage.Key]*usage.Record

	// Export jobs
	jobs map[string]*export.Job
}

func New() *Store {
	return &Store{
		subscriptions: make(map[string]*subscription.Record),
		byUser:        make(map[string]string),
		byProvider:    make(map[string]string),
		customers:     make(map[string]string),
		counters:      make(map[usage.Key]*usage.Record),
		jobs:          make(map[string]*export.Job),
	}
}

// Subscription Store implementation

func (s *Store) CreateSubscription(_ context.Context, r *subscription.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[r.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	if !r.Status.Terminal() {
		if _, exists := s.byUser[r.UserID]; exists {
			return entitle.ErrAlreadyExists
		}
		s.byUser[r.UserID] = r.ID.String()
	}
	clone := *r
	s.subscriptions[r.ID.String()] = &clone
	if r.ProviderSubscriptionID != "" {
		s.byProvider[r.ProviderSubscriptionID] = r.ID.String()
	}
	if r.ProviderCustomerID != "" {
		if _, exists := s.customers[r.UserID]; !exists {
			s.customers[r.UserID] = r.ProviderCustomerID
		}
	}
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.subscriptions[subID.String()]; ok {
		clone := *r
		return &clone, nil
	}
	return nil, entitle.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionByUser(_ context.Context, userID string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getByUserLocked(userID)
}

func (s *Store) getByUserLocked(userID string) (*subscription.Record, error) {
	recID, ok := s.byUser[userID]
	if !ok {
		return nil, entitle.ErrSubscriptionNotFound
	}
	r, ok := s.subscriptions[recID]
	if !ok {
		return nil, entitle.ErrSubscriptionNotFound
	}
	clone := *r
	if cust, ok := s.customers[userID]; ok && clone.ProviderCustomerID == "" {
		clone.ProviderCustomerID = cust
	}
	return &clone, nil
}

func (s *Store) GetSubscriptionByProvider(_ context.Context, providerSubID string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recID, ok := s.byProvider[providerSubID]
	if !ok {
		return nil, entitle.ErrSubscriptionNotFound
	}
	if r, ok := s.subscriptions[recID]; ok {
		clone := *r
		return &clone, nil
	}
	return nil, entitle.ErrSubscriptionNotFound
}

func (s *Store) ListSubscriptions(_ context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Record, 0)
	for _, r := range s.subscriptions {
		if r.UserID != userID {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		clone := *r
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateSubscription(_ context.Context, r *subscription.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.subscriptions[r.ID.String()]
	if !exists {
		return entitle.ErrSubscriptionNotFound
	}

	// Keep the per-user and per-provider indexes coherent.
	if stored.ProviderSubscriptionID != "" && stored.ProviderSubscriptionID != r.ProviderSubscriptionID {
		delete(s.byProvider, stored.ProviderSubscriptionID)
	}
	if r.ProviderSubscriptionID != "" {
		s.byProvider[r.ProviderSubscriptionID] = r.ID.String()
	}
	if r.Status.Terminal() {
		if s.byUser[r.UserID] == r.ID.String() {
			delete(s.byUser, r.UserID)
		}
	} else {
		s.byUser[r.UserID] = r.ID.String()
	}

	clone := *r
	s.subscriptions[r.ID.String()] = &clone
	return nil
}

func (s *Store) CancelSubscription(_ context.Context, subID id.SubscriptionID, canceledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.subscriptions[subID.String()]
	if !exists {
		return entitle.ErrSubscriptionNotFound
	}
	if r.Status.Terminal() {
		return entitle.ErrSubscriptionCanceled
	}
	r.Status = subscription.StatusCanceled
	r.CanceledAt = &canceledAt
	r.Touch()
	if s.byUser[r.UserID] == r.ID.String() {
		delete(s.byUser, r.UserID)
	}
	return nil
}

func (s *Store) ApplyProviderState(_ context.Context, ev *subscription.ProviderEvent) (*subscription.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recID, ok := s.byProvider[ev.ProviderSubscriptionID]
	if !ok {
		return nil, entitle.ErrUnknownProviderSubscription
	}
	r := s.subscriptions[recID]

	// Provider timestamps are the ordering key: an event older than the
	// last applied one is at-least-once delivery noise.
	if ev.OccurredAt.Before(r.ProviderUpdatedAt) {
		return nil, entitle.ErrStaleEvent
	}

	r.Status = ev.Status
	r.CurrentPeriodStart = ev.PeriodStart
	r.CurrentPeriodEnd = ev.PeriodEnd
	r.ProviderUpdatedAt = ev.OccurredAt
	if ev.Status.Terminal() {
		if r.CanceledAt == nil {
			at := ev.OccurredAt
			r.CanceledAt = &at
		}
		if s.byUser[r.UserID] == r.ID.String() {
			delete(s.byUser, r.UserID)
		}
	} else {
		s.byUser[r.UserID] = r.ID.String()
	}
	r.Touch()

	clone := *r
	return &clone, nil
}

func (s *Store) SetCustomerID(_ context.Context, userID, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.customers[userID]; ok && existing != "" {
		return existing, nil
	}
	s.customers[userID] = customerID
	if recID, ok := s.byUser[userID]; ok {
		if r, ok := s.subscriptions[recID]; ok && r.ProviderCustomerID == "" {
			r.ProviderCustomerID = customerID
			r.Touch()
		}
	}
	return customerID, nil
}

func (s *Store) GetCustomerID(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customers[userID], nil
}

// Usage Store implementation

func (s *Store) IncrementUsage(_ context.Context, key usage.Key, periodEnd time.Time, limit int64) (*usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.counters[key]
	if !ok {
		rec = &usage.Record{
			ID:          id.NewUsageRecordID(),
			UserID:      key.UserID,
			Action:      key.Action,
			Count:       0,
			PeriodStart: key.PeriodStart,
			PeriodEnd:   periodEnd,
		}
		rec.Entity = types.NewEntity()
		s.counters[key] = rec
	}

	// The quota check and the increment commit under one lock: exactly
	// the attempts that were under quota at commit time succeed.
	if limit != usage.Unlimited && rec.Count >= limit {
		return nil, entitle.ErrQuotaExceeded
	}
	rec.Count++
	rec.Touch()

	clone := *rec
	return &clone, nil
}

func (s *Store) GetUsage(_ context.Context, key usage.Key) (*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.counters[key]; ok {
		clone := *rec
		return &clone, nil
	}
	// Untouched period: synthesize a zero-count record.
	return &usage.Record{
		UserID:      key.UserID,
		Action:      key.Action,
		Count:       0,
		PeriodStart: key.PeriodStart,
	}, nil
}

func (s *Store) ListUsage(_ context.Context, userID string, opts usage.QueryOpts) ([]*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*usage.Record, 0)
	for _, rec := range s.counters {
		if rec.UserID != userID {
			continue
		}
		if opts.Action != "" && rec.Action != opts.Action {
			continue
		}
		if !opts.Since.IsZero() && rec.PeriodStart.Before(opts.Since) {
			continue
		}
		clone := *rec
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PeriodStart.After(result[j].PeriodStart)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// Export job Store implementation

func (s *Store) CreateExportJob(_ context.Context, j *export.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	clone := *j
	s.jobs[j.ID.String()] = &clone
	return nil
}

func (s *Store) GetExportJob(_ context.Context, jobID id.ExportJobID) (*export.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if j, ok := s.jobs[jobID.String()]; ok {
		clone := *j
		return &clone, nil
	}
	return nil, entitle.ErrExportJobNotFound
}

func (s *Store) ListExportJobs(_ context.Context, userID string, opts export.ListOpts) ([]*export.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*export.Job, 0)
	for _, j := range s.jobs {
		if j.UserID != userID {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		clone := *j
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RequestedAt.After(result[j].RequestedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ClaimExportJob(_ context.Context, jobID id.ExportJobID, workerID string, at time.Time) (*export.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, entitle.ErrExportJobNotFound
	}
	// The status guard and the write happen under one lock, so at most
	// one claimer wins; everyone else sees a non-queued status.
	if j.Status != export.StatusQueued {
		return nil, entitle.ErrConflict
	}
	j.Status = export.StatusProcessing
	j.WorkerID = workerID
	j.StartedAt = &at
	j.Touch()

	clone := *j
	return &clone, nil
}

func (s *Store) CompleteExportJob(_ context.Context, jobID id.ExportJobID, resultLocation string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return entitle.ErrExportJobNotFound
	}
	if !export.CanTransition(j.Status, export.StatusCompleted) {
		return entitle.ErrConflict
	}
	j.Status = export.StatusCompleted
	j.ResultLocation = resultLocation
	j.CompletedAt = &at
	j.Touch()
	return nil
}

func (s *Store) FailExportJob(_ context.Context, jobID id.ExportJobID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return entitle.ErrExportJobNotFound
	}
	if !export.CanTransition(j.Status, export.StatusFailed) {
		return entitle.ErrConflict
	}
	j.Status = export.StatusFailed
	j.ErrorReason = reason
	j.CompletedAt = &at
	j.Touch()
	return nil
}

func (s *Store) FailActiveExportJobs(_ context.Context, userID, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed int64
	for _, j := range s.jobs {
		if j.UserID != userID || j.Status.Terminal() {
			continue
		}
		j.Status = export.StatusFailed
		j.ErrorReason = reason
		j.CompletedAt = &at
		j.Touch()
		failed++
	}
	return failed, nil
}

// Store management

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}

// Helper functions

func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
