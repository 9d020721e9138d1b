package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/praxishq/entitle/subscription"
	"github.com/praxishq/entitle/tier"
)

const defaultCallTimeout = 10 * time.Second

// CustomerStore is the slice of storage the gateway needs: the
// provider customer id mapping. The engine's unified store satisfies it.
// The mapping is looked up directly, not through the subscription
// record: a first-checkout user has a mapping before any record exists.
type CustomerStore interface {
	GetCustomerID(ctx context.Context, userID string) (string, error)
	SetCustomerID(ctx context.Context, userID, customerID string) (string, error)
}

// SyncHook observes the outcome of every outbound provider call.
type SyncHook func(ctx context.Context, operation string, success bool, err error)

// Gateway wraps a Provider with the policies the engine requires:
// idempotent customer creation serialized per user, bounded timeouts, a
// single retry for calls that are safe to repeat, no retry for billing
// mutations, and provider-call rate limiting.
type Gateway struct {
	provider Provider
	catalog  *tier.Catalog
	subs     CustomerStore
	logger   *slog.Logger

	limiter     *rate.Limiter
	callTimeout time.Duration
	retry       RetryConfig
	syncHook    SyncHook

	// userLocks serializes ensure-customer per user so concurrent calls
	// never create duplicate provider customers.
	userLocks sync.Map // userID -> *sync.Mutex
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

// WithRateLimit caps outbound provider calls at rps with the given
// burst. Zero rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithSyncHook observes every provider call outcome, after retries are
// exhausted. Used by the engine to feed metrics and audit plugins.
func WithSyncHook(hook SyncHook) Option {
	return func(g *Gateway) {
		g.syncHook = hook
	}
}

// WithRetryConfig overrides the retry budget for repeat-safe calls.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(g *Gateway) {
		if cfg.MaxAttempts > 0 {
			g.retry = cfg
		}
	}
}

// NewGateway builds a Gateway over provider. The catalog resolves tier
// price identifiers; subs persists the customer id mapping.
func NewGateway(provider Provider, catalog *tier.Catalog, subs CustomerStore, opts ...Option) *Gateway {
	g := &Gateway{
		provider:    provider,
		catalog:     catalog,
		subs:        subs,
		logger:      slog.Default(),
		callTimeout: defaultCallTimeout,
		retry:       DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureCustomer returns the provider customer id for a user, creating
// one exactly once. Concurrent calls for the same user serialize on a
// per-user lock; the stored mapping is written compare-and-set, so even
// a racing writer from another process yields a single winning id.
func (g *Gateway) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	if g.provider == nil {
		return "", ErrNotConfigured
	}

	muAny, _ := g.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	existing, err := g.subs.GetCustomerID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("billing: read customer mapping: %w", err)
	}
	if existing != "" {
		return existing, nil
	}

	var customerID string
	err = g.call(ctx, "create_customer", false, func(callCtx context.Context) error {
		var callErr error
		customerID, callErr = g.provider.CreateCustomer(callCtx, userID, email)
		return callErr
	})
	if err != nil {
		return "", err
	}

	winner, err := g.subs.SetCustomerID(ctx, userID, customerID)
	if err != nil {
		return "", fmt.Errorf("billing: persist customer mapping: %w", err)
	}
	if winner != customerID {
		// Another writer raced us outside this process. Keep theirs.
		g.logger.Warn("duplicate provider customer created",
			"user_id", userID,
			"kept", winner,
			"orphaned", customerID)
	}
	return winner, nil
}

// CreateCheckoutSession starts a hosted checkout for a tier and cadence.
// The price is resolved through the catalog; an unknown tier or a tier
// without a price for the cadence fails with ErrInvalidTier. The
// provider call is retried once with backoff before surfacing
// ErrProviderUnavailable.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, userID, email, tierID string, cadence subscription.Cadence) (string, error) {
	if g.provider == nil {
		return "", ErrNotConfigured
	}

	t, err := g.catalog.Get(tierID)
	if err != nil {
		return "", fmt.Errorf("%w: tier %q", ErrInvalidTier, tierID)
	}
	priceID := t.PriceID(cadence == subscription.CadenceAnnual)
	if priceID == "" {
		return "", fmt.Errorf("%w: tier %q has no %s price", ErrInvalidTier, tierID, cadence)
	}

	customerID, err := g.EnsureCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}

	var sessionID string
	err = g.call(ctx, "create_checkout_session", true, func(callCtx context.Context) error {
		var callErr error
		sessionID, callErr = g.provider.CreateCheckoutSession(callCtx, customerID, priceID)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// CreateSubscription subscribes a customer to a tier's price. Billing
// mutations are never retried silently; a duplicate charge is worse
// than a surfaced failure.
func (g *Gateway) CreateSubscription(ctx context.Context, customerID, tierID string, cadence subscription.Cadence) (string, error) {
	if g.provider == nil {
		return "", ErrNotConfigured
	}

	t, err := g.catalog.Get(tierID)
	if err != nil {
		return "", fmt.Errorf("%w: tier %q", ErrInvalidTier, tierID)
	}
	priceID := t.PriceID(cadence == subscription.CadenceAnnual)
	if priceID == "" {
		return "", fmt.Errorf("%w: tier %q has no %s price", ErrInvalidTier, tierID, cadence)
	}

	var providerSubID string
	err = g.call(ctx, "create_subscription", false, func(callCtx context.Context) error {
		var callErr error
		providerSubID, callErr = g.provider.CreateSubscription(callCtx, customerID, priceID)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return providerSubID, nil
}

// CancelSubscription cancels a provider subscription. Not retried.
func (g *Gateway) CancelSubscription(ctx context.Context, providerSubID string) error {
	if g.provider == nil {
		return ErrNotConfigured
	}
	return g.call(ctx, "cancel_subscription", false, func(callCtx context.Context) error {
		return g.provider.CancelSubscription(callCtx, providerSubID)
	})
}

// UpcomingInvoice returns the customer's next invoice preview.
// Read-only, retried once.
func (g *Gateway) UpcomingInvoice(ctx context.Context, customerID string) (*Invoice, error) {
	if g.provider == nil {
		return nil, ErrNotConfigured
	}
	var inv *Invoice
	err := g.call(ctx, "upcoming_invoice", true, func(callCtx context.Context) error {
		var callErr error
		inv, callErr = g.provider.UpcomingInvoice(callCtx, customerID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListPaymentMethods returns the customer's stored payment methods.
// Read-only, retried once.
func (g *Gateway) ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error) {
	if g.provider == nil {
		return nil, ErrNotConfigured
	}
	var methods []PaymentMethod
	err := g.call(ctx, "list_payment_methods", true, func(callCtx context.Context) error {
		var callErr error
		methods, callErr = g.provider.ListPaymentMethods(callCtx, customerID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return methods, nil
}

// call runs one provider operation under the rate limiter and call
// timeout. retryOnce enables the bounded retry budget; mutations pass
// false and get exactly one attempt. Provider failures surface as
// ErrProviderUnavailable with the cause attached. The sync hook sees
// the final outcome, not individual attempts.
func (g *Gateway) call(ctx context.Context, op string, retryOnce bool, fn func(ctx context.Context) error) error {
	attempt := func() error {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		return fn(callCtx)
	}

	var err error
	if retryOnce {
		err = withRetry(ctx, g.retry, attempt)
	} else {
		err = attempt()
	}
	if g.syncHook != nil {
		g.syncHook(ctx, op, err == nil, err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Error("provider call failed", "operation", op, "error", err)
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}
