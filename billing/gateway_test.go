package billing_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxishq/entitle/billing"
	"github.com/praxishq/entitle/store/memory"
	"github.com/praxishq/entitle/subscription"
	"github.com/praxishq/entitle/tier"
)

// fakeProvider counts calls and can be scripted to fail.
type fakeProvider struct {
	createCustomerCalls int32
	checkoutCalls       int32
	subscribeCalls      int32
	cancelCalls         int32
	invoiceCalls        int32

	failFirst int32 // fail this many calls before succeeding
	failAll   bool
}

var errProviderDown = errors.New("connection refused")

func (p *fakeProvider) maybeFail() error {
	if p.failAll {
		return errProviderDown
	}
	if atomic.AddInt32(&p.failFirst, -1) >= 0 {
		return errProviderDown
	}
	return nil
}

func (p *fakeProvider) CreateCustomer(_ context.Context, userID, _ string) (string, error) {
	atomic.AddInt32(&p.createCustomerCalls, 1)
	if err := p.maybeFail(); err != nil {
		return "", err
	}
	return "cus_" + userID, nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, customerID, priceID string) (string, error) {
	atomic.AddInt32(&p.checkoutCalls, 1)
	if err := p.maybeFail(); err != nil {
		return "", err
	}
	return "cs_" + customerID + "_" + priceID, nil
}

func (p *fakeProvider) CreateSubscription(_ context.Context, customerID, _ string) (string, error) {
	atomic.AddInt32(&p.subscribeCalls, 1)
	if err := p.maybeFail(); err != nil {
		return "", err
	}
	return "ps_" + customerID, nil
}

func (p *fakeProvider) CancelSubscription(context.Context, string) error {
	atomic.AddInt32(&p.cancelCalls, 1)
	return p.maybeFail()
}

func (p *fakeProvider) UpcomingInvoice(context.Context, string) (*billing.Invoice, error) {
	atomic.AddInt32(&p.invoiceCalls, 1)
	if err := p.maybeFail(); err != nil {
		return nil, err
	}
	return &billing.Invoice{}, nil
}

func (p *fakeProvider) ListPaymentMethods(context.Context, string) ([]billing.PaymentMethod, error) {
	if err := p.maybeFail(); err != nil {
		return nil, err
	}
	return []billing.PaymentMethod{{ID: "pm_1", Brand: "visa", Last4: "4242"}}, nil
}

// fakeSubs implements billing.CustomerStore: the customer id mapping
// with compare-and-set semantics.
type fakeSubs struct {
	mu        sync.Mutex
	customers map[string]string
}

var _ billing.CustomerStore = (*fakeSubs)(nil)

func newFakeSubs() *fakeSubs {
	return &fakeSubs{customers: make(map[string]string)}
}

func (s *fakeSubs) GetCustomerID(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customers[userID], nil
}

func (s *fakeSubs) SetCustomerID(_ context.Context, userID, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.customers[userID]; ok && existing != "" {
		return existing, nil
	}
	s.customers[userID] = customerID
	return customerID, nil
}

func newGateway(p billing.Provider, subs billing.CustomerStore, opts ...billing.Option) *billing.Gateway {
	base := []billing.Option{billing.WithRetryConfig(billing.RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	})}
	return billing.NewGateway(p, tier.DefaultCatalog(), subs, append(base, opts...)...)
}

func TestEnsureCustomerIdempotent(t *testing.T) {
	p := &fakeProvider{}
	g := newGateway(p, newFakeSubs())

	first, err := g.EnsureCustomer(context.Background(), "user_1", "a@b.test")
	require.NoError(t, err)
	second, err := g.EnsureCustomer(context.Background(), "user_1", "a@b.test")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.createCustomerCalls))
}

func TestEnsureCustomerConcurrent(t *testing.T) {
	p := &fakeProvider{}
	g := newGateway(p, newFakeSubs())

	const callers = 50
	results := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.EnsureCustomer(context.Background(), "user_1", "a@b.test")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&p.createCustomerCalls),
		"concurrent EnsureCustomer must create exactly one provider customer")
	for _, cid := range results {
		assert.Equal(t, results[0], cid)
	}
}

func TestEnsureCustomerFreshUser(t *testing.T) {
	// A first-checkout user has a customer mapping before any
	// subscription record exists. Run against the real memory store so
	// the no-record path is the one exercised.
	p := &fakeProvider{}
	g := newGateway(p, memory.New())

	first, err := g.EnsureCustomer(context.Background(), "user_fresh", "a@b.test")
	require.NoError(t, err)
	second, err := g.EnsureCustomer(context.Background(), "user_fresh", "a@b.test")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.createCustomerCalls),
		"repeat EnsureCustomer for a user without a subscription record must not create another provider customer")
}

func TestSyncHookSeesCallOutcomes(t *testing.T) {
	type outcome struct {
		op      string
		success bool
	}
	var mu sync.Mutex
	var outcomes []outcome
	hook := billing.WithSyncHook(func(_ context.Context, op string, success bool, _ error) {
		mu.Lock()
		outcomes = append(outcomes, outcome{op, success})
		mu.Unlock()
	})

	p := &fakeProvider{}
	g := newGateway(p, newFakeSubs(), hook)

	_, err := g.EnsureCustomer(context.Background(), "user_1", "a@b.test")
	require.NoError(t, err)

	p.failAll = true
	err = g.CancelSubscription(context.Background(), "ps_1")
	require.ErrorIs(t, err, billing.ErrProviderUnavailable)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 2)
	assert.Equal(t, outcome{"create_customer", true}, outcomes[0])
	assert.Equal(t, outcome{"cancel_subscription", false}, outcomes[1])
}

func TestCreateCheckoutSessionInvalidTier(t *testing.T) {
	g := newGateway(&fakeProvider{}, newFakeSubs())

	_, err := g.CreateCheckoutSession(context.Background(), "user_1", "a@b.test", "platinum", subscription.CadenceMonthly)
	assert.ErrorIs(t, err, billing.ErrInvalidTier)

	// Free tier has no provider price.
	_, err = g.CreateCheckoutSession(context.Background(), "user_1", "a@b.test", tier.Free, subscription.CadenceMonthly)
	assert.ErrorIs(t, err, billing.ErrInvalidTier)
}

func TestCreateCheckoutSessionRetriesOnce(t *testing.T) {
	p := &fakeProvider{}
	g := newGateway(p, newFakeSubs())

	// Ensure the customer first so the scripted failure hits the
	// checkout call, not customer creation.
	_, err := g.EnsureCustomer(context.Background(), "user_1", "a@b.test")
	require.NoError(t, err)

	atomic.StoreInt32(&p.failFirst, 1)
	sessionID, err := g.CreateCheckoutSession(context.Background(), "user_1", "a@b.test", tier.Solo, subscription.CadenceMonthly)
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.checkoutCalls))
}

func TestCheckoutSurfacedAfterRetry(t *testing.T) {
	p := &fakeProvider{failAll: true}
	g := newGateway(p, newFakeSubs())

	_, err := g.EnsureCustomer(context.Background(), "user_1", "a@b.test")
	assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
	// Mutations get exactly one attempt.
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.createCustomerCalls))
}

func TestMutationsNotRetried(t *testing.T) {
	p := &fakeProvider{failAll: true}
	subs := newFakeSubs()
	subs.customers["user_1"] = "cus_user_1"
	g := newGateway(p, subs)

	_, err := g.CreateSubscription(context.Background(), "cus_user_1", tier.Solo, subscription.CadenceAnnual)
	assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.subscribeCalls))

	err = g.CancelSubscription(context.Background(), "ps_1")
	assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.cancelCalls))
}

func TestReadsRetriedOnce(t *testing.T) {
	p := &fakeProvider{failFirst: 1}
	g := newGateway(p, newFakeSubs())

	inv, err := g.UpcomingInvoice(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.NotNil(t, inv)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.invoiceCalls))
}

func TestNotConfigured(t *testing.T) {
	g := billing.NewGateway(nil, tier.DefaultCatalog(), newFakeSubs())

	_, err := g.EnsureCustomer(context.Background(), "user_1", "a@b.test")
	assert.ErrorIs(t, err, billing.ErrNotConfigured)
}
