// Package billing is the gateway to the external payment provider. The
// engine consumes the provider only through the narrow Provider
// contract; wire-level details (HTTP, webhooks, signatures) belong to
// the adapter implementing it.
package billing

import (
	"context"
	"time"

	"github.com/praxishq/entitle/types"
)

// Provider is the narrow contract over the external payment provider.
// Implementations wrap the provider SDK; the gateway adds idempotency,
// timeouts, retry policy, and rate limiting on top.
type Provider interface {
	// CreateCustomer creates a provider customer for a user and returns
	// the provider customer id.
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	// CreateCheckoutSession starts a hosted checkout for a price and
	// returns the session id.
	CreateCheckoutSession(ctx context.Context, customerID, priceID string) (string, error)
	// CreateSubscription subscribes a customer to a price and returns
	// the provider subscription id.
	CreateSubscription(ctx context.Context, customerID, priceID string) (string, error)
	// CancelSubscription cancels a provider subscription.
	CancelSubscription(ctx context.Context, providerSubID string) error
	// UpcomingInvoice returns the customer's next invoice preview.
	UpcomingInvoice(ctx context.Context, customerID string) (*Invoice, error)
	// ListPaymentMethods returns the customer's stored payment methods.
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
}

// Invoice is a provider invoice preview.
type Invoice struct {
	AmountDue   types.Money `json:"amount_due"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	DueAt       time.Time   `json:"due_at"`
}

// PaymentMethod is a stored provider payment method.
type PaymentMethod struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	Default  bool   `json:"default"`
}
