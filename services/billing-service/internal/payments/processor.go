package payments

import (
	"context"
	"errors"
	"time"
)

// ErrSubscriptionMissing reports that the processor no longer knows the
// subscription. Callers treat it as a recoverable precondition (stale local
// state), never as a hard upstream failure.
var ErrSubscriptionMissing = errors.New("subscription missing at payment processor")

// Processor-side subscription statuses this service branches on. Anything
// else (unpaid, incomplete, paused, ...) is treated as not entitled.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusCanceled = "canceled"
	StatusPastDue  = "past_due"
)

// Subscription is the slice of the processor's subscription object the
// billing service cares about.
type Subscription struct {
	ID                string
	CustomerID        string
	PriceID           string
	ItemID            string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	CreatedAt         time.Time
}

type CheckoutParams struct {
	CustomerID     string
	PriceID        string
	ProfessionalID string
	Plan           string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Processor abstracts the payment provider so orchestrators and tests never
// touch provider globals directly.
type Processor interface {
	GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
	// UpdateSubscriptionPrice swaps the subscription's single item to the new
	// price with prorated billing.
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID string, priceID string) (Subscription, error)
	// CancelAtPeriodEnd stops renewal but keeps the subscription active until
	// the current paid period ends.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (Subscription, error)
	// EnsureCustomer returns existingID when set, otherwise creates a customer
	// for the account's email and returns the new id.
	EnsureCustomer(ctx context.Context, existingID string, email string, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error)
}
