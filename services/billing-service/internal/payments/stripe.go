package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v79/customer"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"
)

// StripeProcessor implements Processor against Stripe.
type StripeProcessor struct {
	secretKey string
}

func NewStripeProcessor(secretKey string) *StripeProcessor {
	return &StripeProcessor{secretKey: strings.TrimSpace(secretKey)}
}

var _ Processor = (*StripeProcessor)(nil)

func (p *StripeProcessor) GetSubscription(_ context.Context, subscriptionID string) (Subscription, error) {
	stripe.Key = p.secretKey
	sub, err := stripesubscription.Get(subscriptionID, nil)
	if err != nil {
		return Subscription{}, mapStripeErr("get subscription", err)
	}
	return FromStripeSubscription(sub), nil
}

func (p *StripeProcessor) UpdateSubscriptionPrice(_ context.Context, subscriptionID string, priceID string) (Subscription, error) {
	stripe.Key = p.secretKey
	sub, err := stripesubscription.Get(subscriptionID, nil)
	if err != nil {
		return Subscription{}, mapStripeErr("get subscription", err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return Subscription{}, fmt.Errorf("subscription %s has no items", subscriptionID)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	updated, err := stripesubscription.Update(subscriptionID, params)
	if err != nil {
		return Subscription{}, mapStripeErr("update subscription", err)
	}
	return FromStripeSubscription(updated), nil
}

func (p *StripeProcessor) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (Subscription, error) {
	stripe.Key = p.secretKey
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	updated, err := stripesubscription.Update(subscriptionID, params)
	if err != nil {
		return Subscription{}, mapStripeErr("cancel subscription at period end", err)
	}
	return FromStripeSubscription(updated), nil
}

func (p *StripeProcessor) EnsureCustomer(_ context.Context, existingID string, email string, name string) (string, error) {
	if strings.TrimSpace(existingID) != "" {
		return existingID, nil
	}
	stripe.Key = p.secretKey
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if strings.TrimSpace(name) != "" {
		params.Name = stripe.String(name)
	}
	cust, err := stripecustomer.New(params)
	if err != nil {
		return "", mapStripeErr("create customer", err)
	}
	return cust.ID, nil
}

func (p *StripeProcessor) CreateCheckoutSession(_ context.Context, cp CheckoutParams) (CheckoutSession, error) {
	stripe.Key = p.secretKey
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(cp.SuccessURL),
		CancelURL:         stripe.String(cp.CancelURL),
		ClientReferenceID: stripe.String(cp.ProfessionalID),
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(cp.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"professional_id": cp.ProfessionalID,
			"plan":            cp.Plan,
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"professional_id": cp.ProfessionalID,
				"plan":            cp.Plan,
			},
		},
	}
	if strings.TrimSpace(cp.CustomerID) != "" {
		params.Customer = stripe.String(cp.CustomerID)
	}
	if strings.TrimSpace(cp.IdempotencyKey) != "" {
		params.IdempotencyKey = stripe.String(cp.IdempotencyKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return CheckoutSession{}, mapStripeErr("create checkout session", err)
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// FromStripeSubscription maps Stripe's subscription shape onto the local one.
func FromStripeSubscription(sub *stripe.Subscription) Subscription {
	out := Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		out.ItemID = sub.Items.Data[0].ID
		if sub.Items.Data[0].Price != nil {
			out.PriceID = sub.Items.Data[0].Price.ID
		}
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Created > 0 {
		out.CreatedAt = time.Unix(sub.Created, 0).UTC()
	}
	return out
}

func mapStripeErr(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
		return fmt.Errorf("%s: %w", op, ErrSubscriptionMissing)
	}
	return fmt.Errorf("%s: %w", op, err)
}
