package subscriptions

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/beautyon-app/beautyon/services/billing-service/internal/payments"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/plan"
)

// Resolver answers "what plan is this subscription on right now".
type Resolver struct {
	proc   payments.Processor
	prices plan.PriceTable
	logger *slog.Logger
}

func NewResolver(proc payments.Processor, prices plan.PriceTable, logger *slog.Logger) *Resolver {
	return &Resolver{proc: proc, prices: prices, logger: logger}
}

// Resolve never returns an error: a missing subscription id yields the free
// default without any processor call, and a processor failure folds to the
// same default. The fold is logged distinctly so an outage does not look
// like a wave of expirations in the logs.
func (r *Resolver) Resolve(ctx context.Context, subscriptionID string, now time.Time) Status {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return FreeStatus()
	}

	sub, err := r.proc.GetSubscription(ctx, subscriptionID)
	if err != nil {
		r.logger.Warn("stripe status resolve failed; defaulting to free",
			"err", err,
			"stripe_subscription_id", subscriptionID,
		)
		return FreeStatus()
	}

	return Classify(sub, r.prices.PlanFor(sub.PriceID), now)
}
