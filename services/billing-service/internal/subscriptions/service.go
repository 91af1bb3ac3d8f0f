package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/beautyon-app/beautyon/services/billing-service/internal/outbox"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/payments"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/plan"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/storage"
)

var (
	// ErrNoSubscription means the account has no processor subscription on
	// record; there is nothing to cancel.
	ErrNoSubscription = errors.New("no subscription to cancel")
)

// StatusError rejects a cancellation from a processor status it is not
// defined for (anything other than active or canceled).
type StatusError struct {
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot cancel subscription in status %q", e.Status)
}

// Store is the slice of the billing repository the orchestrators need. Every
// method commits individually; each is safe to re-run after a crash between
// steps.
type Store interface {
	GetAccount(ctx context.Context, professionalID string) (storage.Account, error)
	SetStripeCustomerID(ctx context.Context, professionalID string, customerID string) error
	ActivateSubscription(ctx context.Context, p storage.ActivationParams) error
	SetCanceledAtPeriodEnd(ctx context.Context, professionalID string) error
	DowngradeAccount(ctx context.Context, professionalID string, status string) error
	InsertHistory(ctx context.Context, e storage.HistoryEntry) error
	CloseOpenHistory(ctx context.Context, professionalID string, endedAt time.Time) error
	SetEmailCredits(ctx context.Context, professionalID string, balance int) error
}

// EventRecorder appends a domain event for asynchronous fan-out.
type EventRecorder interface {
	Record(ctx context.Context, evt outbox.Event) error
}

// Service holds the subscription state transitions shared by the HTTP
// handlers, the Stripe webhook, and the expiry sweep.
type Service struct {
	store  Store
	proc   payments.Processor
	prices plan.PriceTable
	events EventRecorder
	logger *slog.Logger
}

func New(store Store, proc payments.Processor, prices plan.PriceTable, events EventRecorder, logger *slog.Logger) *Service {
	return &Service{store: store, proc: proc, prices: prices, events: events, logger: logger}
}

// Processor exposes the payment processor for callers that need direct reads,
// such as the webhook enriching an event with live subscription state.
func (s *Service) Processor() payments.Processor { return s.proc }

// Prices exposes the price-to-plan mapping.
func (s *Service) Prices() plan.PriceTable { return s.prices }

type CheckoutRequest struct {
	ProfessionalID string
	PriceID        string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutResult reports which of the two paths ran: Updated means the
// existing subscription was swapped in place and no checkout session exists.
type CheckoutResult struct {
	SessionID string
	URL       string
	Updated   bool
}

// Checkout creates or changes a subscription. An account with a live
// processor subscription gets an in-place price swap with proration so the
// professional never re-enters card details; any failure on that path is
// recoverable and falls through to a fresh hosted checkout session.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	acct, err := s.store.GetAccount(ctx, req.ProfessionalID)
	if err != nil {
		return CheckoutResult{}, err
	}

	customerID, err := s.proc.EnsureCustomer(ctx, acct.StripeCustomerID, acct.Email, acct.Name)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("ensure customer: %w", err)
	}
	if customerID != acct.StripeCustomerID {
		if err := s.store.SetStripeCustomerID(ctx, acct.ID, customerID); err != nil {
			return CheckoutResult{}, err
		}
	}

	if strings.TrimSpace(acct.StripeSubscriptionID) != "" {
		updated, ok := s.tryPlanSwap(ctx, acct, req.PriceID)
		if ok {
			if err := s.Activate(ctx, acct.ID, updated, s.prices.PlanFor(req.PriceID), time.Now().UTC()); err != nil {
				return CheckoutResult{}, err
			}
			return CheckoutResult{URL: req.SuccessURL, Updated: true}, nil
		}
		// Recoverable: fall through to a fresh checkout session.
	}

	sess, err := s.proc.CreateCheckoutSession(ctx, payments.CheckoutParams{
		CustomerID:     customerID,
		PriceID:        req.PriceID,
		ProfessionalID: acct.ID,
		Plan:           s.prices.PlanFor(req.PriceID),
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("create checkout session: %w", err)
	}
	return CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// tryPlanSwap attempts the in-place update path. Any processor error here is
// recoverable by design: the caller creates a new checkout session instead.
func (s *Service) tryPlanSwap(ctx context.Context, acct storage.Account, priceID string) (payments.Subscription, bool) {
	sub, err := s.proc.GetSubscription(ctx, acct.StripeSubscriptionID)
	if err != nil {
		s.logger.Warn("plan swap: fetch existing subscription failed; falling back to checkout",
			"err", err, "professional_id", acct.ID, "stripe_subscription_id", acct.StripeSubscriptionID)
		return payments.Subscription{}, false
	}
	if sub.Status != payments.StatusActive && sub.Status != payments.StatusTrialing {
		s.logger.Info("plan swap: existing subscription not active; falling back to checkout",
			"professional_id", acct.ID, "subscription_status", sub.Status)
		return payments.Subscription{}, false
	}

	updated, err := s.proc.UpdateSubscriptionPrice(ctx, sub.ID, priceID)
	if err != nil {
		s.logger.Warn("plan swap: in-place update failed; falling back to checkout",
			"err", err, "professional_id", acct.ID, "stripe_subscription_id", sub.ID)
		return payments.Subscription{}, false
	}
	return updated, true
}

type CancelResult struct {
	Message    string
	PeriodEnd  *time.Time
	Downgraded bool
}

// Cancel transitions an active subscription to cancel-at-period-end, or
// cleans up stale local state when the processor side is already gone.
func (s *Service) Cancel(ctx context.Context, professionalID string) (CancelResult, error) {
	acct, err := s.store.GetAccount(ctx, professionalID)
	if err != nil {
		return CancelResult{}, err
	}
	if strings.TrimSpace(acct.StripeSubscriptionID) == "" {
		return CancelResult{}, ErrNoSubscription
	}

	sub, err := s.proc.GetSubscription(ctx, acct.StripeSubscriptionID)
	if err != nil {
		if errors.Is(err, payments.ErrSubscriptionMissing) {
			// The remote subscription no longer exists; the local record must
			// not keep pointing at it.
			if err := s.Downgrade(ctx, acct.ID); err != nil {
				return CancelResult{}, err
			}
			return CancelResult{Message: "subscription no longer exists; account downgraded to free", Downgraded: true}, nil
		}
		return CancelResult{}, fmt.Errorf("fetch subscription: %w", err)
	}

	switch sub.Status {
	case payments.StatusCanceled:
		// Idempotent cleanup of stale local state.
		if err := s.Downgrade(ctx, acct.ID); err != nil {
			return CancelResult{}, err
		}
		return CancelResult{Message: "subscription already canceled; account downgraded to free", Downgraded: true}, nil

	case payments.StatusActive, payments.StatusTrialing:
		updated, err := s.proc.CancelAtPeriodEnd(ctx, sub.ID)
		if err != nil {
			return CancelResult{}, fmt.Errorf("cancel at period end: %w", err)
		}
		if err := s.store.SetCanceledAtPeriodEnd(ctx, acct.ID); err != nil {
			return CancelResult{}, err
		}
		res := CancelResult{Message: "subscription will cancel at period end"}
		if !updated.CurrentPeriodEnd.IsZero() {
			end := updated.CurrentPeriodEnd
			res.PeriodEnd = &end
		}
		return res, nil

	default:
		return CancelResult{}, &StatusError{Status: sub.Status}
	}
}

// Downgrade forces the account onto the free tier immediately: plan and
// status reset, subscription id cleared, open history closed, credits
// zeroed. Every step is a harmless repeat when re-run.
func (s *Service) Downgrade(ctx context.Context, professionalID string) error {
	now := time.Now().UTC()
	if err := s.store.DowngradeAccount(ctx, professionalID, storage.StatusExpired); err != nil {
		return err
	}
	if err := s.store.CloseOpenHistory(ctx, professionalID, now); err != nil {
		return err
	}
	if err := s.store.SetEmailCredits(ctx, professionalID, 0); err != nil {
		return err
	}
	s.recordEvent(ctx, outbox.EventPlanDowngraded, professionalID, map[string]any{
		"professional_id": professionalID,
		"plan":            plan.Free,
		"downgraded_at":   now.Format(time.RFC3339),
	})
	return nil
}

// Activate applies a paid plan to the account: used by the Stripe webhook on
// checkout completion and by the in-place plan swap. Resets email credits to
// the plan's allocation and opens a fresh history period.
func (s *Service) Activate(ctx context.Context, professionalID string, sub payments.Subscription, planName string, occurredAt time.Time) error {
	limits := plan.LimitsFor(planName)

	if err := s.store.CloseOpenHistory(ctx, professionalID, occurredAt); err != nil {
		return err
	}

	var periodEnd *time.Time
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		periodEnd = &end
	}
	if err := s.store.ActivateSubscription(ctx, storage.ActivationParams{
		ProfessionalID:       professionalID,
		Plan:                 limits.Plan,
		StripeCustomerID:     sub.CustomerID,
		StripeSubscriptionID: sub.ID,
		SubscriptionEnd:      periodEnd,
		WillRenew:            !sub.CancelAtPeriodEnd,
	}); err != nil {
		return err
	}

	if err := s.store.SetEmailCredits(ctx, professionalID, limits.EmailCredits); err != nil {
		return err
	}

	if err := s.store.InsertHistory(ctx, storage.HistoryEntry{
		ProfessionalID: professionalID,
		Plan:           limits.Plan,
		Status:         storage.StatusActive,
		StartedAt:      occurredAt,
	}); err != nil {
		return err
	}

	s.recordEvent(ctx, outbox.EventPlanActivated, professionalID, map[string]any{
		"professional_id": professionalID,
		"plan":            limits.Plan,
		"email_credits":   limits.EmailCredits,
		"activated_at":    occurredAt.Format(time.RFC3339),
	})
	return nil
}

// recordEvent is best-effort: the store is the source of truth and a lost
// event must not fail the state transition it describes.
func (s *Service) recordEvent(ctx context.Context, eventType string, professionalID string, payload map[string]any) {
	if s.events == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal outbox payload", "err", err, "event_type", eventType)
		return
	}
	if err := s.events.Record(ctx, outbox.Event{
		AggregateType: "professional_account",
		AggregateID:   professionalID,
		EventType:     eventType,
		Payload:       raw,
	}); err != nil {
		s.logger.Error("record outbox event", "err", err, "event_type", eventType, "professional_id", professionalID)
	}
}
