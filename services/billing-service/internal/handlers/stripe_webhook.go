package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/beautyon-app/beautyon/services/billing-service/internal/payments"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/storage"
)

const maxWebhookBodyBytes = 1 << 16

// StripeWebhook keeps the local account state in step with Stripe. Every
// delivery is recorded first so replays and duplicate sends are acknowledged
// without reprocessing.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	event, err := webhook.ConstructEventWithTolerance(payload, r.Header.Get("Stripe-Signature"), h.cfg.StripeWebhookSecret, h.cfg.StripeWebhookTolerance)
	if err != nil {
		h.logger.Warn("stripe webhook: signature verification failed", "err", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if err := h.webhooks.InsertProviderEvent(r.Context(), storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		Payload:         event.Data.Raw,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("stripe webhook: duplicate delivery ignored", "event_id", event.ID, "event_type", event.Type)
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
		h.logger.Error("stripe webhook: record event failed", "err", err, "event_id", event.ID)
		writeError(w, http.StatusInternalServerError, "failed to record event")
		return
	}

	if err := h.handleStripeEvent(r, event); err != nil {
		h.logger.Error("stripe webhook: handling failed", "err", err, "event_id", event.ID, "event_type", event.Type)
		writeError(w, http.StatusInternalServerError, "failed to process event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *Handler) handleStripeEvent(r *http.Request, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.onCheckoutCompleted(r, event)
	case "customer.subscription.updated":
		return h.onSubscriptionUpdated(r, event)
	case "customer.subscription.deleted":
		return h.onSubscriptionDeleted(r, event)
	default:
		h.logger.Debug("stripe webhook: event type ignored", "event_type", event.Type)
		return nil
	}
}

func (h *Handler) onCheckoutCompleted(r *http.Request, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return err
	}

	professionalID := sess.Metadata["professional_id"]
	if professionalID == "" {
		professionalID = sess.ClientReferenceID
	}
	if professionalID == "" {
		h.logger.Warn("stripe webhook: checkout session without professional reference", "session_id", sess.ID)
		return nil
	}

	sub := payments.Subscription{}
	if sess.Subscription != nil {
		sub.ID = sess.Subscription.ID
	}
	if sess.Customer != nil {
		sub.CustomerID = sess.Customer.ID
	}

	planName := sess.Metadata["plan"]
	// Prefer live subscription state when it can be fetched: it carries the
	// period end and the authoritative price.
	if sub.ID != "" {
		if live, err := h.svc.Processor().GetSubscription(r.Context(), sub.ID); err == nil {
			sub = live
			if p := h.svc.Prices().PlanFor(live.PriceID); p != "free" {
				planName = p
			}
		} else {
			h.logger.Warn("stripe webhook: fetch subscription after checkout failed",
				"err", err, "stripe_subscription_id", sub.ID)
		}
	}

	return h.svc.Activate(r.Context(), professionalID, sub, planName, time.Unix(event.Created, 0).UTC())
}

func (h *Handler) onSubscriptionUpdated(r *http.Request, event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return err
	}

	professionalID := stripeSub.Metadata["professional_id"]
	if professionalID == "" {
		h.logger.Warn("stripe webhook: subscription without professional metadata", "stripe_subscription_id", stripeSub.ID)
		return nil
	}

	sub := payments.FromStripeSubscription(&stripeSub)
	switch sub.Status {
	case payments.StatusActive, payments.StatusTrialing:
		planName := stripeSub.Metadata["plan"]
		if p := h.svc.Prices().PlanFor(sub.PriceID); p != "free" {
			planName = p
		}
		return h.svc.Activate(r.Context(), professionalID, sub, planName, time.Unix(event.Created, 0).UTC())
	case payments.StatusCanceled:
		return h.svc.Downgrade(r.Context(), professionalID)
	default:
		// past_due and friends: leave local state alone, Stripe retries the
		// payment and sends a follow-up event either way.
		h.logger.Info("stripe webhook: subscription update left unapplied",
			"stripe_subscription_id", stripeSub.ID, "status", sub.Status)
		return nil
	}
}

func (h *Handler) onSubscriptionDeleted(r *http.Request, event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return err
	}

	professionalID := stripeSub.Metadata["professional_id"]
	if professionalID == "" {
		h.logger.Warn("stripe webhook: deleted subscription without professional metadata", "stripe_subscription_id", stripeSub.ID)
		return nil
	}
	return h.svc.Downgrade(r.Context(), professionalID)
}
