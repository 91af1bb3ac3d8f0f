package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beautyon-app/beautyon/libs/auth"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/email"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/plan"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/storage"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/subscriptions"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/sweep"
)

// AccountReader is the read-only slice of the repository the handlers use
// directly (lookups and limit validation).
type AccountReader interface {
	GetAccount(ctx context.Context, professionalID string) (storage.Account, error)
	CountActiveServices(ctx context.Context, professionalID string) (int, error)
	CountGalleryPhotos(ctx context.Context, professionalID string) (int, error)
}

// WebhookStore records provider event deliveries for replay protection.
type WebhookStore interface {
	InsertProviderEvent(ctx context.Context, evt storage.ProviderEvent) error
}

type Handler struct {
	accounts AccountReader
	webhooks WebhookStore
	svc      *subscriptions.Service
	resolver *subscriptions.Resolver
	gate     *email.Gate
	sweeper  *sweep.Sweeper
	logger   *slog.Logger
	cfg      Config
}

type Config struct {
	JWTSecret              string
	InternalToken          string
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	DefaultSuccessURL      string
	DefaultCancelURL       string
	Prices                 plan.PriceTable
}

func New(accounts AccountReader, webhooks WebhookStore, svc *subscriptions.Service, resolver *subscriptions.Resolver, gate *email.Gate, sweeper *sweep.Sweeper, logger *slog.Logger, cfg Config) *Handler {
	if cfg.StripeWebhookTolerance <= 0 {
		cfg.StripeWebhookTolerance = 5 * time.Minute
	}
	return &Handler{
		accounts: accounts,
		webhooks: webhooks,
		svc:      svc,
		resolver: resolver,
		gate:     gate,
		sweeper:  sweeper,
		logger:   logger,
		cfg:      cfg,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/billing/plans", h.Plans)
	mux.HandleFunc("/api/v1/billing/checkout", h.Checkout)
	mux.HandleFunc("/api/v1/billing/subscription/cancel", h.CancelSubscription)
	mux.HandleFunc("/api/v1/billing/subscription/downgrade", h.DowngradeSubscription)
	mux.HandleFunc("/api/v1/billing/subscription/status", h.SubscriptionStatus)
	mux.HandleFunc("/api/v1/billing/limits/validate", h.ValidateLimit)
	mux.HandleFunc("/api/v1/billing/email/send", h.SendEmail)
	mux.HandleFunc("/api/v1/billing/sweep", h.RunSweep)
	mux.HandleFunc("/api/v1/billing/webhooks/stripe", h.StripeWebhook)
}

// callerIdentity resolves the requesting professional from the bearer token.
// When no JWT secret is configured (local development), the X-Professional-Id
// header stands in for a verified token.
func (h *Handler) callerIdentity(r *http.Request) (professionalID string, role string, ok bool) {
	if strings.TrimSpace(h.cfg.JWTSecret) == "" {
		id := strings.TrimSpace(r.Header.Get("X-Professional-Id"))
		return id, strings.TrimSpace(r.Header.Get("X-Role")), id != ""
	}
	token, found := auth.BearerToken(r.Header.Get("Authorization"))
	if !found {
		return "", "", false
	}
	claims, err := auth.VerifyHS256(token, h.cfg.JWTSecret)
	if err != nil {
		return "", "", false
	}
	return claims.ProfessionalID, claims.Role, claims.ProfessionalID != "" || claims.Role == "admin"
}

func (h *Handler) isInternalCall(r *http.Request) bool {
	tok := strings.TrimSpace(h.cfg.InternalToken)
	return tok != "" && r.Header.Get("X-Internal-Token") == tok
}

// Plans is the public pricing catalog: per-tier limits, rank, and the Stripe
// price id the checkout endpoint expects.
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	plans := make([]map[string]any, 0, 4)
	for _, name := range []string{plan.Free, plan.Starteris, plan.Pro, plan.Bizness} {
		plans = append(plans, map[string]any{
			"limits":  plan.LimitsFor(name),
			"tier":    plan.TierRank(name),
			"priceId": h.cfg.Prices.PriceFor(name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

type checkoutRequest struct {
	PriceID        string `json:"priceId"`
	ProfessionalID string `json:"professionalId,omitempty"` // admin only
	SuccessURL     string `json:"successUrl,omitempty"`
	CancelURL      string `json:"cancelUrl,omitempty"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	callerID, role, ok := h.callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.PriceID = strings.TrimSpace(req.PriceID)
	if req.PriceID == "" {
		writeError(w, http.StatusBadRequest, "priceId is required")
		return
	}

	professionalID := callerID
	if role == "admin" && strings.TrimSpace(req.ProfessionalID) != "" {
		professionalID = strings.TrimSpace(req.ProfessionalID)
	}
	if professionalID == "" {
		writeError(w, http.StatusBadRequest, "professional context missing")
		return
	}

	successURL := strings.TrimSpace(req.SuccessURL)
	if successURL == "" {
		successURL = h.cfg.DefaultSuccessURL
	}
	cancelURL := strings.TrimSpace(req.CancelURL)
	if cancelURL == "" {
		cancelURL = h.cfg.DefaultCancelURL
	}
	if successURL == "" || cancelURL == "" {
		writeError(w, http.StatusBadRequest, "successUrl and cancelUrl are required")
		return
	}

	res, err := h.svc.Checkout(r.Context(), subscriptions.CheckoutRequest{
		ProfessionalID: professionalID,
		PriceID:        req.PriceID,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "professional profile not found")
			return
		}
		h.logger.Error("checkout failed", "err", err, "professional_id", professionalID)
		writeError(w, http.StatusInternalServerError, "payment processor error")
		return
	}

	resp := map[string]any{
		"sessionId": nil,
		"url":       res.URL,
	}
	if res.SessionID != "" {
		resp["sessionId"] = res.SessionID
	}
	if res.Updated {
		resp["subscriptionUpdated"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	professionalID, _, ok := h.callerIdentity(r)
	if !ok || professionalID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	res, err := h.svc.Cancel(r.Context(), professionalID)
	if err != nil {
		var statusErr *subscriptions.StatusError
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "professional profile not found")
		case errors.Is(err, subscriptions.ErrNoSubscription):
			writeError(w, http.StatusBadRequest, "no subscription to cancel")
		case errors.As(err, &statusErr):
			writeError(w, http.StatusBadRequest, statusErr.Error())
		default:
			h.logger.Error("cancel failed", "err", err, "professional_id", professionalID)
			writeError(w, http.StatusInternalServerError, "failed to cancel subscription")
		}
		return
	}

	resp := map[string]any{
		"success": true,
		"message": res.Message,
	}
	if res.PeriodEnd != nil {
		resp["periodEnd"] = res.PeriodEnd.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DowngradeSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	professionalID, _, ok := h.callerIdentity(r)
	if !ok || professionalID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if _, err := h.accounts.GetAccount(r.Context(), professionalID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "professional profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	if err := h.svc.Downgrade(r.Context(), professionalID); err != nil {
		h.logger.Error("downgrade failed", "err", err, "professional_id", professionalID)
		writeError(w, http.StatusInternalServerError, "failed to downgrade")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "account downgraded to free plan",
	})
}

// SubscriptionStatus always answers 200: processor failures fold to the
// free-plan default so dependent UI can render.
func (h *Handler) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	subscriptionID := strings.TrimSpace(r.URL.Query().Get("stripeSubscriptionId"))
	if subscriptionID == "" {
		subscriptionID = strings.TrimSpace(r.URL.Query().Get("subscription_id"))
	}

	st := h.resolver.Resolve(r.Context(), subscriptionID, time.Now().UTC())
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) ValidateLimit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resourceType := strings.TrimSpace(r.URL.Query().Get("type"))
	professionalID := strings.TrimSpace(r.URL.Query().Get("professionalId"))
	if r.Method == http.MethodPost {
		var body struct {
			Type           string `json:"type"`
			ProfessionalID string `json:"professionalId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			if body.Type != "" {
				resourceType = strings.TrimSpace(body.Type)
			}
			if body.ProfessionalID != "" {
				professionalID = strings.TrimSpace(body.ProfessionalID)
			}
		}
	}
	if professionalID == "" {
		writeError(w, http.StatusBadRequest, "professionalId is required")
		return
	}

	acct, err := h.accounts.GetAccount(r.Context(), professionalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "professional profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	limits := plan.LimitsFor(acct.Plan)

	var current, max int
	switch resourceType {
	case "service":
		current, err = h.accounts.CountActiveServices(r.Context(), professionalID)
		max = limits.MaxServices
	case "gallery":
		current, err = h.accounts.CountGalleryPhotos(r.Context(), professionalID)
		max = limits.MaxGalleryPhotos
	default:
		writeError(w, http.StatusBadRequest, "type must be one of: service, gallery")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count resources")
		return
	}

	canAdd := max == plan.Unlimited || current < max
	writeJSON(w, http.StatusOK, map[string]any{
		"canAdd":       canAdd,
		"currentCount": current,
		"maxCount":     max,
		"plan":         limits.Plan,
	})
}

type sendEmailRequest struct {
	ProfessionalID string `json:"professionalId"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	HTMLContent    string `json:"htmlContent"`
	EmailType      string `json:"emailType"`
}

func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	callerID, role, ok := h.callerIdentity(r)
	if !ok && !h.isInternalCall(r) {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req sendEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.ProfessionalID = strings.TrimSpace(req.ProfessionalID)
	req.To = strings.TrimSpace(req.To)
	if req.ProfessionalID == "" {
		req.ProfessionalID = callerID
	}
	if req.ProfessionalID == "" || req.To == "" || strings.TrimSpace(req.Subject) == "" {
		writeError(w, http.StatusBadRequest, "professionalId, to and subject are required")
		return
	}
	if !h.isInternalCall(r) && role != "admin" && callerID != req.ProfessionalID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	res, err := h.gate.Send(r.Context(), req.ProfessionalID, email.Message{
		To:          req.To,
		Subject:     req.Subject,
		HTMLContent: req.HTMLContent,
	}, req.EmailType)
	if err != nil {
		if errors.Is(err, email.ErrInsufficientCredits) {
			writeError(w, http.StatusForbidden, "insufficient email credits")
			return
		}
		h.logger.Error("email send failed", "err", err, "professional_id", req.ProfessionalID)
		writeError(w, http.StatusInternalServerError, "email provider error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"messageId":        res.MessageID,
		"creditsRemaining": res.CreditsRemaining,
	})
}

func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	_, role, ok := h.callerIdentity(r)
	if !h.isInternalCall(r) && (!ok || role != "admin") {
		writeError(w, http.StatusUnauthorized, "admin or internal token required")
		return
	}

	res, err := h.sweeper.SweepOnce(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("sweep failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to query expired subscriptions")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}
