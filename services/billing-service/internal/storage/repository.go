package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/beautyon-app/beautyon/libs/db"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrCreditExhausted is returned when a decrement would take the balance
	// below zero. The balance is never allowed to go negative.
	ErrCreditExhausted = errors.New("email credit balance exhausted")
	// ErrDuplicateProviderEvent marks an already-processed webhook delivery.
	ErrDuplicateProviderEvent = errors.New("duplicate provider event")
)

// Account subscription statuses. Only the orchestrators and the sweep write
// these fields.
const (
	StatusActive              = "active"
	StatusCanceledAtPeriodEnd = "canceled_at_period_end"
	StatusPastDue             = "past_due"
	StatusInactive            = "inactive"
	StatusExpired             = "expired"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type Account struct {
	ID                   string
	Email                string
	Name                 string
	Plan                 string
	SubscriptionStatus   string
	StripeCustomerID     string
	StripeSubscriptionID string
	SubscriptionEnd      *time.Time
	WillRenew            bool
	UpdatedAt            time.Time
}

func (r *Repository) GetAccount(ctx context.Context, professionalID string) (Account, error) {
	var a Account
	var end *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, email, COALESCE(name, ''), plan, subscription_status,
		       COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
		       subscription_end, will_renew, updated_at
		FROM professional_accounts
		WHERE id = $1
	`, professionalID).Scan(&a.ID, &a.Email, &a.Name, &a.Plan, &a.SubscriptionStatus,
		&a.StripeCustomerID, &a.StripeSubscriptionID, &end, &a.WillRenew, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.SubscriptionEnd = end
	return a, nil
}

func (r *Repository) SetStripeCustomerID(ctx context.Context, professionalID string, customerID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE professional_accounts
		SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1
	`, professionalID, customerID)
	return err
}

type ActivationParams struct {
	ProfessionalID       string
	Plan                 string
	StripeCustomerID     string
	StripeSubscriptionID string
	SubscriptionEnd      *time.Time
	WillRenew            bool
}

func (r *Repository) ActivateSubscription(ctx context.Context, p ActivationParams) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE professional_accounts
		SET plan = $2,
		    subscription_status = $3,
		    stripe_customer_id = COALESCE(NULLIF($4, ''), stripe_customer_id),
		    stripe_subscription_id = NULLIF($5, ''),
		    subscription_end = $6,
		    will_renew = $7,
		    updated_at = now()
		WHERE id = $1
	`, p.ProfessionalID, p.Plan, StatusActive, p.StripeCustomerID, p.StripeSubscriptionID, p.SubscriptionEnd, p.WillRenew)
	return err
}

func (r *Repository) SetCanceledAtPeriodEnd(ctx context.Context, professionalID string) error {
	// Plan and end date stay untouched: paid features last until the period
	// completes.
	_, err := r.pool.Exec(ctx, `
		UPDATE professional_accounts
		SET subscription_status = $2, will_renew = false, updated_at = now()
		WHERE id = $1
	`, professionalID, StatusCanceledAtPeriodEnd)
	return err
}

// DowngradeAccount moves an account to the free tier. Safe to re-run: the
// second run writes the same terminal values.
func (r *Repository) DowngradeAccount(ctx context.Context, professionalID string, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE professional_accounts
		SET plan = 'free',
		    subscription_status = $2,
		    stripe_subscription_id = NULL,
		    subscription_end = NULL,
		    will_renew = false,
		    updated_at = now()
		WHERE id = $1
	`, professionalID, status)
	return err
}

// ListExpiredAccounts returns active paid accounts whose period end has
// passed. The filter itself is the sweep's idempotency guard: a downgraded
// account no longer matches.
func (r *Repository) ListExpiredAccounts(ctx context.Context, now time.Time, limit int) ([]Account, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, email, COALESCE(name, ''), plan, subscription_status,
		       COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
		       subscription_end, will_renew, updated_at
		FROM professional_accounts
		WHERE subscription_status = $1
		  AND plan <> 'free'
		  AND subscription_end IS NOT NULL
		  AND subscription_end < $2
		ORDER BY subscription_end
		LIMIT $3
	`, StatusActive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		var end *time.Time
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.Plan, &a.SubscriptionStatus,
			&a.StripeCustomerID, &a.StripeSubscriptionID, &end, &a.WillRenew, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.SubscriptionEnd = end
		out = append(out, a)
	}
	return out, rows.Err()
}

type HistoryEntry struct {
	ID             string
	ProfessionalID string
	Plan           string
	Status         string
	StartedAt      time.Time
	EndedAt        *time.Time
}

func (r *Repository) InsertHistory(ctx context.Context, e HistoryEntry) error {
	id := e.ID
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subscription_history (id, professional_id, plan, status, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, e.ProfessionalID, e.Plan, e.Status, e.StartedAt, e.EndedAt)
	return err
}

// CloseOpenHistory sets the end timestamp on the account's open history
// entry, if any. A no-op when nothing is open, so re-runs are harmless.
func (r *Repository) CloseOpenHistory(ctx context.Context, professionalID string, endedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE subscription_history
		SET ended_at = $2
		WHERE professional_id = $1 AND ended_at IS NULL
	`, professionalID, endedAt)
	return err
}

func (r *Repository) GetEmailCredits(ctx context.Context, professionalID string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `
		SELECT balance FROM email_credits WHERE professional_id = $1
	`, professionalID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

func (r *Repository) SetEmailCredits(ctx context.Context, professionalID string, balance int) error {
	if balance < 0 {
		balance = 0
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_credits (professional_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (professional_id)
		DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()
	`, professionalID, balance)
	return err
}

// DecrementEmailCredits takes exactly one credit and returns the remaining
// balance. The WHERE guard keeps the balance from ever going negative even
// under concurrent sends.
func (r *Repository) DecrementEmailCredits(ctx context.Context, professionalID string) (int, error) {
	var remaining int
	err := r.pool.QueryRow(ctx, `
		UPDATE email_credits
		SET balance = balance - 1, updated_at = now()
		WHERE professional_id = $1 AND balance > 0
		RETURNING balance
	`, professionalID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCreditExhausted
		}
		return 0, err
	}
	return remaining, nil
}

type EmailLogEntry struct {
	ID             string
	ProfessionalID string
	Recipient      string
	Subject        string
	EmailType      string
	MessageID      string
	SentAt         time.Time
}

func (r *Repository) InsertEmailLog(ctx context.Context, e EmailLogEntry) error {
	id := e.ID
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_usage (id, professional_id, recipient, subject, email_type, provider_message_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, e.ProfessionalID, e.Recipient, e.Subject, e.EmailType, nullIfEmpty(e.MessageID), e.SentAt)
	return err
}

// DeactivateExtraStaff marks every staff member except the earliest-created
// one inactive (the free tier allows exactly one). Staff are never deleted.
func (r *Repository) DeactivateExtraStaff(ctx context.Context, professionalID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE staff
		SET active = false, updated_at = now()
		WHERE professional_id = $1
		  AND active
		  AND id <> (
		    SELECT id FROM staff
		    WHERE professional_id = $1
		    ORDER BY created_at, id
		    LIMIT 1
		  )
	`, professionalID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) CountActiveServices(ctx context.Context, professionalID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM services WHERE professional_id = $1 AND active
	`, professionalID).Scan(&n)
	return n, err
}

func (r *Repository) CountGalleryPhotos(ctx context.Context, professionalID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM gallery_photos WHERE professional_id = $1
	`, professionalID).Scan(&n)
	return n, err
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

// InsertProviderEvent records a webhook delivery; replays surface as
// ErrDuplicateProviderEvent and must be acknowledged without reprocessing.
func (r *Repository) InsertProviderEvent(ctx context.Context, evt ProviderEvent) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, evt.Payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
