package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beautyon-app/beautyon/services/billing-service/internal/outbox"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/storage"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/subscriptions"
)

// ErrInsufficientCredits refuses a send before the provider is contacted.
var ErrInsufficientCredits = errors.New("insufficient email credits")

// Sender dispatches one transactional email and returns the provider's
// message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type Message struct {
	To          string
	Subject     string
	HTMLContent string
}

// Store is the slice of the repository the gate needs.
type Store interface {
	GetEmailCredits(ctx context.Context, professionalID string) (int, error)
	DecrementEmailCredits(ctx context.Context, professionalID string) (int, error)
	InsertEmailLog(ctx context.Context, e storage.EmailLogEntry) error
}

// Gate enforces the credit balance around the transactional email provider:
// check before sending, decrement only after the provider confirmed, log
// only attempted successes.
type Gate struct {
	store  Store
	sender Sender
	events subscriptions.EventRecorder
	logger *slog.Logger
}

func NewGate(store Store, sender Sender, events subscriptions.EventRecorder, logger *slog.Logger) *Gate {
	return &Gate{store: store, sender: sender, events: events, logger: logger}
}

type SendResult struct {
	MessageID        string
	CreditsRemaining int
}

func (g *Gate) Send(ctx context.Context, professionalID string, msg Message, emailType string) (SendResult, error) {
	balance, err := g.store.GetEmailCredits(ctx, professionalID)
	if err != nil {
		return SendResult{}, err
	}
	if balance < 1 {
		return SendResult{}, ErrInsufficientCredits
	}

	messageID, err := g.sender.Send(ctx, msg)
	if err != nil {
		// Provider failure: no balance change, no usage record.
		return SendResult{}, fmt.Errorf("send email: %w", err)
	}

	remaining, err := g.store.DecrementEmailCredits(ctx, professionalID)
	if err != nil {
		if errors.Is(err, storage.ErrCreditExhausted) {
			// A concurrent send spent the last credit between our check and
			// the decrement. The email already went out; report zero left.
			remaining = 0
		} else {
			return SendResult{}, err
		}
	}

	now := time.Now().UTC()
	if err := g.store.InsertEmailLog(ctx, storage.EmailLogEntry{
		ProfessionalID: professionalID,
		Recipient:      msg.To,
		Subject:        msg.Subject,
		EmailType:      emailType,
		MessageID:      messageID,
		SentAt:         now,
	}); err != nil {
		return SendResult{}, err
	}

	if g.events != nil {
		payload, mErr := json.Marshal(map[string]any{
			"professional_id":   professionalID,
			"email_type":        emailType,
			"message_id":        messageID,
			"credits_remaining": remaining,
			"sent_at":           now.Format(time.RFC3339),
		})
		if mErr == nil {
			if err := g.events.Record(ctx, outbox.Event{
				AggregateType: "professional_account",
				AggregateID:   professionalID,
				EventType:     outbox.EventEmailSent,
				Payload:       payload,
			}); err != nil {
				g.logger.Error("record email event failed", "err", err, "professional_id", professionalID)
			}
		}
	}

	return SendResult{MessageID: messageID, CreditsRemaining: remaining}, nil
}
