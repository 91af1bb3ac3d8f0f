package sweep

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/beautyon-app/beautyon/services/billing-service/internal/outbox"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/storage"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/subscriptions"
)

// Store is the slice of the repository the sweep needs. Each method commits
// individually; the sweep relies on the ListExpiredAccounts filter no longer
// matching once an account has been downgraded.
type Store interface {
	ListExpiredAccounts(ctx context.Context, now time.Time, limit int) ([]storage.Account, error)
	DowngradeAccount(ctx context.Context, professionalID string, status string) error
	CloseOpenHistory(ctx context.Context, professionalID string, endedAt time.Time) error
	SetEmailCredits(ctx context.Context, professionalID string, balance int) error
	DeactivateExtraStaff(ctx context.Context, professionalID string) (int64, error)
}

// Sweeper downgrades accounts whose paid period has lapsed without a
// renewal. It runs on a ticker and on demand via the admin endpoint; two
// overlapping runs are harmless because a downgraded account falls out of
// the filter and repeat writes produce the same terminal values.
type Sweeper struct {
	store       Store
	events      subscriptions.EventRecorder
	logger      *slog.Logger
	batchSize   int
	concurrency int
}

type Config struct {
	BatchSize   int
	Concurrency int
}

func New(store Store, events subscriptions.EventRecorder, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Sweeper{
		store:       store,
		events:      events,
		logger:      logger,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}
}

type AccountResult struct {
	ProfessionalID string `json:"professionalId"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

type Result struct {
	TotalProcessed int             `json:"totalProcessed"`
	Succeeded      int             `json:"succeeded"`
	Failed         int             `json:"failed"`
	Results        []AccountResult `json:"results"`
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to catch up after downtime.
	s.sweepAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	res, err := s.SweepOnce(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("expiry sweep failed", "err", err)
		return
	}
	if res.TotalProcessed > 0 {
		s.logger.Info("expiry sweep finished",
			"total", res.TotalProcessed, "succeeded", res.Succeeded, "failed", res.Failed)
	}
}

// SweepOnce downgrades every matching account, isolating per-account
// failures so one broken row cannot stall the rest of the batch.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (Result, error) {
	accounts, err := s.store.ListExpiredAccounts(ctx, now, s.batchSize)
	if err != nil {
		return Result{}, err
	}

	results := make([]AccountResult, len(accounts))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i, acct := range accounts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, acct storage.Account) {
			defer wg.Done()
			defer func() { <-sem }()

			res := AccountResult{ProfessionalID: acct.ID, Success: true}
			if err := s.expireAccount(ctx, acct, now); err != nil {
				res.Success = false
				res.Error = err.Error()
				s.logger.Warn("expiry sweep: account failed", "err", err, "professional_id", acct.ID)
			}
			results[i] = res
		}(i, acct)
	}
	wg.Wait()

	out := Result{TotalProcessed: len(accounts), Results: results}
	for _, r := range results {
		if r.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out, nil
}

func (s *Sweeper) expireAccount(ctx context.Context, acct storage.Account, now time.Time) error {
	if err := s.store.DowngradeAccount(ctx, acct.ID, storage.StatusInactive); err != nil {
		return err
	}
	if err := s.store.CloseOpenHistory(ctx, acct.ID, now); err != nil {
		return err
	}
	if err := s.store.SetEmailCredits(ctx, acct.ID, 0); err != nil {
		return err
	}
	deactivated, err := s.store.DeactivateExtraStaff(ctx, acct.ID)
	if err != nil {
		return err
	}
	if deactivated > 0 {
		s.logger.Info("expiry sweep: staff deactivated", "professional_id", acct.ID, "count", deactivated)
	}

	if s.events != nil {
		payload, err := json.Marshal(map[string]any{
			"professional_id": acct.ID,
			"previous_plan":   acct.Plan,
			"plan":            "free",
			"expired_at":      now.Format(time.RFC3339),
		})
		if err == nil {
			if err := s.events.Record(ctx, outbox.Event{
				AggregateType: "professional_account",
				AggregateID:   acct.ID,
				EventType:     outbox.EventPlanDowngraded,
				Payload:       payload,
			}); err != nil {
				s.logger.Error("expiry sweep: record event failed", "err", err, "professional_id", acct.ID)
			}
		}
	}
	return nil
}
