package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/beautyon-app/beautyon/services/billing-service/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	calls int
	err   error
}

func (f *fakeSender) Send(_ context.Context, _ Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}

type fakeStore struct {
	credits map[string]int
	logs    []storage.EmailLogEntry
}

func newFakeStore(credits map[string]int) *fakeStore {
	return &fakeStore{credits: credits}
}

func (s *fakeStore) GetEmailCredits(_ context.Context, id string) (int, error) {
	return s.credits[id], nil
}

func (s *fakeStore) DecrementEmailCredits(_ context.Context, id string) (int, error) {
	if s.credits[id] <= 0 {
		return 0, storage.ErrCreditExhausted
	}
	s.credits[id]--
	return s.credits[id], nil
}

func (s *fakeStore) InsertEmailLog(_ context.Context, e storage.EmailLogEntry) error {
	s.logs = append(s.logs, e)
	return nil
}

func TestSendSpendsExactlyOneCredit(t *testing.T) {
	store := newFakeStore(map[string]int{"pro-1": 50})
	sender := &fakeSender{}
	gate := NewGate(store, sender, nil, discardLogger())

	res, err := gate.Send(context.Background(), "pro-1", Message{
		To:      "client@example.lt",
		Subject: "Booking confirmed",
	}, "booking_confirmation")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "msg-1" {
		t.Fatalf("MessageID = %q, want msg-1", res.MessageID)
	}
	if res.CreditsRemaining != 49 || store.credits["pro-1"] != 49 {
		t.Fatalf("credits = %d (result %d), want 49", store.credits["pro-1"], res.CreditsRemaining)
	}
	if len(store.logs) != 1 {
		t.Fatalf("logged %d entries, want 1", len(store.logs))
	}
	if store.logs[0].EmailType != "booking_confirmation" || store.logs[0].Recipient != "client@example.lt" {
		t.Fatalf("log entry = %+v", store.logs[0])
	}
}

func TestSendZeroBalanceNeverReachesProvider(t *testing.T) {
	store := newFakeStore(map[string]int{"pro-1": 0})
	sender := &fakeSender{}
	gate := NewGate(store, sender, nil, discardLogger())

	_, err := gate.Send(context.Background(), "pro-1", Message{To: "x@y.lt", Subject: "s"}, "reminder")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if sender.calls != 0 {
		t.Fatalf("provider called %d times with zero balance", sender.calls)
	}
	if len(store.logs) != 0 {
		t.Fatalf("logged %d entries for a refused send", len(store.logs))
	}
}

func TestSendProviderFailureLeavesBalanceUntouched(t *testing.T) {
	store := newFakeStore(map[string]int{"pro-1": 5})
	sender := &fakeSender{err: errors.New("provider 500")}
	gate := NewGate(store, sender, nil, discardLogger())

	_, err := gate.Send(context.Background(), "pro-1", Message{To: "x@y.lt", Subject: "s"}, "reminder")
	if err == nil {
		t.Fatal("Send succeeded despite provider failure")
	}
	if store.credits["pro-1"] != 5 {
		t.Fatalf("credits = %d, want untouched 5", store.credits["pro-1"])
	}
	if len(store.logs) != 0 {
		t.Fatalf("logged %d entries for a failed send", len(store.logs))
	}
}

func TestSendConcurrentExhaustionReportsZero(t *testing.T) {
	// The balance check passes, then another send drains the last credit
	// before the decrement lands. The email went out, so the send succeeds
	// and reports zero remaining.
	store := &drainedStore{fakeStore: newFakeStore(map[string]int{"pro-1": 1})}
	sender := &fakeSender{}
	gate := NewGate(store, sender, nil, discardLogger())

	res, err := gate.Send(context.Background(), "pro-1", Message{To: "x@y.lt", Subject: "s"}, "reminder")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.CreditsRemaining != 0 {
		t.Fatalf("CreditsRemaining = %d, want 0", res.CreditsRemaining)
	}
	if len(store.logs) != 1 {
		t.Fatalf("logged %d entries, want 1", len(store.logs))
	}
}

type drainedStore struct {
	*fakeStore
}

func (s *drainedStore) DecrementEmailCredits(_ context.Context, _ string) (int, error) {
	return 0, storage.ErrCreditExhausted
}
