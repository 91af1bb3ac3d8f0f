package subscriptions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/beautyon-app/beautyon/services/billing-service/internal/outbox"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/payments"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/plan"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProcessor struct {
	subs map[string]payments.Subscription

	getErr    error
	updateErr error
	cancelErr error

	getCalls      int
	updateCalls   int
	cancelCalls   int
	customerCalls int
	sessionCalls  int

	lastUpdatePriceID string
	sessionParams     payments.CheckoutParams
	sessionErr        error
}

func (f *fakeProcessor) GetSubscription(_ context.Context, id string) (payments.Subscription, error) {
	f.getCalls++
	if f.getErr != nil {
		return payments.Subscription{}, f.getErr
	}
	sub, ok := f.subs[id]
	if !ok {
		return payments.Subscription{}, payments.ErrSubscriptionMissing
	}
	return sub, nil
}

func (f *fakeProcessor) UpdateSubscriptionPrice(_ context.Context, id string, priceID string) (payments.Subscription, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return payments.Subscription{}, f.updateErr
	}
	sub := f.subs[id]
	sub.PriceID = priceID
	sub.CancelAtPeriodEnd = false
	f.subs[id] = sub
	f.lastUpdatePriceID = priceID
	return sub, nil
}

func (f *fakeProcessor) CancelAtPeriodEnd(_ context.Context, id string) (payments.Subscription, error) {
	f.cancelCalls++
	if f.cancelErr != nil {
		return payments.Subscription{}, f.cancelErr
	}
	sub := f.subs[id]
	sub.CancelAtPeriodEnd = true
	f.subs[id] = sub
	return sub, nil
}

func (f *fakeProcessor) EnsureCustomer(_ context.Context, existingID string, _ string, _ string) (string, error) {
	f.customerCalls++
	if existingID != "" {
		return existingID, nil
	}
	return "cus_new", nil
}

func (f *fakeProcessor) CreateCheckoutSession(_ context.Context, p payments.CheckoutParams) (payments.CheckoutSession, error) {
	f.sessionCalls++
	f.sessionParams = p
	if f.sessionErr != nil {
		return payments.CheckoutSession{}, f.sessionErr
	}
	return payments.CheckoutSession{ID: "cs_test", URL: "https://checkout.example/cs_test"}, nil
}

type fakeStore struct {
	accounts map[string]storage.Account
	credits  map[string]int
	history  []storage.HistoryEntry

	closedHistory  int
	activateCalls  int
	downgradeCalls int

	getErr error
}

func newFakeStore(accounts ...storage.Account) *fakeStore {
	s := &fakeStore{
		accounts: make(map[string]storage.Account),
		credits:  make(map[string]int),
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *fakeStore) GetAccount(_ context.Context, id string) (storage.Account, error) {
	if s.getErr != nil {
		return storage.Account{}, s.getErr
	}
	a, ok := s.accounts[id]
	if !ok {
		return storage.Account{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) SetStripeCustomerID(_ context.Context, id string, customerID string) error {
	a := s.accounts[id]
	a.StripeCustomerID = customerID
	s.accounts[id] = a
	return nil
}

func (s *fakeStore) ActivateSubscription(_ context.Context, p storage.ActivationParams) error {
	s.activateCalls++
	a := s.accounts[p.ProfessionalID]
	a.Plan = p.Plan
	a.SubscriptionStatus = storage.StatusActive
	if p.StripeCustomerID != "" {
		a.StripeCustomerID = p.StripeCustomerID
	}
	a.StripeSubscriptionID = p.StripeSubscriptionID
	a.SubscriptionEnd = p.SubscriptionEnd
	a.WillRenew = p.WillRenew
	s.accounts[p.ProfessionalID] = a
	return nil
}

func (s *fakeStore) SetCanceledAtPeriodEnd(_ context.Context, id string) error {
	a := s.accounts[id]
	a.SubscriptionStatus = storage.StatusCanceledAtPeriodEnd
	a.WillRenew = false
	s.accounts[id] = a
	return nil
}

func (s *fakeStore) DowngradeAccount(_ context.Context, id string, status string) error {
	s.downgradeCalls++
	a := s.accounts[id]
	a.Plan = plan.Free
	a.SubscriptionStatus = status
	a.StripeSubscriptionID = ""
	a.SubscriptionEnd = nil
	a.WillRenew = false
	s.accounts[id] = a
	return nil
}

func (s *fakeStore) InsertHistory(_ context.Context, e storage.HistoryEntry) error {
	s.history = append(s.history, e)
	return nil
}

func (s *fakeStore) CloseOpenHistory(_ context.Context, _ string, _ time.Time) error {
	s.closedHistory++
	return nil
}

func (s *fakeStore) SetEmailCredits(_ context.Context, id string, balance int) error {
	if balance < 0 {
		balance = 0
	}
	s.credits[id] = balance
	return nil
}

type eventSink struct {
	events []outbox.Event
}

func (e *eventSink) Record(_ context.Context, evt outbox.Event) error {
	e.events = append(e.events, evt)
	return nil
}

func TestCheckoutNewSubscriberGetsHostedSession(t *testing.T) {
	store := newFakeStore(storage.Account{ID: "pro-1", Email: "a@b.lt", Plan: plan.Free})
	proc := &fakeProcessor{subs: map[string]payments.Subscription{}}
	svc := New(store, proc, testPrices(), &eventSink{}, discardLogger())

	res, err := svc.Checkout(context.Background(), CheckoutRequest{
		ProfessionalID: "pro-1",
		PriceID:        "price_pro",
		SuccessURL:     "https://app/success",
		CancelURL:      "https://app/cancel",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Updated {
		t.Fatal("Updated = true, want hosted session for a new subscriber")
	}
	if res.SessionID != "cs_test" || res.URL == "" {
		t.Fatalf("unexpected session result %+v", res)
	}
	if proc.sessionParams.Plan != plan.Pro {
		t.Fatalf("session plan = %q, want %q", proc.sessionParams.Plan, plan.Pro)
	}
	if store.accounts["pro-1"].StripeCustomerID != "cus_new" {
		t.Fatalf("customer id not persisted: %+v", store.accounts["pro-1"])
	}
	if proc.updateCalls != 0 {
		t.Fatalf("update called %d times without an existing subscription", proc.updateCalls)
	}
}

func TestCheckoutExistingSubscriberSwapsInPlace(t *testing.T) {
	end := testNow.Add(20 * 24 * time.Hour)
	store := newFakeStore(storage.Account{
		ID: "pro-1", Email: "a@b.lt", Plan: plan.Starteris,
		StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1",
	})
	proc := &fakeProcessor{subs: map[string]payments.Subscription{
		"sub_1": {ID: "sub_1", CustomerID: "cus_1", Status: payments.StatusActive, PriceID: "price_starteris", CurrentPeriodEnd: end},
	}}
	events := &eventSink{}
	svc := New(store, proc, testPrices(), events, discardLogger())

	res, err := svc.Checkout(context.Background(), CheckoutRequest{
		ProfessionalID: "pro-1",
		PriceID:        "price_pro",
		SuccessURL:     "https://app/success",
		CancelURL:      "https://app/cancel",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !res.Updated {
		t.Fatal("Updated = false, want in-place swap")
	}
	if res.URL != "https://app/success" {
		t.Fatalf("URL = %q, want success url", res.URL)
	}
	if proc.sessionCalls != 0 {
		t.Fatalf("checkout session created %d times on the swap path", proc.sessionCalls)
	}
	if proc.lastUpdatePriceID != "price_pro" {
		t.Fatalf("swapped to price %q, want price_pro", proc.lastUpdatePriceID)
	}

	acct := store.accounts["pro-1"]
	if acct.Plan != plan.Pro {
		t.Fatalf("plan = %q, want pro after swap", acct.Plan)
	}
	if store.credits["pro-1"] != plan.LimitsFor(plan.Pro).EmailCredits {
		t.Fatalf("credits = %d, want pro allocation", store.credits["pro-1"])
	}
	if len(events.events) != 1 || events.events[0].EventType != outbox.EventPlanActivated {
		t.Fatalf("events = %+v, want one plan activated", events.events)
	}
}

func TestCheckoutSwapFailureFallsBackToSession(t *testing.T) {
	store := newFakeStore(storage.Account{
		ID: "pro-1", Email: "a@b.lt", Plan: plan.Starteris,
		StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1",
	})
	proc := &fakeProcessor{
		subs:      map[string]payments.Subscription{"sub_1": {ID: "sub_1", Status: payments.StatusActive}},
		updateErr: errors.New("card declined"),
	}
	svc := New(store, proc, testPrices(), &eventSink{}, discardLogger())

	res, err := svc.Checkout(context.Background(), CheckoutRequest{
		ProfessionalID: "pro-1",
		PriceID:        "price_pro",
		SuccessURL:     "https://app/success",
		CancelURL:      "https://app/cancel",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Updated {
		t.Fatal("Updated = true, want fallback to hosted session")
	}
	if proc.sessionCalls != 1 {
		t.Fatalf("session calls = %d, want 1", proc.sessionCalls)
	}
	if store.activateCalls != 0 {
		t.Fatalf("activation ran %d times on the fallback path", store.activateCalls)
	}
}

func TestCheckoutInactiveRemoteSubscriptionFallsBack(t *testing.T) {
	store := newFakeStore(storage.Account{
		ID: "pro-1", Email: "a@b.lt",
		StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1",
	})
	proc := &fakeProcessor{
		subs: map[string]payments.Subscription{"sub_1": {ID: "sub_1", Status: payments.StatusPastDue}},
	}
	svc := New(store, proc, testPrices(), &eventSink{}, discardLogger())

	res, err := svc.Checkout(context.Background(), CheckoutRequest{
		ProfessionalID: "pro-1",
		PriceID:        "price_bizness",
		SuccessURL:     "https://app/success",
		CancelURL:      "https://app/cancel",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Updated || proc.updateCalls != 0 {
		t.Fatalf("swap attempted against a past_due subscription: %+v, updates=%d", res, proc.updateCalls)
	}
	if proc.sessionCalls != 1 {
		t.Fatalf("session calls = %d, want 1", proc.sessionCalls)
	}
}

func TestCheckoutUnknownAccount(t *testing.T) {
	svc := New(newFakeStore(), &fakeProcessor{}, testPrices(), &eventSink{}, discardLogger())

	_, err := svc.Checkout(context.Background(), CheckoutRequest{ProfessionalID: "ghost", PriceID: "price_pro"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelActiveSubscription(t *testing.T) {
	end := testNow.Add(12 * 24 * time.Hour)
	store := newFakeStore(storage.Account{
		ID: "pro-1", Plan: plan.Pro, SubscriptionStatus: storage.StatusActive,
		StripeSubscriptionID: "sub_1",
	})
	proc := &fakeProcessor{subs: map[string]payments.Subscription{
		"sub_1": {ID: "sub_1", Status: payments.StatusActive, CurrentPeriodEnd: end},
	}}
	svc := New(store, proc, testPrices(), &eventSink{}, discardLogger())

	res, err := svc.Cancel(context.Background(), "pro-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.Downgraded {
		t.Fatal("Downgraded = true, want cancel at period end")
	}
	if res.PeriodEnd == nil || !res.PeriodEnd.Equal(end) {
		t.Fatalf("PeriodEnd = %v, want %v", res.PeriodEnd, end)
	}
	if proc.cancelCalls != 1 {
		t.Fatalf("cancel calls = %d, want 1", proc.cancelCalls)
	}

	acct := store.accounts["pro-1"]
	if acct.SubscriptionStatus != storage.StatusCanceledAtPeriodEnd {
		t.Fatalf("status = %q, want canceled_at_period_end", acct.SubscriptionStatus)
	}
	if acct.Plan != plan.Pro {
		t.Fatalf("plan = %q, want pro kept until period end", acct.Plan)
	}
	if acct.WillRenew {
		t.Fatal("WillRenew still true after cancel")
	}
}

func TestCancelMissingRemoteSubscriptionDowngrades(t *testing.T) {
	store := newFakeStore(storage.Account{
		ID: "pro-1", Plan: plan.Pro, SubscriptionStatus: storage.StatusActive,
		StripeSubscriptionID: "sub_gone",
	})
	proc := &fakeProcessor{subs: map[string]payments.Subscription{}}
	svc := New(store, proc, testPrices(), &eventSink{}, discardLogger())

	res, err := svc.Cancel(context.Background(), "pro-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !res.Downgraded {
		t.Fatal("Downgraded = false, want cleanup of stale local state")
	}

	acct := store.accounts["pro-1"]
	if acct.Plan != plan.Free || acct.StripeSubscriptionID != "" {
		t.Fatalf("account not reset: %+v", acct)
	}
	if store.credits["pro-1"] != 0 {
		t.Fatalf("credits = %d, want 0", store.credits["pro-1"])
	}
}

func TestCancelAlreadyCanceledDowngrades(t *testing.T) {
	store := newFakeStore(storage.Account{
		ID: "pro-1", Plan: plan.Pro, StripeSubscriptionID: "sub_1",
	})
	proc := &fakeProcessor{subs: map[string]payments.Subscription{
		"sub_1": {ID: "sub_1", Status: payments.StatusCanceled},
	}}
	svc := New(store, proc, testPrices(), &eventSink{}, discardLogger())

	res, err := svc.Cancel(context.Background(), "pro-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !res.Downgraded {
		t.Fatal("Downgraded = false, want idempotent downgrade")
	}
	if proc.cancelCalls != 0 {
		t.Fatalf("cancel calls = %d against an already-canceled subscription", proc.cancelCalls)
	}
}

func TestCancelWithoutSubscription(t *testing.T) {
	store := newFakeStore(storage.Account{ID: "pro-1", Plan: plan.Free})
	svc := New(store, &fakeProcessor{}, testPrices(), &eventSink{}, discardLogger())

	_, err := svc.Cancel(context.Background(), "pro-1")
	if !errors.Is(err, ErrNoSubscription) {
		t.Fatalf("err = %v, want ErrNoSubscription", err)
	}
}

func TestCancelPastDueRejected(t *testing.T) {
	store := newFakeStore(storage.Account{ID: "pro-1", Plan: plan.Pro, StripeSubscriptionID: "sub_1"})
	proc := &fakeProcessor{subs: map[string]payments.Subscription{
		"sub_1": {ID: "sub_1", Status: payments.StatusPastDue},
	}}
	svc := New(store, proc, testPrices(), &eventSink{}, discardLogger())

	_, err := svc.Cancel(context.Background(), "pro-1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.Status != payments.StatusPastDue {
		t.Fatalf("Status = %q, want past_due", statusErr.Status)
	}
}

func TestDowngradeIsRepeatable(t *testing.T) {
	store := newFakeStore(storage.Account{
		ID: "pro-1", Plan: plan.Bizness, SubscriptionStatus: storage.StatusActive,
		StripeSubscriptionID: "sub_1",
	})
	store.credits["pro-1"] = 500
	events := &eventSink{}
	svc := New(store, &fakeProcessor{}, testPrices(), events, discardLogger())

	for i := 0; i < 2; i++ {
		if err := svc.Downgrade(context.Background(), "pro-1"); err != nil {
			t.Fatalf("Downgrade run %d: %v", i+1, err)
		}
	}

	acct := store.accounts["pro-1"]
	if acct.Plan != plan.Free || acct.SubscriptionStatus != storage.StatusExpired {
		t.Fatalf("account after double downgrade: %+v", acct)
	}
	if store.credits["pro-1"] != 0 {
		t.Fatalf("credits = %d, want 0", store.credits["pro-1"])
	}
}

func TestActivateOpensHistoryAndGrantsCredits(t *testing.T) {
	end := testNow.Add(30 * 24 * time.Hour)
	store := newFakeStore(storage.Account{ID: "pro-1", Plan: plan.Free})
	events := &eventSink{}
	svc := New(store, &fakeProcessor{}, testPrices(), events, discardLogger())

	sub := payments.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: payments.StatusActive, CurrentPeriodEnd: end}
	if err := svc.Activate(context.Background(), "pro-1", sub, plan.Starteris, testNow); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	acct := store.accounts["pro-1"]
	if acct.Plan != plan.Starteris || acct.SubscriptionStatus != storage.StatusActive {
		t.Fatalf("account after activation: %+v", acct)
	}
	if acct.SubscriptionEnd == nil || !acct.SubscriptionEnd.Equal(end) {
		t.Fatalf("SubscriptionEnd = %v, want %v", acct.SubscriptionEnd, end)
	}
	if !acct.WillRenew {
		t.Fatal("WillRenew = false after activation")
	}
	if store.credits["pro-1"] != plan.LimitsFor(plan.Starteris).EmailCredits {
		t.Fatalf("credits = %d, want starteris allocation", store.credits["pro-1"])
	}
	if store.closedHistory != 1 {
		t.Fatalf("closed history %d times, want 1", store.closedHistory)
	}
	if len(store.history) != 1 || store.history[0].Plan != plan.Starteris {
		t.Fatalf("history = %+v, want one open starteris entry", store.history)
	}
	if len(events.events) != 1 || events.events[0].EventType != outbox.EventPlanActivated {
		t.Fatalf("events = %+v", events.events)
	}
}
