package pointledger_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/plan"
	"github.com/xraph/pointledger/store/memory"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
)

func suspended(t *testing.T, h *harness, userID string) *subscription.Subscription {
	t.Helper()
	h.charge(t, userID, 9_900)
	sub := activate(t, h, userID, plan.Basic, true)
	h.clock.AdvanceMonths(1)
	if _, err := h.ledger.ProcessAutoRenewals(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err := h.ledger.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != subscription.StatusSuspended {
		t.Fatalf("setup: status %s", got.Status)
	}
	return got
}

// Delivering the same PointsAdded twice reactivates once and debits once.
func TestPointsAddedRedelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sub := suspended(t, h, "u1")

	h.charge(t, "u1", 20_000)
	added := h.events.ofType(event.TypePointsAdded)
	last := added[len(added)-1]

	if err := h.bus.Router().Dispatch(ctx, last); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	got, _ := h.ledger.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Fatalf("status %s", got.Status)
	}
	if bal := h.balance(t, "u1"); bal != 10_100 {
		t.Errorf("balance %s, want 10,100", bal)
	}

	uses, _ := h.ledger.ListTransactions(ctx, "u1", transaction.ListOpts{Kind: transaction.KindUse})
	var renewals int
	for _, tx := range uses {
		if tx.Reference == sub.ID.String() {
			renewals++
		}
	}
	if renewals != 2 {
		t.Errorf("expected activation plus one reactivation debit, got %d", renewals)
	}
	if n := len(h.events.ofType(event.TypeSubscriptionActivated)); n != 2 {
		t.Errorf("expected two SubscriptionActivated in total, got %d", n)
	}
}

func TestPointsAddedIgnoresOtherUsers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sub := suspended(t, h, "u1")

	h.charge(t, "u2", 50_000)

	got, _ := h.ledger.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusSuspended {
		t.Errorf("another user's purchase changed status to %s", got.Status)
	}
}

func TestPointsAddedMalformedPayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bad := &event.Event{
		ID:          mustEvent(t).ID,
		Type:        event.TypePointsAdded,
		AggregateID: "u1",
		Payload:     json.RawMessage(`{"userId":`),
	}
	if err := h.bus.Router().Dispatch(ctx, bad); err != nil {
		t.Errorf("malformed payload should be dropped, got %v", err)
	}
}

// A refund that compensates a failed reactivation must not start another
// reactivation attempt.
func TestCompensationDoesNotRetriggerReactivation(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: memory.New()}
	h := newHarnessOn(t, fs)
	sub := suspended(t, h, "u1")

	fs.failUpdates.Store(true)
	h.events.reset()
	h.charge(t, "u1", 10_000)

	if n := fs.failedUpdates.Load(); n != 1 {
		t.Fatalf("expected one failed reactivation write, got %d", n)
	}

	var compensations int
	for _, e := range h.events.ofType(event.TypePointsAdded) {
		p, err := event.Decode[event.PointsAdded](e)
		if err != nil {
			t.Fatal(err)
		}
		if p.Reason == pointledger.ReasonCompensation {
			compensations++
		}
	}
	if compensations != 1 {
		t.Errorf("expected one compensation PointsAdded, got %d", compensations)
	}

	if bal := h.balance(t, "u1"); bal != 10_000 {
		t.Errorf("balance %s, want 10,000", bal)
	}
	got, _ := h.ledger.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusSuspended {
		t.Errorf("status %s, want SUSPENDED", got.Status)
	}

	// purchase, activation, top-up, reactivation debit, compensation
	txs, err := h.ledger.ListTransactions(ctx, "u1", transaction.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 5 {
		t.Errorf("expected 5 transactions, got %d", len(txs))
	}
}

// The default bus redelivers a PointsAdded whose handler failed once.
func TestDefaultBusRedeliversFailedHandler(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: memory.New()}
	clock := &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
	l := pointledger.New(fs, pointledger.WithLogger(discardLogger()), pointledger.WithClock(clock.Now))
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Stop() })

	if _, err := l.ChargePoints(ctx, pointledger.PurchaseRequest{UserID: "u1", Amount: 9_900}); err != nil {
		t.Fatal(err)
	}
	res, err := l.ActivateSubscription(ctx, "u1", plan.Basic, true)
	if err != nil || res.Outcome != pointledger.OutcomeActivated {
		t.Fatalf("activate: %+v %v", res, err)
	}
	clock.AdvanceMonths(1)
	if _, err := l.ProcessAutoRenewals(ctx); err != nil {
		t.Fatal(err)
	}
	if !eventually(t, 2*time.Second, func() bool { return fs.userFinds.Load() >= 1 }) {
		t.Fatal("first PointsAdded was never delivered")
	}

	fs.failUserFinds.Store(1)
	if _, err := l.ChargePoints(ctx, pointledger.PurchaseRequest{UserID: "u1", Amount: 20_000}); err != nil {
		t.Fatal(err)
	}

	active := eventually(t, 5*time.Second, func() bool {
		sub, err := l.GetSubscription(ctx, res.Subscription.ID)
		return err == nil && sub.Status == subscription.StatusActive
	})
	if !active {
		t.Fatal("subscription not reactivated after a transient handler failure")
	}
	if n := fs.userFinds.Load(); n < 3 {
		t.Errorf("expected the failed delivery to be retried, saw %d lookups", n)
	}
}

func TestRegisterHandlersOnce(t *testing.T) {
	h := newHarness(t)
	if !h.bus.Router().Handles(event.TypePointsAdded) {
		t.Fatal("PointsAdded handler not registered")
	}
	if err := h.ledger.RegisterHandlers(h.bus.Router()); err == nil {
		t.Error("expected error registering on a started router")
	}
	noop := func(context.Context, *event.Event) error { return nil }
	if err := h.bus.Router().Subscribe(event.TypePointsAdded, pointledger.HandlerReactivateOnPointsAdded, noop); err == nil {
		t.Error("expected error reusing the handler name")
	}
}

func TestSweepStopsOnCanceledContext(t *testing.T) {
	h := newHarness(t)
	h.charge(t, "u1", 10_000)
	activate(t, h, "u1", plan.Basic, true)
	h.clock.AdvanceMonths(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.ledger.ProcessAutoRenewals(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if res.Renewed != 0 {
		t.Errorf("renewed after cancellation: %+v", res)
	}
	if bal := h.balance(t, "u1"); bal != 100 {
		t.Errorf("balance %s, want 100", bal)
	}
}

func mustEvent(t *testing.T) *event.Event {
	t.Helper()
	e, err := event.New(event.TypePointsAdded, "u1", event.PointsAdded{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	return e
}
