package pointledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/plan"
	"github.com/xraph/pointledger/store/memory"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
)

func activate(t *testing.T, h *harness, userID string, p plan.Type, autoRenewal bool) *subscription.Subscription {
	t.Helper()
	res, err := h.ledger.ActivateSubscription(context.Background(), userID, p, autoRenewal)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if res.Outcome != pointledger.OutcomeActivated {
		t.Fatalf("activate outcome %s", res.Outcome)
	}
	return res.Subscription
}

func TestActivateSubscription(t *testing.T) {
	h := newHarness(t)
	h.charge(t, "u1", 10_000)
	h.events.reset()

	sub := activate(t, h, "u1", plan.Basic, true)

	if sub.Status != subscription.StatusActive || sub.MonthlyCost != 9_900 {
		t.Errorf("unexpected subscription: %+v", sub)
	}
	if want := h.clock.Now().AddDate(0, 1, 0); !sub.EndDate.Equal(want) || !sub.NextBillingDate.Equal(want) {
		t.Errorf("period: end %v next %v, want %v", sub.EndDate, sub.NextBillingDate, want)
	}
	if got := h.balance(t, "u1"); got != 100 {
		t.Errorf("balance %s, want 100", got)
	}

	got := h.events.types()
	if len(got) != 2 || got[0] != event.TypePointsUsed || got[1] != event.TypeSubscriptionActivated {
		t.Errorf("events: %v", got)
	}

	txs, _ := h.ledger.ListTransactions(context.Background(), "u1", transaction.ListOpts{Kind: transaction.KindUse})
	if len(txs) != 1 || txs[0].Reference != sub.ID.String() {
		t.Errorf("debit not linked to subscription: %+v", txs)
	}
}

func TestActivateSubscriptionInsufficient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.charge(t, "u1", 1_000)
	h.events.reset()

	res, err := h.ledger.ActivateSubscription(ctx, "u1", plan.Premium, true)
	if err != nil {
		t.Fatalf("insufficient funds should be an outcome, got %v", err)
	}
	if res.Succeeded() || res.Outcome != pointledger.OutcomeInsufficientFunds {
		t.Fatalf("outcome %s", res.Outcome)
	}
	if res.Required != 29_900 || res.Available != 1_000 {
		t.Errorf("required %s available %s", res.Required, res.Available)
	}

	if _, err := h.ledger.GetLiveSubscription(ctx, "u1"); !errors.Is(err, pointledger.ErrSubscriptionNotFound) {
		t.Errorf("expected no live subscription, got %v", err)
	}
	if got := h.events.types(); len(got) != 1 || got[0] != event.TypePointsInsufficient {
		t.Errorf("events: %v", got)
	}
}

func TestActivateSubscriptionValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.ledger.ActivateSubscription(ctx, "", plan.Basic, true); !pointledger.IsValidation(err) {
		t.Errorf("empty user: %v", err)
	}
	if _, err := h.ledger.ActivateSubscription(ctx, "u1", plan.Type("GOLD"), true); !pointledger.IsValidation(err) {
		t.Errorf("unknown plan: %v", err)
	}
}

func TestActivateSubscriptionOneLive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.charge(t, "u1", 40_000)
	activate(t, h, "u1", plan.Basic, true)

	_, err := h.ledger.ActivateSubscription(ctx, "u1", plan.Premium, true)
	if !errors.Is(err, pointledger.ErrSubscriptionExists) {
		t.Fatalf("expected ErrSubscriptionExists, got %v", err)
	}
	if pointledger.Classify(err) != pointledger.ErrorTypeBusinessRule {
		t.Errorf("classified as %s", pointledger.Classify(err))
	}
	if got := h.balance(t, "u1"); got != 30_100 {
		t.Errorf("refused activation charged the user: balance %s", got)
	}
}

func TestCancelSubscription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.charge(t, "u1", 10_000)
	sub := activate(t, h, "u1", plan.Basic, true)
	h.events.reset()

	canceled, err := h.ledger.CancelSubscription(ctx, sub.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != subscription.StatusCanceled || canceled.AutoRenewal || canceled.CanceledAt == nil {
		t.Errorf("unexpected subscription: %+v", canceled)
	}
	if canceled.CancelReason != pointledger.ReasonUserRequest {
		t.Errorf("reason %q", canceled.CancelReason)
	}

	ev := h.events.ofType(event.TypeSubscriptionCanceled)
	if len(ev) != 1 {
		t.Fatalf("expected one SubscriptionCanceled, got %d", len(ev))
	}

	// A user may subscribe again once the old subscription is terminal.
	h.charge(t, "u1", 10_000)
	activate(t, h, "u1", plan.Basic, false)
}

func TestCancelSubscriptionWriteFailure(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: memory.New()}
	h := newHarnessOn(t, fs)
	h.charge(t, "u1", 10_000)
	sub := activate(t, h, "u1", plan.Basic, true)
	h.events.reset()

	fs.failUpdates.Store(true)
	canceled, err := h.ledger.CancelSubscription(ctx, sub.ID, "")
	if err == nil {
		t.Fatal("expected the write error")
	}
	if canceled != nil {
		t.Errorf("unsaved subscription returned: %+v", canceled)
	}
	if n := len(h.events.ofType(event.TypeSubscriptionCanceled)); n != 0 {
		t.Errorf("SubscriptionCanceled emitted for an unsaved change: %d", n)
	}

	fs.failUpdates.Store(false)
	got, _ := h.ledger.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Errorf("stored status %s, want ACTIVE", got.Status)
	}
}

// A non-positive retry interval keeps the default, so a subscription
// suspended by a sweep is not retried by that sweep or shortly after.
func TestRetryIntervalMustBePositive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pointledger.WithRetryInterval(0))
	h.charge(t, "u1", 9_900)
	sub := activate(t, h, "u1", plan.Basic, true)

	h.clock.AdvanceMonths(1)
	res, err := h.ledger.ProcessAutoRenewals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Suspended != 1 || res.Skipped != 1 {
		t.Errorf("sweep: %+v", res)
	}

	h.clock.Advance(time.Hour)
	if _, err := h.ledger.ProcessAutoRenewals(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := h.ledger.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusSuspended || got.FailedAttempts != 1 {
		t.Errorf("after retry sweep: %s attempts=%d", got.Status, got.FailedAttempts)
	}
}

func TestTerminalSubscriptionsRefuseChanges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.charge(t, "u1", 10_000)
	sub := activate(t, h, "u1", plan.Basic, true)
	if _, err := h.ledger.CancelSubscription(ctx, sub.ID, ""); err != nil {
		t.Fatal(err)
	}

	if _, err := h.ledger.CancelSubscription(ctx, sub.ID, ""); !errors.Is(err, pointledger.ErrInvalidTransition) {
		t.Errorf("cancel twice: %v", err)
	}
	if _, err := h.ledger.ReactivateSubscription(ctx, sub.ID); !errors.Is(err, pointledger.ErrInvalidTransition) {
		t.Errorf("reactivate canceled: %v", err)
	}

	stored, err := h.ledger.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != subscription.StatusCanceled {
		t.Errorf("status %s", stored.Status)
	}
}

func TestGetSubscriptionNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.GetSubscription(context.Background(), id.NewSubscriptionID())
	if !pointledger.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestReactivateActiveIsUnchanged(t *testing.T) {
	h := newHarness(t)
	h.charge(t, "u1", 10_000)
	sub := activate(t, h, "u1", plan.Basic, true)

	res, err := h.ledger.ReactivateSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != pointledger.OutcomeUnchanged || !res.Succeeded() {
		t.Errorf("outcome %s", res.Outcome)
	}
	if got := h.balance(t, "u1"); got != 100 {
		t.Errorf("balance %s, want 100", got)
	}
}

func TestProcessAutoRenewalsRenews(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.charge(t, "u1", 20_000)
	sub := activate(t, h, "u1", plan.Basic, true)
	firstEnd := sub.EndDate

	res, err := h.ledger.ProcessAutoRenewals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Renewed != 0 {
		t.Fatalf("renewed before billing date: %+v", res)
	}

	h.clock.AdvanceMonths(1)
	h.events.reset()

	res, err = h.ledger.ProcessAutoRenewals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Renewed != 1 {
		t.Fatalf("sweep: %+v", res)
	}

	renewed, _ := h.ledger.GetSubscription(ctx, sub.ID)
	if renewed.Status != subscription.StatusActive {
		t.Errorf("status %s", renewed.Status)
	}
	if want := firstEnd.AddDate(0, 1, 0); !renewed.EndDate.Equal(want) {
		t.Errorf("end date %v, want %v", renewed.EndDate, want)
	}
	if got := h.balance(t, "u1"); got != 200 {
		t.Errorf("balance %s, want 200", got)
	}
	if n := len(h.events.ofType(event.TypeSubscriptionRenewed)); n != 1 {
		t.Errorf("expected one SubscriptionRenewed, got %d", n)
	}

	// Running the sweep again in the same period is a no-op.
	res, err = h.ledger.ProcessAutoRenewals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Renewed != 0 || h.balance(t, "u1") != 200 {
		t.Errorf("second sweep charged again: %+v", res)
	}
}

func TestRenewalRetriesCancelAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pointledger.WithMaxRenewalAttempts(3), pointledger.WithRetryInterval(time.Hour))
	h.charge(t, "u1", 9_900)
	sub := activate(t, h, "u1", plan.Basic, true)

	h.clock.AdvanceMonths(1)
	if _, err := h.ledger.ProcessAutoRenewals(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := h.ledger.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusSuspended || got.FailedAttempts != 1 {
		t.Fatalf("after first failure: %s attempts=%d", got.Status, got.FailedAttempts)
	}

	h.clock.Advance(2 * time.Hour)
	if _, err := h.ledger.ProcessAutoRenewals(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = h.ledger.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusSuspended || got.FailedAttempts != 2 {
		t.Fatalf("after second failure: %s attempts=%d", got.Status, got.FailedAttempts)
	}

	// Within the retry interval nothing happens.
	h.clock.Advance(time.Minute)
	res, err := h.ledger.ProcessAutoRenewals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 {
		t.Errorf("expected the retry to be skipped: %+v", res)
	}

	h.clock.Advance(2 * time.Hour)
	h.events.reset()
	res, err = h.ledger.ProcessAutoRenewals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Canceled != 1 {
		t.Fatalf("sweep: %+v", res)
	}

	got, _ = h.ledger.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusCanceled || got.CancelReason != pointledger.ReasonRenewalFailed {
		t.Errorf("final state: %s reason=%q", got.Status, got.CancelReason)
	}
	ev := h.events.ofType(event.TypeSubscriptionCanceled)
	if len(ev) != 1 {
		t.Fatalf("expected one SubscriptionCanceled, got %d", len(ev))
	}
	p, _ := event.Decode[event.SubscriptionCanceled](ev[0])
	if p.Reason != pointledger.ReasonRenewalFailed {
		t.Errorf("reason %q", p.Reason)
	}
}

func TestSmallTopUpDoesNotCountAsAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.charge(t, "u1", 9_900)
	sub := activate(t, h, "u1", plan.Basic, true)

	h.clock.AdvanceMonths(1)
	if _, err := h.ledger.ProcessAutoRenewals(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		h.charge(t, "u1", 100)
	}

	got, _ := h.ledger.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusSuspended || got.FailedAttempts != 1 {
		t.Errorf("top-ups changed the subscription: %s attempts=%d", got.Status, got.FailedAttempts)
	}
	if bal := h.balance(t, "u1"); bal != 500 {
		t.Errorf("balance %s, want 500", bal)
	}
}

func TestManualReactivation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.charge(t, "u1", 9_900)
	sub := activate(t, h, "u1", plan.Basic, true)

	h.clock.AdvanceMonths(1)
	if _, err := h.ledger.ProcessAutoRenewals(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := h.ledger.ReactivateSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != pointledger.OutcomeInsufficientFunds || res.Required != 9_900 || res.Available != 0 {
		t.Errorf("result: %+v", res)
	}

	// A grant covering the cost reactivates through the PointsAdded handler.
	if _, err := h.ledger.GrantPoints(ctx, "u1", 9_900, "support"); err != nil {
		t.Fatal(err)
	}
	got, _ := h.ledger.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Fatalf("status %s", got.Status)
	}

	res, err = h.ledger.ReactivateSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != pointledger.OutcomeUnchanged {
		t.Errorf("second reactivation: %s", res.Outcome)
	}
}

func TestProcessExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.charge(t, "u1", 10_000)
	h.charge(t, "u2", 10_000)
	oneOff := activate(t, h, "u1", plan.Basic, false)
	renewing := activate(t, h, "u2", plan.Basic, true)

	res, err := h.ledger.ProcessExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Expired != 0 {
		t.Fatalf("expired early: %+v", res)
	}

	h.clock.AdvanceMonths(1)
	h.clock.Advance(time.Second)
	h.events.reset()

	res, err = h.ledger.ProcessExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Expired != 1 {
		t.Fatalf("sweep: %+v", res)
	}

	got, _ := h.ledger.GetSubscription(ctx, oneOff.ID)
	if got.Status != subscription.StatusExpired {
		t.Errorf("one-off subscription: %s", got.Status)
	}
	got, _ = h.ledger.GetSubscription(ctx, renewing.ID)
	if got.Status != subscription.StatusActive {
		t.Errorf("auto-renewing subscription: %s", got.Status)
	}
	if n := len(h.events.ofType(event.TypeSubscriptionExpired)); n != 1 {
		t.Errorf("expected one SubscriptionExpired, got %d", n)
	}
}
