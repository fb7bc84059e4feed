package pointledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/plan"
	"github.com/xraph/pointledger/subscription"
)

// TestPremiumLifecycle walks a new user through purchase, activation, a
// failed renewal and the top-up that brings the subscription back.
func TestPremiumLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	const user = "reader-1"

	h.charge(t, user, 50_000)
	if got := h.balance(t, user); got != 50_000 {
		t.Fatalf("after purchase: balance %s, want 50,000", got)
	}

	res, err := h.ledger.ActivateSubscription(ctx, user, plan.Premium, true)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if res.Outcome != pointledger.OutcomeActivated {
		t.Fatalf("activate outcome: %s", res.Outcome)
	}
	if got := h.balance(t, user); got != 20_100 {
		t.Fatalf("after activation: balance %s, want 20,100", got)
	}
	subID := res.Subscription.ID

	h.clock.AdvanceMonths(1)
	h.clock.Advance(time.Hour)
	h.events.reset()

	sweep, err := h.ledger.ProcessAutoRenewals(ctx)
	if err != nil {
		t.Fatalf("renewal sweep: %v", err)
	}
	if sweep.Suspended != 1 {
		t.Fatalf("sweep: %+v", sweep)
	}

	sub, err := h.ledger.GetSubscription(ctx, subID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusSuspended {
		t.Fatalf("after renewal: status %s, want SUSPENDED", sub.Status)
	}

	insufficient := h.events.ofType(event.TypePointsInsufficient)
	if len(insufficient) != 1 {
		t.Fatalf("expected one PointsInsufficient, got %d", len(insufficient))
	}
	p, err := event.Decode[event.PointsInsufficient](insufficient[0])
	if err != nil {
		t.Fatal(err)
	}
	if p.RequiredAmount != 29_900 || p.CurrentBalance != 20_100 {
		t.Errorf("PointsInsufficient: %+v", p)
	}
	if len(h.events.ofType(event.TypeSubscriptionSuspended)) != 1 {
		t.Error("expected SubscriptionSuspended")
	}

	h.charge(t, user, 15_000)

	if got := h.balance(t, user); got != 5_200 {
		t.Fatalf("after top-up: balance %s, want 5,200", got)
	}
	sub, err = h.ledger.GetSubscription(ctx, subID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusActive {
		t.Fatalf("after top-up: status %s, want ACTIVE", sub.Status)
	}
	if sub.FailedAttempts != 0 {
		t.Errorf("failed attempts: %d", sub.FailedAttempts)
	}
	if want := h.clock.Now().AddDate(0, 1, 0); !sub.EndDate.Equal(want) {
		t.Errorf("end date: got %v, want %v", sub.EndDate, want)
	}

	activated := h.events.ofType(event.TypeSubscriptionActivated)
	if len(activated) != 1 {
		t.Fatalf("expected one SubscriptionActivated after top-up, got %d", len(activated))
	}
}
