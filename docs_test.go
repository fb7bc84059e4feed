package pointledger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/plan"
	"github.com/xraph/pointledger/store/memory"
	"github.com/xraph/pointledger/subscription"
)

// TestDocumentationExamples verifies that the package documentation examples work.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Memory store for demo, use PostgreSQL in production.
		store := memory.New()

		l := pointledger.New(store, pointledger.WithLogger(slog.Default()))

		ctx := context.Background()
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop()

		tx, err := l.ChargePoints(ctx, pointledger.PurchaseRequest{
			UserID: "user-1",
			Amount: 50_000,
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Logf("purchased %s points, balance %s", tx.Amount, tx.ResultingBalance)

		res, err := l.ActivateSubscription(ctx, "user-1", plan.Premium, true)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome == pointledger.OutcomeInsufficientFunds {
			t.Fatalf("missing %s points", res.Required-res.Available)
		}

		live, err := l.GetLiveSubscription(ctx, "user-1")
		if err != nil {
			t.Fatal(err)
		}
		if live.Status != subscription.StatusActive {
			t.Errorf("status %s", live.Status)
		}
	})

	t.Run("InsufficientOutcomeExample", func(t *testing.T) {
		l := pointledger.New(memory.New())
		ctx := context.Background()
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop()

		res, err := l.ActivateSubscription(ctx, "user-2", plan.Basic, true)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != pointledger.OutcomeInsufficientFunds || res.Required != 9_900 {
			t.Errorf("unexpected result: %+v", res)
		}
	})
}
