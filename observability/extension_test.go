package observability_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/pointledger/observability"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
)

func TestMetricsExtension(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))
	ctx := context.Background()

	_ = m.OnTransactionApplied(ctx, &transaction.Transaction{Kind: transaction.KindPurchase, Amount: 50_000})
	_ = m.OnTransactionApplied(ctx, &transaction.Transaction{Kind: transaction.KindUse, Amount: 29_900})
	_ = m.OnTransactionRejected(ctx, "u1", transaction.KindUse, 100, nil)
	_ = m.OnSubscriptionTransition(ctx, &subscription.Subscription{Status: subscription.StatusActive}, "")
	_ = m.OnSubscriptionTransition(ctx, &subscription.Subscription{Status: subscription.StatusSuspended}, subscription.StatusActive)
	_ = m.OnSubscriptionTransition(ctx, &subscription.Subscription{Status: subscription.StatusActive}, subscription.StatusSuspended)

	checks := []struct {
		name string
		c    observability.Counter
		want float64
	}{
		{"purchased", m.PointsPurchased, 50_000},
		{"used", m.PointsUsed, 29_900},
		{"insufficient", m.InsufficientFunds, 1},
		{"activated", m.SubscriptionActivated, 1},
		{"suspended", m.SubscriptionSuspended, 1},
		{"reactivated", m.SubscriptionReactivated, 1},
		{"renewed", m.SubscriptionRenewed, 0},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c.(prometheus.Counter)); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestPrometheusFactoryReusesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	a := f.Counter("pointledger.test.hits")
	b := f.Counter("pointledger.test.hits")
	a.Inc()
	b.Inc()
	if got := testutil.ToFloat64(a.(prometheus.Counter)); got != 2 {
		t.Errorf("got %v, want 2", got)
	}

	// A second factory on the same registry picks up the existing collector.
	g := observability.NewPrometheusFactory(reg).Counter("pointledger.test.hits")
	g.Inc()
	if got := testutil.ToFloat64(a.(prometheus.Counter)); got != 3 {
		t.Errorf("got %v, want 3", got)
	}
}
