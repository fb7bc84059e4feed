// Package observability provides a metrics extension for the point ledger
// that records ledger, subscription and delivery counts through a
// MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/plugin"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                   = (*MetricsExtension)(nil)
	_ plugin.OnInit                   = (*MetricsExtension)(nil)
	_ plugin.OnTransactionApplied     = (*MetricsExtension)(nil)
	_ plugin.OnTransactionRejected    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionTransition = (*MetricsExtension)(nil)
	_ plugin.OnEventPublished         = (*MetricsExtension)(nil)
	_ plugin.OnDeliveryFailed         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide ledger metrics.
// Register it as a plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Ledger metrics
	PointsPurchased   Counter
	PointsUsed        Counter
	PointsRefunded    Counter
	PurchaseAmount    Histogram
	InsufficientFunds Counter
	BalanceCapHits    Counter

	// Subscription metrics
	SubscriptionActivated   Counter
	SubscriptionRenewed     Counter
	SubscriptionSuspended   Counter
	SubscriptionReactivated Counter
	SubscriptionCanceled    Counter
	SubscriptionExpired     Counter

	// Delivery metrics
	EventsPublished    Counter
	EventsDeadLettered Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		PointsPurchased:   factory.Counter("pointledger.points.purchased"),
		PointsUsed:        factory.Counter("pointledger.points.used"),
		PointsRefunded:    factory.Counter("pointledger.points.refunded"),
		PurchaseAmount:    factory.Histogram("pointledger.points.purchase_amount"),
		InsufficientFunds: factory.Counter("pointledger.points.insufficient"),
		BalanceCapHits:    factory.Counter("pointledger.points.balance_cap"),

		SubscriptionActivated:   factory.Counter("pointledger.subscription.activated"),
		SubscriptionRenewed:     factory.Counter("pointledger.subscription.renewed"),
		SubscriptionSuspended:   factory.Counter("pointledger.subscription.suspended"),
		SubscriptionReactivated: factory.Counter("pointledger.subscription.reactivated"),
		SubscriptionCanceled:    factory.Counter("pointledger.subscription.canceled"),
		SubscriptionExpired:     factory.Counter("pointledger.subscription.expired"),

		EventsPublished:    factory.Counter("pointledger.events.published"),
		EventsDeadLettered: factory.Counter("pointledger.events.dead_lettered"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionApplied implements plugin.OnTransactionApplied.
func (m *MetricsExtension) OnTransactionApplied(_ context.Context, tx *transaction.Transaction) error {
	switch tx.Kind {
	case transaction.KindPurchase:
		m.PointsPurchased.Add(float64(tx.Amount))
		m.PurchaseAmount.Observe(float64(tx.Amount))
	case transaction.KindUse:
		m.PointsUsed.Add(float64(tx.Amount))
	case transaction.KindRefund:
		m.PointsRefunded.Add(float64(tx.Amount))
	}
	return nil
}

// OnTransactionRejected implements plugin.OnTransactionRejected.
func (m *MetricsExtension) OnTransactionRejected(_ context.Context, _ string, kind transaction.Kind, _ types.Points, _ error) error {
	if kind.IsCredit() {
		m.BalanceCapHits.Inc()
	} else {
		m.InsufficientFunds.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionTransition implements plugin.OnSubscriptionTransition.
func (m *MetricsExtension) OnSubscriptionTransition(_ context.Context, sub *subscription.Subscription, from subscription.Status) error {
	switch {
	case sub.Status == subscription.StatusSuspended:
		m.SubscriptionSuspended.Inc()
	case sub.Status == subscription.StatusCanceled:
		m.SubscriptionCanceled.Inc()
	case sub.Status == subscription.StatusExpired:
		m.SubscriptionExpired.Inc()
	case from == "":
		m.SubscriptionActivated.Inc()
	case from == subscription.StatusSuspended:
		m.SubscriptionReactivated.Inc()
	default:
		m.SubscriptionRenewed.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Delivery hooks
// ──────────────────────────────────────────────────

// OnEventPublished implements plugin.OnEventPublished.
func (m *MetricsExtension) OnEventPublished(_ context.Context, _ *event.Event) error {
	m.EventsPublished.Inc()
	return nil
}

// OnDeliveryFailed implements plugin.OnDeliveryFailed.
func (m *MetricsExtension) OnDeliveryFailed(_ context.Context, _ *event.Event, _ error) error {
	m.EventsDeadLettered.Inc()
	return nil
}
