// Package plugin provides an observer system for the point ledger.
// Plugins hook into ledger, subscription and delivery events without
// being able to change their outcome.
package plugin

import (
	"context"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l any) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionApplied is called after a transaction commits.
type OnTransactionApplied interface {
	Plugin
	OnTransactionApplied(ctx context.Context, tx *transaction.Transaction) error
}

// OnTransactionRejected is called when the store refuses a transaction,
// for example on insufficient funds or the balance cap.
type OnTransactionRejected interface {
	Plugin
	OnTransactionRejected(ctx context.Context, userID string, kind transaction.Kind, amount types.Points, reason error) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionTransition is called after a subscription changes status
// or is renewed. from is empty for newly created subscriptions.
type OnSubscriptionTransition interface {
	Plugin
	OnSubscriptionTransition(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error
}

// ──────────────────────────────────────────────────
// Delivery hooks
// ──────────────────────────────────────────────────

// OnEventPublished is called after an event is handed to the transport.
type OnEventPublished interface {
	Plugin
	OnEventPublished(ctx context.Context, e *event.Event) error
}

// OnDeliveryFailed is called when a transport gives up on an event.
type OnDeliveryFailed interface {
	Plugin
	OnDeliveryFailed(ctx context.Context, e *event.Event, cause error) error
}
