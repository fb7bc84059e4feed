// Package store defines the persistence contract for the point ledger.
// Every backend applies a transaction and its balance change as one atomic
// unit and enforces the one-live-subscription-per-user rule itself.
package store

import (
	"context"

	"github.com/xraph/pointledger/account"
	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
)

// Store is the unified storage interface for all ledger entities.
// Methods are declared explicitly rather than embedding the per-entity
// interfaces so that backends see the whole contract in one place.
type Store interface {
	// Account methods
	GetAccount(ctx context.Context, userID string) (*account.Account, error)
	EnsureAccount(ctx context.Context, userID string) (*account.Account, error)

	// Transaction methods
	ApplyTransaction(ctx context.Context, t *transaction.Transaction) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error)

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	GetLiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	FindSubscriptions(ctx context.Context, q subscription.Query) ([]*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ account.Store      = Store(nil)
	_ transaction.Store  = Store(nil)
	_ subscription.Store = Store(nil)
)
