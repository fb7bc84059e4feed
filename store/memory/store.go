// Package memory provides an in-process Store used by tests and
// single-instance embeddings. A single lock makes every operation atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/account"
	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/store"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	accounts map[string]*account.Account

	// Transactions per user, oldest first.
	transactions map[string][]*transaction.Transaction

	subscriptions map[string]*subscription.Subscription

	closed bool
}

func New() *Store {
	return &Store{
		accounts:      make(map[string]*account.Account),
		transactions:  make(map[string][]*transaction.Transaction),
		subscriptions: make(map[string]*subscription.Subscription),
	}
}

// Account Store implementation

func (s *Store) GetAccount(_ context.Context, userID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[userID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, pointledger.ErrAccountNotFound
}

func (s *Store) EnsureAccount(_ context.Context, userID string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		a = account.New(userID)
		s.accounts[userID] = a
	}
	cp := *a
	return &cp, nil
}

// Transaction Store implementation

func (s *Store) ApplyTransaction(_ context.Context, t *transaction.Transaction) (*transaction.Transaction, error) {
	if err := pointledger.ValidateTransaction(t); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[t.UserID]
	if !ok {
		return nil, pointledger.ErrAccountNotFound
	}

	next, ok := t.Apply(a.Balance)
	if !ok {
		return nil, pointledger.Rejection(t.Kind, t.Amount, a.Balance)
	}

	committed := *t
	if committed.ID.IsNil() {
		committed.ID = id.NewTransactionID()
	}
	if committed.CreatedAt.IsZero() {
		committed.CreatedAt = time.Now().UTC()
	}
	committed.ResultingBalance = next

	a.Balance = next
	a.Touch()
	s.transactions[t.UserID] = append(s.transactions[t.UserID], &committed)

	out := committed
	return &out, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txns := s.transactions[userID]
	result := make([]*transaction.Transaction, 0, len(txns))
	for i := len(txns) - 1; i >= 0; i-- {
		if opts.Kind != "" && txns[i].Kind != opts.Kind {
			continue
		}
		cp := *txns[i]
		result = append(result, &cp)
	}

	return paginate(result, opts.Offset, opts.Limit), nil
}

// Subscription Store implementation

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return pointledger.ErrSubscriptionExists
	}
	if sub.Status.IsLive() && s.liveFor(sub.UserID) != nil {
		return pointledger.ErrSubscriptionExists
	}

	cp := *sub
	s.subscriptions[sub.ID.String()] = &cp
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, pointledger.ErrSubscriptionNotFound
}

func (s *Store) GetLiveSubscription(_ context.Context, userID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub := s.liveFor(userID); sub != nil {
		cp := *sub
		return &cp, nil
	}
	return nil, pointledger.ErrSubscriptionNotFound
}

func (s *Store) liveFor(userID string) *subscription.Subscription {
	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.Status.IsLive() {
			return sub
		}
	}
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if opts.Status != "" && sub.Status != opts.Status {
			continue
		}
		cp := *sub
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) FindSubscriptions(_ context.Context, q subscription.Query) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if !q.Match(sub) {
			continue
		}
		cp := *sub
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].NextBillingDate.Before(result[j].NextBillingDate)
	})

	return paginate(result, 0, q.Limit), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.subscriptions[sub.ID.String()]
	if !ok {
		return pointledger.ErrSubscriptionNotFound
	}
	if current.Version != sub.Version {
		return pointledger.ErrSubscriptionConflict
	}
	if sub.Status.IsLive() && !current.Status.IsLive() {
		if other := s.liveFor(sub.UserID); other != nil && other.ID.String() != sub.ID.String() {
			return pointledger.ErrSubscriptionExists
		}
	}

	sub.Version++
	cp := *sub
	s.subscriptions[sub.ID.String()] = &cp
	return nil
}

// Core methods

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return pointledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
