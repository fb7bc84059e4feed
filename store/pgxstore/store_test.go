package pgxstore_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/plan"
	"github.com/xraph/pointledger/store/pgxstore"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

func setupTestStore(t *testing.T) *pgxstore.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	ctx := context.Background()
	s, err := pgxstore.Connect(ctx, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}

// testUser returns a user id unique to this run and removes its rows
// after the test.
func testUser(t *testing.T, s *pgxstore.Store) string {
	t.Helper()
	user := "test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = s.Pool().Exec(ctx, `DELETE FROM pointledger_subscriptions WHERE user_id = $1`, user)
		_, _ = s.Pool().Exec(ctx, `DELETE FROM pointledger_transactions WHERE user_id = $1`, user)
		_, _ = s.Pool().Exec(ctx, `DELETE FROM pointledger_accounts WHERE user_id = $1`, user)
	})
	return user
}

func TestMigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestApplyTransactionBounds(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	user := testUser(t, s)

	_, err := s.ApplyTransaction(ctx, &transaction.Transaction{UserID: user, Kind: transaction.KindPurchase, Amount: 10})
	assert.ErrorIs(t, err, pointledger.ErrAccountNotFound)

	_, err = s.EnsureAccount(ctx, user)
	require.NoError(t, err)

	committed, err := s.ApplyTransaction(ctx, &transaction.Transaction{UserID: user, Kind: transaction.KindPurchase, Amount: 50_000})
	require.NoError(t, err)
	assert.Equal(t, types.Points(50_000), committed.ResultingBalance)
	assert.False(t, committed.ID.IsNil())

	_, err = s.ApplyTransaction(ctx, &transaction.Transaction{UserID: user, Kind: transaction.KindUse, Amount: 60_000})
	var insufficient *pointledger.InsufficientFunds
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, types.Points(50_000), insufficient.Available)

	_, err = s.ApplyTransaction(ctx, &transaction.Transaction{UserID: user, Kind: transaction.KindRefund, Amount: types.MaxBalance})
	assert.ErrorIs(t, err, pointledger.ErrBalanceCapExceeded)

	acct, err := s.GetAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, types.Points(50_000), acct.Balance)

	txs, err := s.ListTransactions(ctx, user, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestConcurrentDebits(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	user := testUser(t, s)

	_, err := s.EnsureAccount(ctx, user)
	require.NoError(t, err)
	_, err = s.ApplyTransaction(ctx, &transaction.Transaction{UserID: user, Kind: transaction.KindPurchase, Amount: 1_000})
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyTransaction(ctx, &transaction.Transaction{UserID: user, Kind: transaction.KindUse, Amount: 100})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	acct, err := s.GetAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, types.Points(0), acct.Balance)
}

func TestSubscriptionOneLiveAndVersioning(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	user := testUser(t, s)

	start := time.Now().UTC().Truncate(time.Microsecond)
	newSub := func() *subscription.Subscription {
		sub := &subscription.Subscription{
			ID:          id.NewSubscriptionID(),
			UserID:      user,
			Plan:        plan.Basic,
			Status:      subscription.StatusActive,
			MonthlyCost: 9_900,
			StartDate:   start,
			AutoRenewal: true,
			Version:     1,
		}
		sub.CreatedAt, sub.UpdatedAt = start, start
		sub.StartPeriod(start)
		return sub
	}

	first := newSub()
	require.NoError(t, s.CreateSubscription(ctx, first))
	assert.ErrorIs(t, s.CreateSubscription(ctx, newSub()), pointledger.ErrSubscriptionExists)

	live, err := s.GetLiveSubscription(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, first.ID.String(), live.ID.String())

	stale := *live
	live.Status = subscription.StatusCanceled
	require.NoError(t, s.UpdateSubscription(ctx, live))
	assert.Equal(t, int64(2), live.Version)

	stale.FailedAttempts = 1
	assert.ErrorIs(t, s.UpdateSubscription(ctx, &stale), pointledger.ErrSubscriptionConflict)

	require.NoError(t, s.CreateSubscription(ctx, newSub()))

	found, err := s.FindSubscriptions(ctx, subscription.Query{
		UserID:   user,
		Statuses: []subscription.Status{subscription.StatusActive},
	})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	all, err := s.ListSubscriptions(ctx, user, subscription.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.GetSubscription(ctx, id.NewSubscriptionID())
	assert.ErrorIs(t, err, pointledger.ErrSubscriptionNotFound)
}
