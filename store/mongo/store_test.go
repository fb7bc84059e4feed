package mongo_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/store/mongo"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// setupTestStore connects to TEST_MONGO_URL, which must point at a replica
// set, and uses a database private to the test.
func setupTestStore(t *testing.T) *mongo.Store {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URL")
	if uri == "" {
		t.Skip("TEST_MONGO_URL not set; skipping MongoDB integration test")
	}
	ctx := context.Background()
	name := "pointledger_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	mdb := mongodriver.New()
	require.NoError(t, mdb.Open(ctx, uri, mongodriver.WithDatabase(name)))
	db, err := grove.Open(mdb)
	require.NoError(t, err)

	s := mongo.New(db)
	t.Cleanup(func() {
		_ = mdb.Database().Drop(context.Background())
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestApplyTransactionBounds(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyTransaction(ctx, &transaction.Transaction{UserID: "u1", Kind: transaction.KindPurchase, Amount: 10})
	assert.ErrorIs(t, err, pointledger.ErrAccountNotFound)

	_, err = s.EnsureAccount(ctx, "u1")
	require.NoError(t, err)
	_, err = s.ApplyTransaction(ctx, &transaction.Transaction{UserID: "u1", Kind: transaction.KindPurchase, Amount: 50_000})
	require.NoError(t, err)

	_, err = s.ApplyTransaction(ctx, &transaction.Transaction{UserID: "u1", Kind: transaction.KindUse, Amount: 60_000})
	var insufficient *pointledger.InsufficientFunds
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, types.Points(50_000), insufficient.Available)

	_, err = s.ApplyTransaction(ctx, &transaction.Transaction{UserID: "u1", Kind: transaction.KindRefund, Amount: types.MaxBalance})
	assert.ErrorIs(t, err, pointledger.ErrBalanceCapExceeded)

	_, err = s.ApplyTransaction(ctx, &transaction.Transaction{UserID: "u1", Kind: transaction.KindUse, Amount: -1})
	assert.True(t, pointledger.IsValidation(err))

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.Points(50_000), acct.Balance)

	txs, err := s.ListTransactions(ctx, "u1", transaction.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
