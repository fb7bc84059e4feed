package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/account"
	"github.com/xraph/pointledger/id"
	ledgerstore "github.com/xraph/pointledger/store"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// Collection name constants.
const (
	colAccounts      = "pointledger_accounts"
	colTransactions  = "pointledger_transactions"
	colSubscriptions = "pointledger_subscriptions"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM. Balance
// changes run in multi-document transactions, so the server must be a
// replica set or sharded cluster.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: mongo %s indexes: %v", pointledger.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, pointledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("pointledger/mongo: get account: %w", err)
	}
	return fromAccountModel(&m), nil
}

func (s *Store) EnsureAccount(ctx context.Context, userID string) (*account.Account, error) {
	t := now()
	_, err := s.mdb.NewUpdate(&accountModel{UserID: userID}).
		Filter(bson.M{"_id": userID}).
		SetUpdate(bson.M{"$setOnInsert": bson.M{
			"balance":    int64(0),
			"created_at": t,
			"updated_at": t,
		}}).
		Upsert().
		Exec(ctx)
	// Two concurrent upserts may race on _id; the loser finds the winner's row.
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("pointledger/mongo: ensure account: %w", err)
	}
	return s.GetAccount(ctx, userID)
}

// ==================== Transaction Store ====================

func (s *Store) ApplyTransaction(ctx context.Context, t *transaction.Transaction) (*transaction.Transaction, error) {
	if err := pointledger.ValidateTransaction(t); err != nil {
		return nil, err
	}

	committed := *t
	if committed.ID.IsNil() {
		committed.ID = id.NewTransactionID()
	}
	if committed.CreatedAt.IsZero() {
		committed.CreatedAt = now()
	}

	// The balance guard lives in the filter, so the update only matches
	// when the result stays within bounds.
	filter := bson.M{"_id": t.UserID}
	if t.Kind.IsCredit() {
		filter["balance"] = bson.M{"$lte": (types.MaxBalance - t.Amount).Int64()}
	} else {
		filter["balance"] = bson.M{"$gte": t.Amount.Int64()}
	}
	update := bson.M{
		"$inc": bson.M{"balance": t.Kind.Delta(t.Amount).Int64()},
		"$set": bson.M{"updated_at": committed.CreatedAt},
	}

	sess, err := s.mdb.Collection(colAccounts).Database().Client().StartSession()
	if err != nil {
		return nil, fmt.Errorf("%w: start session: %v", pointledger.ErrStoreNotReady, err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		var acct accountModel
		err := s.mdb.Collection(colAccounts).
			FindOneAndUpdate(sc, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).
			Decode(&acct)
		if err != nil {
			return nil, err
		}
		committed.ResultingBalance = types.Points(acct.Balance)

		_, err = s.mdb.Collection(colTransactions).InsertOne(sc, toTransactionModel(&committed))
		return nil, err
	})
	if err == nil {
		return &committed, nil
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("%w: %v", pointledger.ErrTransactionFailed, err)
	}

	acct, err := s.GetAccount(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	return nil, pointledger.Rejection(t.Kind, t.Amount, acct.Balance)
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel

	filter := bson.M{"user_id": userID}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("pointledger/mongo: list transactions: %w", err)
	}

	result := make([]*transaction.Transaction, len(models))
	for i := range models {
		tx, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = tx
	}
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return pointledger.ErrSubscriptionExists
		}
		return fmt.Errorf("pointledger/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, pointledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("pointledger/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetLiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID, "live": true}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, pointledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("pointledger/mongo: get live subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"user_id": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("pointledger/mongo: list subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) FindSubscriptions(ctx context.Context, query subscription.Query) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{}
	if query.UserID != "" {
		filter["user_id"] = query.UserID
	}
	if len(query.Statuses) > 0 {
		statuses := make([]string, len(query.Statuses))
		for i, st := range query.Statuses {
			statuses[i] = string(st)
		}
		filter["status"] = bson.M{"$in": statuses}
	}
	if query.AutoRenewal != nil {
		filter["auto_renewal"] = *query.AutoRenewal
	}
	if !query.BillingDueBefore.IsZero() {
		filter["next_billing_date"] = bson.M{"$lte": query.BillingDueBefore}
	}
	if !query.EndBefore.IsZero() {
		filter["end_date"] = bson.M{"$lte": query.EndBefore}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "next_billing_date", Value: 1}})
	if query.Limit > 0 {
		q = q.Limit(int64(query.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("pointledger/mongo: find subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

// UpdateSubscription writes sub only if the stored version still matches
// sub.Version, then bumps the version.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": sub.Version}).
		SetUpdate(bson.M{"$set": bson.M{
			"status":            m.Status,
			"live":              m.Live,
			"end_date":          m.EndDate,
			"next_billing_date": m.NextBillingDate,
			"auto_renewal":      m.AutoRenewal,
			"failed_attempts":   m.FailedAttempts,
			"cancel_reason":     m.CancelReason,
			"canceled_at":       m.CanceledAt,
			"updated_at":        m.UpdatedAt,
			"version":           sub.Version + 1,
		}}).
		Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return pointledger.ErrSubscriptionExists
		}
		return fmt.Errorf("pointledger/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetSubscription(ctx, sub.ID); err != nil {
			return err
		}
		return pointledger.ErrSubscriptionConflict
	}
	sub.Version++
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all ledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "kind", Value: 1}}},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"live": true}),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_billing_date", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "end_date", Value: 1}}},
		},
	}
}
