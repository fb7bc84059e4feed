package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/account"
	"github.com/xraph/pointledger/id"
	ledgerstore "github.com/xraph/pointledger/store"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables, indexes and triggers using the
// grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("pointledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %v", pointledger.ErrMigrationFailed, err)
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
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, pointledger.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m), nil
}

func (s *Store) EnsureAccount(ctx context.Context, userID string) (*account.Account, error) {
	t := now()
	m := &accountModel{UserID: userID, CreatedAt: t, UpdatedAt: t}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID)
}

// ==================== Transaction Store ====================

// applySQL inserts the transaction with its resulting balance computed
// from the account row; the trg_pointledger_tx_balance trigger then writes
// that balance back. Both happen inside the statement's implicit
// transaction. No row comes back when the bounds would break.
const applySQL = `
INSERT INTO pointledger_transactions
       (id, user_id, kind, amount, description, reference, resulting_balance, created_at)
SELECT ?, user_id, ?, ?, ?, ?, balance + ?, ?
  FROM pointledger_accounts
 WHERE user_id = ?
   AND balance + ? >= 0
   AND balance + ? <= ?
RETURNING id, user_id, kind, amount, description, reference, resulting_balance, created_at`

func (s *Store) ApplyTransaction(ctx context.Context, t *transaction.Transaction) (*transaction.Transaction, error) {
	if err := pointledger.ValidateTransaction(t); err != nil {
		return nil, err
	}

	txID := t.ID
	if txID.IsNil() {
		txID = id.NewTransactionID()
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}
	delta := t.Kind.Delta(t.Amount).Int64()

	m := new(transactionModel)
	err := s.sdb.NewRaw(applySQL,
		txID.String(),
		string(t.Kind),
		t.Amount.Int64(),
		t.Description,
		t.Reference,
		delta,
		createdAt,
		t.UserID,
		delta,
		delta,
		types.MaxBalance.Int64(),
	).Scan(ctx, m)
	if err == nil {
		return fromTransactionModel(m)
	}
	if !isNoRows(err) {
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
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID)

	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	if isUniqueViolation(err) {
		return pointledger.ErrSubscriptionExists
	}
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, pointledger.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetLiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Where("status IN (?, ?)", string(subscription.StatusActive), string(subscription.StatusSuspended)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, pointledger.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) FindSubscriptions(ctx context.Context, query subscription.Query) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models)

	if query.UserID != "" {
		q = q.Where("user_id = ?", query.UserID)
	}
	if len(query.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(query.Statuses)), ", ")
		args := make([]any, len(query.Statuses))
		for i, st := range query.Statuses {
			args[i] = string(st)
		}
		q = q.Where("status IN ("+placeholders+")", args...)
	}
	if query.AutoRenewal != nil {
		q = q.Where("auto_renewal = ?", *query.AutoRenewal)
	}
	if !query.BillingDueBefore.IsZero() {
		q = q.Where("next_billing_date <= ?", query.BillingDueBefore)
	}
	if !query.EndBefore.IsZero() {
		q = q.Where("end_date <= ?", query.EndBefore)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	q = q.OrderExpr("next_billing_date ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

// UpdateSubscription writes sub only if the stored version still matches
// sub.Version, then bumps the version.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(sub.Status)).
		Set("end_date = ?", sub.EndDate).
		Set("next_billing_date = ?", sub.NextBillingDate).
		Set("auto_renewal = ?", sub.AutoRenewal).
		Set("failed_attempts = ?", sub.FailedAttempts).
		Set("cancel_reason = ?", sub.CancelReason).
		Set("canceled_at = ?", sub.CanceledAt).
		Set("updated_at = ?", sub.UpdatedAt).
		Set("version = ?", sub.Version+1).
		Where("id = ?", sub.ID.String()).
		Where("version = ?", sub.Version).
		Exec(ctx)
	if isUniqueViolation(err) {
		return pointledger.ErrSubscriptionExists
	}
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
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

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation matches SQLite's UNIQUE constraint failure message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
