package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("pointledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %v", pointledger.ErrMigrationFailed, err)
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
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
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
	_, err := s.pg.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID)
}

// ==================== Transaction Store ====================

// applySQL moves the balance and records the transaction in one statement.
// The guarded UPDATE takes the account row lock, so concurrent writers for
// one user serialize and re-check the bounds against the committed balance.
// No row comes back when the account is missing or the bounds would break.
const applySQL = `
WITH acct AS (
    UPDATE pointledger_accounts
       SET balance = balance + $3, updated_at = $6
     WHERE user_id = $2
       AND balance + $3 >= 0
       AND balance + $3 <= $7
 RETURNING balance
)
INSERT INTO pointledger_transactions
       (id, user_id, kind, amount, description, reference, resulting_balance, created_at)
SELECT $1, $2, $4, $5, $8, $9, acct.balance, $6
  FROM acct
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

	m := new(transactionModel)
	err := s.pg.NewRaw(applySQL,
		txID.String(),
		t.UserID,
		t.Kind.Delta(t.Amount).Int64(),
		string(t.Kind),
		t.Amount.Int64(),
		createdAt,
		types.MaxBalance.Int64(),
		t.Description,
		t.Reference,
	).Scan(ctx, m)
	if err == nil {
		return fromTransactionModel(m)
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("%w: %v", pointledger.ErrTransactionFailed, err)
	}

	// Nothing was written. Report why.
	acct, err := s.GetAccount(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	return nil, pointledger.Rejection(t.Kind, t.Amount, acct.Balance)
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)

	if opts.Kind != "" {
		q = q.Where("kind = $2", string(opts.Kind))
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	if isUniqueViolation(err) {
		return pointledger.ErrSubscriptionExists
	}
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
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
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Where("status IN ($2, $3)", string(subscription.StatusActive), string(subscription.StatusSuspended)).
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
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)

	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	next := func() int {
		argIdx++
		return argIdx
	}

	if query.UserID != "" {
		q = q.Where(fmt.Sprintf("user_id = $%d", next()), query.UserID)
	}
	if len(query.Statuses) > 0 {
		placeholders := make([]string, len(query.Statuses))
		args := make([]any, len(query.Statuses))
		for i, st := range query.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", next())
			args[i] = string(st)
		}
		q = q.Where("status IN ("+strings.Join(placeholders, ", ")+")", args...)
	}
	if query.AutoRenewal != nil {
		q = q.Where(fmt.Sprintf("auto_renewal = $%d", next()), *query.AutoRenewal)
	}
	if !query.BillingDueBefore.IsZero() {
		q = q.Where(fmt.Sprintf("next_billing_date <= $%d", next()), query.BillingDueBefore)
	}
	if !query.EndBefore.IsZero() {
		q = q.Where(fmt.Sprintf("end_date <= $%d", next()), query.EndBefore)
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
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(sub.Status)).
		Set("end_date = $2", sub.EndDate).
		Set("next_billing_date = $3", sub.NextBillingDate).
		Set("auto_renewal = $4", sub.AutoRenewal).
		Set("failed_attempts = $5", sub.FailedAttempts).
		Set("cancel_reason = $6", sub.CancelReason).
		Set("canceled_at = $7", sub.CanceledAt).
		Set("updated_at = $8", sub.UpdatedAt).
		Set("version = $9", sub.Version+1).
		Where("id = $10", sub.ID.String()).
		Where("version = $11", sub.Version).
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

// isUniqueViolation reports a unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}
