// Package pgxstore implements store.Store directly on a pgx connection
// pool. It shares the table layout of store/postgres and is what the
// pointsd binary runs against.
package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/account"
	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/plan"
	ledgerstore "github.com/xraph/pointledger/store"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store on a pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller owns the pool unless Close is
// called.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect parses dsn, applies pool sizing and opens a pool.
func Connect(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pointledger/pgx: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pointledger.ErrStoreNotReady, err)
	}
	return New(pool), nil
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: pgx: %v", pointledger.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ==================== Account Store ====================

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	return getAccount(ctx, s.pool, userID, false)
}

func (s *Store) EnsureAccount(ctx context.Context, userID string) (*account.Account, error) {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO pointledger_accounts (user_id, balance, created_at, updated_at)
        VALUES ($1, 0, $2, $2)
        ON CONFLICT (user_id) DO NOTHING`, userID, now())
	if err != nil {
		return nil, fmt.Errorf("pointledger/pgx: ensure account: %w", err)
	}
	return s.GetAccount(ctx, userID)
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getAccount(ctx context.Context, q querier, userID string, forUpdate bool) (*account.Account, error) {
	query := `SELECT user_id, balance, created_at, updated_at FROM pointledger_accounts WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		a       account.Account
		balance int64
	)
	err := q.QueryRow(ctx, query, userID).Scan(&a.UserID, &balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pointledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("pointledger/pgx: get account: %w", err)
	}
	a.Balance = types.Points(balance)
	return &a, nil
}

// ==================== Transaction Store ====================

// ApplyTransaction locks the account row, checks the bounds and writes the
// new balance together with the transaction row.
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

	var rejection error
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		acct, err := getAccount(ctx, tx, t.UserID, true)
		if err != nil {
			return err
		}

		next, ok := committed.Apply(acct.Balance)
		if !ok {
			rejection = pointledger.Rejection(t.Kind, t.Amount, acct.Balance)
			return rejection
		}
		committed.ResultingBalance = next

		if _, err := tx.Exec(ctx,
			`UPDATE pointledger_accounts SET balance = $2, updated_at = $3 WHERE user_id = $1`,
			t.UserID, next.Int64(), committed.CreatedAt,
		); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
            INSERT INTO pointledger_transactions
                (id, user_id, kind, amount, description, reference, resulting_balance, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			committed.ID.String(), committed.UserID, string(committed.Kind), committed.Amount.Int64(),
			committed.Description, committed.Reference, committed.ResultingBalance.Int64(), committed.CreatedAt,
		)
		return err
	})
	switch {
	case err == nil:
		return &committed, nil
	case rejection != nil:
		return nil, rejection
	case errors.Is(err, pointledger.ErrAccountNotFound):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %v", pointledger.ErrTransactionFailed, err)
	}
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	query := `
        SELECT id, user_id, kind, amount, description, reference, resulting_balance, created_at
        FROM pointledger_transactions
        WHERE user_id = $1`
	args := []any{userID}

	if opts.Kind != "" {
		args = append(args, string(opts.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	query += limitOffset(&args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pointledger/pgx: list transactions: %w", err)
	}
	defer rows.Close()

	var result []*transaction.Transaction
	for rows.Next() {
		var (
			t                        transaction.Transaction
			rawID, kind              string
			amount, resultingBalance int64
		)
		if err := rows.Scan(&rawID, &t.UserID, &kind, &amount, &t.Description, &t.Reference, &resultingBalance, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("pointledger/pgx: scan transaction: %w", err)
		}
		txID, err := id.ParseTransactionID(rawID)
		if err != nil {
			return nil, err
		}
		t.ID = txID
		t.Kind = transaction.Kind(kind)
		t.Amount = types.Points(amount)
		t.ResultingBalance = types.Points(resultingBalance)
		result = append(result, &t)
	}
	return result, rows.Err()
}

// ==================== Subscription Store ====================

const subscriptionColumns = `id, user_id, plan_type, status, monthly_cost, start_date, end_date,
    next_billing_date, auto_renewal, failed_attempts, cancel_reason, canceled_at, version,
    created_at, updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO pointledger_subscriptions (`+subscriptionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.ID.String(), sub.UserID, string(sub.Plan), string(sub.Status), sub.MonthlyCost.Int64(),
		sub.StartDate, sub.EndDate, sub.NextBillingDate, sub.AutoRenewal, sub.FailedAttempts,
		sub.CancelReason, sub.CanceledAt, sub.Version, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pointledger.ErrSubscriptionExists
		}
		return fmt.Errorf("pointledger/pgx: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM pointledger_subscriptions WHERE id = $1`, subID.String())
	return scanSubscription(row)
}

func (s *Store) GetLiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM pointledger_subscriptions
         WHERE user_id = $1 AND status IN ('ACTIVE', 'SUSPENDED')`, userID)
	return scanSubscription(row)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM pointledger_subscriptions WHERE user_id = $1`
	args := []any{userID}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	query += limitOffset(&args, opts.Limit, opts.Offset)

	return s.querySubscriptions(ctx, query, args...)
}

func (s *Store) FindSubscriptions(ctx context.Context, q subscription.Query) ([]*subscription.Subscription, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if q.AutoRenewal != nil {
		add("auto_renewal = $%d", *q.AutoRenewal)
	}
	if !q.BillingDueBefore.IsZero() {
		add("next_billing_date <= $%d", q.BillingDueBefore)
	}
	if !q.EndBefore.IsZero() {
		add("end_date <= $%d", q.EndBefore)
	}

	query := `SELECT ` + subscriptionColumns + ` FROM pointledger_subscriptions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY next_billing_date ASC"
	query += limitOffset(&args, q.Limit, 0)

	return s.querySubscriptions(ctx, query, args...)
}

// UpdateSubscription writes sub only if the stored version still matches
// sub.Version, then bumps the version.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE pointledger_subscriptions SET
            status = $1, end_date = $2, next_billing_date = $3, auto_renewal = $4,
            failed_attempts = $5, cancel_reason = $6, canceled_at = $7, updated_at = $8,
            version = version + 1
        WHERE id = $9 AND version = $10`,
		string(sub.Status), sub.EndDate, sub.NextBillingDate, sub.AutoRenewal,
		sub.FailedAttempts, sub.CancelReason, sub.CanceledAt, sub.UpdatedAt,
		sub.ID.String(), sub.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pointledger.ErrSubscriptionExists
		}
		return fmt.Errorf("pointledger/pgx: update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetSubscription(ctx, sub.ID); err != nil {
			return err
		}
		return pointledger.ErrSubscriptionConflict
	}
	sub.Version++
	return nil
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]*subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pointledger/pgx: query subscriptions: %w", err)
	}
	defer rows.Close()

	var result []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		sub                     subscription.Subscription
		rawID, planType, status string
		monthlyCost             int64
	)
	err := row.Scan(
		&rawID, &sub.UserID, &planType, &status, &monthlyCost,
		&sub.StartDate, &sub.EndDate, &sub.NextBillingDate, &sub.AutoRenewal, &sub.FailedAttempts,
		&sub.CancelReason, &sub.CanceledAt, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pointledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("pointledger/pgx: scan subscription: %w", err)
	}

	subID, err := id.ParseSubscriptionID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", rawID, err)
	}
	sub.ID = subID
	sub.Plan = plan.Type(planType)
	sub.Status = subscription.Status(status)
	sub.MonthlyCost = types.Points(monthlyCost)
	return &sub, nil
}

// ==================== Helpers ====================

func limitOffset(args *[]any, limit, offset int) string {
	var clause string
	if limit > 0 {
		*args = append(*args, limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}
