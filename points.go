package pointledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// Purchase bounds for a single ChargePoints request.
const (
	MinPurchase types.Points = 10
	MaxPurchase types.Points = 100_000
)

// ReasonPurchase is the PointsAdded reason recorded for purchases.
const ReasonPurchase = "purchase"

// PurchaseRequest credits points bought through an external payment.
type PurchaseRequest struct {
	UserID    string
	Amount    types.Points
	PaymentID string
}

// UseRequest debits points, typically to unlock a book.
type UseRequest struct {
	UserID      string
	Amount      types.Points
	BookID      string
	Description string
}

// RefundRequest returns points to a user.
type RefundRequest struct {
	UserID    string
	Amount    types.Points
	Reason    string
	Reference string
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ValidationError{Field: "userId", Message: "is required"}
	}
	return nil
}

func validateAmount(amount types.Points) error {
	if !amount.IsPositive() {
		return ValidationError{Field: "amount", Message: "must be positive"}
	}
	return nil
}

// ValidateTransaction checks the fields every store requires before it
// applies t: an owner, a known kind and a positive amount.
func ValidateTransaction(t *transaction.Transaction) error {
	if t == nil {
		return ValidationError{Field: "transaction", Message: "is required"}
	}
	if err := validateUser(t.UserID); err != nil {
		return err
	}
	if !t.Kind.IsValid() {
		return ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", t.Kind)}
	}
	return validateAmount(t.Amount)
}

// GetBalance returns the user's balance. Users without an account have a
// balance of zero.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (types.Points, error) {
	if err := validateUser(userID); err != nil {
		return 0, err
	}
	acct, err := l.store.GetAccount(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// ChargePoints records a purchase and emits PointsPurchased followed by
// PointsAdded.
func (l *Ledger) ChargePoints(ctx context.Context, req PurchaseRequest) (*transaction.Transaction, error) {
	if err := validateUser(req.UserID); err != nil {
		return nil, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if !req.Amount.InRange(MinPurchase, MaxPurchase) {
		return nil, ValidationError{
			Field:   "amount",
			Message: "must be between " + MinPurchase.String() + " and " + MaxPurchase.String(),
		}
	}
	if req.PaymentID == "" {
		req.PaymentID = id.NewPaymentID().String()
	}

	committed, err := l.apply(ctx, &transaction.Transaction{
		UserID:      req.UserID,
		Kind:        transaction.KindPurchase,
		Amount:      req.Amount,
		Description: "Point purchase",
		Reference:   req.PaymentID,
	})
	if err != nil {
		return nil, err
	}

	var out outbox
	out.add(l.newEvent(event.TypePointsPurchased, req.UserID, event.PointsPurchased{
		UserID:         req.UserID,
		Amount:         committed.Amount,
		PaymentID:      req.PaymentID,
		CurrentBalance: committed.ResultingBalance,
	}))
	out.add(l.pointsAdded(committed, ReasonPurchase))
	l.publish(ctx, out)

	return committed, nil
}

// UsePoints debits points. When the balance is too low it emits
// PointsInsufficient and returns *InsufficientFunds.
func (l *Ledger) UsePoints(ctx context.Context, req UseRequest) (*transaction.Transaction, error) {
	if err := validateUser(req.UserID); err != nil {
		return nil, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	desc := req.Description
	if desc == "" {
		desc = "Point usage"
	}

	var out outbox
	committed, err := l.debit(ctx, &out, &transaction.Transaction{
		UserID:      req.UserID,
		Kind:        transaction.KindUse,
		Amount:      req.Amount,
		Description: desc,
		Reference:   req.BookID,
	}, req.BookID)
	l.publish(ctx, out)
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// RefundPoints credits points back and emits PointsAdded with the refund
// reason.
func (l *Ledger) RefundPoints(ctx context.Context, req RefundRequest) (*transaction.Transaction, error) {
	if err := validateUser(req.UserID); err != nil {
		return nil, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	reason := req.Reason
	if reason == "" {
		reason = "refund"
	}

	committed, err := l.apply(ctx, &transaction.Transaction{
		UserID:      req.UserID,
		Kind:        transaction.KindRefund,
		Amount:      req.Amount,
		Description: "Refund: " + reason,
		Reference:   req.Reference,
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, outbox{l.pointsAdded(committed, reason)})
	return committed, nil
}

// GrantPoints credits points outside the purchase flow, such as a signup
// bonus. Purchase bounds do not apply; the balance cap does.
func (l *Ledger) GrantPoints(ctx context.Context, userID string, amount types.Points, reason string) (*transaction.Transaction, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "grant"
	}

	committed, err := l.apply(ctx, &transaction.Transaction{
		UserID:      userID,
		Kind:        transaction.KindPurchase,
		Amount:      amount,
		Description: "Grant: " + reason,
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, outbox{l.pointsAdded(committed, reason)})
	return committed, nil
}

// ListTransactions returns a user's history, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if opts.Kind != "" && !opts.Kind.IsValid() {
		return nil, ValidationError{Field: "kind", Message: "unknown transaction kind"}
	}
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return l.store.ListTransactions(ctx, userID, opts)
}

// apply serializes tx against the user's other mutations.
func (l *Ledger) apply(ctx context.Context, tx *transaction.Transaction) (*transaction.Transaction, error) {
	unlock := l.users.Lock(tx.UserID)
	defer unlock()
	return l.applyLocked(ctx, tx)
}

// applyLocked creates the account if needed and applies tx. The caller
// must hold the user's lock.
func (l *Ledger) applyLocked(ctx context.Context, tx *transaction.Transaction) (*transaction.Transaction, error) {
	if _, err := l.store.EnsureAccount(ctx, tx.UserID); err != nil {
		return nil, err
	}

	committed, err := l.store.ApplyTransaction(ctx, tx)
	if err != nil {
		if IsInsufficientFunds(err) || IsBalanceCap(err) {
			l.plugins.EmitTransactionRejected(ctx, tx.UserID, tx.Kind, tx.Amount, err)
		} else {
			l.logger.Error("apply transaction failed",
				"user_id", tx.UserID,
				"kind", tx.Kind,
				"amount", tx.Amount.Int64(),
				"error", err,
			)
		}
		return nil, err
	}

	l.plugins.EmitTransactionApplied(ctx, committed)
	return committed, nil
}

// debit applies a USE under the user's lock and queues PointsUsed, or
// PointsInsufficient when the balance is too low.
func (l *Ledger) debit(ctx context.Context, out *outbox, tx *transaction.Transaction, bookID string) (*transaction.Transaction, error) {
	unlock := l.users.Lock(tx.UserID)
	defer unlock()
	return l.debitLocked(ctx, out, tx, bookID)
}

func (l *Ledger) debitLocked(ctx context.Context, out *outbox, tx *transaction.Transaction, bookID string) (*transaction.Transaction, error) {
	committed, err := l.applyLocked(ctx, tx)
	if err != nil {
		var insufficient *InsufficientFunds
		if errors.As(err, &insufficient) {
			out.add(l.newEvent(event.TypePointsInsufficient, tx.UserID, event.PointsInsufficient{
				UserID:         tx.UserID,
				RequiredAmount: insufficient.Required,
				CurrentBalance: insufficient.Available,
			}))
		}
		return nil, err
	}

	out.add(l.newEvent(event.TypePointsUsed, tx.UserID, event.PointsUsed{
		UserID:         tx.UserID,
		Amount:         committed.Amount,
		BookID:         bookID,
		Description:    committed.Description,
		CurrentBalance: committed.ResultingBalance,
	}))
	return committed, nil
}

func (l *Ledger) pointsAdded(tx *transaction.Transaction, reason string) *event.Event {
	return l.newEvent(event.TypePointsAdded, tx.UserID, event.PointsAdded{
		UserID:         tx.UserID,
		Amount:         tx.Amount,
		Reason:         reason,
		CurrentBalance: tx.ResultingBalance,
	})
}
