package pointledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/plan"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// Reasons recorded on subscription events.
const (
	ReasonUserRequest        = "user_request"
	ReasonInsufficientPoints = "insufficient_points"
	ReasonRenewalFailed      = "renewal_failed"
	ReasonCompensation       = "compensation"
)

// Outcome describes what a subscription operation did.
type Outcome string

const (
	OutcomeActivated         Outcome = "ACTIVATED"
	OutcomeRenewed           Outcome = "RENEWED"
	OutcomeSuspended         Outcome = "SUSPENDED"
	OutcomeReactivated       Outcome = "REACTIVATED"
	OutcomeCanceled          Outcome = "CANCELED"
	OutcomeExpired           Outcome = "EXPIRED"
	OutcomeInsufficientFunds Outcome = "INSUFFICIENT_FUNDS"
	OutcomeUnchanged         Outcome = "UNCHANGED"
)

// Result is returned by operations whose insufficient-funds case is a
// reported outcome rather than an error.
type Result struct {
	Outcome      Outcome                    `json:"outcome"`
	Subscription *subscription.Subscription `json:"subscription,omitempty"`
	Transaction  *transaction.Transaction   `json:"transaction,omitempty"`
	Required     types.Points               `json:"required,omitempty"`
	Available    types.Points               `json:"available,omitempty"`
}

// Succeeded reports whether the subscription ended up ACTIVE.
func (r *Result) Succeeded() bool {
	return r.Outcome == OutcomeActivated || r.Outcome == OutcomeReactivated ||
		r.Outcome == OutcomeRenewed ||
		(r.Outcome == OutcomeUnchanged && r.Subscription != nil && r.Subscription.Status == subscription.StatusActive)
}

func insufficientResult(sub *subscription.Subscription, err error) *Result {
	res := &Result{Outcome: OutcomeInsufficientFunds, Subscription: sub}
	var insufficient *InsufficientFunds
	if errors.As(err, &insufficient) {
		res.Required = insufficient.Required
		res.Available = insufficient.Available
	}
	return res
}

// ActivateSubscription debits the plan price and creates an ACTIVE
// subscription. Insufficient funds are reported through the Result with a
// nil error; PointsInsufficient has been emitted in that case.
func (l *Ledger) ActivateSubscription(ctx context.Context, userID string, planType plan.Type, autoRenewal bool) (*Result, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	price, err := l.catalog.Price(planType)
	if err != nil {
		return nil, ValidationError{Field: "planType", Message: err.Error()}
	}

	var out outbox
	unlock := l.users.Lock(userID)
	res, err := l.activateLocked(ctx, &out, userID, planType, price, autoRenewal)
	unlock()

	l.publish(ctx, out)
	return res, err
}

func (l *Ledger) activateLocked(ctx context.Context, out *outbox, userID string, planType plan.Type, price types.Points, autoRenewal bool) (*Result, error) {
	if _, err := l.store.EnsureAccount(ctx, userID); err != nil {
		return nil, err
	}

	live, err := l.store.GetLiveSubscription(ctx, userID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s is %s", ErrSubscriptionExists, live.ID, live.Status)
	case !errors.Is(err, ErrSubscriptionNotFound):
		return nil, err
	}

	subID := id.NewSubscriptionID()
	tx, err := l.debitLocked(ctx, out, &transaction.Transaction{
		UserID:      userID,
		Kind:        transaction.KindUse,
		Amount:      price,
		Description: "Subscription: " + string(planType),
		Reference:   subID.String(),
	}, "")
	if IsInsufficientFunds(err) {
		return insufficientResult(nil, err), nil
	}
	if err != nil {
		return nil, err
	}

	now := l.now()
	sub := &subscription.Subscription{
		Entity:      types.EntityAt(now),
		ID:          subID,
		UserID:      userID,
		Plan:        planType,
		Status:      subscription.StatusActive,
		MonthlyCost: price,
		StartDate:   now,
		AutoRenewal: autoRenewal,
		Version:     1,
	}
	sub.StartPeriod(now)

	if err := l.store.CreateSubscription(ctx, sub); err != nil {
		l.compensateLocked(ctx, out, tx, err)
		return nil, err
	}

	out.add(l.newEvent(event.TypeSubscriptionActivated, sub.ID.String(), event.SubscriptionActivated{
		SubscriptionID: sub.ID.String(),
		UserID:         sub.UserID,
		Plan:           string(sub.Plan),
		EndDate:        sub.EndDate,
	}))
	l.plugins.EmitSubscriptionTransition(ctx, sub, "")

	l.logger.Info("subscription activated",
		"subscription_id", sub.ID.String(),
		"user_id", userID,
		"plan", planType,
		"end_date", sub.EndDate,
	)

	return &Result{Outcome: OutcomeActivated, Subscription: sub, Transaction: tx}, nil
}

// CancelSubscription moves a live subscription to CANCELED.
func (l *Ledger) CancelSubscription(ctx context.Context, subID id.SubscriptionID, reason string) (*subscription.Subscription, error) {
	if reason == "" {
		reason = ReasonUserRequest
	}

	var out outbox
	sub, err := l.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		if sub.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, sub.ID, sub.Status)
		}
		return l.cancelLocked(ctx, &out, sub, reason)
	})
	l.publish(ctx, out)
	return sub, err
}

func (l *Ledger) cancelLocked(ctx context.Context, out *outbox, sub *subscription.Subscription, reason string) error {
	from := sub.Status
	if err := sub.Transition(subscription.StatusCanceled); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	now := l.now()
	sub.CancelReason = reason
	sub.CanceledAt = &now
	sub.AutoRenewal = false

	if err := l.save(ctx, sub); err != nil {
		return err
	}

	out.add(l.newEvent(event.TypeSubscriptionCanceled, sub.ID.String(), event.SubscriptionCanceled{
		SubscriptionID: sub.ID.String(),
		UserID:         sub.UserID,
		Reason:         reason,
	}))
	l.plugins.EmitSubscriptionTransition(ctx, sub, from)

	l.logger.Info("subscription canceled",
		"subscription_id", sub.ID.String(),
		"user_id", sub.UserID,
		"reason", reason,
	)
	return nil
}

// ReactivateSubscription retries the debit of a SUSPENDED subscription.
// ACTIVE subscriptions are left as they are; terminal ones are refused.
func (l *Ledger) ReactivateSubscription(ctx context.Context, subID id.SubscriptionID) (*Result, error) {
	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, sub.ID, sub.Status)
	}
	return l.retryReactivation(ctx, subID, triggerManual)
}

// GetSubscription returns a subscription by id.
func (l *Ledger) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return l.store.GetSubscription(ctx, subID)
}

// GetLiveSubscription returns the user's ACTIVE or SUSPENDED subscription.
func (l *Ledger) GetLiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	return l.store.GetLiveSubscription(ctx, userID)
}

// ListSubscriptions returns a user's subscriptions, newest first.
func (l *Ledger) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 50
	}
	return l.store.ListSubscriptions(ctx, userID, opts)
}

// withSubscription loads subID, takes its owner's lock, reloads it and
// runs fn on the fresh copy.
func (l *Ledger) withSubscription(ctx context.Context, subID id.SubscriptionID, fn func(sub *subscription.Subscription) error) (*subscription.Subscription, error) {
	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	unlock := l.users.Lock(sub.UserID)
	defer unlock()

	sub, err = l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if err := fn(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// compensateLocked refunds a debit whose follow-up write failed.
func (l *Ledger) compensateLocked(ctx context.Context, out *outbox, debit *transaction.Transaction, cause error) {
	refund, err := l.applyLocked(ctx, &transaction.Transaction{
		UserID:      debit.UserID,
		Kind:        transaction.KindRefund,
		Amount:      debit.Amount,
		Description: "Compensation for " + debit.ID.String(),
		Reference:   debit.Reference,
	})
	if err != nil {
		l.logger.Error("compensating refund failed",
			"user_id", debit.UserID,
			"transaction_id", debit.ID.String(),
			"amount", debit.Amount.Int64(),
			"cause", cause,
			"error", err,
		)
		return
	}

	l.logger.Warn("debit compensated",
		"user_id", debit.UserID,
		"transaction_id", debit.ID.String(),
		"refund_id", refund.ID.String(),
		"cause", cause,
	)
	out.add(l.pointsAdded(refund, ReasonCompensation))
}

// save writes sub back with a compare-and-swap on its version.
func (l *Ledger) save(ctx context.Context, sub *subscription.Subscription) error {
	sub.UpdatedAt = l.now()
	return l.store.UpdateSubscription(ctx, sub)
}

func (l *Ledger) since(t time.Time) time.Duration { return l.now().Sub(t) }
