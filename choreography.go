package pointledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/eventbus"
	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
)

// HandlerReactivateOnPointsAdded is the router name of the handler that
// retries suspended subscriptions when a user's balance grows.
const HandlerReactivateOnPointsAdded = "subscription.reactivate-on-points-added"

type retryTrigger string

const (
	triggerSchedule    retryTrigger = "schedule"
	triggerPointsAdded retryTrigger = "points_added"
	triggerManual      retryTrigger = "manual"
)

// SweepResult summarizes one scheduled sweep.
type SweepResult struct {
	Scanned     int `json:"scanned"`
	Renewed     int `json:"renewed"`
	Suspended   int `json:"suspended"`
	Reactivated int `json:"reactivated"`
	Canceled    int `json:"canceled"`
	Expired     int `json:"expired"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

func (r *SweepResult) count(o Outcome) {
	switch o {
	case OutcomeRenewed:
		r.Renewed++
	case OutcomeSuspended:
		r.Suspended++
	case OutcomeReactivated:
		r.Reactivated++
	case OutcomeCanceled:
		r.Canceled++
	case OutcomeExpired:
		r.Expired++
	default:
		r.Skipped++
	}
}

// RegisterHandlers subscribes the engine's event reactions on r.
func (l *Ledger) RegisterHandlers(r *eventbus.Router) error {
	return r.Subscribe(event.TypePointsAdded, HandlerReactivateOnPointsAdded, l.onPointsAdded)
}

// onPointsAdded retries every suspended subscription of the user that the
// new balance can pay for.
func (l *Ledger) onPointsAdded(ctx context.Context, e *event.Event) error {
	p, err := event.Decode[event.PointsAdded](e)
	if err != nil {
		l.logger.Error("dropping malformed PointsAdded", "event_id", e.ID.String(), "error", err)
		return nil
	}
	// Compensating refunds return a failed retry's debit; they never retry.
	if p.Reason == ReasonCompensation {
		return nil
	}

	suspended, err := l.store.FindSubscriptions(ctx, subscription.Query{
		UserID:   p.UserID,
		Statuses: []subscription.Status{subscription.StatusSuspended},
	})
	if err != nil {
		return err
	}

	var errs MultiError
	for _, sub := range suspended {
		if p.CurrentBalance < sub.MonthlyCost {
			l.logger.Debug("balance still below renewal cost",
				"subscription_id", sub.ID.String(),
				"balance", p.CurrentBalance.Int64(),
				"cost", sub.MonthlyCost.Int64(),
			)
			continue
		}
		if _, err := l.retryReactivation(ctx, sub.ID, triggerPointsAdded); err != nil {
			errs.Add(fmt.Errorf("reactivate %s: %w", sub.ID, err))
		}
	}
	return errs.ErrorOrNil()
}

// retryReactivation is the single path from SUSPENDED back to ACTIVE. It
// re-reads the subscription under the owner's lock, so repeated calls for
// the same subscription reactivate it at most once. Only scheduled
// attempts count toward the cancellation limit.
func (l *Ledger) retryReactivation(ctx context.Context, subID id.SubscriptionID, trigger retryTrigger) (*Result, error) {
	var (
		out outbox
		res *Result
	)
	_, err := l.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		var err error
		res, err = l.reactivateLocked(ctx, &out, sub, trigger)
		return err
	})
	l.publish(ctx, out)
	return res, err
}

func (l *Ledger) reactivateLocked(ctx context.Context, out *outbox, sub *subscription.Subscription, trigger retryTrigger) (*Result, error) {
	if sub.Status != subscription.StatusSuspended {
		return &Result{Outcome: OutcomeUnchanged, Subscription: sub}, nil
	}

	tx, err := l.debitLocked(ctx, out, &transaction.Transaction{
		UserID:      sub.UserID,
		Kind:        transaction.KindUse,
		Amount:      sub.MonthlyCost,
		Description: "Subscription renewal: " + string(sub.Plan),
		Reference:   sub.ID.String(),
	}, "")

	if IsInsufficientFunds(err) {
		return l.recordFailedRetryLocked(ctx, out, sub, trigger, err)
	}
	if err != nil {
		return nil, err
	}

	now := l.now()
	from := sub.Status
	if err := sub.Transition(subscription.StatusActive); err != nil {
		l.compensateLocked(ctx, out, tx, err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	sub.FailedAttempts = 0
	sub.StartPeriod(now)

	if err := l.save(ctx, sub); err != nil {
		l.compensateLocked(ctx, out, tx, err)
		return nil, err
	}

	out.add(l.newEvent(event.TypeSubscriptionActivated, sub.ID.String(), event.SubscriptionActivated{
		SubscriptionID: sub.ID.String(),
		UserID:         sub.UserID,
		Plan:           string(sub.Plan),
		EndDate:        sub.EndDate,
	}))
	l.plugins.EmitSubscriptionTransition(ctx, sub, from)

	l.logger.Info("subscription reactivated",
		"subscription_id", sub.ID.String(),
		"user_id", sub.UserID,
		"trigger", trigger,
		"end_date", sub.EndDate,
	)

	return &Result{Outcome: OutcomeReactivated, Subscription: sub, Transaction: tx}, nil
}

func (l *Ledger) recordFailedRetryLocked(ctx context.Context, out *outbox, sub *subscription.Subscription, trigger retryTrigger, cause error) (*Result, error) {
	if trigger != triggerSchedule {
		return insufficientResult(sub, cause), nil
	}

	sub.FailedAttempts++
	if sub.FailedAttempts >= l.maxRenewalAttempts {
		if err := l.cancelLocked(ctx, out, sub, ReasonRenewalFailed); err != nil {
			return nil, err
		}
		res := insufficientResult(sub, cause)
		res.Outcome = OutcomeCanceled
		return res, nil
	}

	if err := l.save(ctx, sub); err != nil {
		return nil, err
	}

	l.logger.Info("subscription renewal retry failed",
		"subscription_id", sub.ID.String(),
		"user_id", sub.UserID,
		"attempt", sub.FailedAttempts,
		"max_attempts", l.maxRenewalAttempts,
	)
	return insufficientResult(sub, cause), nil
}

// ProcessAutoRenewals bills every ACTIVE auto-renewing subscription whose
// billing date has passed, then retries suspended ones. It stops between
// items when ctx is canceled; the next run picks up where it left off.
func (l *Ledger) ProcessAutoRenewals(ctx context.Context) (*SweepResult, error) {
	now := l.now()
	autoRenew := true
	res := &SweepResult{}

	due, err := l.store.FindSubscriptions(ctx, subscription.Query{
		Statuses:         []subscription.Status{subscription.StatusActive},
		AutoRenewal:      &autoRenew,
		BillingDueBefore: now,
		Limit:            l.sweepBatch,
	})
	if err != nil {
		return res, err
	}

	suspendedNow := make(map[string]bool)
	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		outcome, err := l.renew(ctx, sub.ID)
		if err != nil {
			res.Failed++
			l.logger.Error("renewal failed",
				"subscription_id", sub.ID.String(),
				"user_id", sub.UserID,
				"error", err,
			)
			continue
		}
		if outcome == OutcomeSuspended {
			suspendedNow[sub.ID.String()] = true
		}
		res.count(outcome)
	}

	suspended, err := l.store.FindSubscriptions(ctx, subscription.Query{
		Statuses:    []subscription.Status{subscription.StatusSuspended},
		AutoRenewal: &autoRenew,
		Limit:       l.sweepBatch,
	})
	if err != nil {
		return res, err
	}

	for _, sub := range suspended {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		if suspendedNow[sub.ID.String()] || l.since(sub.UpdatedAt) < l.retryInterval {
			res.Skipped++
			continue
		}

		r, err := l.retryReactivation(ctx, sub.ID, triggerSchedule)
		if err != nil {
			res.Failed++
			l.logger.Error("renewal retry failed",
				"subscription_id", sub.ID.String(),
				"user_id", sub.UserID,
				"error", err,
			)
			continue
		}
		res.count(r.Outcome)
	}

	l.logger.Info("auto-renewal sweep finished",
		"scanned", res.Scanned,
		"renewed", res.Renewed,
		"suspended", res.Suspended,
		"reactivated", res.Reactivated,
		"canceled", res.Canceled,
		"failed", res.Failed,
	)
	return res, nil
}

func (l *Ledger) renew(ctx context.Context, subID id.SubscriptionID) (Outcome, error) {
	var (
		out     outbox
		outcome = OutcomeUnchanged
	)
	_, err := l.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		var err error
		outcome, err = l.renewLocked(ctx, &out, sub)
		return err
	})
	l.publish(ctx, out)
	return outcome, err
}

func (l *Ledger) renewLocked(ctx context.Context, out *outbox, sub *subscription.Subscription) (Outcome, error) {
	if !sub.RenewalDue(l.now()) {
		return OutcomeUnchanged, nil
	}

	tx, err := l.debitLocked(ctx, out, &transaction.Transaction{
		UserID:      sub.UserID,
		Kind:        transaction.KindUse,
		Amount:      sub.MonthlyCost,
		Description: "Subscription renewal: " + string(sub.Plan),
		Reference:   sub.ID.String(),
	}, "")

	if IsInsufficientFunds(err) {
		if err := sub.Transition(subscription.StatusSuspended); err != nil {
			return OutcomeUnchanged, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		sub.FailedAttempts = 1
		if err := l.save(ctx, sub); err != nil {
			return OutcomeUnchanged, err
		}

		out.add(l.newEvent(event.TypeSubscriptionSuspended, sub.ID.String(), event.SubscriptionSuspended{
			SubscriptionID: sub.ID.String(),
			UserID:         sub.UserID,
			Reason:         ReasonInsufficientPoints,
			AttemptCount:   sub.FailedAttempts,
		}))
		l.plugins.EmitSubscriptionTransition(ctx, sub, subscription.StatusActive)

		l.logger.Info("subscription suspended",
			"subscription_id", sub.ID.String(),
			"user_id", sub.UserID,
			"cost", sub.MonthlyCost.Int64(),
		)
		return OutcomeSuspended, nil
	}
	if err != nil {
		return OutcomeUnchanged, err
	}

	sub.AdvancePeriod()
	if err := sub.Transition(subscription.StatusActive); err != nil {
		l.compensateLocked(ctx, out, tx, err)
		return OutcomeUnchanged, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if err := l.save(ctx, sub); err != nil {
		l.compensateLocked(ctx, out, tx, err)
		return OutcomeUnchanged, err
	}

	out.add(l.newEvent(event.TypeSubscriptionRenewed, sub.ID.String(), event.SubscriptionRenewed{
		SubscriptionID: sub.ID.String(),
		UserID:         sub.UserID,
		Plan:           string(sub.Plan),
		EndDate:        sub.EndDate,
	}))
	l.plugins.EmitSubscriptionTransition(ctx, sub, subscription.StatusActive)
	return OutcomeRenewed, nil
}

// ProcessExpired moves live subscriptions without auto-renewal whose end
// date has passed to EXPIRED.
func (l *Ledger) ProcessExpired(ctx context.Context) (*SweepResult, error) {
	now := l.now()
	autoRenew := false
	res := &SweepResult{}

	ended, err := l.store.FindSubscriptions(ctx, subscription.Query{
		Statuses:    []subscription.Status{subscription.StatusActive, subscription.StatusSuspended},
		AutoRenewal: &autoRenew,
		EndBefore:   now,
		Limit:       l.sweepBatch,
	})
	if err != nil {
		return res, err
	}

	for _, sub := range ended {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		outcome, err := l.expire(ctx, sub.ID)
		if err != nil {
			res.Failed++
			l.logger.Error("expiry failed",
				"subscription_id", sub.ID.String(),
				"user_id", sub.UserID,
				"error", err,
			)
			continue
		}
		res.count(outcome)
	}

	l.logger.Info("expiry sweep finished",
		"scanned", res.Scanned,
		"expired", res.Expired,
		"failed", res.Failed,
	)
	return res, nil
}

func (l *Ledger) expire(ctx context.Context, subID id.SubscriptionID) (Outcome, error) {
	var (
		out     outbox
		outcome = OutcomeUnchanged
	)
	_, err := l.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		if !sub.Expired(l.now()) {
			return nil
		}
		from := sub.Status
		if err := sub.Transition(subscription.StatusExpired); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		if err := l.save(ctx, sub); err != nil {
			return err
		}

		out.add(l.newEvent(event.TypeSubscriptionExpired, sub.ID.String(), event.SubscriptionExpired{
			SubscriptionID: sub.ID.String(),
			UserID:         sub.UserID,
			EndDate:        sub.EndDate,
		}))
		l.plugins.EmitSubscriptionTransition(ctx, sub, from)
		outcome = OutcomeExpired
		return nil
	})
	l.publish(ctx, out)

	if errors.Is(err, ErrSubscriptionNotFound) {
		return OutcomeUnchanged, nil
	}
	return outcome, err
}
