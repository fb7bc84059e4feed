// Package audithook bridges point ledger activity to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/plugin"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                   = (*Extension)(nil)
	_ plugin.OnTransactionApplied     = (*Extension)(nil)
	_ plugin.OnTransactionRejected    = (*Extension)(nil)
	_ plugin.OnSubscriptionTransition = (*Extension)(nil)
	_ plugin.OnDeliveryFailed         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges ledger activity to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionApplied implements plugin.OnTransactionApplied.
func (e *Extension) OnTransactionApplied(ctx context.Context, tx *transaction.Transaction) error {
	action := ActionPointsUsed
	switch tx.Kind {
	case transaction.KindPurchase:
		action = ActionPointsPurchased
	case transaction.KindRefund:
		action = ActionPointsRefunded
	}

	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceAccount, tx.UserID, CategoryLedger, nil,
		"transaction_id", tx.ID.String(),
		"amount", tx.Amount.Int64(),
		"resulting_balance", tx.ResultingBalance.Int64(),
		"reference", tx.Reference,
	)
}

// OnTransactionRejected implements plugin.OnTransactionRejected.
func (e *Extension) OnTransactionRejected(ctx context.Context, userID string, kind transaction.Kind, amount types.Points, reason error) error {
	return e.record(ctx, ActionPointsRejected, SeverityWarning, OutcomeFailure,
		ResourceAccount, userID, CategoryLedger, reason,
		"kind", string(kind),
		"amount", amount.Int64(),
	)
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionTransition implements plugin.OnSubscriptionTransition.
func (e *Extension) OnSubscriptionTransition(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error {
	action := transitionAction(from, sub.Status)
	severity := SeverityInfo
	if sub.Status == subscription.StatusSuspended {
		severity = SeverityWarning
	}

	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"user_id", sub.UserID,
		"plan", string(sub.Plan),
		"from", string(from),
		"to", string(sub.Status),
		"failed_attempts", sub.FailedAttempts,
		"end_date", sub.EndDate,
	)
}

func transitionAction(from, to subscription.Status) string {
	switch to {
	case subscription.StatusSuspended:
		return ActionSubscriptionSuspended
	case subscription.StatusCanceled:
		return ActionSubscriptionCanceled
	case subscription.StatusExpired:
		return ActionSubscriptionExpired
	}
	switch from {
	case "":
		return ActionSubscriptionActivated
	case subscription.StatusSuspended:
		return ActionSubscriptionReactivated
	}
	return ActionSubscriptionRenewed
}

// ──────────────────────────────────────────────────
// Delivery hooks
// ──────────────────────────────────────────────────

// OnDeliveryFailed implements plugin.OnDeliveryFailed.
func (e *Extension) OnDeliveryFailed(ctx context.Context, evt *event.Event, cause error) error {
	return e.record(ctx, ActionEventDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceEvent, evt.ID.String(), CategoryDelivery, cause,
		"event_type", string(evt.Type),
		"aggregate_id", evt.AggregateID,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
