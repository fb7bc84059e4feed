package subscription

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/plan"
	"github.com/xraph/pointledger/types"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusCanceled  Status = "CANCELED"
	StatusExpired   Status = "EXPIRED"
)

// ParseStatus parses s case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusActive, StatusSuspended, StatusCanceled, StatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("subscription: unknown status %q", s)
}

// IsTerminal reports whether s accepts no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusExpired
}

// IsLive reports whether s counts against the one-subscription-per-user rule.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusSuspended
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Renewal keeps a subscription ACTIVE and is modeled as ACTIVE -> ACTIVE.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusActive || next == StatusSuspended ||
			next == StatusCanceled || next == StatusExpired
	case StatusSuspended:
		return next == StatusActive || next == StatusCanceled || next == StatusExpired
	default:
		return false
	}
}

type Subscription struct {
	types.Entity
	ID              id.SubscriptionID `json:"subscriptionId"`
	UserID          string            `json:"userId"`
	Plan            plan.Type         `json:"planType"`
	Status          Status            `json:"status"`
	MonthlyCost     types.Points      `json:"monthlyCost"`
	StartDate       time.Time         `json:"startDate"`
	EndDate         time.Time         `json:"endDate"`
	NextBillingDate time.Time         `json:"nextBillingDate"`
	AutoRenewal     bool              `json:"autoRenewal"`
	FailedAttempts  int               `json:"failedAttempts"`
	CancelReason    string            `json:"cancelReason,omitempty"`
	CanceledAt      *time.Time        `json:"canceledAt,omitempty"`
	Version         int64             `json:"version"`
}

// Transition moves the subscription to next. It returns an error without
// modifying the subscription if the move is not allowed.
func (s *Subscription) Transition(next Status) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("subscription: %s cannot move from %s to %s", s.ID, s.Status, next)
	}
	s.Status = next
	s.Touch()
	return nil
}

// StartPeriod opens a new monthly billing period beginning at from.
func (s *Subscription) StartPeriod(from time.Time) {
	s.EndDate = from.AddDate(0, 1, 0)
	s.NextBillingDate = s.EndDate
}

// AdvancePeriod extends the current period by one month.
func (s *Subscription) AdvancePeriod() {
	s.EndDate = s.EndDate.AddDate(0, 1, 0)
	s.NextBillingDate = s.EndDate
}

// RenewalDue reports whether an ACTIVE auto-renewing subscription is due
// for billing at now.
func (s *Subscription) RenewalDue(now time.Time) bool {
	return s.Status == StatusActive && s.AutoRenewal && !s.NextBillingDate.After(now)
}

// Expired reports whether a live subscription without auto-renewal has
// passed its end date at now.
func (s *Subscription) Expired(now time.Time) bool {
	return s.Status.IsLive() && !s.AutoRenewal && !s.EndDate.After(now)
}
