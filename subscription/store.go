package subscription

import (
	"context"
	"time"

	"github.com/xraph/pointledger/id"
)

type Store interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetLiveSubscription(ctx context.Context, userID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, userID string, opts ListOpts) ([]*Subscription, error)
	FindSubscriptions(ctx context.Context, q Query) ([]*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}

// Query selects subscriptions for sweeps and event reactions. Zero-valued
// fields do not filter.
type Query struct {
	UserID           string
	Statuses         []Status
	AutoRenewal      *bool
	BillingDueBefore time.Time
	EndBefore        time.Time
	Limit            int
}

// Match reports whether s satisfies q. Backends without a query language
// use it directly; the others mirror it in their filters.
func (q Query) Match(s *Subscription) bool {
	if q.UserID != "" && s.UserID != q.UserID {
		return false
	}
	if len(q.Statuses) > 0 {
		found := false
		for _, st := range q.Statuses {
			if s.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.AutoRenewal != nil && s.AutoRenewal != *q.AutoRenewal {
		return false
	}
	if !q.BillingDueBefore.IsZero() && s.NextBillingDate.After(q.BillingDueBefore) {
		return false
	}
	if !q.EndBefore.IsZero() && s.EndDate.After(q.EndBefore) {
		return false
	}
	return true
}
