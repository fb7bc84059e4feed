package subscription_test

import (
	"testing"
	"time"

	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/subscription"
)

func TestCanTransitionTo(t *testing.T) {
	all := []subscription.Status{
		subscription.StatusActive,
		subscription.StatusSuspended,
		subscription.StatusCanceled,
		subscription.StatusExpired,
	}

	allowed := map[subscription.Status]map[subscription.Status]bool{
		subscription.StatusActive: {
			subscription.StatusActive:    true,
			subscription.StatusSuspended: true,
			subscription.StatusCanceled:  true,
			subscription.StatusExpired:   true,
		},
		subscription.StatusSuspended: {
			subscription.StatusActive:   true,
			subscription.StatusCanceled: true,
			subscription.StatusExpired:  true,
		},
	}

	for _, from := range all {
		for _, to := range all {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				want := allowed[from][to]
				if got := from.CanTransitionTo(to); got != want {
					t.Errorf("got %v, want %v", got, want)
				}
			})
		}
	}
}

func TestTerminalStatesStayTerminal(t *testing.T) {
	for _, st := range []subscription.Status{subscription.StatusCanceled, subscription.StatusExpired} {
		sub := &subscription.Subscription{ID: id.NewSubscriptionID(), Status: st}
		for _, next := range []subscription.Status{
			subscription.StatusActive,
			subscription.StatusSuspended,
			subscription.StatusCanceled,
			subscription.StatusExpired,
		} {
			if err := sub.Transition(next); err == nil {
				t.Errorf("%s -> %s: expected error", st, next)
			}
			if sub.Status != st {
				t.Fatalf("status changed from %s to %s", st, sub.Status)
			}
		}
	}
}

func TestPeriods(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	sub := &subscription.Subscription{Status: subscription.StatusActive, AutoRenewal: true}
	sub.StartPeriod(start)

	if want := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC); !sub.EndDate.Equal(want) {
		t.Errorf("end: got %v, want %v", sub.EndDate, want)
	}
	if !sub.NextBillingDate.Equal(sub.EndDate) {
		t.Error("next billing date should equal end date")
	}

	if sub.RenewalDue(start.AddDate(0, 0, 10)) {
		t.Error("renewal should not be due mid-period")
	}
	if !sub.RenewalDue(sub.NextBillingDate) {
		t.Error("renewal should be due at the billing date")
	}

	sub.AdvancePeriod()
	if want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC); !sub.EndDate.Equal(want) {
		t.Errorf("advanced end: got %v, want %v", sub.EndDate, want)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		sub  subscription.Subscription
		want bool
	}{
		{"active past end", subscription.Subscription{Status: subscription.StatusActive, EndDate: now.Add(-time.Hour)}, true},
		{"suspended past end", subscription.Subscription{Status: subscription.StatusSuspended, EndDate: now.Add(-time.Hour)}, true},
		{"auto renewing", subscription.Subscription{Status: subscription.StatusActive, AutoRenewal: true, EndDate: now.Add(-time.Hour)}, false},
		{"not yet ended", subscription.Subscription{Status: subscription.StatusActive, EndDate: now.Add(time.Hour)}, false},
		{"canceled", subscription.Subscription{Status: subscription.StatusCanceled, EndDate: now.Add(-time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Expired(now); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueryMatch(t *testing.T) {
	now := time.Now()
	yes := true
	sub := &subscription.Subscription{
		UserID:          "u1",
		Status:          subscription.StatusSuspended,
		AutoRenewal:     true,
		NextBillingDate: now.Add(-time.Minute),
		EndDate:         now.Add(-time.Minute),
	}

	tests := []struct {
		name string
		q    subscription.Query
		want bool
	}{
		{"empty", subscription.Query{}, true},
		{"user", subscription.Query{UserID: "u1"}, true},
		{"other user", subscription.Query{UserID: "u2"}, false},
		{"status", subscription.Query{Statuses: []subscription.Status{subscription.StatusActive, subscription.StatusSuspended}}, true},
		{"wrong status", subscription.Query{Statuses: []subscription.Status{subscription.StatusActive}}, false},
		{"auto renewal", subscription.Query{AutoRenewal: &yes}, true},
		{"billing due", subscription.Query{BillingDueBefore: now}, true},
		{"billing not due", subscription.Query{BillingDueBefore: now.Add(-time.Hour)}, false},
		{"end before", subscription.Query{EndBefore: now}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Match(sub); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
