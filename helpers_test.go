package pointledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/eventbus"
	"github.com/xraph/pointledger/store"
	"github.com/xraph/pointledger/store/memory"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) AdvanceMonths(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, n, 0)
}

type collector struct {
	mu     sync.Mutex
	events []*event.Event
}

func (c *collector) handle(_ context.Context, e *event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) ofType(t event.Type) []*event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*event.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *collector) types() []event.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Type, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func (c *collector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

type harness struct {
	ledger *pointledger.Ledger
	store  store.Store
	bus    *eventbus.Bus
	events *collector
	clock  *fakeClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness starts a Ledger on the memory store with synchronous event
// delivery and a controllable clock.
func newHarness(t *testing.T, opts ...pointledger.Option) *harness {
	t.Helper()
	return newHarnessOn(t, memory.New(), opts...)
}

// newHarnessOn is newHarness over a caller-supplied store.
func newHarnessOn(t *testing.T, s store.Store, opts ...pointledger.Option) *harness {
	t.Helper()

	c := &collector{}
	router := eventbus.NewRouter(eventbus.WithRouterLogger(discardLogger()))
	for _, typ := range event.Types() {
		if err := router.Subscribe(typ, "collector", c.handle); err != nil {
			t.Fatalf("subscribe collector: %v", err)
		}
	}
	bus := eventbus.New(router, eventbus.NewInlineTransport(), eventbus.WithLogger(discardLogger()))

	clock := &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
	base := []pointledger.Option{
		pointledger.WithLogger(discardLogger()),
		pointledger.WithBus(bus),
		pointledger.WithClock(clock.Now),
	}
	l := pointledger.New(s, append(base, opts...)...)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })

	return &harness{ledger: l, store: s, bus: bus, events: c, clock: clock}
}

func (h *harness) balance(t *testing.T, userID string) types.Points {
	t.Helper()
	b, err := h.ledger.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetBalance(%s): %v", userID, err)
	}
	return b
}

func (h *harness) charge(t *testing.T, userID string, amount types.Points) {
	t.Helper()
	if _, err := h.ledger.ChargePoints(context.Background(), pointledger.PurchaseRequest{UserID: userID, Amount: amount}); err != nil {
		t.Fatalf("ChargePoints(%s, %s): %v", userID, amount, err)
	}
}

// flakyStore wraps a store and fails selected calls on demand.
type flakyStore struct {
	store.Store

	failUpdates   atomic.Bool
	failedUpdates atomic.Int32

	// failUserFinds is the number of per-user FindSubscriptions calls
	// still to fail.
	failUserFinds atomic.Int32
	userFinds     atomic.Int32
}

func (s *flakyStore) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if s.failUpdates.Load() {
		s.failedUpdates.Add(1)
		return errors.New("disk full")
	}
	return s.Store.UpdateSubscription(ctx, sub)
}

func (s *flakyStore) FindSubscriptions(ctx context.Context, q subscription.Query) ([]*subscription.Subscription, error) {
	if q.UserID != "" {
		s.userFinds.Add(1)
		if s.failUserFinds.Add(-1) >= 0 {
			return nil, errors.New("connection reset")
		}
		s.failUserFinds.Store(0)
	}
	return s.Store.FindSubscriptions(ctx, q)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
