// Package eventbus routes domain events to their handlers. A Router holds
// the typed dispatch table; a Transport decides how and when events reach
// it; a Bus ties the two together for publishers.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/eventbus/dedupe"
	"github.com/xraph/pointledger/plugin"
)

// DefaultHandlerTimeout bounds a single handler invocation.
const DefaultHandlerTimeout = 5 * time.Second

var (
	ErrRouterStarted = errors.New("eventbus: router already started")
	ErrBusClosed     = errors.New("eventbus: bus closed")
	ErrNotStarted    = errors.New("eventbus: transport not started")
)

// Handler reacts to one event. Returning an error asks the transport to
// redeliver; handlers must therefore be idempotent.
type Handler func(ctx context.Context, e *event.Event) error

type route struct {
	name   string
	handle Handler
}

// Router is the dispatch table keyed by event type. Subscriptions are
// accepted until Freeze; afterwards the table is read-only.
type Router struct {
	mu      sync.RWMutex
	routes  map[event.Type][]route
	frozen  atomic.Bool
	timeout time.Duration
	dedupe  dedupe.Store
	logger  *slog.Logger
}

type RouterOption func(*Router)

func WithHandlerTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithDedupe skips handlers that already processed an event id.
func WithDedupe(s dedupe.Store) RouterOption {
	return func(r *Router) { r.dedupe = s }
}

func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		routes:  make(map[event.Type][]route),
		timeout: DefaultHandlerTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers h under name for events of type t. Names must be
// unique per type since they key the dedupe records.
func (r *Router) Subscribe(t event.Type, name string, h Handler) error {
	if r.frozen.Load() {
		return ErrRouterStarted
	}
	if !t.IsValid() {
		return fmt.Errorf("eventbus: subscribe %q: unknown event type %q", name, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.routes[t] {
		if existing.name == name {
			return fmt.Errorf("eventbus: duplicate handler %q for %s", name, t)
		}
	}
	r.routes[t] = append(r.routes[t], route{name: name, handle: h})
	return nil
}

// Freeze closes the table to further subscriptions.
func (r *Router) Freeze() { r.frozen.Store(true) }

// Types returns the event types that have at least one handler.
func (r *Router) Types() []event.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]event.Type, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Handles reports whether any handler is registered for t.
func (r *Router) Handles(t event.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes[t]) > 0
}

// Dispatch delivers e to every handler registered for its type. A failing
// handler does not stop delivery to the others. The returned error lists
// the handlers that failed; nil means every handler succeeded or was
// already done.
func (r *Router) Dispatch(ctx context.Context, e *event.Event) error {
	r.mu.RLock()
	routes := r.routes[e.Type]
	r.mu.RUnlock()

	var failed HandlerErrors
	for _, rt := range routes {
		if err := r.deliver(ctx, rt, e); err != nil {
			r.logger.Warn("event handler failed",
				"handler", rt.name,
				"event_type", e.Type,
				"event_id", e.ID.String(),
				"aggregate_id", e.AggregateID,
				"error", err,
			)
			failed = append(failed, HandlerError{Handler: rt.name, Err: err})
		}
	}

	if len(failed) == 0 {
		return nil
	}
	return failed
}

func (r *Router) deliver(ctx context.Context, rt route, e *event.Event) error {
	key := dedupe.Key(rt.name, e.ID.String())

	if r.dedupe != nil {
		seen, err := r.dedupe.Seen(ctx, key)
		if err != nil {
			r.logger.Warn("dedupe lookup failed", "key", key, "error", err)
		} else if seen {
			r.logger.Debug("skipping processed event", "handler", rt.name, "event_id", e.ID.String())
			return nil
		}
	}

	if err := plugin.CallWithTimeout(ctx, r.timeout, rt.name, func() error {
		return rt.handle(ctx, e)
	}); err != nil {
		return err
	}

	if r.dedupe != nil {
		if err := r.dedupe.Mark(ctx, key); err != nil {
			r.logger.Warn("dedupe mark failed", "key", key, "error", err)
		}
	}
	return nil
}

// HandlerError is one failed handler invocation.
type HandlerError struct {
	Handler string
	Err     error
}

func (e HandlerError) Error() string { return e.Handler + ": " + e.Err.Error() }

func (e HandlerError) Unwrap() error { return e.Err }

// HandlerErrors aggregates the failures of a single dispatch.
type HandlerErrors []HandlerError

func (e HandlerErrors) Error() string {
	parts := make([]string, len(e))
	for i, he := range e {
		parts[i] = he.Error()
	}
	return fmt.Sprintf("eventbus: %d handler(s) failed: %s", len(e), strings.Join(parts, "; "))
}

func (e HandlerErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i := range e {
		out[i] = e[i]
	}
	return out
}

// Handlers returns the names of the failed handlers.
func (e HandlerErrors) Handlers() []string {
	out := make([]string, len(e))
	for i, he := range e {
		out[i] = he.Handler
	}
	return out
}
