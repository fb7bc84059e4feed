package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/plugin"
)

// Sink is what a transport delivers into.
type Sink interface {
	// Dispatch runs the handlers for e. An error requests redelivery.
	Dispatch(ctx context.Context, e *event.Event) error
	// DeadLetter is called once a transport gives up on e.
	DeadLetter(ctx context.Context, e *event.Event, cause error)
}

// Transport moves published events to a Sink. Publish must not return
// before the event is durably queued for delivery by that transport.
type Transport interface {
	Start(ctx context.Context, sink Sink) error
	Publish(ctx context.Context, e *event.Event) error
	Close() error
}

// Bus is the publisher-facing side of the event system.
type Bus struct {
	router    *Router
	transport Transport
	plugins   *plugin.Registry
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

type Option func(*Bus)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithPlugins forwards publish and dead-letter notifications to reg.
func WithPlugins(reg *plugin.Registry) Option {
	return func(b *Bus) { b.plugins = reg }
}

func New(router *Router, transport Transport, opts ...Option) *Bus {
	b := &Bus{
		router:    router,
		transport: transport,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Router returns the dispatch table so handlers can subscribe before Start.
func (b *Bus) Router() *Router { return b.router }

// Start freezes the router and begins delivery.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if b.started {
		return nil
	}

	b.router.Freeze()
	if err := b.transport.Start(ctx, b); err != nil {
		return fmt.Errorf("eventbus: start transport: %w", err)
	}
	b.started = true

	b.logger.Info("event bus started", "routes", b.router.Types())
	return nil
}

// Publish hands every event to the transport in order. It stops at the
// first failure and reports it; events before it are already queued.
func (b *Bus) Publish(ctx context.Context, events ...*event.Event) error {
	for _, e := range events {
		if err := b.transport.Publish(ctx, e); err != nil {
			return fmt.Errorf("eventbus: publish %s %s: %w", e.Type, e.ID, err)
		}
		if b.plugins != nil {
			b.plugins.EmitEventPublished(ctx, e)
		}
	}
	return nil
}

// Close stops the transport. Events already queued are drained first by
// transports that support it.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.transport.Close()
}

// Dispatch implements Sink.
func (b *Bus) Dispatch(ctx context.Context, e *event.Event) error {
	return b.router.Dispatch(ctx, e)
}

// DeadLetter implements Sink.
func (b *Bus) DeadLetter(ctx context.Context, e *event.Event, cause error) {
	b.logger.Error("event dead-lettered",
		"event_type", e.Type,
		"event_id", e.ID.String(),
		"aggregate_id", e.AggregateID,
		"payload", string(e.Payload),
		"error", cause,
	)
	if b.plugins != nil {
		b.plugins.EmitDeliveryFailed(ctx, e, cause)
	}
}
