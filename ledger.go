package pointledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/eventbus"
	"github.com/xraph/pointledger/plan"
	"github.com/xraph/pointledger/plugin"
	"github.com/xraph/pointledger/store"
)

// DefaultMaxRenewalAttempts is how many failed renewal debits a suspended
// subscription survives before it is canceled.
const DefaultMaxRenewalAttempts = 3

// DefaultRetryInterval is the minimum time between scheduled renewal
// retries of a suspended subscription.
const DefaultRetryInterval = 24 * time.Hour

// Ledger is the point ledger and subscription engine.
type Ledger struct {
	store   store.Store
	bus     *eventbus.Bus
	catalog *plan.Catalog
	plugins *plugin.Registry
	logger  *slog.Logger

	// Per-user serialization of balance and subscription mutations.
	users keyedMutex

	maxRenewalAttempts int
	retryInterval      time.Duration
	sweepBatch         int
	skipMigrate        bool
	now                func() time.Time
}

// New creates a new Ledger instance. Without WithBus events are delivered
// asynchronously by an in-process MemoryTransport that redelivers failed
// dispatches with backoff.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:              s,
		catalog:            plan.DefaultCatalog(),
		plugins:            plugin.NewRegistry(),
		logger:             slog.Default(),
		maxRenewalAttempts: DefaultMaxRenewalAttempts,
		retryInterval:      DefaultRetryInterval,
		sweepBatch:         500,
		now:                func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.bus == nil {
		l.bus = eventbus.New(
			eventbus.NewRouter(eventbus.WithRouterLogger(l.logger)),
			eventbus.NewMemoryTransport(eventbus.DefaultMemoryConfig(), l.logger),
			eventbus.WithLogger(l.logger),
			eventbus.WithPlugins(l.plugins),
		)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginRegistry replaces the plugin registry, so it can be shared
// with an event bus built by the caller.
func WithPluginRegistry(r *plugin.Registry) Option {
	return func(l *Ledger) { l.plugins = r }
}

// WithBus sets the event bus. The Ledger subscribes its handlers and starts
// the bus in Start.
func WithBus(b *eventbus.Bus) Option {
	return func(l *Ledger) { l.bus = b }
}

// WithCatalog overrides the plan price table.
func WithCatalog(c *plan.Catalog) Option {
	return func(l *Ledger) { l.catalog = c }
}

// WithMaxRenewalAttempts sets how many failed debits cancel a suspended
// subscription.
func WithMaxRenewalAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxRenewalAttempts = n
		}
	}
}

// WithRetryInterval sets the minimum time between scheduled retries of a
// suspended subscription. Non-positive values keep the default.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.retryInterval = d
		}
	}
}

// WithSweepBatch bounds how many subscriptions one sweep query loads.
func WithSweepBatch(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.sweepBatch = n
		}
	}
}

// WithoutMigrate makes Start skip store migrations.
func WithoutMigrate() Option {
	return func(l *Ledger) { l.skipMigrate = true }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Start migrates the store, wires the event handlers and starts the bus.
func (l *Ledger) Start(ctx context.Context) error {
	if !l.skipMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	if err := l.RegisterHandlers(l.bus.Router()); err != nil {
		return err
	}
	if err := l.bus.Start(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("point ledger started",
		"plans", len(l.catalog.List()),
		"max_renewal_attempts", l.maxRenewalAttempts,
	)

	return nil
}

// Stop drains the bus and closes the store.
func (l *Ledger) Stop() error {
	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	var errs MultiError
	errs.Add(l.bus.Close())
	errs.Add(l.store.Close())
	return errs.ErrorOrNil()
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Bus returns the event bus.
func (l *Ledger) Bus() *eventbus.Bus { return l.bus }

// Catalog returns the plan catalog.
func (l *Ledger) Catalog() *plan.Catalog { return l.catalog }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Ping checks the store.
func (l *Ledger) Ping(ctx context.Context) error { return l.store.Ping(ctx) }

// publish hands committed events to the bus. The state change already
// happened, so failures are logged rather than returned.
func (l *Ledger) publish(ctx context.Context, events []*event.Event) {
	if len(events) == 0 {
		return
	}
	if err := l.bus.Publish(ctx, events...); err != nil {
		l.logger.Error("publish failed after commit",
			"events", len(events),
			"error", err,
		)
	}
}

// newEvent builds an event and logs if the payload cannot be encoded.
func (l *Ledger) newEvent(t event.Type, aggregateID string, payload any) *event.Event {
	e, err := event.New(t, aggregateID, payload)
	if err != nil {
		l.logger.Error("build event failed", "type", t, "error", err)
		return nil
	}
	return e
}

// outbox collects events during an operation for publishing once locks
// are released.
type outbox []*event.Event

func (o *outbox) add(e *event.Event) {
	if e != nil {
		*o = append(*o, e)
	}
}
