package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once, at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                   []OnInit
	onShutdown               []OnShutdown
	onTransactionApplied     []OnTransactionApplied
	onTransactionRejected    []OnTransactionRejected
	onSubscriptionTransition []OnSubscriptionTransition
	onEventPublished         []OnEventPublished
	onDeliveryFailed         []OnDeliveryFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout overrides the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnTransactionApplied); ok {
		r.onTransactionApplied = append(r.onTransactionApplied, v)
	}
	if v, ok := p.(OnTransactionRejected); ok {
		r.onTransactionRejected = append(r.onTransactionRejected, v)
	}
	if v, ok := p.(OnSubscriptionTransition); ok {
		r.onSubscriptionTransition = append(r.onSubscriptionTransition, v)
	}
	if v, ok := p.(OnEventPublished); ok {
		r.onEventPublished = append(r.onEventPublished, v)
	}
	if v, ok := p.(OnDeliveryFailed); ok {
		r.onDeliveryFailed = append(r.onDeliveryFailed, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnTransactionApplied", reflect.TypeOf((*OnTransactionApplied)(nil)).Elem()},
	{"OnTransactionRejected", reflect.TypeOf((*OnTransactionRejected)(nil)).Elem()},
	{"OnSubscriptionTransition", reflect.TypeOf((*OnSubscriptionTransition)(nil)).Elem()},
	{"OnEventPublished", reflect.TypeOf((*OnEventPublished)(nil)).Elem()},
	{"OnDeliveryFailed", reflect.TypeOf((*OnDeliveryFailed)(nil)).Elem()},
}

func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, ledger)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitTransactionApplied notifies plugins of a committed transaction.
func (r *Registry) EmitTransactionApplied(ctx context.Context, tx *transaction.Transaction) {
	r.mu.RLock()
	plugins := r.onTransactionApplied
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnTransactionApplied", func() error {
			return p.OnTransactionApplied(ctx, tx)
		})
	}
}

// EmitTransactionRejected notifies plugins of a refused transaction.
func (r *Registry) EmitTransactionRejected(ctx context.Context, userID string, kind transaction.Kind, amount types.Points, reason error) {
	r.mu.RLock()
	plugins := r.onTransactionRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnTransactionRejected", func() error {
			return p.OnTransactionRejected(ctx, userID, kind, amount, reason)
		})
	}
}

// EmitSubscriptionTransition notifies plugins of a subscription change.
func (r *Registry) EmitSubscriptionTransition(ctx context.Context, sub *subscription.Subscription, from subscription.Status) {
	r.mu.RLock()
	plugins := r.onSubscriptionTransition
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnSubscriptionTransition", func() error {
			return p.OnSubscriptionTransition(ctx, sub, from)
		})
	}
}

// EmitEventPublished notifies plugins that an event left the engine.
func (r *Registry) EmitEventPublished(ctx context.Context, e *event.Event) {
	r.mu.RLock()
	plugins := r.onEventPublished
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnEventPublished", func() error {
			return p.OnEventPublished(ctx, e)
		})
	}
}

// EmitDeliveryFailed notifies plugins that an event was dead-lettered.
func (r *Registry) EmitDeliveryFailed(ctx context.Context, e *event.Event, cause error) {
	r.mu.RLock()
	plugins := r.onDeliveryFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnDeliveryFailed", func() error {
			return p.OnDeliveryFailed(ctx, e, cause)
		})
	}
}

func (r *Registry) call(ctx context.Context, pluginName, hook string, fn func() error) {
	if err := CallWithTimeout(ctx, r.timeout, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// CallWithTimeout runs fn and gives up after timeout or when ctx ends.
// fn keeps running in the background after a timeout.
func CallWithTimeout(ctx context.Context, timeout time.Duration, name string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("panic in %s: %v", name, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("timeout after %s: %s", timeout, name)
	case <-ctx.Done():
		return ctx.Err()
	}
}
