package eventbus

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xraph/pointledger/event"
)

var _ Transport = (*MemoryTransport)(nil)

// MemoryConfig tunes a MemoryTransport.
type MemoryConfig struct {
	// Workers is the number of delivery goroutines. Events with the same
	// AggregateID always go to the same worker.
	Workers int
	// QueueSize bounds each worker's queue. Publish blocks while full.
	QueueSize int
	// MaxAttempts is the number of dispatch attempts before dead-lettering.
	MaxAttempts int
	// InitialBackoff and MaxBackoff shape the redelivery delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultMemoryConfig returns the defaults used by NewMemoryTransport.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Workers:        4,
		QueueSize:      1024,
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// MemoryTransport delivers events asynchronously inside the process.
type MemoryTransport struct {
	cfg    MemoryConfig
	logger *slog.Logger
	shards []chan *event.Event

	mu      sync.RWMutex
	sink    Sink
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

func NewMemoryTransport(cfg MemoryConfig, logger *slog.Logger) *MemoryTransport {
	def := DefaultMemoryConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &MemoryTransport{
		cfg:    cfg,
		logger: logger,
		shards: make([]chan *event.Event, cfg.Workers),
	}
	for i := range t.shards {
		t.shards[i] = make(chan *event.Event, cfg.QueueSize)
	}
	return t
}

func (t *MemoryTransport) Start(ctx context.Context, sink Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrBusClosed
	}
	if t.sink != nil {
		return nil
	}

	t.sink = sink
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i, ch := range t.shards {
		t.wg.Add(1)
		go t.worker(i, ch)
	}
	return nil
}

func (t *MemoryTransport) Publish(ctx context.Context, e *event.Event) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrBusClosed
	}

	t.pending.Add(1)
	select {
	case t.shards[t.shardFor(e.AggregateID)] <- e:
		return nil
	case <-ctx.Done():
		t.pending.Done()
		return ctx.Err()
	}
}

func (t *MemoryTransport) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(t.shards)))
}

// Wait blocks until every published event has been delivered or
// dead-lettered.
func (t *MemoryTransport) Wait() { t.pending.Wait() }

// Close stops accepting events, drains the queues and stops the workers.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.sink != nil
	for _, ch := range t.shards {
		close(ch)
	}
	t.mu.Unlock()

	if started {
		t.wg.Wait()
		t.cancel()
	}
	return nil
}

func (t *MemoryTransport) worker(idx int, ch <-chan *event.Event) {
	defer t.wg.Done()

	for e := range ch {
		t.deliver(e)
		t.pending.Done()
	}
	t.logger.Debug("memory transport worker stopped", "worker", idx)
}

func (t *MemoryTransport) deliver(e *event.Event) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialBackoff
	b.MaxInterval = t.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := t.sink.Dispatch(t.ctx, e)
		if err != nil && attempt < t.cfg.MaxAttempts {
			t.logger.Debug("redelivering event",
				"event_id", e.ID.String(),
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.cfg.MaxAttempts-1)), t.ctx))

	if err != nil {
		t.sink.DeadLetter(t.ctx, e, err)
	}
}
