package eventbus

import (
	"context"
	"sync"

	"github.com/xraph/pointledger/event"
)

var _ Transport = (*InlineTransport)(nil)

// InlineTransport dispatches on the publishing goroutine. Handler failures
// are dead-lettered immediately rather than retried. It suits tests and
// single-process setups that want deterministic ordering.
type InlineTransport struct {
	mu     sync.RWMutex
	sink   Sink
	closed bool
}

func NewInlineTransport() *InlineTransport { return &InlineTransport{} }

func (t *InlineTransport) Start(_ context.Context, sink Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
	return nil
}

func (t *InlineTransport) Publish(ctx context.Context, e *event.Event) error {
	t.mu.RLock()
	sink, closed := t.sink, t.closed
	t.mu.RUnlock()

	if closed {
		return ErrBusClosed
	}
	if sink == nil {
		return ErrNotStarted
	}

	if err := sink.Dispatch(ctx, e); err != nil {
		sink.DeadLetter(ctx, e, err)
	}
	return nil
}

func (t *InlineTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
