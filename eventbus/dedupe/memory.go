package dedupe

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var _ Store = (*Memory)(nil)

// Memory is a bounded in-process Store. Once size keys are held the
// least recently used ones are forgotten first.
type Memory struct {
	cache *expirable.LRU[string, struct{}]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 100_000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	_, ok := m.cache.Get(key)
	return ok, nil
}

func (m *Memory) Mark(_ context.Context, key string) error {
	m.cache.Add(key, struct{}{})
	return nil
}

// Len returns the number of remembered keys.
func (m *Memory) Len() int { return m.cache.Len() }
