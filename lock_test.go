package pointledger

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	var km keyedMutex
	counters := map[string]int{}
	var mu sync.Mutex // guards map writes across keys only

	var wg sync.WaitGroup
	for i := range 200 {
		key := []string{"a", "b"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			defer unlock()

			mu.Lock()
			v := counters[key]
			mu.Unlock()

			mu.Lock()
			counters[key] = v + 1
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counters["a"] != 100 || counters["b"] != 100 {
		t.Errorf("lost updates: %v", counters)
	}
	if n := km.size(); n != 0 {
		t.Errorf("expected lock table to be empty, has %d entries", n)
	}
}
