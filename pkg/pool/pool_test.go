package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientsAreShared(t *testing.T) {
	p := NewClientPool(DefaultConfig(), nil)

	if p.Client() != p.Client() {
		t.Error("regular client should be shared across calls")
	}
	if p.StreamingClient() != p.StreamingClient() {
		t.Error("streaming client should be shared across calls")
	}
	if p.Client() == p.StreamingClient() {
		t.Error("regular and streaming clients must be distinct")
	}
}

func TestStreamingClientHasNoTimeout(t *testing.T) {
	p := NewClientPool(DefaultConfig(), nil)

	if p.Client().Timeout == 0 {
		t.Error("regular client needs a request timeout")
	}
	if p.StreamingClient().Timeout != 0 {
		t.Error("streaming client must not carry an overall timeout")
	}
}

func TestForEachLimitRunsEveryIndex(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]bool)

	ForEachLimit(context.Background(), 25, 4, func(i int) {
		mu.Lock()
		seen[i] = true
		mu.Unlock()
	})

	if len(seen) != 25 {
		t.Fatalf("ran %d indices, want 25", len(seen))
	}
}

func TestForEachLimitBoundsConcurrency(t *testing.T) {
	var current, peak int64

	ForEachLimit(context.Background(), 30, 3, func(int) {
		n := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&current, -1)
	})

	if got := atomic.LoadInt64(&peak); got > 3 {
		t.Fatalf("peak concurrency = %d, want at most 3", got)
	}
}

func TestForEachLimitStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started int64
	ForEachLimit(ctx, 100, 1, func(i int) {
		if atomic.AddInt64(&started, 1) == 3 {
			cancel()
		}
		time.Sleep(time.Millisecond)
	})

	if got := atomic.LoadInt64(&started); got >= 100 {
		t.Fatalf("ran %d tasks, cancellation should have stopped the loop early", got)
	}
}

func TestForEachLimitZeroItems(t *testing.T) {
	called := false
	ForEachLimit(context.Background(), 0, 4, func(int) { called = true })
	if called {
		t.Fatal("no tasks should run for n=0")
	}
}
