package guard

import (
	"sync"
	"testing"
)

func TestTryAcquireRelease(t *testing.T) {
	g := New()
	if !g.TryAcquire(1) {
		t.Fatalf("first acquire must succeed")
	}
	if g.TryAcquire(1) {
		t.Fatalf("second acquire must fail while held")
	}
	// distinct actors never block each other
	if !g.TryAcquire(2) {
		t.Fatalf("other actor must not be blocked")
	}
	g.Release(1)
	if !g.TryAcquire(1) {
		t.Fatalf("acquire after release must succeed")
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	g := New()
	const n = 64
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire(42) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	got := 0
	for range wins {
		got++
	}
	if got != 1 {
		t.Fatalf("want exactly one winner, got %d", got)
	}
}
