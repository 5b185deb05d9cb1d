// Package guard provides the per-actor single-flight latch that keeps one
// actor from having two generations in flight at once.
package guard

import "sync"

type Guard struct {
	mu         sync.Mutex
	generating map[int64]bool
}

func New() *Guard {
	return &Guard{generating: make(map[int64]bool)}
}

// TryAcquire atomically marks the actor as generating. It returns false
// without mutating anything if the actor already holds the latch.
func (g *Guard) TryAcquire(actorID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generating[actorID] {
		return false
	}
	g.generating[actorID] = true
	return true
}

// Release unconditionally clears the actor's latch. Callers must pair it
// with every successful TryAcquire, on failure paths included.
func (g *Guard) Release(actorID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.generating, actorID)
}

// Held reports whether the actor currently holds the latch.
func (g *Guard) Held(actorID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generating[actorID]
}
