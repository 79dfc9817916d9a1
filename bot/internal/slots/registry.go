// Package slots enforces the one-download-per-requester rule.
package slots

import "sync"

// Registry is an in-memory thread-safe set of requester IDs with an active
// job. Nothing is persisted: a restart clears all in-flight state, which is
// exactly the behavior we want.
type Registry struct {
	held map[int64]struct{}
	mu   sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		held: make(map[int64]struct{}),
	}
}

// TryAcquire records the requester and returns true iff no slot is currently
// held for that ID. On failure it has no side effects.
func (r *Registry) TryAcquire(requesterID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[requesterID]; ok {
		return false
	}

	r.held[requesterID] = struct{}{}
	return true
}

// Release frees the requester's slot. Releasing an unheld slot is a no-op:
// release runs on every exit path and must never fail.
func (r *Registry) Release(requesterID int64) {
	r.mu.Lock()
	delete(r.held, requesterID)
	r.mu.Unlock()
}

// Active returns the number of currently held slots.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
