package cancel

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks which in-flight jobs on this replica have been asked
// to stop. It is a pure cache: the store's CancelRequested flag remains
// the authoritative signal, and the reconciler or a restarted dispatcher
// never need to consult Registry to behave correctly.
type Registry struct {
	mu  sync.Mutex
	set map[uuid.UUID]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{set: make(map[uuid.UUID]struct{})}
}

// Mark records that jobID has been asked to cancel.
func (r *Registry) Mark(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set[jobID] = struct{}{}
}

// Requested reports whether jobID has been marked for cancellation.
func (r *Registry) Requested(jobID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[jobID]
	return ok
}

// Clear forgets jobID, called once the executor has reached a terminal
// state for it so the map does not grow unbounded across a replica's
// lifetime.
func (r *Registry) Clear(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.set, jobID)
}
