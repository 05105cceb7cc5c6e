package gpu

import (
	"sync"

	"github.com/google/uuid"
)

// SlotState is the occupancy state of a single GPU slot.
type SlotState uint8

const (
	Free SlotState = iota
	Allocated
)

func (s SlotState) String() string {
	if s == Allocated {
		return "allocated"
	}
	return "free"
}

// SlotStatus is a read-only snapshot of one slot, used for observability.
type SlotStatus struct {
	DeviceID int
	State    SlotState
	JobID    uuid.UUID
}

type slot struct {
	deviceID int
	state    SlotState
	jobID    uuid.UUID
}

// Registry accounts for a fixed set of GPU device slots on one replica.
//
// Registry is safe for concurrent use. Acquire and Release are the only
// mutating operations and both are guarded by a single mutex, mirroring
// the single-mutex discipline the rest of the orchestrator uses for
// replica-local shared state.
type Registry struct {
	mu    sync.Mutex
	slots []*slot
	byJob map[uuid.UUID]*slot
}

// NewRegistry creates a Registry advertising count device slots, indexed
// 0..count-1.
func NewRegistry(count int) *Registry {
	slots := make([]*slot, count)
	for i := range slots {
		slots[i] = &slot{deviceID: i, state: Free}
	}
	return &Registry{
		slots: slots,
		byJob: make(map[uuid.UUID]*slot),
	}
}

// Acquire picks any free slot, marks it allocated to jobID, and returns
// its device index. If every slot is allocated, ok is false.
//
// Acquire is idempotent for a job that already holds a slot: calling it
// again for the same jobID returns the slot already held rather than
// allocating a second one.
func (r *Registry) Acquire(jobID uuid.UUID) (deviceID int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, held := r.byJob[jobID]; held {
		return s.deviceID, true
	}
	for _, s := range r.slots {
		if s.state == Free {
			s.state = Allocated
			s.jobID = jobID
			r.byJob[jobID] = s
			return s.deviceID, true
		}
	}
	return 0, false
}

// Release frees the slot held by jobID. It is a no-op if jobID does not
// currently hold a slot, making repeated release calls on the same job
// (e.g. from multiple executor exit paths) safe.
func (r *Registry) Release(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byJob[jobID]
	if !ok {
		return
	}
	s.state = Free
	s.jobID = uuid.Nil
	delete(r.byJob, jobID)
}

// Capacity returns the total number of device slots this registry manages.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Available returns the number of currently free slots.
func (r *Registry) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.slots {
		if s.state == Free {
			n++
		}
	}
	return n
}

// Snapshot returns a read-only projection of every slot's current state,
// ordered by device id. The reconciler uses it to find allocated slots;
// /api/system/status and the GPU gauges read Available and Capacity
// instead.
func (r *Registry) Snapshot() []SlotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SlotStatus, len(r.slots))
	for i, s := range r.slots {
		out[i] = SlotStatus{DeviceID: s.deviceID, State: s.state, JobID: s.jobID}
	}
	return out
}
