package store

import (
	"context"

	"github.com/google/uuid"
)

// Queue is the cross-replica FIFO admission path. It holds only job
// ids plus the ordering key (priority, submission time); job state
// itself lives in Store. Implementations must make TryClaim atomic
// across replicas: two concurrent TryClaim calls from different
// replicas never return the same id.
type Queue interface {
	// Enqueue adds id to the queue, ordered by priority descending then
	// submittedAt ascending. Re-adding an id already present is a
	// no-op.
	Enqueue(ctx context.Context, id uuid.UUID, priority int32, submittedAt int64) error

	// TryClaim atomically removes and returns the head of the queue.
	// ok is false (with a nil error) if the queue is currently empty.
	TryClaim(ctx context.Context) (id uuid.UUID, ok bool, err error)

	// Requeue re-admits id with its original ordering key, used when a
	// claimed job cannot be dispatched (GPU unavailable) or when the
	// reconciler resurrects a lost job.
	Requeue(ctx context.Context, id uuid.UUID, priority int32, submittedAt int64) error

	// Remove drops id from the queue if present; a no-op if it is not
	// (e.g. a cancellation racing a TryClaim that already removed it).
	Remove(ctx context.Context, id uuid.UUID) error

	// Length reports the current queue depth, for /api/system/status
	// and the queue_depth gauge.
	Length(ctx context.Context) (int64, error)
}
