package store

import "errors"

var (
	// ErrAlreadyExists is returned by Store.Create when a job with the
	// given id is already present.
	ErrAlreadyExists = errors.New("job already exists")

	// ErrNotFound is returned when a referenced job does not exist in
	// the store.
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned by any CAS transition method when the
	// job's current status does not match the status the caller
	// expected — another actor won the race.
	ErrConflict = errors.New("job status conflict")

	// ErrJobLost indicates that a store or queue operation addressed a
	// job id that could not be found in its expected state, typically
	// because another replica concurrently transitioned or removed it.
	ErrJobLost = errors.New("job lost")

	// ErrQueueEmpty describes a queue with no eligible job id.
	// Queue.TryClaim does not return it; it reports an empty queue as
	// ok=false with a nil error.
	ErrQueueEmpty = errors.New("queue empty")
)
