package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/kamalhaddad/texttovideo-orchestrator/params"
)

// Job represents a generation request as managed by the orchestrator's
// job store.
//
// Params is set at submission time and is treated as immutable for the
// remainder of the job's life. Every other field is state-machine and
// scheduling metadata owned by the store, the executor that currently
// holds the job, or the reconciler.
//
// SubmittedAt records when the job was accepted.
// StartedAt and CompletedAt are set on the corresponding lifecycle
// transitions; StartedAt <= CompletedAt whenever both are set.
//
// Job instances returned by Store methods are snapshots. Mutating a
// returned Job does not change stored state; transitions must be
// performed through the Store interface.
type Job struct {
	Id     uuid.UUID
	Status Status
	Params params.GenerationParams

	// Progress is nil until the job starts processing; once set it is
	// monotonically non-decreasing for the duration of a single
	// Processing span.
	Progress *float64

	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// ReplicaID identifies the executor currently holding the job. Set
	// only while Status == Processing.
	ReplicaID string

	// LeaseExpiresAt is the heartbeat deadline the reconciler uses to
	// detect an orphaned Processing job. Set only while Status ==
	// Processing.
	LeaseExpiresAt *time.Time

	// ArtifactPath is set only when Status == Completed.
	ArtifactPath string

	// ErrorKind and ErrorDetail are set only when Status == Failed or
	// Status == Cancelled.
	ErrorKind   ErrorKind
	ErrorDetail string

	// RetryCount counts how many times the reconciler has resurrected
	// this job after a lost lease.
	RetryCount uint32

	// CancelRequested is set by the API on a cancellation request and
	// cleared on the job's terminal transition.
	CancelRequested bool
}

// Clone returns an independent copy of j, safe for a caller to retain
// after the originating Store call returns.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if j.Progress != nil {
		p := *j.Progress
		clone.Progress = &p
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		clone.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		clone.CompletedAt = &t
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		clone.LeaseExpiresAt = &t
	}
	return &clone
}
