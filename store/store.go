// Package store defines the durable job record backend (component A)
// and the cross-replica submission queue (component B) as interfaces,
// independent of any particular database or broker. Concrete backends
// live in the sqlstore and redisqueue subpackages.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kamalhaddad/texttovideo-orchestrator/job"
)

// ListFilter narrows Store.List to jobs matching a particular status.
// The zero value (job.Unknown) applies no filter.
type ListFilter struct {
	Status job.Status
}

// ListResult is a single page of Store.List, ordered submitted_at
// desc, id asc.
type ListResult struct {
	Jobs       []*job.Job
	Page       int
	PageSize   int
	Total      int64
	TotalPages int64
}

// Store is the durable job record backend. Implementations must make
// single-id writes linearizable: a CAS method either applies every
// field change atomically or leaves the record untouched and reports
// ErrConflict/ErrNotFound.
//
// Store exposes one explicit method per lifecycle transition rather
// than a single generic "patch with expected status" call, the same
// way the teacher's Puller interface exposes Pull, ExtendLock,
// Complete, Return and Kill as distinct operations instead of one
// generic update.
type Store interface {
	// Create persists a new Pending job. Fails with ErrAlreadyExists if
	// the id is already present.
	Create(ctx context.Context, j *job.Job) error

	// Get returns the current record for id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)

	// List returns a stable page of jobs matching filter.
	List(ctx context.Context, filter ListFilter, page, pageSize int) (ListResult, error)

	// Claim atomically transitions a Pending job to Processing, owned
	// by replicaID, with a lease expiring after lease. Returns
	// ErrConflict if the job is not currently Pending, ErrNotFound if
	// it does not exist.
	Claim(ctx context.Context, id uuid.UUID, replicaID string, lease time.Duration) (*job.Job, error)

	// ExtendLease renews the lease of a Processing job owned by
	// replicaID. Returns ErrConflict if the job is not Processing or is
	// owned by a different replica.
	ExtendLease(ctx context.Context, id uuid.UUID, replicaID string, lease time.Duration) error

	// ReportProgress updates the progress field of a Processing job
	// owned by replicaID. Implementations need not re-validate
	// monotonicity; callers already enforce it.
	ReportProgress(ctx context.Context, id uuid.UUID, replicaID string, fraction float64) error

	// Complete transitions a Processing job owned by replicaID to
	// Completed, recording artifactPath.
	Complete(ctx context.Context, id uuid.UUID, replicaID string, artifactPath string) error

	// Fail transitions a Processing job owned by replicaID to Failed.
	Fail(ctx context.Context, id uuid.UUID, replicaID string, kind job.ErrorKind, detail string) error

	// CancelCooperative transitions a Processing job owned by
	// replicaID to Cancelled, honoring a cancellation observed at a
	// checkpoint.
	CancelCooperative(ctx context.Context, id uuid.UUID, replicaID string) error

	// RequestCancel marks cancel_requested. If the job is Pending, it
	// is CASed directly to Cancelled in the same call. If the job is
	// already terminal, RequestCancel is a no-op that returns the
	// current record unchanged.
	RequestCancel(ctx context.Context, id uuid.UUID) (*job.Job, error)

	// Requeue rolls a Processing job owned by replicaID back to
	// Pending without incrementing RetryCount. Used by the dispatcher
	// when GPU acquisition fails after a successful claim.
	Requeue(ctx context.Context, id uuid.UUID, replicaID string) error

	// ListExpiredLeases returns up to limit Processing jobs whose lease
	// has expired as of now, for the reconciler.
	ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*job.Job, error)

	// Resurrect handles one expired lease: if the job's retry count is
	// below retryLimit it is CASed back to Pending with RetryCount
	// incremented; otherwise it is CASed to Failed with
	// error_kind=lost. Returns the job's resulting status.
	Resurrect(ctx context.Context, id uuid.UUID, retryLimit uint32) (job.Status, error)

	// DeleteTerminalOlderThan deletes terminal records completed at or
	// before before and returns the number of rows removed.
	DeleteTerminalOlderThan(ctx context.Context, before time.Time) (int64, error)

	// Ping reports whether the store is reachable, used by the health
	// endpoint.
	Ping(ctx context.Context) error
}
