// Package reconcile implements the periodic sweeper (component H),
// structured the same way as the teacher's CleanWorker: a single
// TimerTask-driven pass that is safe to run concurrently with itself
// and with any number of dispatchers, because every store operation it
// performs is an idempotent CAS.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/kamalhaddad/texttovideo-orchestrator/gpu"
	"github.com/kamalhaddad/texttovideo-orchestrator/internal"
	"github.com/kamalhaddad/texttovideo-orchestrator/job"
	"github.com/kamalhaddad/texttovideo-orchestrator/lifecycle"
	"github.com/kamalhaddad/texttovideo-orchestrator/metrics"
	"github.com/kamalhaddad/texttovideo-orchestrator/store"
)

// Config parameterizes a Reconciler.
type Config struct {
	Interval   time.Duration
	MaxRetries uint32
	Retention  time.Duration
	SweepLimit int
}

// Reconciler periodically resurrects jobs whose lease has expired,
// expires retained terminal records, and releases any local GPU slot
// left allocated to a job that has since reached a terminal state.
type Reconciler struct {
	lifecycle.Base

	store      store.Store
	queue      store.Queue
	gpuReg     *gpu.Registry
	metrics    *metrics.Metrics
	task       internal.TimerTask
	log        *slog.Logger
	interval   time.Duration
	maxRetries uint32
	retention  time.Duration
	limit      int
}

// New creates a Reconciler. It is not started automatically.
func New(st store.Store, q store.Queue, gpuReg *gpu.Registry, m *metrics.Metrics, cfg *Config, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:      st,
		queue:      q,
		gpuReg:     gpuReg,
		metrics:    m,
		log:        log,
		interval:   cfg.Interval,
		maxRetries: cfg.MaxRetries,
		retention:  cfg.Retention,
		limit:      cfg.SweepLimit,
	}
}

// Start begins periodic reconciliation passes.
func (r *Reconciler) Start(ctx context.Context) error {
	if err := r.TryStart(); err != nil {
		return err
	}
	r.task.Start(ctx, r.sweep, r.interval)
	return nil
}

// Stop terminates the background sweep, waiting up to timeout for an
// in-flight pass to finish.
func (r *Reconciler) Stop(timeout time.Duration) error {
	return r.TryStop(timeout, func() <-chan struct{} { return r.task.Stop() })
}

func (r *Reconciler) sweep(ctx context.Context) {
	r.resurrectExpiredLeases(ctx)
	r.expireTerminalRecords(ctx)
	r.releaseStaleGPUSlots(ctx)
}

func (r *Reconciler) resurrectExpiredLeases(ctx context.Context) {
	expired, err := r.store.ListExpiredLeases(ctx, time.Now(), r.limit)
	if err != nil {
		r.log.Error("list expired leases failed", "err", err)
		return
	}
	for _, jb := range expired {
		status, err := r.store.Resurrect(ctx, jb.Id, r.maxRetries)
		if err != nil {
			r.log.Error("resurrect failed", "id", jb.Id, "err", err)
			continue
		}
		switch status {
		case job.Pending:
			if err := r.queue.Requeue(ctx, jb.Id, int32(jb.Params.Priority), jb.SubmittedAt.UnixMilli()); err != nil {
				r.log.Error("requeue after resurrection failed", "id", jb.Id, "err", err)
				continue
			}
			r.metrics.JobsRecovered.Inc()
			r.log.Info("recovered orphaned job", "id", jb.Id, "retry_count", jb.RetryCount+1)
		case job.Failed:
			r.metrics.JobsFailed.Inc()
			r.log.Warn("job lost, retry budget exhausted", "id", jb.Id)
		}
	}
}

func (r *Reconciler) expireTerminalRecords(ctx context.Context) {
	before := time.Now().Add(-r.retention)
	n, err := r.store.DeleteTerminalOlderThan(ctx, before)
	if err != nil {
		r.log.Error("retention sweep failed", "err", err)
		return
	}
	if n > 0 {
		r.log.Info("expired terminal records", "count", n)
	}
}

// releaseStaleGPUSlots is a backstop for a slot left allocated after a
// replica crash mid-job, where no executor goroutine survives to run
// its deferred Release. Slots held by a job still genuinely in
// flight are left untouched.
func (r *Reconciler) releaseStaleGPUSlots(ctx context.Context) {
	for _, slot := range r.gpuReg.Snapshot() {
		if slot.State != gpu.Allocated {
			continue
		}
		jb, err := r.store.Get(ctx, slot.JobID)
		if err == store.ErrNotFound || (err == nil && jb.Status.Terminal()) {
			r.gpuReg.Release(slot.JobID)
		}
	}
}
