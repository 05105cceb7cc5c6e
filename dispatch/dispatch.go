// Package dispatch generalizes the teacher's Worker/internal.WorkerPool
// pairing into the orchestrator's per-replica admission controller: a
// TimerTask-driven poll loop claims job ids from the submission queue,
// acquires a GPU slot for each, and hands it to a bounded worker pool
// whose handler (the executor) drives the generator subprocess to
// completion.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kamalhaddad/texttovideo-orchestrator/cancel"
	"github.com/kamalhaddad/texttovideo-orchestrator/generator"
	"github.com/kamalhaddad/texttovideo-orchestrator/gpu"
	"github.com/kamalhaddad/texttovideo-orchestrator/internal"
	"github.com/kamalhaddad/texttovideo-orchestrator/job"
	"github.com/kamalhaddad/texttovideo-orchestrator/lifecycle"
	"github.com/kamalhaddad/texttovideo-orchestrator/metrics"
	"github.com/kamalhaddad/texttovideo-orchestrator/store"
)

// ErrGPUUnavailable describes a claim that could not find a free GPU
// slot. The poll loop does not return it: on that path it rolls the
// claim back and waits for the next tick.
var ErrGPUUnavailable = errors.New("no gpu slot available")

// Config parameterizes a Dispatcher.
type Config struct {
	ReplicaID         string
	MaxConcurrentJobs int
	PollInterval      time.Duration
	LeaseDuration     time.Duration
	JobMaxDuration    time.Duration
	ProgressInterval  time.Duration
	OutputDir         string
	StoreRetry        BackoffConfig
}

type dispatched struct {
	jb     *job.Job
	device int
}

// Dispatcher is the per-replica admission controller (components D
// and, via its progress sink, E).
type Dispatcher struct {
	lifecycle.Base

	store     store.Store
	queue     store.Queue
	gpuReg    *gpu.Registry
	cancelReg *cancel.Registry
	gen       generator.Generator
	metrics   *metrics.Metrics

	pool     *internal.WorkerPool[*dispatched]
	pollTask internal.TimerTask
	log      *slog.Logger

	replicaID string
	lease     time.Duration
	halfLease time.Duration
	jobMax    time.Duration
	progInt   time.Duration
	outputDir string
	interval  time.Duration
	storeBO   backoffCounter

	active    atomic.Int32
	maxActive int32

	progressMu sync.Mutex
	lastValue  map[uuid.UUID]float64
	lastWrite  map[uuid.UUID]time.Time
}

// New creates a Dispatcher. It is not started automatically.
func New(
	st store.Store,
	q store.Queue,
	gpuReg *gpu.Registry,
	cancelReg *cancel.Registry,
	gen generator.Generator,
	m *metrics.Metrics,
	cfg *Config,
	log *slog.Logger,
) *Dispatcher {
	d := &Dispatcher{
		store:     st,
		queue:     q,
		gpuReg:    gpuReg,
		cancelReg: cancelReg,
		gen:       gen,
		metrics:   m,
		log:       log,
		replicaID: cfg.ReplicaID,
		lease:     cfg.LeaseDuration,
		halfLease: cfg.LeaseDuration / 3,
		jobMax:    cfg.JobMaxDuration,
		progInt:   cfg.ProgressInterval,
		outputDir: cfg.OutputDir,
		interval:  cfg.PollInterval,
		maxActive: int32(cfg.MaxConcurrentJobs),
		storeBO:   backoffCounter{cfg.StoreRetry},
		lastValue: make(map[uuid.UUID]float64),
		lastWrite: make(map[uuid.UUID]time.Time),
	}
	d.pool = internal.NewWorkerPool[*dispatched](cfg.MaxConcurrentJobs, cfg.MaxConcurrentJobs, log)
	return d
}

// Start begins polling the submission queue and dispatching claimed
// jobs to the executor pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.TryStart(); err != nil {
		return err
	}
	d.pool.Start(ctx, d.execute)
	d.pollTask.Start(ctx, d.poll, d.interval)
	return nil
}

// Stop gracefully shuts the dispatcher down, waiting up to timeout
// for in-flight executors to finish.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	return d.TryStop(timeout, func() <-chan struct{} {
		first := d.pollTask.Stop()
		second := d.pool.Stop()
		return internal.Combine(first, second)
	})
}

// ActiveJobs returns the number of executors currently running on this
// replica, for /api/system/status and the active-jobs gauge.
func (d *Dispatcher) ActiveJobs() int {
	return int(d.active.Load())
}

// updateGauges refreshes the replica-local Prometheus gauges from the
// current queue depth and GPU/executor accounting. Called once per
// poll tick and again after every executor exits, so scrapes never lag
// more than one PollInterval behind reality.
func (d *Dispatcher) updateGauges(ctx context.Context) {
	d.metrics.ActiveExecutors.Set(float64(d.active.Load()))
	d.metrics.GPUSlotsTotal.Set(float64(d.gpuReg.Capacity()))
	d.metrics.GPUSlotsInUse.Set(float64(d.gpuReg.Capacity() - d.gpuReg.Available()))
	if n, err := d.queue.Length(ctx); err == nil {
		d.metrics.QueueDepth.Set(float64(n))
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	d.updateGauges(ctx)
	for {
		if d.active.Load() >= d.maxActive {
			return
		}
		id, ok, err := d.queue.TryClaim(ctx)
		if err != nil {
			d.log.Error("queue claim failed", "err", err)
			return
		}
		if !ok {
			return
		}
		jb, err := d.store.Claim(ctx, id, d.replicaID, d.lease)
		if err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				d.log.Debug("lost claim race", "id", id)
				continue
			}
			d.log.Error("store claim failed", "id", id, "err", err)
			continue
		}
		device, ok := d.gpuReg.Acquire(id)
		if !ok {
			d.rollbackClaim(ctx, jb)
			return
		}
		d.active.Add(1)
		if !d.pool.Push(&dispatched{jb: jb, device: device}) {
			d.active.Add(-1)
			d.gpuReg.Release(id)
			return
		}
	}
}

func (d *Dispatcher) rollbackClaim(ctx context.Context, jb *job.Job) {
	if err := d.store.Requeue(ctx, jb.Id, d.replicaID); err != nil {
		d.log.Error("rollback requeue (store) failed", "id", jb.Id, "err", err)
		return
	}
	if err := d.queue.Requeue(ctx, jb.Id, int32(jb.Params.Priority), jb.SubmittedAt.UnixMilli()); err != nil {
		d.log.Error("rollback requeue (queue) failed", "id", jb.Id, "err", err)
	}
}

func (d *Dispatcher) execute(ctx context.Context, dj *dispatched) {
	jb := dj.jb
	defer d.updateGauges(ctx)
	defer d.active.Add(-1)
	defer d.gpuReg.Release(jb.Id)
	defer d.cancelReg.Clear(jb.Id)
	defer d.forgetProgress(jb.Id)

	runCtx, cancelRun := context.WithTimeout(ctx, d.jobMax)
	defer cancelRun()

	sink := &progressSink{d: d, jobID: jb.Id, replicaID: d.replicaID}
	outPath := filepath.Join(d.outputDir, jb.Id.String()+".mp4")

	genErr, abandoned := d.runAttempt(ctx, runCtx, cancelRun, jb, dj, outPath, sink)
	if !abandoned && isOOM(genErr) {
		d.log.Warn("generator reported out-of-memory, retrying once", "id", jb.Id)
		d.forgetProgress(jb.Id)
		genErr, abandoned = d.runAttempt(ctx, runCtx, cancelRun, jb, dj, outPath, sink)
	}

	if abandoned {
		return
	}
	d.finish(ctx, jb, outPath, genErr)
}

// runAttempt drives a single invocation of the generator to completion
// or failure, renewing the job's lease on every half_lease tick and
// mirroring a cancellation request observed there into the in-replica
// cancel registry. abandoned is true only when lease renewal itself
// failed, meaning this replica can no longer be trusted to own the job
// and the reconciler must recover it.
func (d *Dispatcher) runAttempt(
	ctx, runCtx context.Context,
	cancelRun context.CancelFunc,
	jb *job.Job,
	dj *dispatched,
	outPath string,
	sink *progressSink,
) (genErr error, abandoned bool) {
	genErrCh := make(chan error, 1)
	go func() {
		genErrCh <- d.gen.Generate(runCtx, jb.Params, dj.device, outPath, sink)
	}()

	timer := time.NewTimer(d.halfLease)
	defer timer.Stop()

runLoop:
	for {
		select {
		case <-timer.C:
			if err := d.store.ExtendLease(ctx, jb.Id, d.replicaID, d.lease); err != nil {
				d.log.Warn("lease renewal failed, abandoning job to reconciler", "id", jb.Id, "err", err)
				cancelRun()
				abandoned = true
				genErr = <-genErrCh
				break runLoop
			}
			if fresh, err := d.store.Get(ctx, jb.Id); err == nil && fresh.CancelRequested {
				d.cancelReg.Mark(jb.Id)
			}
			timer.Reset(d.halfLease)
		case genErr = <-genErrCh:
			break runLoop
		case <-runCtx.Done():
			genErr = runCtx.Err()
			break runLoop
		}
	}
	return genErr, abandoned
}

// isOOM reports whether err is a generator.Error classified as an
// out-of-memory failure, the one generator error kind the executor
// retries before treating it as terminal.
func isOOM(err error) bool {
	var gerr *generator.Error
	return errors.As(err, &gerr) && gerr.Kind == job.ErrorKindOOM
}

func (d *Dispatcher) finish(ctx context.Context, jb *job.Job, outPath string, genErr error) {
	if genErr == nil {
		if d.retryStoreWrite(ctx, jb.Id, func() error {
			return d.store.Complete(ctx, jb.Id, d.replicaID, outPath)
		}) {
			d.metrics.JobsCompleted.Inc()
		}
		return
	}

	if d.cancelReg.Requested(jb.Id) {
		if d.retryStoreWrite(ctx, jb.Id, func() error {
			return d.store.CancelCooperative(ctx, jb.Id, d.replicaID)
		}) {
			d.metrics.JobsCancelled.Inc()
		}
		return
	}

	kind := job.ErrorKindGenerator
	detail := genErr.Error()

	var gerr *generator.Error
	switch {
	case errors.As(genErr, &gerr):
		kind = gerr.Kind
		detail = gerr.Detail
	case errors.Is(genErr, context.DeadlineExceeded):
		kind = job.ErrorKindTimeout
		detail = "exceeded maximum job duration"
	}

	if kind == job.ErrorKindCancelled {
		if d.retryStoreWrite(ctx, jb.Id, func() error {
			return d.store.CancelCooperative(ctx, jb.Id, d.replicaID)
		}) {
			d.metrics.JobsCancelled.Inc()
		}
		return
	}

	if d.retryStoreWrite(ctx, jb.Id, func() error {
		return d.store.Fail(ctx, jb.Id, d.replicaID, kind, detail)
	}) {
		d.metrics.JobsFailed.Inc()
	}
}

// retryStoreWrite retries a terminal-state write against transient
// store outages with jittered backoff, reporting whether the write
// ultimately landed. If the retry budget is exhausted, it gives up
// silently: the reconciler will later observe the job's expired lease
// and mark it lost.
func (d *Dispatcher) retryStoreWrite(ctx context.Context, id uuid.UUID, write func() error) bool {
	var attempt uint32 = 1
	for {
		err := write()
		if err == nil {
			return true
		}
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return false
		}
		delay, ok := d.storeBO.next(attempt)
		if !ok {
			d.log.Error("giving up on terminal write, leaving job for reconciler", "id", id, "err", err)
			return false
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
		attempt++
	}
}

func (d *Dispatcher) forgetProgress(id uuid.UUID) {
	d.progressMu.Lock()
	defer d.progressMu.Unlock()
	delete(d.lastValue, id)
	delete(d.lastWrite, id)
}
