package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// progressSink is the ProgressSink handed to the generator for a
// single executor invocation. It enforces monotonic progress, coalesces
// writes to the store to at most once per Δ_progress (the first report
// and any report of 1.0 are always written), and surfaces
// cooperative cancellation from the in-replica cancel registry.
type progressSink struct {
	d         *Dispatcher
	jobID     uuid.UUID
	replicaID string
}

func (s *progressSink) Report(ctx context.Context, fraction float64) error {
	d := s.d
	d.progressMu.Lock()
	last, seen := d.lastValue[s.jobID]
	if seen && fraction < last {
		d.progressMu.Unlock()
		return nil
	}
	lastWrite := d.lastWrite[s.jobID]
	d.lastValue[s.jobID] = fraction
	due := !seen || fraction >= 1.0 || time.Since(lastWrite) >= d.progInt
	if due {
		d.lastWrite[s.jobID] = time.Now()
	}
	d.progressMu.Unlock()

	if !due {
		return nil
	}
	return d.store.ReportProgress(ctx, s.jobID, s.replicaID, fraction)
}

func (s *progressSink) IsCancelled(ctx context.Context) bool {
	return s.d.cancelReg.Requested(s.jobID)
}
