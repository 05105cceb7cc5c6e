package generator

import (
	"context"
	"fmt"

	"github.com/kamalhaddad/texttovideo-orchestrator/job"
	"github.com/kamalhaddad/texttovideo-orchestrator/params"
)

// ProgressSink is the opaque handle an executor hands to a Generator so
// the generator can report progress and observe cancellation without
// knowing anything about the store or the queue.
//
// Report must be called with a monotonically non-decreasing fraction
// within a single invocation; the sink, not the Generator, is
// responsible for coalescing frequent calls and rejecting non-forward
// progress.
//
// IsCancelled is checked by the Generator at its own suspension points;
// a Generator is free to ignore it, but Subprocess's protocol surfaces
// it to the child process so well-behaved generators can stop early.
type ProgressSink interface {
	Report(ctx context.Context, fraction float64) error
	IsCancelled(ctx context.Context) bool
}

// Generator produces a video artifact for a set of parameters on a
// specific GPU device index, writing the final file to outputPath.
//
// Generate must write outputPath atomically (temp file + rename) and
// must not return a nil error unless outputPath is a complete, readable
// media file.
type Generator interface {
	Generate(ctx context.Context, p params.GenerationParams, deviceID int, outputPath string, sink ProgressSink) error
}

// Error classifies a Generate failure into one of the job package's
// terminal error kinds, so the executor does not need to sniff error
// strings to decide how to CAS the job record.
type Error struct {
	Kind   job.ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("generator: %s: %s", e.Kind, e.Detail)
}

// NewError builds a classified generator error.
func NewError(kind job.ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}
