package job

// ErrorKind classifies why a job reached Failed or Cancelled.
//
// Validation errors never reach a stored job: they are rejected at
// submission time and surfaced directly as an HTTP 400. The remaining
// kinds are written to the job record by the executor or the reconciler.
type ErrorKind string

const (
	// ErrorKindNone is the zero value, used while a job is not in a
	// failed or cancelled state.
	ErrorKindNone ErrorKind = ""

	// ErrorKindGenerator indicates the generator subprocess reported a
	// deterministic error (malformed parameters it could itself detect,
	// a model runtime exception, and the like).
	ErrorKindGenerator ErrorKind = "generator"

	// ErrorKindOOM indicates the generator exhausted GPU memory mid-run.
	// The executor retries an OOM once before giving up.
	ErrorKindOOM ErrorKind = "oom"

	// ErrorKindTimeout indicates the job exceeded its maximum wall time
	// from StartedAt.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindLost indicates the job's lease expired and its retry
	// budget was exhausted before any replica could complete it.
	ErrorKindLost ErrorKind = "lost"

	// ErrorKindCancelled marks a cooperative stop. It is not a failure;
	// jobs carrying it transition to Cancelled, not Failed.
	ErrorKindCancelled ErrorKind = "cancelled"
)

func (k ErrorKind) String() string {
	return string(k)
}
