package constants

// JobStatus is the canonical status for a video-generation job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued    JobStatus = "QUEUED"    // accepted, waiting for a worker slot
	JobStatusRunning   JobStatus = "RUNNING"   // pipeline in progress
	JobStatusSucceeded JobStatus = "SUCCEEDED" // terminal: artifact committed
	JobStatusFailed    JobStatus = "FAILED"    // terminal failure
	JobStatusCancelled JobStatus = "CANCELLED" // terminal: cancelled by caller
)

// IsTerminal reports whether no further status transition is permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// ErrorKind classifies stage failures for retry policy and caller reporting.
type ErrorKind string

const (
	ErrKindTransientUpstream ErrorKind = "TRANSIENT_UPSTREAM" // rate limit, timeout; retried per policy
	ErrKindInvalidInput      ErrorKind = "INVALID_INPUT"      // client-caused, surfaced verbatim
	ErrKindRenderFailure     ErrorKind = "RENDER_FAILURE"     // rendering engine error, not retried by default
	ErrKindInternal          ErrorKind = "INTERNAL"           // surfaced generically, logged in full
)
