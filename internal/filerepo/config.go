package filerepo

import "time"

// MarkerLogging selects what, if anything, gets written into marker
// files beyond their bare existence.
type MarkerLogging int

const (
	// MarkerLoggingNone only ensures a marker exists; no diagnostic body
	// is written.
	MarkerLoggingNone MarkerLogging = iota
	// MarkerLoggingHumanReadable appends a readable header/timestamp/body
	// block to the marker on every write.
	MarkerLoggingHumanReadable
)

// FailureHandler receives the aggregated error from a commit or rollback
// that could not be thrown (the affected files are still accessible, just
// left in an indeterminate state pending cleanup).
type FailureHandler func(error)

// Options configures a Repo. BaseDirectory is the only required field;
// every duration except DeleteDelay takes a default when left zero (see
// withDefaults).
type Options struct {
	// BaseDirectory is the root of the repository on disk.
	BaseDirectory string

	// DeleteDelay is how long a committed delete's .del marker lingers
	// before the cleanup sweep physically removes the file. Zero makes a
	// committed delete eligible for removal on the next cleanup sweep.
	DeleteDelay time.Duration

	// IndeterminateDelay is the minimum age an .ind marker must reach
	// before the cleanup sweep will ask a resolver to adjudicate it.
	IndeterminateDelay time.Duration

	// HealthCheckInterval controls how often the held process lock is
	// probed with a trivial I/O operation to detect volume loss.
	HealthCheckInterval time.Duration

	// MaxAccessWaitOrRetry bounds how long initialization, lock
	// acquisition, and health-check recovery may wait before failing with
	// a Timeout error.
	MaxAccessWaitOrRetry time.Duration

	// MarkerFileLogging selects the marker body format.
	MarkerFileLogging MarkerLogging

	// CommitFailed and RollbackFailed, if set, receive the aggregate
	// error from a Transaction's Commit/Rollback instead of it being
	// silently dropped.
	CommitFailed   FailureHandler
	RollbackFailed FailureHandler
}

// withDefaults fills zero-valued duration fields with their default
// values (IndeterminateDelay 24h, HealthCheckInterval 15s,
// MaxAccessWaitOrRetry 10s), leaving explicit non-zero values (and
// DeleteDelay, where zero is meaningful) untouched.
func (o Options) withDefaults() Options {
	if o.IndeterminateDelay == 0 {
		o.IndeterminateDelay = 24 * time.Hour
	}
	if o.HealthCheckInterval == 0 {
		o.HealthCheckInterval = 15 * time.Second
	}
	if o.MaxAccessWaitOrRetry == 0 {
		o.MaxAccessWaitOrRetry = 10 * time.Second
	}
	return o
}
