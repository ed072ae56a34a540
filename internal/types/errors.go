package types

import "errors"

// Sentinel errors for the change-feed partition processor.
//
// Components use errors.Is/errors.As against these for control flow, and
// wrap external errors with context using fmt.Errorf("%s: %w", msg, err).

// Error taxonomy (spec §7): Transient (retry with back-off), LeaseLost
// (stop this partition, do not release), ObserverFailed (stop and
// release), Split (fan out to children, retire parent), Fatal (abort
// host).
var (
	// ErrTransient indicates a retryable failure in a remote call.
	ErrTransient = errors.New("transient error")

	// ErrLeaseLost indicates another host now owns the lease; the caller
	// must stop operating on the partition immediately and must not
	// release the lease (it is not theirs to release).
	ErrLeaseLost = errors.New("lease lost")

	// ErrObserverFailed indicates the user observer callback failed; the
	// caller must stop and release the lease so it can be retried
	// elsewhere.
	ErrObserverFailed = errors.New("observer failed")

	// ErrSplit indicates the feed store reported the partition has split;
	// the caller must materialize child leases and retire the parent.
	ErrSplit = errors.New("partition split")

	// ErrFatal indicates an unrecoverable error that must abort the host.
	ErrFatal = errors.New("fatal error")

	// ErrNotFound indicates the requested lease record does not exist.
	ErrNotFound = errors.New("lease not found")

	// ErrAlreadyExists indicates a conditional create found an existing
	// record; this is the universal "someone else got here first" signal
	// and is not itself an error condition for callers that handle it.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrCancelled indicates the operation was aborted via context
	// cancellation or an explicit stop signal.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNotStarted is returned when an operation requires a started
	// component.
	ErrNotStarted = errors.New("not started")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("already started")

	// ErrInvalidConfiguration is returned by NewProcessor when required
	// configuration fields are missing or inconsistent. The error text
	// describes the first check of Config.Validate that failed; fields
	// after it are not reported.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
