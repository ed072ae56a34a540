package cfp

import (
	"errors"

	"github.com/feedflow/cfp/internal/types"
)

// Re-exported sentinel errors. See internal/types/errors.go for the
// canonical definitions and error taxonomy (spec §7).
var (
	ErrTransient      = types.ErrTransient
	ErrLeaseLost      = types.ErrLeaseLost
	ErrObserverFailed = types.ErrObserverFailed
	ErrSplit          = types.ErrSplit
	ErrFatal          = types.ErrFatal
	ErrNotFound       = types.ErrNotFound
	ErrAlreadyExists  = types.ErrAlreadyExists
	ErrCancelled      = types.ErrCancelled
	ErrNotStarted     = types.ErrNotStarted
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrInvalidConfiguration is returned by NewProcessor when cfg is nil
	// or fails Config.Validate; errors.Is matches both cases, and in the
	// latter errors.Is/errors.As also reach the underlying Validate failure.
	ErrInvalidConfiguration = types.ErrInvalidConfiguration

	// ErrNATSConnectionRequired is returned when the NATS connection
	// passed to NewProcessor is nil and no WithLeaseStoreClient option
	// supplies a lease store client.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrFeedClientRequired is returned when the feed-store client passed
	// to NewProcessor is nil.
	ErrFeedClientRequired = errors.New("feed store client is required")

	// ErrObserverFactoryRequired is returned when the observer factory
	// passed to NewProcessor is nil.
	ErrObserverFactoryRequired = errors.New("observer factory is required")
)
