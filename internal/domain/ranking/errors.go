package ranking

import (
	"errors"
	"fmt"

	"github.com/kombinu/kombinu-ranking/internal/domain/shared"
)

const domainName = "ranking"

// Error kinds. Match with errors.Is.
var (
	// ErrInvalidEvent - malformed score event, rejected before any mutation.
	ErrInvalidEvent = fmt.Errorf("%w: invalid score event", shared.ErrValidation)

	// ErrRemoteUnavailable - the remote ranking source could not be read.
	ErrRemoteUnavailable = fmt.Errorf("%w: remote ranking source", shared.ErrServiceUnavailable)

	// ErrCacheWrite - best-effort write to the local cache failed.
	ErrCacheWrite = errors.New("ranking cache write failed")

	// ErrCacheMiss - the local cache holds no value for the key.
	ErrCacheMiss = fmt.Errorf("%w: ranking cache miss", shared.ErrNotFound)

	// ErrObserver - an observer returned an error or panicked.
	ErrObserver = errors.New("ranking observer failed")

	// ErrEngineClosed - mutation attempted after Shutdown.
	ErrEngineClosed = fmt.Errorf("%w: ranking engine is closed", shared.ErrInvalidState)
)

// InvalidEventError describes which field of a submission was rejected.
type InvalidEventError struct {
	*shared.DomainError
	Field string
}

// NewInvalidEventError creates the caller-visible validation error.
func NewInvalidEventError(field, message string) *InvalidEventError {
	return &InvalidEventError{
		DomainError: shared.NewDomainError(domainName, "Submit", ErrInvalidEvent, message),
		Field:       field,
	}
}

// NewRemoteUnavailableError wraps a failed remote listing.
func NewRemoteUnavailableError(err error) error {
	return shared.WrapError(domainName, "Load", ErrRemoteUnavailable, "remote listing failed", err)
}

// NewCacheWriteError wraps a failed cache write.
func NewCacheWriteError(op string, err error) error {
	return shared.WrapError(domainName, op, ErrCacheWrite, "cache write failed", err)
}

// NewObserverError wraps a failed observer delivery.
func NewObserverError(err error) error {
	return shared.WrapError(domainName, "Notify", ErrObserver, "observer delivery failed", err)
}

// IsInvalidEvent reports whether err rejects a submission.
func IsInvalidEvent(err error) bool {
	return errors.Is(err, ErrInvalidEvent)
}
