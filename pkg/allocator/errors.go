package allocator

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInsufficientCUs       = errors.New("insufficient compute units for the requested rank count")
	ErrTooManyDevicesPerRank = errors.New("devices per rank exceeds the available devices")
	ErrPresetMultiDevice     = errors.New("a preset device list can't be combined with multi-device mode")
	ErrBadRankContext        = errors.New("invalid rank context")
	ErrNoDevices             = errors.New("empty device table")
)

// ValidationError rejects a placement request before anything is allocated.
type ValidationError struct {
	Reason error
	Detail string
}

func newValidationError(reason error, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}
