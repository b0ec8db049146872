package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable covers refused connections, timeouts and other transport failures.
	ErrUnavailable = errors.New("worker unavailable")
	// ErrProcessingFault means the worker was reached but reported a failure.
	ErrProcessingFault = errors.New("worker processing fault")
)

// Error describes a failed worker call. errors.Is matches it against
// ErrUnavailable or ErrProcessingFault depending on its kind.
type Error struct {
	kind       error
	StatusCode int    // HTTP status returned by the worker, 0 for transport failures
	Detail     string // worker-supplied message or transport error text
	err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: status %d: %s", e.kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%v: %s", e.kind, e.Detail)
}

func (e *Error) Is(target error) bool {
	return target == e.kind
}

func (e *Error) Unwrap() error {
	return e.err
}

func unavailable(err error) error {
	return &Error{kind: ErrUnavailable, Detail: err.Error(), err: err}
}

func processingFault(status int, detail string) error {
	return &Error{kind: ErrProcessingFault, StatusCode: status, Detail: detail}
}

// IsWorkerError reports whether err came from the worker call itself.
func IsWorkerError(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrProcessingFault)
}
