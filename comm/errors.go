package comm

import (
	"errors"
	"fmt"
)

// ErrUnsupportedStatus marks a Response status code outside the bands this
// layer understands (2xx, 4xx, 5xx). It signals a protocol violation, not a
// communication failure, so it is deliberately kept out of the
// CommunicationError taxonomy.
var ErrUnsupportedStatus = errors.New("unsupported response status")

// ConfigurationError reports bad or insufficient setup. It is raised at
// construction time and is never retried.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Key, e.Reason)
}

func newConfigError(key, format string, args ...any) error {
	return &ConfigurationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// CommunicationError is the common contract of TransientError and
// CriticalError. The status code follows HTTP semantics; RPC callers must be
// prepared to catch and handle both kinds.
type CommunicationError interface {
	error

	// HTTPStatus returns the status code carried by the failure.
	HTTPStatus() int

	// Reason returns the payload that accompanied the failure, if any.
	Reason() any

	// Retryable reports whether the caller may retry the whole request.
	Retryable() bool
}

// TransientError is a CommunicationError for 5xx statuses. The request
// itself may be valid; the caller may retry it later.
type TransientError struct {
	Status int
	Data   any
}

func (e *TransientError) Error() string   { return fmt.Sprintf("[HTTP %d] %v", e.Status, e.Data) }
func (e *TransientError) HTTPStatus() int { return e.Status }
func (e *TransientError) Reason() any     { return e.Data }
func (e *TransientError) Retryable() bool { return true }

// CriticalError is a CommunicationError for 4xx statuses. The request was
// rejected; the caller must not issue the same request again unchanged.
type CriticalError struct {
	Status int
	Data   any
}

func (e *CriticalError) Error() string   { return fmt.Sprintf("[HTTP %d] %v", e.Status, e.Data) }
func (e *CriticalError) HTTPStatus() int { return e.Status }
func (e *CriticalError) Reason() any     { return e.Data }
func (e *CriticalError) Retryable() bool { return false }

// AsCommunicationError unwraps err into the CommunicationError taxonomy.
func AsCommunicationError(err error) (CommunicationError, bool) {
	var commErr CommunicationError
	if errors.As(err, &commErr) {
		return commErr, true
	}
	return nil, false
}
