package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by CloudBackend.Get when the record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrMalformedState marks corrupt locally persisted state. Callers recover
	// by treating the state as empty.
	ErrMalformedState = errors.New("malformed persisted state")
)

// TransientError is a network or backend failure. The operation can be retried
// later, which for writes means leaving it in the pending queue.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ConfigurationError is a missing or invalid setting. It is surfaced right
// away and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
