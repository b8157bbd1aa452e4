// Package errors defines the error taxonomy for the caching layer.
// Store-availability failures are absorbed inside the resilience envelope;
// the types here exist so that internal layers can classify what happened
// without ever leaking a raw driver error to calling code.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType categorizes an error for handling and logging decisions.
type ErrorType string

const (
	// ErrorTypeConnectivity covers unreachable store, timeouts, and broken
	// connections. Always recovered locally, never surfaced to callers.
	ErrorTypeConnectivity ErrorType = "CONNECTIVITY"

	// ErrorTypeSerialization covers corrupt or undecodable cached payloads.
	// Treated as a cache miss; the offending entry is deleted.
	ErrorTypeSerialization ErrorType = "SERIALIZATION"

	// ErrorTypeConfiguration covers invalid registrations (bad rate rules,
	// A/B weights that do not sum to 100). Surfaced synchronously to the
	// registering caller and fatal to that call only.
	ErrorTypeConfiguration ErrorType = "CONFIGURATION"
)

// ErrNotFound is the sentinel returned by store clients on a key miss.
var ErrNotFound = errors.New("store: key not found")

// ErrCircuitOpen is returned internally when the breaker rejects a call.
var ErrCircuitOpen = errors.New("store: circuit breaker open")

// ConnectivityError wraps a store transport failure with the operation that
// observed it.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("store connectivity failure during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// NewConnectivity wraps err as a ConnectivityError for operation op.
func NewConnectivity(op string, err error) error {
	return &ConnectivityError{Op: op, Err: err}
}

// SerializationError marks a cached payload that could not be decoded.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("undecodable cache payload for key %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// NewSerialization wraps err as a SerializationError for the given key.
func NewSerialization(key string, err error) error {
	return &SerializationError{Key: key, Err: err}
}

// ConfigurationError reports an invalid registration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

// NewConfiguration builds a ConfigurationError.
func NewConfiguration(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// IsConnectivity reports whether err is (or wraps) a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsSerialization reports whether err is (or wraps) a SerializationError.
func IsSerialization(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is the store miss sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// TypeOf returns the taxonomy category for err, or "" when it is not one of
// the classified types.
func TypeOf(err error) ErrorType {
	switch {
	case IsConnectivity(err):
		return ErrorTypeConnectivity
	case IsSerialization(err):
		return ErrorTypeSerialization
	case IsConfiguration(err):
		return ErrorTypeConfiguration
	default:
		return ""
	}
}
