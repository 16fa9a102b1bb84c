package types

import (
	"errors"
	"fmt"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

var (
	// ErrDeviceNotFound means no physical controller answered at rig startup.
	ErrDeviceNotFound = errors.New("device not found")

	ErrHandleClosed    = errors.New("device handle closed")
	ErrContextReleased = errors.New("state context released")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotConfigured   = errors.New("peripheral not configured")
)

// IOError is a single failed register read or write. The handle stays usable.
type IOError struct {
	Op       string // "read", "write", "batch", "convert"
	Register string
	Err      error
}

func (e *IOError) Error() string {
	if e.Register == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Register, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// HardwareAssertionError is a self-test reading outside its sane range.
type HardwareAssertionError struct {
	Peripheral  string
	Register    string
	Value       float64
	Expectation string
}

func (e *HardwareAssertionError) Error() string {
	return fmt.Sprintf("self-test %s: register %s read %g, expected %s",
		e.Peripheral, e.Register, e.Value, e.Expectation)
}

// ConfigurationError is detected at construction and makes the peripheral unusable.
type ConfigurationError struct {
	Peripheral string
	Field      string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration for %s: %s", e.Peripheral, e.Reason)
	}
	return fmt.Sprintf("invalid configuration for %s.%s: %s", e.Peripheral, e.Field, e.Reason)
}

// IsIOError reports whether err carries an *IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// IsHardwareAssertion reports whether err carries a *HardwareAssertionError.
func IsHardwareAssertion(err error) bool {
	var hwErr *HardwareAssertionError
	return errors.As(err, &hwErr)
}

// IsConfigurationError reports whether err carries a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
