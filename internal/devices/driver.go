package devices

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenRigCore/internal/thermo"
)

// Wildcard matches any device type, connection type or identifier in Open.
const Wildcard = "ANY"

// Driver is the vendor boundary: name-addressed register access on integer
// handles. Implementations return *DriverError for every failure.
type Driver interface {
	Open(ctx context.Context, deviceType, connectionType, identifier string) (int, error)
	ReadName(ctx context.Context, h int, name string) (float64, error)
	WriteName(ctx context.Context, h int, name string, value float64) error
	// WriteNames applies the writes in order. On failure errIndex is the
	// position of the failing write; earlier writes have been applied.
	WriteNames(ctx context.Context, h int, names []string, values []float64) (errIndex int, err error)
	VoltsToTemp(tcType thermo.Type, volts, cjcKelvin float64) (float64, error)
	Close(h int) error
}

type ErrorCode int

const (
	CodeDeviceNotFound ErrorCode = iota + 1
	CodeInvalidHandle
	CodeUnknownName
	CodeIO
	CodeReadOnly
	CodeConversion
)

func (c ErrorCode) String() string {
	switch c {
	case CodeDeviceNotFound:
		return "DEVICE_NOT_FOUND"
	case CodeInvalidHandle:
		return "INVALID_HANDLE"
	case CodeUnknownName:
		return "UNKNOWN_NAME"
	case CodeIO:
		return "IO"
	case CodeReadOnly:
		return "READ_ONLY"
	case CodeConversion:
		return "CONVERSION"
	default:
		return fmt.Sprintf("CODE_%d", int(c))
	}
}

type DriverError struct {
	Code ErrorCode
	Op   string
	Name string
	Err  error
}

func (e *DriverError) Error() string {
	msg := fmt.Sprintf("driver %s", e.Op)
	if e.Name != "" {
		msg += " " + e.Name
	}
	msg += ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

func driverErr(code ErrorCode, op, name string, err error) *DriverError {
	return &DriverError{Code: code, Op: op, Name: name, Err: err}
}

func convertTemp(tcType thermo.Type, volts, cjcKelvin float64) (float64, error) {
	k, err := thermo.VoltsToKelvin(tcType, volts, cjcKelvin)
	if err != nil {
		return 0, driverErr(CodeConversion, "volts_to_temp", string(tcType), err)
	}
	return k, nil
}
