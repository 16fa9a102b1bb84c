// Package peripheral models the rig's actuators and sensors. Every variant
// borrows the device handle through IO for the duration of one call and
// reports failures as typed errors.
package peripheral

import (
	"context"
	"fmt"
	"math"

	"github.com/KevinKickass/OpenRigCore/internal/handle"
	"github.com/KevinKickass/OpenRigCore/internal/thermo"
	"github.com/KevinKickass/OpenRigCore/internal/types"
)

type Kind string

const (
	KindLoadCell     Kind = "load_cell"
	KindThermocouple Kind = "thermocouple"
	KindServo        Kind = "servo"
	KindSolenoid     Kind = "solenoid"
	KindDCDrive      Kind = "dc_drive"
)

// IO is the register access a peripheral needs. *handle.Handle implements it.
type IO interface {
	ReadRegister(ctx context.Context, name string) (float64, error)
	ReadRegisters(ctx context.Context, names ...string) ([]float64, error)
	WriteRegister(ctx context.Context, name string, value float64) error
	WriteBatch(ctx context.Context, writes []handle.Write) error
	VoltsToTemp(tcType thermo.Type, volts, cjcKelvin float64) (float64, error)
}

var _ IO = (*handle.Handle)(nil)

type Peripheral interface {
	Name() string
	Kind() Kind
	// Registers lists the wiring pins bound at construction.
	Registers() []string
	// SelfTest is a startup diagnostic. It returns a *types.HardwareAssertionError
	// for out-of-range values and an error wrapping *types.IOError for failed reads.
	SelfTest(ctx context.Context, io IO) error
}

// expectNonNegative reads each register and asserts value >= 0.
func expectNonNegative(ctx context.Context, io IO, peripheral string, registers ...string) error {
	for _, reg := range registers {
		v, err := io.ReadRegister(ctx, reg)
		if err != nil {
			return fmt.Errorf("self-test %s: %w", peripheral, err)
		}
		if math.IsNaN(v) || v < 0 {
			return &types.HardwareAssertionError{
				Peripheral:  peripheral,
				Register:    reg,
				Value:       v,
				Expectation: ">= 0",
			}
		}
	}
	return nil
}

func requireRegister(peripheral, field, value string) error {
	if value == "" {
		return &types.ConfigurationError{Peripheral: peripheral, Field: field, Reason: "register name is empty"}
	}
	return nil
}
