package peripheral

import (
	"context"
	"fmt"
	"math"

	"github.com/KevinKickass/OpenRigCore/internal/thermo"
	"github.com/KevinKickass/OpenRigCore/internal/types"
)

const (
	// ColdJunctionKelvin is the fixed reference the rig's thermocouples are
	// compensated against.
	ColdJunctionKelvin = 299.039

	kelvinToCelsius = 273.15
	maxSaneEMF      = 0.1 // volts
)

type Thermocouple struct {
	name      string
	register  string
	tcType    thermo.Type
	cjcKelvin float64
}

// NewThermocouple rejects types without a conversion. cjcKelvin <= 0 selects
// ColdJunctionKelvin.
func NewThermocouple(name, register string, tcType thermo.Type, cjcKelvin float64) (*Thermocouple, error) {
	if err := requireRegister(name, "register", register); err != nil {
		return nil, err
	}
	if _, err := thermo.ParseType(string(tcType)); err != nil {
		return nil, &types.ConfigurationError{Peripheral: name, Field: "tc_type", Reason: err.Error()}
	}
	if !tcType.Supported() {
		return nil, &types.ConfigurationError{Peripheral: name, Field: "tc_type",
			Reason: fmt.Sprintf("type %s has no volts-to-temperature conversion", tcType)}
	}
	if cjcKelvin <= 0 {
		cjcKelvin = ColdJunctionKelvin
	}

	return &Thermocouple{name: name, register: register, tcType: tcType, cjcKelvin: cjcKelvin}, nil
}

func (t *Thermocouple) Name() string        { return t.name }
func (t *Thermocouple) Kind() Kind          { return KindThermocouple }
func (t *Thermocouple) Registers() []string { return []string{t.register} }
func (t *Thermocouple) Type() thermo.Type   { return t.tcType }

// ReadTemperature returns degrees Celsius. It needs the raw EMF read and the
// conversion to both succeed.
func (t *Thermocouple) ReadTemperature(ctx context.Context, io IO) (float64, error) {
	volts, err := io.ReadRegister(ctx, t.register)
	if err != nil {
		return 0, err
	}
	kelvin, err := io.VoltsToTemp(t.tcType, volts, t.cjcKelvin)
	if err != nil {
		return 0, err
	}
	return kelvin - kelvinToCelsius, nil
}

func (t *Thermocouple) SelfTest(ctx context.Context, io IO) error {
	v, err := io.ReadRegister(ctx, t.register)
	if err != nil {
		return fmt.Errorf("self-test %s: %w", t.name, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > maxSaneEMF {
		return &types.HardwareAssertionError{
			Peripheral:  t.name,
			Register:    t.register,
			Value:       v,
			Expectation: fmt.Sprintf("finite EMF within ±%gV", maxSaneEMF),
		}
	}
	return nil
}
