package peripheral

import (
	"fmt"
	"os"

	"github.com/KevinKickass/OpenRigCore/internal/devices"
	"gopkg.in/yaml.v3"
)

// DefaultValveOpenAngle is the servo angle that opens a valve.
const DefaultValveOpenAngle = 100.0

// Spec describes one peripheral in a wiring plan. Which fields apply depends
// on Kind.
type Spec struct {
	Name string `yaml:"name" json:"name"`
	Kind Kind   `yaml:"kind" json:"kind"`

	Register string `yaml:"register,omitempty" json:"register,omitempty"`

	Pos         string  `yaml:"pos,omitempty" json:"pos,omitempty"`
	Neg         string  `yaml:"neg,omitempty" json:"neg,omitempty"`
	Sensitivity float64 `yaml:"sensitivity,omitempty" json:"sensitivity,omitempty"`
	RatedLoad   float64 `yaml:"rated_load,omitempty" json:"rated_load,omitempty"`

	TCType string `yaml:"tc_type,omitempty" json:"tc_type,omitempty"`

	MinPulseUs int `yaml:"min_pulse_us,omitempty" json:"min_pulse_us,omitempty"`
	MaxPulseUs int `yaml:"max_pulse_us,omitempty" json:"max_pulse_us,omitempty"`

	Forward        string  `yaml:"forward,omitempty" json:"forward,omitempty"`
	Reverse        string  `yaml:"reverse,omitempty" json:"reverse,omitempty"`
	Feedback       string  `yaml:"feedback,omitempty" json:"feedback,omitempty"`
	DegreesPerVolt float64 `yaml:"degrees_per_volt,omitempty" json:"degrees_per_volt,omitempty"`
}

// Roles binds the set's named operations to peripherals by name.
type Roles struct {
	FeedValve    string `yaml:"feed_valve,omitempty" json:"feed_valve,omitempty"`
	FillValve    string `yaml:"fill_valve,omitempty" json:"fill_valve,omitempty"`
	MainLoadCell string `yaml:"main_load_cell,omitempty" json:"main_load_cell,omitempty"`
	SideLoadCell string `yaml:"side_load_cell,omitempty" json:"side_load_cell,omitempty"`
	Vent         string `yaml:"vent,omitempty" json:"vent,omitempty"`
	MainDrive    string `yaml:"main_drive,omitempty" json:"main_drive,omitempty"`
}

// Wiring is the rig's fixed wiring plan and calibration constants.
type Wiring struct {
	Version            int     `yaml:"version" json:"version"`
	ValveOpenAngle     float64 `yaml:"valve_open_angle,omitempty" json:"valve_open_angle,omitempty"`
	ColdJunctionKelvin float64 `yaml:"cold_junction_kelvin,omitempty" json:"cold_junction_kelvin,omitempty"`
	Roles              Roles   `yaml:"roles" json:"roles"`
	Peripherals        []Spec  `yaml:"peripherals" json:"peripherals"`
}

// DefaultWiring is the reference rig: two valve servos, three type K
// thermocouples, two load cells, a vent solenoid and the main valve drive.
func DefaultWiring() Wiring {
	return Wiring{
		Version:            1,
		ValveOpenAngle:     DefaultValveOpenAngle,
		ColdJunctionKelvin: ColdJunctionKelvin,
		Roles: Roles{
			FeedValve:    "feed_valve",
			FillValve:    "fill_valve",
			MainLoadCell: "main_load_cell",
			SideLoadCell: "side_load_cell",
			Vent:         "vent",
			MainDrive:    "main_valve",
		},
		Peripherals: []Spec{
			{Name: "feed_valve", Kind: KindServo, Register: "DIO0", MinPulseUs: 500, MaxPulseUs: 2500},
			{Name: "fill_valve", Kind: KindServo, Register: "DIO2", MinPulseUs: 500, MaxPulseUs: 2500},
			{Name: "thermocouple_1", Kind: KindThermocouple, Register: "AIN0", TCType: "K"},
			{Name: "thermocouple_2", Kind: KindThermocouple, Register: "AIN1", TCType: "K"},
			{Name: "thermocouple_3", Kind: KindThermocouple, Register: "AIN2", TCType: "K"},
			{Name: "main_load_cell", Kind: KindLoadCell, Pos: "AIN3", Neg: "AIN4", Sensitivity: 0.0005, RatedLoad: 1000},
			{Name: "side_load_cell", Kind: KindLoadCell, Pos: "AIN5", Neg: "AIN6", Sensitivity: 0.0005, RatedLoad: 1000},
			{Name: "vent", Kind: KindSolenoid, Register: "FIO4"},
			{Name: "main_valve", Kind: KindDCDrive, Forward: "TDAC0", Reverse: "TDAC1", Feedback: "AIN7", DegreesPerVolt: 60},
		},
	}
}

// LoadWiring reads a YAML wiring file. An empty path returns DefaultWiring.
func LoadWiring(path string, validator *devices.Validator) (Wiring, error) {
	if path == "" {
		return DefaultWiring(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Wiring{}, fmt.Errorf("failed to read wiring %s: %w", path, err)
	}

	w, err := ParseWiring(data, validator)
	if err != nil {
		return Wiring{}, fmt.Errorf("wiring %s: %w", path, err)
	}
	return w, nil
}

// ParseWiring validates a YAML document against the wiring schema and
// decodes it. Omitted constants take their defaults.
func ParseWiring(data []byte, validator *devices.Validator) (Wiring, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Wiring{}, fmt.Errorf("invalid YAML: %w", err)
	}
	if validator != nil {
		if err := validator.ValidateWiring(doc); err != nil {
			return Wiring{}, err
		}
	}

	var w Wiring
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Wiring{}, fmt.Errorf("failed to decode wiring: %w", err)
	}

	if w.ValveOpenAngle == 0 {
		w.ValveOpenAngle = DefaultValveOpenAngle
	}
	if w.ColdJunctionKelvin == 0 {
		w.ColdJunctionKelvin = ColdJunctionKelvin
	}
	return w, nil
}
