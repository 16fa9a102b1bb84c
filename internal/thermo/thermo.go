// Package thermo converts thermocouple EMF to temperature using the NIST ITS-90
// reference polynomials. Cold-junction compensation adds the EMF the junction
// would produce at the reference temperature before inverting.
package thermo

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Type is a thermocouple type tag.
type Type string

const (
	TypeB Type = "B"
	TypeE Type = "E"
	TypeJ Type = "J"
	TypeK Type = "K"
	TypeN Type = "N"
	TypeR Type = "R"
	TypeS Type = "S"
	TypeT Type = "T"
	TypeC Type = "C"
)

const kelvinOffset = 273.15

var (
	ErrUnknownType     = errors.New("unknown thermocouple type")
	ErrUnsupportedType = errors.New("thermocouple type not supported by software conversion")
	ErrOutOfRange      = errors.New("emf outside conversion range")
)

// ParseType accepts a single letter, case-insensitive.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeB, TypeE, TypeJ, TypeK, TypeN, TypeR, TypeS, TypeT, TypeC:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Index is the LabJack thermocouple type index (AIN_EF index numbering).
func (t Type) Index() int {
	switch t {
	case TypeE:
		return 20
	case TypeJ:
		return 21
	case TypeK:
		return 22
	case TypeR:
		return 23
	case TypeT:
		return 24
	case TypeS:
		return 25
	case TypeC:
		return 30
	case TypeN:
		return 27
	case TypeB:
		return 28
	}
	return -1
}

// Supported reports whether VoltsToKelvin can convert this type.
func (t Type) Supported() bool {
	_, ok := tables[t]
	return ok
}

// VoltsToKelvin converts a measured thermocouple voltage into the hot junction
// temperature, given the cold junction temperature in Kelvin.
func VoltsToKelvin(t Type, volts, cjcKelvin float64) (float64, error) {
	tab, ok := tables[t]
	if !ok {
		if _, err := ParseType(string(t)); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if math.IsNaN(volts) || math.IsInf(volts, 0) {
		return 0, fmt.Errorf("%w: %v V", ErrOutOfRange, volts)
	}

	cjEMF, err := tab.emf(cjcKelvin - kelvinOffset)
	if err != nil {
		return 0, fmt.Errorf("cold junction: %w", err)
	}

	celsius, err := tab.temperature(volts*1000 + cjEMF)
	if err != nil {
		return 0, err
	}
	return celsius + kelvinOffset, nil
}

// EMF returns the reference EMF in volts for a junction at celsius relative to 0 °C.
func EMF(t Type, celsius float64) (float64, error) {
	tab, ok := tables[t]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	mv, err := tab.emf(celsius)
	if err != nil {
		return 0, err
	}
	return mv / 1000, nil
}

type segment struct {
	lo, hi float64
	coef   []float64
}

type table struct {
	forward []segment // °C -> mV
	inverse []segment // mV -> °C
	// type K exponential correction term above 0 °C
	expo *[3]float64
}

func (tb table) emf(celsius float64) (float64, error) {
	for _, s := range tb.forward {
		if celsius >= s.lo && celsius <= s.hi {
			mv := horner(s.coef, celsius)
			if tb.expo != nil && celsius >= 0 {
				a := tb.expo
				mv += a[0] * math.Exp(a[1]*(celsius-a[2])*(celsius-a[2]))
			}
			return mv, nil
		}
	}
	return 0, fmt.Errorf("%w: %.2f °C", ErrOutOfRange, celsius)
}

func (tb table) temperature(mv float64) (float64, error) {
	for _, s := range tb.inverse {
		if mv >= s.lo && mv <= s.hi {
			return horner(s.coef, mv), nil
		}
	}
	return 0, fmt.Errorf("%w: %.4f mV", ErrOutOfRange, mv)
}

func horner(coef []float64, x float64) float64 {
	sum := 0.0
	for i := len(coef) - 1; i >= 0; i-- {
		sum = sum*x + coef[i]
	}
	return sum
}
