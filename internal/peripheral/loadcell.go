package peripheral

import (
	"context"
	"math"

	"github.com/KevinKickass/OpenRigCore/internal/types"
)

// ExcitationVolts is the bridge excitation the load cells are wired to.
const ExcitationVolts = 5.0

// LoadCell is a strain-gauge bridge read as a differential pair.
type LoadCell struct {
	name        string
	pos, neg    string
	sensitivity float64 // V/V at rated load
	ratedLoad   float64
}

func NewLoadCell(name, pos, neg string, sensitivity, ratedLoad float64) (*LoadCell, error) {
	if err := requireRegister(name, "pos", pos); err != nil {
		return nil, err
	}
	if err := requireRegister(name, "neg", neg); err != nil {
		return nil, err
	}
	if pos == neg {
		return nil, &types.ConfigurationError{Peripheral: name, Field: "neg", Reason: "must differ from pos"}
	}
	if sensitivity == 0 || math.IsNaN(sensitivity) || math.IsInf(sensitivity, 0) {
		return nil, &types.ConfigurationError{Peripheral: name, Field: "sensitivity", Reason: "must be finite and non-zero"}
	}
	if !(ratedLoad > 0) {
		return nil, &types.ConfigurationError{Peripheral: name, Field: "rated_load", Reason: "must be positive"}
	}

	return &LoadCell{name: name, pos: pos, neg: neg, sensitivity: sensitivity, ratedLoad: ratedLoad}, nil
}

func (l *LoadCell) Name() string        { return l.name }
func (l *LoadCell) Kind() Kind          { return KindLoadCell }
func (l *LoadCell) Registers() []string { return []string{l.pos, l.neg} }

// Weight converts a differential reading to load units.
func Weight(pos, neg, sensitivity, ratedLoad float64) float64 {
	return ratedLoad * (neg - pos) / (sensitivity * ExcitationVolts)
}

// ReadWeight reads both channels once. Either read failing fails the call.
func (l *LoadCell) ReadWeight(ctx context.Context, io IO) (float64, error) {
	v, err := io.ReadRegisters(ctx, l.pos, l.neg)
	if err != nil {
		return 0, err
	}
	return Weight(v[0], v[1], l.sensitivity, l.ratedLoad), nil
}

func (l *LoadCell) SelfTest(ctx context.Context, io IO) error {
	return expectNonNegative(ctx, io, l.name, l.pos, l.neg)
}
