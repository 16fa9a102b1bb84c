package peripheral

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenRigCore/internal/types"
)

type Solenoid struct {
	name     string
	register string
}

func NewSolenoid(name, register string) (*Solenoid, error) {
	if err := requireRegister(name, "register", register); err != nil {
		return nil, err
	}
	return &Solenoid{name: name, register: register}, nil
}

func (s *Solenoid) Name() string        { return s.name }
func (s *Solenoid) Kind() Kind          { return KindSolenoid }
func (s *Solenoid) Registers() []string { return []string{s.register} }

// SetPower accepts exactly 0 or 1.
func (s *Solenoid) SetPower(ctx context.Context, io IO, power float64) error {
	if power != 0 && power != 1 {
		return fmt.Errorf("%w: %s power must be 0 or 1, got %g", types.ErrInvalidArgument, s.name, power)
	}
	return io.WriteRegister(ctx, s.register, power)
}

func (s *Solenoid) Power(ctx context.Context, io IO) (float64, error) {
	return io.ReadRegister(ctx, s.register)
}

func (s *Solenoid) SelfTest(ctx context.Context, io IO) error {
	return expectNonNegative(ctx, io, s.name, s.register)
}
