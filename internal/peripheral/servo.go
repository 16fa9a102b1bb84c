package peripheral

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/KevinKickass/OpenRigCore/internal/handle"
	"github.com/KevinKickass/OpenRigCore/internal/types"
)

const (
	// MaxAngle is the servo's full travel in degrees.
	MaxAngle = 300.0
	// ClockHz is the extended-feature clock source frequency.
	ClockHz = 80_000_000
)

// Servo is a PWM-positioned servo on a digital I/O pin. Its angle is tracked
// in software from successful writes; there is no hardware read-back.
type Servo struct {
	name      string
	pin       string
	minPulse  int // µs
	maxPulse  int // µs
	frequency int // Hz
	roll      int

	mu    sync.Mutex
	angle float64
}

func NewServo(name, pin string, minPulseUs, maxPulseUs int) (*Servo, error) {
	if err := requireRegister(name, "register", pin); err != nil {
		return nil, err
	}
	if minPulseUs < 0 {
		return nil, &types.ConfigurationError{Peripheral: name, Field: "min_pulse_us", Reason: "must not be negative"}
	}
	if maxPulseUs <= minPulseUs {
		return nil, &types.ConfigurationError{Peripheral: name, Field: "max_pulse_us",
			Reason: fmt.Sprintf("must exceed min_pulse_us (%d <= %d)", maxPulseUs, minPulseUs)}
	}

	freq := int(math.Round(1e6 / float64(maxPulseUs)))
	if freq <= 0 || freq > ClockHz {
		return nil, &types.ConfigurationError{Peripheral: name, Field: "max_pulse_us",
			Reason: fmt.Sprintf("derived PWM frequency %d Hz is out of range", freq)}
	}

	return &Servo{
		name:      name,
		pin:       pin,
		minPulse:  minPulseUs,
		maxPulse:  maxPulseUs,
		frequency: freq,
		roll:      ClockHz / freq,
	}, nil
}

func (s *Servo) Name() string        { return s.name }
func (s *Servo) Kind() Kind          { return KindServo }
func (s *Servo) Registers() []string { return []string{s.pin} }
func (s *Servo) Frequency() int      { return s.frequency }
func (s *Servo) RollValue() int      { return s.roll }

// AngleToDuty maps an angle in [0, MaxAngle] linearly to a pulse width in µs.
func AngleToDuty(angle float64, minPulseUs, maxPulseUs int) float64 {
	return float64(minPulseUs) + float64(maxPulseUs-minPulseUs)*angle/MaxAngle
}

// ConfigA is the clock-tick count for the pulse width that holds angle.
func (s *Servo) ConfigA(angle float64) int {
	periodUs := 1e6 / float64(s.frequency)
	duty := AngleToDuty(angle, s.minPulse, s.maxPulse)
	return int(math.Round(float64(s.roll) * duty / periodUs))
}

// Setup configures the clock and the pin's PWM feature in one batch. The
// enable writes come after the configuration they depend on.
func (s *Servo) Setup(ctx context.Context, io IO) error {
	writes := []handle.Write{
		{Name: "DIO_EF_CLOCK0_ENABLE", Value: 0},
		{Name: "DIO_EF_CLOCK0_DIVISOR", Value: 1},
		{Name: "DIO_EF_CLOCK0_ROLL_VALUE", Value: float64(s.roll)},
		{Name: "DIO_EF_CLOCK0_ENABLE", Value: 1},
		{Name: s.pin + "_EF_ENABLE", Value: 0},
		{Name: s.pin + "_EF_INDEX", Value: 0},
		{Name: s.pin + "_EF_OPTIONS", Value: 0},
		{Name: s.pin + "_EF_CONFIG_A", Value: float64(s.ConfigA(s.Angle()))},
		{Name: s.pin + "_EF_ENABLE", Value: 1},
	}
	if err := io.WriteBatch(ctx, writes); err != nil {
		return fmt.Errorf("setup %s: %w", s.name, err)
	}
	return nil
}

// WriteAngle commands the servo and records angle once the write succeeds.
func (s *Servo) WriteAngle(ctx context.Context, io IO, angle float64) error {
	if math.IsNaN(angle) || angle < 0 || angle > MaxAngle {
		return fmt.Errorf("%w: %s angle %g outside [0, %g]", types.ErrInvalidArgument, s.name, angle, MaxAngle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := io.WriteRegister(ctx, s.pin+"_EF_CONFIG_A", float64(s.ConfigA(angle))); err != nil {
		return err
	}
	s.angle = angle
	return nil
}

// Angle returns the last successfully written angle.
func (s *Servo) Angle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

func (s *Servo) SelfTest(ctx context.Context, io IO) error {
	return expectNonNegative(ctx, io, s.name, s.pin)
}
