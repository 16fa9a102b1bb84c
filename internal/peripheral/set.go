package peripheral

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenRigCore/internal/thermo"
	"github.com/KevinKickass/OpenRigCore/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Set owns the rig's peripherals. It is built once from a Wiring and never
// changes afterwards.
//
// The composite operations do not lock. Code that actuates from more than
// one goroutine serializes through Exclusive.
type Set struct {
	guard sync.Mutex

	ordered        []Peripheral
	byName         map[string]Peripheral
	roles          Roles
	valveOpenAngle float64
	logger         *zap.Logger
}

// Reading is one sensor value taken by Sample.
type Reading struct {
	Source string
	Kind   Kind
	Value  float64
}

func NewSet(w Wiring, logger *zap.Logger) (*Set, error) {
	s := &Set{
		byName:         make(map[string]Peripheral, len(w.Peripherals)),
		roles:          w.Roles,
		valveOpenAngle: w.ValveOpenAngle,
		logger:         logger,
	}
	if s.valveOpenAngle == 0 {
		s.valveOpenAngle = DefaultValveOpenAngle
	}
	if s.valveOpenAngle < 0 || s.valveOpenAngle > MaxAngle {
		return nil, &types.ConfigurationError{Peripheral: "wiring", Field: "valve_open_angle",
			Reason: fmt.Sprintf("%g outside [0, %g]", s.valveOpenAngle, MaxAngle)}
	}

	for _, spec := range w.Peripherals {
		if spec.Name == "" {
			return nil, &types.ConfigurationError{Peripheral: "wiring", Field: "name", Reason: "peripheral without a name"}
		}
		if _, dup := s.byName[spec.Name]; dup {
			return nil, &types.ConfigurationError{Peripheral: spec.Name, Reason: "duplicate peripheral name"}
		}
		p, err := build(spec, w.ColdJunctionKelvin)
		if err != nil {
			return nil, err
		}
		s.ordered = append(s.ordered, p)
		s.byName[spec.Name] = p
	}

	if err := s.checkRoles(); err != nil {
		return nil, err
	}

	logger.Info("Peripheral set built", zap.Int("peripherals", len(s.ordered)))
	return s, nil
}

func build(spec Spec, cjcKelvin float64) (Peripheral, error) {
	switch spec.Kind {
	case KindLoadCell:
		return NewLoadCell(spec.Name, spec.Pos, spec.Neg, spec.Sensitivity, spec.RatedLoad)
	case KindThermocouple:
		tc, err := thermo.ParseType(spec.TCType)
		if err != nil {
			return nil, &types.ConfigurationError{Peripheral: spec.Name, Field: "tc_type", Reason: err.Error()}
		}
		return NewThermocouple(spec.Name, spec.Register, tc, cjcKelvin)
	case KindServo:
		return NewServo(spec.Name, spec.Register, spec.MinPulseUs, spec.MaxPulseUs)
	case KindSolenoid:
		return NewSolenoid(spec.Name, spec.Register)
	case KindDCDrive:
		return NewDCDrive(spec.Name, spec.Forward, spec.Reverse, spec.Feedback, spec.DegreesPerVolt, 0)
	default:
		return nil, &types.ConfigurationError{Peripheral: spec.Name, Field: "kind", Reason: fmt.Sprintf("unknown kind %q", spec.Kind)}
	}
}

// checkRoles verifies every bound role names a peripheral of the right kind.
func (s *Set) checkRoles() error {
	for _, r := range []struct {
		role, name string
		kind       Kind
	}{
		{"feed_valve", s.roles.FeedValve, KindServo},
		{"fill_valve", s.roles.FillValve, KindServo},
		{"main_load_cell", s.roles.MainLoadCell, KindLoadCell},
		{"side_load_cell", s.roles.SideLoadCell, KindLoadCell},
		{"vent", s.roles.Vent, KindSolenoid},
		{"main_drive", s.roles.MainDrive, KindDCDrive},
	} {
		if r.name == "" {
			continue
		}
		p, ok := s.byName[r.name]
		if !ok {
			return &types.ConfigurationError{Peripheral: "roles", Field: r.role, Reason: fmt.Sprintf("no peripheral named %q", r.name)}
		}
		if p.Kind() != r.kind {
			return &types.ConfigurationError{Peripheral: "roles", Field: r.role,
				Reason: fmt.Sprintf("%s is a %s, want %s", r.name, p.Kind(), r.kind)}
		}
	}
	return nil
}

// Exclusive runs fn while holding the set's actuation guard.
func (s *Set) Exclusive(fn func() error) error {
	s.guard.Lock()
	defer s.guard.Unlock()
	return fn()
}

// Peripherals returns the peripherals in wiring order.
func (s *Set) Peripherals() []Peripheral {
	out := make([]Peripheral, len(s.ordered))
	copy(out, s.ordered)
	return out
}

func (s *Set) Get(name string) (Peripheral, bool) {
	p, ok := s.byName[name]
	return p, ok
}

func (s *Set) Roles() Roles {
	return s.roles
}

func lookup[T Peripheral](s *Set, name string) (T, error) {
	var zero T
	if name == "" {
		return zero, types.ErrNotConfigured
	}
	p, ok := s.byName[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s", types.ErrNotConfigured, name)
	}
	t, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is a %s", types.ErrInvalidArgument, name, p.Kind())
	}
	return t, nil
}

func (s *Set) Servo(name string) (*Servo, error)               { return lookup[*Servo](s, name) }
func (s *Set) LoadCell(name string) (*LoadCell, error)         { return lookup[*LoadCell](s, name) }
func (s *Set) Thermocouple(name string) (*Thermocouple, error) { return lookup[*Thermocouple](s, name) }
func (s *Set) Solenoid(name string) (*Solenoid, error)         { return lookup[*Solenoid](s, name) }
func (s *Set) DCDrive(name string) (*DCDrive, error)           { return lookup[*DCDrive](s, name) }

func (s *Set) writeValve(ctx context.Context, io IO, role string, angle float64) error {
	servo, err := s.Servo(role)
	if err != nil {
		return err
	}
	return servo.WriteAngle(ctx, io, angle)
}

func (s *Set) OpenFeedValve(ctx context.Context, io IO) error {
	return s.writeValve(ctx, io, s.roles.FeedValve, s.valveOpenAngle)
}

func (s *Set) CloseFeedValve(ctx context.Context, io IO) error {
	return s.writeValve(ctx, io, s.roles.FeedValve, 0)
}

func (s *Set) OpenFillValve(ctx context.Context, io IO) error {
	return s.writeValve(ctx, io, s.roles.FillValve, s.valveOpenAngle)
}

func (s *Set) CloseFillValve(ctx context.Context, io IO) error {
	return s.writeValve(ctx, io, s.roles.FillValve, 0)
}

// SetValve opens or closes the valve servo with the given name.
func (s *Set) SetValve(ctx context.Context, io IO, name string, open bool) error {
	angle := 0.0
	if open {
		angle = s.valveOpenAngle
	}
	return s.writeValve(ctx, io, name, angle)
}

func (s *Set) ReadThermocouple(ctx context.Context, io IO, name string) (float64, error) {
	tc, err := s.Thermocouple(name)
	if err != nil {
		return 0, err
	}
	return tc.ReadTemperature(ctx, io)
}

func (s *Set) ReadLoadCell(ctx context.Context, io IO, name string) (float64, error) {
	lc, err := s.LoadCell(name)
	if err != nil {
		return 0, err
	}
	return lc.ReadWeight(ctx, io)
}

func (s *Set) ReadMainLoadCell(ctx context.Context, io IO) (float64, error) {
	return s.ReadLoadCell(ctx, io, s.roles.MainLoadCell)
}

func (s *Set) ReadSideLoadCell(ctx context.Context, io IO) (float64, error) {
	return s.ReadLoadCell(ctx, io, s.roles.SideLoadCell)
}

func (s *Set) SetVent(ctx context.Context, io IO, on bool) error {
	vent, err := s.Solenoid(s.roles.Vent)
	if err != nil {
		return err
	}
	power := 0.0
	if on {
		power = 1
	}
	return vent.SetPower(ctx, io, power)
}

// MoveMainValve drives the main valve to angle under feedback control and
// returns once it is there, or stops the drive when ctx ends.
func (s *Set) MoveMainValve(ctx context.Context, io IO, angle, power float64, poll time.Duration) error {
	drive, err := s.DCDrive(s.roles.MainDrive)
	if err != nil {
		return err
	}
	return drive.ControlMotor(ctx, io, angle, power, poll)
}

// SetupServos configures every servo, continuing past failures.
func (s *Set) SetupServos(ctx context.Context, io IO) error {
	var errs error
	for _, p := range s.ordered {
		servo, ok := p.(*Servo)
		if !ok {
			continue
		}
		if err := servo.Setup(ctx, io); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// TestAll runs every self-test in wiring order. It never stops early; the
// result holds one error per failing peripheral (see multierr.Errors).
func (s *Set) TestAll(ctx context.Context, io IO) error {
	var errs error
	for _, p := range s.ordered {
		if err := p.SelfTest(ctx, io); err != nil {
			s.logger.Error("Self-test failed",
				zap.String("peripheral", p.Name()),
				zap.String("kind", string(p.Kind())),
				zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Read takes one reading from the named peripheral. Servos report their
// tracked angle; DC drives report feedback position when wired, else the
// tracked angle.
func (s *Set) Read(ctx context.Context, io IO, name string) (Reading, error) {
	p, ok := s.byName[name]
	if !ok {
		return Reading{}, fmt.Errorf("%w: %s", types.ErrNotConfigured, name)
	}

	var (
		v   float64
		err error
	)
	switch per := p.(type) {
	case *LoadCell:
		v, err = per.ReadWeight(ctx, io)
	case *Thermocouple:
		v, err = per.ReadTemperature(ctx, io)
	case *Servo:
		v = per.Angle()
	case *Solenoid:
		v, err = per.Power(ctx, io)
	case *DCDrive:
		if per.feedback == "" {
			v = per.Angle()
		} else {
			v, err = per.ReadPosition(ctx, io)
		}
	}
	if err != nil {
		return Reading{}, err
	}
	return Reading{Source: p.Name(), Kind: p.Kind(), Value: v}, nil
}

// Sample reads every load cell and thermocouple and reports each servo's
// tracked angle. Failed sensors are left out of the readings and returned
// together in the error.
func (s *Set) Sample(ctx context.Context, io IO) ([]Reading, error) {
	readings := make([]Reading, 0, len(s.ordered))
	var errs error

	for _, p := range s.ordered {
		var (
			v   float64
			err error
		)
		switch per := p.(type) {
		case *LoadCell:
			v, err = per.ReadWeight(ctx, io)
		case *Thermocouple:
			v, err = per.ReadTemperature(ctx, io)
		case *Servo:
			v = per.Angle()
		default:
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sample %s: %w", p.Name(), err))
			continue
		}
		readings = append(readings, Reading{Source: p.Name(), Kind: p.Kind(), Value: v})
	}
	return readings, errs
}
