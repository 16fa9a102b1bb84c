package peripheral

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/KevinKickass/OpenRigCore/internal/handle"
	"github.com/KevinKickass/OpenRigCore/internal/types"
)

type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionReverse Direction = "reverse"
	DirectionStopped Direction = "stopped"
)

// DefaultControlPoll is used by ControlMotor when poll <= 0.
const DefaultControlPoll = 20 * time.Millisecond

// DCDrive is a bidirectional motor driven by two analog outputs, with an
// optional potentiometer for position feedback.
type DCDrive struct {
	name           string
	forward        string
	reverse        string
	feedback       string
	degreesPerVolt float64

	mu        sync.Mutex
	direction Direction
	target    float64
	active    bool
	angle     float64
}

func NewDCDrive(name, forward, reverse, feedback string, degreesPerVolt, initialAngle float64) (*DCDrive, error) {
	if err := requireRegister(name, "forward", forward); err != nil {
		return nil, err
	}
	if err := requireRegister(name, "reverse", reverse); err != nil {
		return nil, err
	}
	if forward == reverse {
		return nil, &types.ConfigurationError{Peripheral: name, Field: "reverse", Reason: "must differ from forward"}
	}
	if feedback != "" && !(degreesPerVolt > 0) {
		return nil, &types.ConfigurationError{Peripheral: name, Field: "degrees_per_volt", Reason: "must be positive with a feedback register"}
	}

	return &DCDrive{
		name:           name,
		forward:        forward,
		reverse:        reverse,
		feedback:       feedback,
		degreesPerVolt: degreesPerVolt,
		direction:      DirectionStopped,
		angle:          initialAngle,
	}, nil
}

func (d *DCDrive) Name() string { return d.name }
func (d *DCDrive) Kind() Kind   { return KindDCDrive }

func (d *DCDrive) Registers() []string {
	if d.feedback == "" {
		return []string{d.forward, d.reverse}
	}
	return []string{d.forward, d.reverse, d.feedback}
}

func (d *DCDrive) Forward(ctx context.Context, io IO, power float64) error {
	return d.drive(ctx, io, DirectionForward, power)
}

func (d *DCDrive) Reverse(ctx context.Context, io IO, power float64) error {
	return d.drive(ctx, io, DirectionReverse, power)
}

func (d *DCDrive) Stop(ctx context.Context, io IO) error {
	return d.drive(ctx, io, DirectionStopped, 0)
}

// drive writes both channels as one batch: the active channel gets power,
// the other 0.
func (d *DCDrive) drive(ctx context.Context, io IO, dir Direction, power float64) error {
	if math.IsNaN(power) || power < 0 {
		return fmt.Errorf("%w: %s power %g must be >= 0", types.ErrInvalidArgument, d.name, power)
	}

	fwd, rev := 0.0, 0.0
	switch dir {
	case DirectionForward:
		fwd = power
	case DirectionReverse:
		rev = power
	}

	if err := io.WriteBatch(ctx, []handle.Write{
		{Name: d.forward, Value: fwd},
		{Name: d.reverse, Value: rev},
	}); err != nil {
		return err
	}

	d.mu.Lock()
	d.direction = dir
	d.mu.Unlock()
	return nil
}

// ReadPosition reads the feedback potentiometer and updates the tracked angle.
func (d *DCDrive) ReadPosition(ctx context.Context, io IO) (float64, error) {
	if d.feedback == "" {
		return 0, &types.ConfigurationError{Peripheral: d.name, Field: "feedback", Reason: "no position feedback register"}
	}
	v, err := io.ReadRegister(ctx, d.feedback)
	if err != nil {
		return 0, err
	}
	angle := v * d.degreesPerVolt

	d.mu.Lock()
	d.angle = angle
	d.mu.Unlock()
	return angle, nil
}

// ControlMotor drives toward target until the feedback position reaches or
// crosses it, polling every poll. On cancellation or a read failure the
// motor is stopped and the error returned.
func (d *DCDrive) ControlMotor(ctx context.Context, io IO, target, power float64, poll time.Duration) error {
	if d.feedback == "" {
		return &types.ConfigurationError{Peripheral: d.name, Field: "feedback",
			Reason: "closed-loop control needs a position feedback register"}
	}
	if math.IsNaN(power) || power < 0 {
		return fmt.Errorf("%w: %s power %g must be >= 0", types.ErrInvalidArgument, d.name, power)
	}
	if poll <= 0 {
		poll = DefaultControlPoll
	}

	pos, err := d.ReadPosition(ctx, io)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.target = target
	d.active = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.active = false
		d.mu.Unlock()
	}()

	switch {
	case pos < target:
		err = d.Forward(ctx, io, power)
	case pos > target:
		err = d.Reverse(ctx, io, power)
	default:
		return d.Stop(ctx, io)
	}
	if err != nil {
		return d.abort(ctx, io, err)
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.abort(ctx, io, ctx.Err())
		case <-ticker.C:
		}

		pos, err := d.ReadPosition(ctx, io)
		if err != nil {
			return d.abort(ctx, io, err)
		}

		dir := d.Direction()
		if (dir == DirectionForward && pos >= target) || (dir == DirectionReverse && pos <= target) {
			return d.Stop(ctx, io)
		}
	}
}

// abort stops the motor on a context that outlives ctx's cancellation.
func (d *DCDrive) abort(ctx context.Context, io IO, cause error) error {
	if err := d.Stop(context.WithoutCancel(ctx), io); err != nil {
		return fmt.Errorf("%w (stop failed: %v)", cause, err)
	}
	return cause
}

func (d *DCDrive) Direction() Direction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.direction
}

func (d *DCDrive) Target() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

func (d *DCDrive) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Angle returns the last position read from feedback, or the initial angle.
func (d *DCDrive) Angle() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.angle
}

func (d *DCDrive) SelfTest(ctx context.Context, io IO) error {
	return expectNonNegative(ctx, io, d.name, d.forward, d.reverse)
}
