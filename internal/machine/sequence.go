package machine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenRigCore/internal/peripheral"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State is one phase of a rig sequence. Implementations must be pointer
// types: the Machine compares the State returned by Step with the current
// one to detect a self-loop.
type State interface {
	Name() string
	Enter(ctx context.Context)
	// Step returns the receiver to stay, a new State to transition, or nil
	// to end the sequence. Steps that poll should wait inside Step.
	Step(ctx context.Context) State
	// Exit releases the State's Context.
	Exit(ctx context.Context)
}

const (
	NameWaitForFill = "wait_for_fill"
	NameFill        = "fill"
	NameFault       = "fault"
)

// SequenceConfig holds the timing and retry policy shared by the states.
type SequenceConfig struct {
	Poll time.Duration
	// MaxReadRetries is how many consecutive predicate errors are tolerated
	// before the sequence faults.
	MaxReadRetries int
	FillTimeout    time.Duration
	// FillDone ends the Fill state. Nil means Always.
	FillDone Predicate
}

func (c SequenceConfig) withDefaults() SequenceConfig {
	if c.Poll <= 0 {
		c.Poll = 100 * time.Millisecond
	}
	if c.MaxReadRetries < 0 {
		c.MaxReadRetries = 0
	}
	if c.FillDone == nil {
		c.FillDone = Always
	}
	return c
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// retryPolicy counts consecutive predicate failures.
type retryPolicy struct {
	max      int
	failures int
}

// failed records err and reports whether the retries are exhausted.
func (r *retryPolicy) failed() bool {
	r.failures++
	return r.failures > r.max
}

func (r *retryPolicy) reset() {
	r.failures = 0
}

// WaitForFill polls its readiness predicate and moves to Fill once it holds.
type WaitForFill struct {
	rc     *Context
	ready  Predicate
	cfg    SequenceConfig
	retry  retryPolicy
	logger *zap.Logger
}

func NewWaitForFill(c *Context, ready Predicate, cfg SequenceConfig, logger *zap.Logger) *WaitForFill {
	cfg = cfg.withDefaults()
	return &WaitForFill{
		rc:     c,
		ready:  ready,
		cfg:    cfg,
		retry:  retryPolicy{max: cfg.MaxReadRetries},
		logger: logger,
	}
}

func (w *WaitForFill) Name() string      { return NameWaitForFill }
func (w *WaitForFill) Context() *Context { return w.rc }

func (w *WaitForFill) Enter(context.Context) {}

func (w *WaitForFill) Step(ctx context.Context) State {
	ok, err := w.ready(ctx, w.rc)
	if err != nil {
		if ctx.Err() != nil {
			return w
		}
		w.logger.Warn("Readiness check failed",
			zap.String("state", w.Name()),
			zap.Int("attempt", w.retry.failures+1),
			zap.Error(err))
		if w.retry.failed() {
			return NewFault(w.rc.Derive(), fmt.Errorf("%s: %w", w.Name(), err), w.logger)
		}
		wait(ctx, w.cfg.Poll)
		return w
	}
	w.retry.reset()

	if ok {
		return NewFill(w.rc.Derive(), w.cfg, w.logger)
	}
	wait(ctx, w.cfg.Poll)
	return w
}

func (w *WaitForFill) Exit(context.Context) {
	w.rc.Release()
}

// Fill holds the fill valve open until its completion predicate holds.
type Fill struct {
	rc       *Context
	cfg      SequenceConfig
	retry    retryPolicy
	started  time.Time
	enterErr error
	logger   *zap.Logger
}

func NewFill(c *Context, cfg SequenceConfig, logger *zap.Logger) *Fill {
	cfg = cfg.withDefaults()
	return &Fill{
		rc:     c,
		cfg:    cfg,
		retry:  retryPolicy{max: cfg.MaxReadRetries},
		logger: logger,
	}
}

func (f *Fill) Name() string      { return NameFill }
func (f *Fill) Context() *Context { return f.rc }

func (f *Fill) Enter(ctx context.Context) {
	f.started = time.Now()
	f.enterErr = f.rc.Do(func(set *peripheral.Set, io peripheral.IO) error {
		return set.OpenFillValve(ctx, io)
	})
	if f.enterErr != nil {
		f.logger.Error("Failed to open fill valve", zap.Error(f.enterErr))
	}
}

func (f *Fill) Step(ctx context.Context) State {
	if f.enterErr != nil {
		return NewFault(f.rc.Derive(), fmt.Errorf("open fill valve: %w", f.enterErr), f.logger)
	}

	done, err := f.cfg.FillDone(ctx, f.rc)
	if err != nil {
		if ctx.Err() != nil {
			return f
		}
		f.logger.Warn("Fill completion check failed",
			zap.Int("attempt", f.retry.failures+1),
			zap.Error(err))
		if f.retry.failed() {
			return NewFault(f.rc.Derive(), fmt.Errorf("%s: %w", f.Name(), err), f.logger)
		}
	} else {
		f.retry.reset()
		if done {
			return nil
		}
	}

	if f.cfg.FillTimeout > 0 && time.Since(f.started) >= f.cfg.FillTimeout {
		return NewFault(f.rc.Derive(), fmt.Errorf("fill timed out after %s", f.cfg.FillTimeout), f.logger)
	}
	wait(ctx, f.cfg.Poll)
	return f
}

func (f *Fill) Exit(ctx context.Context) {
	err := f.rc.Do(func(set *peripheral.Set, io peripheral.IO) error {
		return set.CloseFillValve(ctx, io)
	})
	if err != nil {
		f.logger.Error("Failed to close fill valve", zap.Error(err))
	}
	f.rc.Release()
}

// Fault is the terminal error state. Entering it closes both valves on a
// best-effort basis.
type Fault struct {
	rc     *Context
	cause  error
	logger *zap.Logger
}

func NewFault(c *Context, cause error, logger *zap.Logger) *Fault {
	if cause == nil {
		cause = errors.New("unspecified fault")
	}
	return &Fault{rc: c, cause: cause, logger: logger}
}

func (f *Fault) Name() string      { return NameFault }
func (f *Fault) Context() *Context { return f.rc }
func (f *Fault) Cause() error      { return f.cause }

func (f *Fault) Enter(ctx context.Context) {
	f.logger.Error("Sequence faulted", zap.Error(f.cause))

	err := f.rc.Do(func(set *peripheral.Set, io peripheral.IO) error {
		return multierr.Combine(set.CloseFeedValve(ctx, io), set.CloseFillValve(ctx, io))
	})
	if err != nil {
		f.logger.Warn("Failed to close valves after fault", zap.Error(err))
	}
}

func (f *Fault) Step(context.Context) State {
	return nil
}

func (f *Fault) Exit(context.Context) {
	f.rc.Release()
}
