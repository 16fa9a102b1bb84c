package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenRigCore/internal/api/websocket"
	"github.com/KevinKickass/OpenRigCore/internal/peripheral"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransitionRecorder persists state transitions.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, runID uuid.UUID, t Transition) error
}

// Controller runs the fill sequence on operator command and publishes its
// progress.
type Controller struct {
	logger   *zap.Logger
	set      *peripheral.Set
	io       peripheral.IO
	cfg      SequenceConfig
	trigger  *Trigger
	recorder TransitionRecorder
	wsHub    *websocket.Hub

	mu               sync.RWMutex
	phase            Phase
	machine          *Machine
	cancel           context.CancelFunc
	done             chan struct{}
	runID            uuid.UUID
	runs             int
	errorMessage     string
	lastTransition   *Transition
	lastPhaseChange  time.Time
	selfTestFailures []string
	phaseListeners   []func(phase, previous Phase)
}

// NewController builds an idle controller. recorder and wsHub may be nil.
func NewController(
	logger *zap.Logger,
	set *peripheral.Set,
	io peripheral.IO,
	cfg SequenceConfig,
	recorder TransitionRecorder,
	wsHub *websocket.Hub,
) *Controller {
	return &Controller{
		logger:          logger,
		set:             set,
		io:              io,
		cfg:             cfg,
		trigger:         &Trigger{},
		recorder:        recorder,
		wsHub:           wsHub,
		phase:           PhaseIdle,
		lastPhaseChange: time.Now(),
	}
}

func (c *Controller) Trigger() *Trigger {
	return c.trigger
}

// OnPhaseChange registers fn to be called after every phase change.
func (c *Controller) OnPhaseChange(fn func(phase, previous Phase)) {
	c.mu.Lock()
	c.phaseListeners = append(c.phaseListeners, fn)
	c.mu.Unlock()
}

// SetSelfTestFailures records the startup self-test result for status reports.
func (c *Controller) SetSelfTestFailures(errs []error) {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}

	c.mu.Lock()
	c.selfTestFailures = msgs
	c.mu.Unlock()
}

// ExecuteCommand handles operator commands.
func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	c.mu.RLock()
	phase := c.phase
	c.mu.RUnlock()

	c.logger.Info("Rig command received",
		zap.String("command", string(cmd)),
		zap.String("phase", string(phase)))

	switch cmd {
	case CommandStart:
		return c.executeStart(ctx)
	case CommandFill:
		return c.executeFill()
	case CommandStop:
		return c.executeStop()
	case CommandReset:
		return c.executeReset()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// executeStart launches a WaitForFill sequence. ctx only bounds the call;
// the sequence runs until stopped.
func (c *Controller) executeStart(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return fmt.Errorf("cannot start: rig must be idle (current: %s)", c.phase)
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}

	runID := uuid.New()
	c.trigger.Disarm()
	initial := NewWaitForFill(NewContext(c.set, c.io), Armed(c.trigger), c.cfg, c.logger.With(zap.String("run_id", runID.String())))
	m := New(initial, c.logger)
	m.OnTransition(func(t Transition) { c.onTransition(runID, t) })

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.machine = m
	c.cancel = cancel
	c.done = done
	c.runID = runID
	c.runs++
	c.lastTransition = nil
	previous := c.swapPhase(PhaseRunning, "")
	c.mu.Unlock()

	c.publishPhase(PhaseRunning, previous, "")

	go c.run(runCtx, m, done)
	return nil
}

func (c *Controller) run(ctx context.Context, m *Machine, done chan struct{}) {
	defer close(done)

	err := m.Run(ctx)

	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		c.setPhase(PhaseFault, err.Error())
	case isFault(m.Last()):
		c.setPhase(PhaseFault, m.Last().(*Fault).Cause().Error())
	default:
		c.setPhase(PhaseIdle, "")
	}
}

func isFault(s State) bool {
	_, ok := s.(*Fault)
	return ok
}

func (c *Controller) executeFill() error {
	c.mu.RLock()
	phase := c.phase
	c.mu.RUnlock()

	if phase != PhaseRunning {
		return fmt.Errorf("cannot fill: rig not running (current: %s)", phase)
	}
	c.trigger.Arm()
	return nil
}

func (c *Controller) executeStop() error {
	c.mu.Lock()
	if c.phase != PhaseRunning {
		c.mu.Unlock()
		return fmt.Errorf("cannot stop: rig not running (current: %s)", c.phase)
	}
	m, cancel := c.machine, c.cancel
	previous := c.swapPhase(PhaseStopping, "")
	c.mu.Unlock()

	c.publishPhase(PhaseStopping, previous, "")

	m.Stop()
	cancel()
	return nil
}

func (c *Controller) executeReset() error {
	c.mu.Lock()
	if c.phase != PhaseFault {
		c.mu.Unlock()
		return fmt.Errorf("cannot reset: no fault (current: %s)", c.phase)
	}
	previous := c.swapPhase(PhaseIdle, "")
	c.mu.Unlock()

	c.publishPhase(PhaseIdle, previous, "")
	c.logger.Info("Rig reset to idle")
	return nil
}

// Wait blocks until the current sequence, if any, has finished.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.RLock()
	done := c.done
	c.mu.RUnlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops a running sequence and waits for it.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.RLock()
	running := c.phase == PhaseRunning
	c.mu.RUnlock()

	if running {
		if err := c.executeStop(); err != nil {
			c.logger.Warn("Stop during shutdown failed", zap.Error(err))
		}
	}
	return c.Wait(ctx)
}

func (c *Controller) onTransition(runID uuid.UUID, t Transition) {
	c.mu.Lock()
	c.lastTransition = &t
	c.mu.Unlock()

	if c.wsHub != nil {
		c.wsHub.Broadcast(websocket.NewTransitionMessage(runID.String(), t.From, t.To))
	}

	if c.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.recorder.RecordTransition(ctx, runID, t); err != nil {
			c.logger.Warn("Failed to record transition", zap.Error(err))
		}
	}
}

func (c *Controller) setPhase(phase Phase, errorMsg string) {
	c.mu.Lock()
	previous := c.swapPhase(phase, errorMsg)
	c.mu.Unlock()

	c.publishPhase(phase, previous, errorMsg)
}

// swapPhase must be called with c.mu held.
func (c *Controller) swapPhase(phase Phase, errorMsg string) Phase {
	previous := c.phase
	c.phase = phase
	c.errorMessage = errorMsg
	c.lastPhaseChange = time.Now()
	return previous
}

func (c *Controller) publishPhase(phase, previous Phase, errorMsg string) {
	if errorMsg != "" {
		c.logger.Error("Rig phase changed",
			zap.String("phase", string(phase)),
			zap.String("error", errorMsg))
	} else {
		c.logger.Info("Rig phase changed", zap.String("phase", string(phase)))
	}

	if c.wsHub != nil {
		c.wsHub.Broadcast(websocket.NewMachineStateMessage(string(phase), string(previous)))
	}

	c.mu.RLock()
	listeners := c.phaseListeners
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(phase, previous)
	}
}

// Healthy reports whether the controller is out of the fault phase.
func (c *Controller) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase != PhaseFault
}

func (c *Controller) GetStatus() RigStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := RigStatus{
		Phase:            c.phase,
		Armed:            c.trigger.IsArmed(),
		ErrorMessage:     c.errorMessage,
		Runs:             c.runs,
		SelfTestFailures: c.selfTestFailures,
		LastPhaseChange:  c.lastPhaseChange,
	}
	if c.runID != uuid.Nil {
		status.RunID = c.runID.String()
	}
	if c.machine != nil {
		status.Steps = c.machine.Steps()
		if cur := c.machine.Current(); cur != nil {
			status.State = cur.Name()
		}
	}
	if c.lastTransition != nil {
		t := *c.lastTransition
		status.LastTransition = &t
	}
	return status
}
