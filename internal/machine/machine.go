package machine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// NameEnd is the To of the transition that ends a sequence.
const NameEnd = "end"

type Transition struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// Machine drives one sequence from its initial State until a State returns
// nil, Stop is called or the context ends. A Machine runs once.
type Machine struct {
	mu        sync.RWMutex
	current   State
	last      State
	steps     int
	listeners []func(Transition)

	stop   atomic.Bool
	logger *zap.Logger
}

func New(initial State, logger *zap.Logger) *Machine {
	return &Machine{current: initial, logger: logger}
}

// OnTransition registers fn to be called after every state change, from the
// goroutine running the machine. Register before Run.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Stop asks Run to return before the next step.
func (m *Machine) Stop() {
	m.stop.Store(true)
}

func (m *Machine) StopRequested() bool {
	return m.stop.Load()
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Last is the final State of a finished sequence, nil while running.
func (m *Machine) Last() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Machine) Steps() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.steps
}

// Run steps the current State until the sequence ends (nil), Stop is called
// (nil) or ctx is done (ctx.Err()). The State in force when Run returns
// early is exited so its Context is released.
func (m *Machine) Run(ctx context.Context) error {
	cur := m.Current()
	if cur == nil {
		return nil
	}

	m.logger.Info("Sequence started", zap.String("state", cur.Name()))
	cur.Enter(ctx)

	for {
		if m.stop.Load() {
			m.abandon(ctx, cur, "stop requested")
			return nil
		}
		if err := ctx.Err(); err != nil {
			m.abandon(ctx, cur, err.Error())
			return err
		}

		next := cur.Step(ctx)

		m.mu.Lock()
		m.steps++
		m.mu.Unlock()

		if next == cur {
			continue
		}

		cur.Exit(context.WithoutCancel(ctx))

		to := NameEnd
		if next != nil {
			to = next.Name()
		}

		m.mu.Lock()
		m.current = next
		if next == nil {
			m.last = cur
		}
		m.mu.Unlock()

		m.notify(Transition{From: cur.Name(), To: to, At: time.Now()})

		if next == nil {
			m.logger.Info("Sequence finished", zap.String("last_state", cur.Name()))
			return nil
		}

		next.Enter(ctx)
		cur = next
	}
}

func (m *Machine) abandon(ctx context.Context, cur State, reason string) {
	m.logger.Info("Sequence abandoned",
		zap.String("state", cur.Name()),
		zap.String("reason", reason))

	cur.Exit(context.WithoutCancel(ctx))

	m.mu.Lock()
	m.current = nil
	m.last = cur
	m.mu.Unlock()
}

func (m *Machine) notify(t Transition) {
	m.logger.Info("State transition",
		zap.String("from", t.From),
		zap.String("to", t.To))

	m.mu.RLock()
	listeners := make([]func(Transition), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(t)
	}
}
