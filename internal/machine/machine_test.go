package machine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/OpenRigCore/internal/devices"
	"github.com/KevinKickass/OpenRigCore/internal/handle"
	"github.com/KevinKickass/OpenRigCore/internal/peripheral"
	"github.com/KevinKickass/OpenRigCore/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type rig struct {
	set    *peripheral.Set
	h      *handle.Handle
	sim    *devices.SimDriver
	logger *zap.Logger
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sim := devices.NewSimDriver()
	h, err := handle.Open(context.Background(), sim, handle.Target{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	set, err := peripheral.NewSet(peripheral.DefaultWiring(), logger)
	require.NoError(t, err)
	return &rig{set: set, h: h, sim: sim, logger: logger}
}

func (r *rig) context() *Context {
	return NewContext(r.set, r.h)
}

var fastCfg = SequenceConfig{Poll: time.Millisecond, MaxReadRetries: 2}

// countingPredicate returns true from call n on.
func countingPredicate(n int, calls *int) Predicate {
	return func(context.Context, *Context) (bool, error) {
		*calls++
		return *calls >= n, nil
	}
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) add(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) RecordTransition(_ context.Context, _ uuid.UUID, t Transition) error {
	r.add(t)
	return nil
}

func (r *recorder) all() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transition, len(r.transitions))
	copy(out, r.transitions)
	return out
}

func TestSelfLoopKeepsContext(t *testing.T) {
	r := newRig(t)
	c := r.context()

	var m *Machine
	calls := 0
	pred := func(context.Context, *Context) (bool, error) {
		calls++
		if calls == 5 {
			m.Stop()
		}
		return false, nil
	}
	w := NewWaitForFill(c, pred, fastCfg, r.logger)

	for i := 0; i < 3; i++ {
		next := w.Step(context.Background())
		require.Same(t, w, next)
		assert.Same(t, c, w.Context())
		assert.False(t, c.Released())
	}

	m = New(w, r.logger)
	var rec recorder
	m.OnTransition(rec.add)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 2, m.Steps())
	assert.Empty(t, rec.all())
	assert.Same(t, c, w.Context())
	assert.Same(t, r.set, w.Context().Set())
	assert.True(t, c.Released(), "stop exits the abandoned state")
}

func TestWaitForFillTransitionKeepsResources(t *testing.T) {
	r := newRig(t)
	c := r.context()
	w := NewWaitForFill(c, Always, fastCfg, r.logger)

	next := w.Step(context.Background())
	fill, ok := next.(*Fill)
	require.True(t, ok)

	assert.NotSame(t, c, fill.Context())
	assert.Same(t, c.Set(), fill.Context().Set())
	assert.Equal(t, c.Handle(), fill.Context().Handle())
	assert.Same(t, r.h, fill.Context().Handle().(*handle.Handle))
}

func TestPredicateTrueOnThirdStepTransitionsOnce(t *testing.T) {
	r := newRig(t)
	calls := 0
	w := NewWaitForFill(r.context(), countingPredicate(3, &calls), fastCfg, r.logger)

	m := New(w, r.logger)
	var rec recorder
	m.OnTransition(rec.add)

	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, 3, calls)
	ts := rec.all()
	require.Len(t, ts, 2)
	assert.Equal(t, NameWaitForFill, ts[0].From)
	assert.Equal(t, NameFill, ts[0].To)
	assert.Equal(t, NameFill, ts[1].From)
	assert.Equal(t, NameEnd, ts[1].To)
	assert.Equal(t, 4, m.Steps())
	assert.Nil(t, m.Current())
	assert.Equal(t, NameFill, m.Last().Name())

	n := 0
	for _, tr := range ts {
		if tr.To == NameFill {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestFillOpensAndClosesValve(t *testing.T) {
	r := newRig(t)
	fill := NewFill(r.context(), fastCfg, r.logger)

	require.NoError(t, New(fill, r.logger).Run(context.Background()))

	servo, err := r.set.Servo("fill_valve")
	require.NoError(t, err)
	writes := r.sim.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, float64(servo.ConfigA(100)), writes[0].Value)
	assert.Equal(t, float64(servo.ConfigA(0)), writes[1].Value)
	assert.Equal(t, 0.0, servo.Angle())
	assert.True(t, fill.Context().Released())
}

func TestFillWaitsForWeight(t *testing.T) {
	r := newRig(t)
	weight := 0.0
	// 0.0025 V on the negative leg is 1000 kg on the default load cell.
	r.sim.SetReadFunc("AIN4", func() float64 {
		weight += 0.0005
		return weight
	})

	cfg := fastCfg
	cfg.FillDone = WeightAtLeast("main_load_cell", 500)
	fill := NewFill(r.context(), cfg, r.logger)

	m := New(fill, r.logger)
	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, NameFill, m.Last().Name())
	assert.Equal(t, 3, m.Steps())
}

func TestPredicateErrorsFaultAfterRetries(t *testing.T) {
	r := newRig(t)
	r.sim.SetReadFault("AIN3", nil)

	calls := 0
	pred := func(ctx context.Context, c *Context) (bool, error) {
		calls++
		return WeightAtLeast("main_load_cell", 10)(ctx, c)
	}
	m := New(NewWaitForFill(r.context(), pred, fastCfg, r.logger), r.logger)
	var rec recorder
	m.OnTransition(rec.add)

	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, 3, calls)
	fault, ok := m.Last().(*Fault)
	require.True(t, ok)
	assert.True(t, types.IsIOError(fault.Cause()))

	ts := rec.all()
	require.Len(t, ts, 2)
	assert.Equal(t, NameFault, ts[0].To)
	assert.Equal(t, NameEnd, ts[1].To)

	// Fault closed both valves.
	assert.Equal(t, 40000.0, r.sim.Value("DIO0_EF_CONFIG_A"))
	assert.Equal(t, 40000.0, r.sim.Value("DIO2_EF_CONFIG_A"))
}

func TestTransientErrorsResetRetryCount(t *testing.T) {
	r := newRig(t)
	calls := 0
	pred := func(context.Context, *Context) (bool, error) {
		calls++
		if calls%2 == 1 && calls < 9 {
			return false, errors.New("transient")
		}
		return calls >= 10, nil
	}

	m := New(NewWaitForFill(r.context(), pred, SequenceConfig{Poll: time.Millisecond, MaxReadRetries: 1}, r.logger), r.logger)
	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, NameFill, m.Last().Name())
}

func TestFillTimeoutFaults(t *testing.T) {
	r := newRig(t)
	cfg := fastCfg
	cfg.FillTimeout = 10 * time.Millisecond
	cfg.FillDone = func(context.Context, *Context) (bool, error) { return false, nil }

	m := New(NewFill(r.context(), cfg, r.logger), r.logger)
	require.NoError(t, m.Run(context.Background()))

	fault, ok := m.Last().(*Fault)
	require.True(t, ok)
	assert.Contains(t, fault.Cause().Error(), "timed out")
}

func TestFillValveFailureFaults(t *testing.T) {
	r := newRig(t)
	r.sim.SetWriteFault("DIO2_EF_CONFIG_A", nil)

	m := New(NewFill(r.context(), fastCfg, r.logger), r.logger)
	require.NoError(t, m.Run(context.Background()))

	fault, ok := m.Last().(*Fault)
	require.True(t, ok)
	assert.True(t, types.IsIOError(fault.Cause()))
}

func TestStopBeforeRun(t *testing.T) {
	r := newRig(t)
	c := r.context()
	calls := 0
	m := New(NewWaitForFill(c, countingPredicate(1, &calls), fastCfg, r.logger), r.logger)

	m.Stop()
	require.NoError(t, m.Run(context.Background()))
	assert.Zero(t, calls)
	assert.Zero(t, m.Steps())
	assert.True(t, c.Released())
	assert.True(t, m.StopRequested())
}

func TestRunCancellation(t *testing.T) {
	r := newRig(t)
	c := r.context()
	never := func(context.Context, *Context) (bool, error) { return false, nil }
	m := New(NewWaitForFill(c, never, SequenceConfig{Poll: time.Hour}, r.logger), r.logger)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, c.Released())
	assert.Nil(t, m.Current())
}

func TestRunWithoutState(t *testing.T) {
	assert.NoError(t, New(nil, zap.NewNop()).Run(context.Background()))
}

func TestContextReleaseAndDerive(t *testing.T) {
	r := newRig(t)
	c := r.context()

	var ran atomic.Bool
	require.NoError(t, c.Do(func(set *peripheral.Set, io peripheral.IO) error {
		ran.Store(true)
		return nil
	}))
	assert.True(t, ran.Load())

	d := c.Derive()
	assert.False(t, d.Released())

	c.Release()
	assert.ErrorIs(t, c.Do(func(*peripheral.Set, peripheral.IO) error { return nil }), types.ErrContextReleased)
	assert.True(t, c.Derive().Released())
	assert.False(t, d.Released())
}

func TestArmedConsumesTrigger(t *testing.T) {
	var trig Trigger
	p := Armed(&trig)

	ok, err := p(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	trig.Arm()
	assert.True(t, trig.IsArmed())
	ok, _ = p(context.Background(), nil)
	assert.True(t, ok)
	ok, _ = p(context.Background(), nil)
	assert.False(t, ok)
}
