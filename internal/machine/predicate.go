package machine

import (
	"context"
	"sync/atomic"
)

// Predicate is a readiness or completion condition evaluated by a State.
type Predicate func(ctx context.Context, c *Context) (bool, error)

// Trigger is the operator's arm flag, set from the CLI or REST.
type Trigger struct {
	armed atomic.Bool
}

func (t *Trigger) Arm() {
	t.armed.Store(true)
}

func (t *Trigger) Disarm() {
	t.armed.Store(false)
}

func (t *Trigger) IsArmed() bool {
	return t.armed.Load()
}

// Armed holds once per Arm: it consumes the flag.
func Armed(t *Trigger) Predicate {
	return func(context.Context, *Context) (bool, error) {
		return t.armed.CompareAndSwap(true, false), nil
	}
}

// WeightAtLeast holds when the named load cell reads at least kg.
func WeightAtLeast(loadCell string, kg float64) Predicate {
	return func(ctx context.Context, c *Context) (bool, error) {
		w, err := c.Set().ReadLoadCell(ctx, c.Handle(), loadCell)
		if err != nil {
			return false, err
		}
		return w >= kg, nil
	}
}

func Always(context.Context, *Context) (bool, error) {
	return true, nil
}
