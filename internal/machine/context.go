package machine

import (
	"sync/atomic"

	"github.com/KevinKickass/OpenRigCore/internal/peripheral"
	"github.com/KevinKickass/OpenRigCore/internal/types"
)

// Context is the resource bundle one State uses. It borrows the peripheral
// set and the device handle; it never owns or closes them.
type Context struct {
	set      *peripheral.Set
	io       peripheral.IO
	released atomic.Bool
}

func NewContext(set *peripheral.Set, io peripheral.IO) *Context {
	return &Context{set: set, io: io}
}

func (c *Context) Set() *peripheral.Set {
	return c.set
}

func (c *Context) Handle() peripheral.IO {
	return c.io
}

// Do runs fn under the set's actuation guard. It fails with
// ErrContextReleased once the owning State has exited.
func (c *Context) Do(fn func(set *peripheral.Set, io peripheral.IO) error) error {
	if c.released.Load() {
		return types.ErrContextReleased
	}
	return c.set.Exclusive(func() error {
		return fn(c.set, c.io)
	})
}

// Derive builds a fresh Context over the same set and handle for the next
// State. A released Context derives a released one.
func (c *Context) Derive() *Context {
	next := &Context{set: c.set, io: c.io}
	if c.released.Load() {
		next.released.Store(true)
	}
	return next
}

func (c *Context) Release() {
	c.released.Store(true)
}

func (c *Context) Released() bool {
	return c.released.Load()
}
