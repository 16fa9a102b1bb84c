// Package handle owns the single connection to a rig's controller. Readers
// share the handle, writers and batches hold it exclusively. Driver error
// codes never leave this package.
package handle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenRigCore/internal/devices"
	"github.com/KevinKickass/OpenRigCore/internal/thermo"
	"github.com/KevinKickass/OpenRigCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Target selects the device Open connects to. Empty fields match anything.
type Target struct {
	DeviceType     string
	ConnectionType string
	Identifier     string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s", orAny(t.DeviceType), orAny(t.ConnectionType), orAny(t.Identifier))
}

func orAny(s string) string {
	if s == "" {
		return devices.Wildcard
	}
	return s
}

// Write is one element of a batch.
type Write struct {
	Name  string
	Value float64
}

type Handle struct {
	ID     uuid.UUID
	target Target
	driver devices.Driver
	raw    int

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
	logger    *zap.Logger
}

// Open connects to the device matching target. A missing device returns an
// error wrapping types.ErrDeviceNotFound.
func Open(ctx context.Context, driver devices.Driver, target Target, logger *zap.Logger) (*Handle, error) {
	raw, err := driver.Open(ctx, orAny(target.DeviceType), orAny(target.ConnectionType), orAny(target.Identifier))
	if err != nil {
		var derr *devices.DriverError
		if errors.As(err, &derr) && derr.Code == devices.CodeDeviceNotFound {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrDeviceNotFound, target, derr.Err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", target, &types.IOError{Op: "open", Err: err})
	}

	h := &Handle{
		ID:     uuid.New(),
		target: target,
		driver: driver,
		raw:    raw,
		logger: logger,
	}

	logger.Info("Device handle opened",
		zap.String("handle_id", h.ID.String()),
		zap.String("target", target.String()))

	return h, nil
}

func (h *Handle) Target() Target {
	return h.target
}

func (h *Handle) ReadRegister(ctx context.Context, name string) (float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.read(ctx, name)
}

// ReadRegisters reads all names under one shared lock, so a concurrent batch
// write cannot land between them.
func (h *Handle) ReadRegisters(ctx context.Context, names ...string) ([]float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	values := make([]float64, len(names))
	for i, name := range names {
		v, err := h.read(ctx, name)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func (h *Handle) read(ctx context.Context, name string) (float64, error) {
	if h.closed {
		return 0, &types.IOError{Op: "read", Register: name, Err: types.ErrHandleClosed}
	}
	v, err := h.driver.ReadName(ctx, h.raw, name)
	if err != nil {
		return 0, &types.IOError{Op: "read", Register: name, Err: err}
	}
	return v, nil
}

func (h *Handle) WriteRegister(ctx context.Context, name string, value float64) error {
	return h.WriteBatch(ctx, []Write{{Name: name, Value: value}})
}

// WriteBatch issues the writes in order as one driver call under the
// exclusive lock. The returned IOError names the first write that failed.
func (h *Handle) WriteBatch(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	names := make([]string, len(writes))
	values := make([]float64, len(writes))
	for i, w := range writes {
		names[i] = w.Name
		values[i] = w.Value
	}

	op := "write"
	if len(writes) > 1 {
		op = "batch"
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return &types.IOError{Op: op, Register: names[0], Err: types.ErrHandleClosed}
	}

	idx, err := h.driver.WriteNames(ctx, h.raw, names, values)
	if err != nil {
		name := ""
		if idx >= 0 && idx < len(names) {
			name = names[idx]
		}
		return &types.IOError{Op: op, Register: name, Err: err}
	}
	return nil
}

// VoltsToTemp converts a thermocouple EMF to Kelvin using the driver's
// conversion. It performs no register I/O.
func (h *Handle) VoltsToTemp(tcType thermo.Type, volts, cjcKelvin float64) (float64, error) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()

	if closed {
		return 0, &types.IOError{Op: "convert", Err: types.ErrHandleClosed}
	}
	k, err := h.driver.VoltsToTemp(tcType, volts, cjcKelvin)
	if err != nil {
		return 0, &types.IOError{Op: "convert", Register: string(tcType), Err: err}
	}
	return k, nil
}

// Close releases the device. Later calls return the first result and
// every other operation fails with ErrHandleClosed.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		h.closed = true
		if err := h.driver.Close(h.raw); err != nil {
			h.closeErr = &types.IOError{Op: "close", Err: err}
		}
		h.logger.Info("Device handle closed", zap.String("handle_id", h.ID.String()))
	})
	return h.closeErr
}

func (h *Handle) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
