package handle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/KevinKickass/OpenRigCore/internal/devices"
	"github.com/KevinKickass/OpenRigCore/internal/thermo"
	"github.com/KevinKickass/OpenRigCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openSim(t *testing.T) (*Handle, *devices.SimDriver) {
	t.Helper()
	sim := devices.NewSimDriver()
	h, err := Open(context.Background(), sim, Target{DeviceType: "T7"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return h, sim
}

func TestOpenDeviceNotFound(t *testing.T) {
	sim := devices.NewSimDriver()
	sim.Missing = true

	h, err := Open(context.Background(), sim, Target{DeviceType: "T7", ConnectionType: "USB"}, zaptest.NewLogger(t))
	assert.Nil(t, h)
	assert.ErrorIs(t, err, types.ErrDeviceNotFound)

	var derr *devices.DriverError
	assert.False(t, errors.As(err, &derr), "driver error leaked: %v", err)
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	h, sim := openSim(t)
	sim.Set("AIN3", 0.002)
	sim.Set("AIN4", 0.001)

	v, err := h.ReadRegister(ctx, "AIN3")
	require.NoError(t, err)
	assert.Equal(t, 0.002, v)

	vs, err := h.ReadRegisters(ctx, "AIN3", "AIN4")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.002, 0.001}, vs)

	require.NoError(t, h.WriteRegister(ctx, "FIO4", 1))
	assert.Equal(t, 1.0, sim.Value("FIO4"))
}

func TestIOErrorTranslation(t *testing.T) {
	ctx := context.Background()
	h, sim := openSim(t)
	sim.SetReadFault("AIN0", nil)

	_, err := h.ReadRegister(ctx, "AIN0")
	var ioErr *types.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
	assert.Equal(t, "AIN0", ioErr.Register)

	// The handle stays usable after a failed call.
	_, err = h.ReadRegister(ctx, "AIN1")
	assert.NoError(t, err)

	_, err = h.ReadRegisters(ctx, "AIN1", "AIN0")
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "AIN0", ioErr.Register)
}

func TestWriteBatchReportsFailingRegister(t *testing.T) {
	ctx := context.Background()
	h, sim := openSim(t)
	sim.SetWriteFault("DIO0_EF_CONFIG_A", nil)

	err := h.WriteBatch(ctx, []Write{
		{Name: "DIO_EF_CLOCK0_ENABLE", Value: 0},
		{Name: "DIO0_EF_CONFIG_A", Value: 40000},
		{Name: "DIO0_EF_ENABLE", Value: 1},
	})

	var ioErr *types.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "batch", ioErr.Op)
	assert.Equal(t, "DIO0_EF_CONFIG_A", ioErr.Register)
	assert.Len(t, sim.Writes(), 1)

	assert.NoError(t, h.WriteBatch(ctx, nil))
}

func TestVoltsToTemp(t *testing.T) {
	h, _ := openSim(t)

	k, err := h.VoltsToTemp(thermo.TypeK, 0, 299.039)
	require.NoError(t, err)
	assert.InDelta(t, 299.039, k, 0.1)

	_, err = h.VoltsToTemp(thermo.TypeS, 0.001, 299.039)
	assert.True(t, types.IsIOError(err))
}

func TestCloseOnceAndInvalidates(t *testing.T) {
	ctx := context.Background()
	h, sim := openSim(t)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, h.Closed())
	assert.Zero(t, sim.OpenHandles())

	_, err := h.ReadRegister(ctx, "AIN0")
	assert.ErrorIs(t, err, types.ErrHandleClosed)
	assert.ErrorIs(t, h.WriteRegister(ctx, "FIO4", 0), types.ErrHandleClosed)
	_, err = h.VoltsToTemp(thermo.TypeK, 0, 299)
	assert.ErrorIs(t, err, types.ErrHandleClosed)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	h, _ := openSim(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.ReadRegisters(ctx, "AIN3", "AIN4")
			assert.NoError(t, err)
		}()
		go func(v float64) {
			defer wg.Done()
			assert.NoError(t, h.WriteBatch(ctx, []Write{{Name: "TDAC0", Value: v}, {Name: "TDAC1", Value: 0}}))
		}(float64(i))
	}
	wg.Wait()
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "T7/ANY/ANY", Target{DeviceType: "T7"}.String())
}
