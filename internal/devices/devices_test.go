package devices

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenRigCore/internal/thermo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	var derr *DriverError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, code, derr.Code, derr.Error())
}

func TestSimDriverReadWrite(t *testing.T) {
	ctx := context.Background()
	sim := NewSimDriver()
	sim.Set("AIN0", 0.25)

	h, err := sim.Open(ctx, "T7", Wildcard, Wildcard)
	require.NoError(t, err)

	v, err := sim.ReadName(ctx, h, "AIN0")
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)
	assert.Equal(t, 1, sim.Reads("AIN0"))

	v, err = sim.ReadName(ctx, h, "AIN9")
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, sim.WriteName(ctx, h, "FIO4", 1))
	assert.Equal(t, 1.0, sim.Value("FIO4"))
	assert.Equal(t, []SimWrite{{Handle: h, Name: "FIO4", Value: 1}}, sim.Writes())
}

func TestSimDriverFaults(t *testing.T) {
	ctx := context.Background()
	sim := NewSimDriver()
	h, err := sim.Open(ctx, Wildcard, Wildcard, Wildcard)
	require.NoError(t, err)

	sim.SetReadFault("AIN1", nil)
	_, err = sim.ReadName(ctx, h, "AIN1")
	requireCode(t, err, CodeIO)
	assert.ErrorIs(t, err, ErrSimFault)

	sim.SetWriteFault("B", errors.New("bus reset"))
	idx, err := sim.WriteNames(ctx, h, []string{"A", "B", "C"}, []float64{1, 2, 3})
	requireCode(t, err, CodeIO)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 1.0, sim.Value("A"))
	assert.Zero(t, sim.Value("C"))

	sim.SetReadOnly("SERIAL_NUMBER")
	err = sim.WriteName(ctx, h, "SERIAL_NUMBER", 1)
	requireCode(t, err, CodeReadOnly)

	sim.ClearFaults()
	_, err = sim.ReadName(ctx, h, "AIN1")
	assert.NoError(t, err)
}

func TestSimDriverHandles(t *testing.T) {
	ctx := context.Background()
	sim := NewSimDriver()
	sim.Missing = true

	_, err := sim.Open(ctx, "T7", "USB", Wildcard)
	requireCode(t, err, CodeDeviceNotFound)

	sim.Missing = false
	h, err := sim.Open(ctx, "T7", "USB", Wildcard)
	require.NoError(t, err)
	assert.Equal(t, 1, sim.OpenHandles())

	require.NoError(t, sim.Close(h))
	requireCode(t, sim.Close(h), CodeInvalidHandle)

	_, err = sim.ReadName(ctx, h, "AIN0")
	requireCode(t, err, CodeInvalidHandle)
}

func TestSimDriverReadFunc(t *testing.T) {
	ctx := context.Background()
	sim := NewSimDriver()
	h, err := sim.Open(ctx, Wildcard, Wildcard, Wildcard)
	require.NoError(t, err)

	n := 0.0
	sim.SetReadFunc("AIN7", func() float64 {
		n++
		return n
	})

	for want := 1.0; want <= 3; want++ {
		v, err := sim.ReadName(ctx, h, "AIN7")
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}

func TestVoltsToTempConversionErrors(t *testing.T) {
	sim := NewSimDriver()

	k, err := sim.VoltsToTemp(thermo.TypeK, 0, 299.039)
	require.NoError(t, err)
	assert.InDelta(t, 299.039, k, 0.1)

	_, err = sim.VoltsToTemp(thermo.TypeB, 0.001, 299.039)
	requireCode(t, err, CodeConversion)
	assert.ErrorIs(t, err, thermo.ErrUnsupportedType)
}

func TestProfileLoaderBuiltin(t *testing.T) {
	loader, err := NewProfileLoader(nil)
	require.NoError(t, err)

	profile, err := loader.Load(DefaultProfile)
	require.NoError(t, err)
	assert.Equal(t, "T7", profile.DeviceProfile.Model)
	assert.Equal(t, 502, profile.Connection.Port)
	assert.NotEmpty(t, profile.Families)

	again, err := loader.Load(DefaultProfile)
	require.NoError(t, err)
	assert.Same(t, profile, again)

	_, err = loader.Load("no-such-profile")
	assert.Error(t, err)
}

func TestProfileLoaderSearchPathAndValidation(t *testing.T) {
	dir := t.TempDir()
	bad := `{"device_profile": {"id": "x", "vendor": "v", "model": "M", "version": "1"},
	         "connection": {"protocol": "modbus_tcp", "port": 502, "unit_id": 1},
	         "registers": [{"name": "AIN0", "address": 0, "data_type": "float64", "access": "read_only"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(bad), 0o644))

	loader, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	_, err = loader.Load("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestValidateWiring(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	good := map[string]any{
		"peripherals": []any{
			map[string]any{"name": "vent", "kind": "solenoid", "register": "FIO4"},
		},
	}
	assert.NoError(t, v.ValidateWiring(good))

	missing := map[string]any{
		"peripherals": []any{
			map[string]any{"name": "main_load_cell", "kind": "load_cell", "pos": "AIN3"},
		},
	}
	assert.Error(t, v.ValidateWiring(missing))

	unknownKind := map[string]any{
		"peripherals": []any{
			map[string]any{"name": "x", "kind": "stepper"},
		},
	}
	assert.Error(t, v.ValidateWiring(unknownKind))
}

func TestModbusDriverOpenFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := NewModbusDriver(ModbusDriverConfig{Timeout: 200 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = d.Open(ctx, "T7", "ETHERNET", Wildcard)
	requireCode(t, err, CodeDeviceNotFound)

	_, err = d.Open(ctx, "T4", "ETHERNET", "127.0.0.1")
	requireCode(t, err, CodeDeviceNotFound)

	_, err = d.Open(ctx, "T7", "USB", "127.0.0.1")
	requireCode(t, err, CodeDeviceNotFound)

	// Port 1 on loopback refuses connections.
	_, err = d.Open(ctx, "T7", "TCP", "127.0.0.1:1")
	requireCode(t, err, CodeDeviceNotFound)

	_, err = d.ReadName(ctx, 42, "AIN0")
	requireCode(t, err, CodeInvalidHandle)
	requireCode(t, d.Close(42), CodeInvalidHandle)
}
