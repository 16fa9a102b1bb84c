package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/KevinKickass/OpenRigCore/internal/config"
	"github.com/KevinKickass/OpenRigCore/internal/devices"
	"github.com/KevinKickass/OpenRigCore/internal/handle"
	"github.com/KevinKickass/OpenRigCore/internal/interfaces"
	"github.com/KevinKickass/OpenRigCore/internal/machine"
	"github.com/KevinKickass/OpenRigCore/internal/peripheral"
	"github.com/KevinKickass/OpenRigCore/internal/storage"
)

type fakeLifecycle struct {
	cfg        *config.Config
	controller *machine.Controller
	set        *peripheral.Set
	h          *handle.Handle
	selfTest   []error
	history    interfaces.ReadingHistory
}

type fakeHistory struct {
	readings []storage.Reading
	err      error
	source   string
	limit    int
}

func (f *fakeHistory) RecentReadings(_ context.Context, source string, limit int) ([]storage.Reading, error) {
	f.source, f.limit = source, limit
	return f.readings, f.err
}

func (f *fakeLifecycle) Config() *config.Config              { return f.cfg }
func (f *fakeLifecycle) Controller() *machine.Controller     { return f.controller }
func (f *fakeLifecycle) Peripherals() *peripheral.Set        { return f.set }
func (f *fakeLifecycle) IO() peripheral.IO                   { return f.h }
func (f *fakeLifecycle) History() interfaces.ReadingHistory  { return f.history }
func (f *fakeLifecycle) RunSelfTest(context.Context) []error { return f.selfTest }
func (f *fakeLifecycle) Shutdown(context.Context) error      { return nil }

func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{
		State:       "RUNNING",
		Device:      f.h.Target().String(),
		Peripherals: len(f.set.Peripherals()),
		Rig:         f.controller.GetStatus(),
	}
}

func newTestServer(t *testing.T) (*Server, *fakeLifecycle, *devices.SimDriver) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	sim := devices.NewSimDriver()
	h, err := handle.Open(context.Background(), sim, handle.Target{DeviceType: "T7"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	set, err := peripheral.NewSet(peripheral.DefaultWiring(), logger)
	require.NoError(t, err)

	ctrl := machine.NewController(logger, set, h, machine.SequenceConfig{Poll: 5 * time.Millisecond}, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ctrl.Shutdown(ctx)
	})

	lm := &fakeLifecycle{cfg: &config.Config{}, controller: ctrl, set: set, h: h}
	return NewServer(lm.cfg, lm, logger, nil), lm, sim
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestRigStatusAndCommands(t *testing.T) {
	s, lm, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/rig/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status interfaces.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, machine.PhaseIdle, status.Rig.Phase)
	assert.Equal(t, 9, status.Peripherals)
	assert.Equal(t, "T7/ANY/ANY", status.Device)

	w = do(t, s, http.MethodPost, "/api/v1/rig/command", map[string]string{"command": "fill"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/rig/command", map[string]string{"command": "start"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, machine.PhaseRunning, lm.controller.GetStatus().Phase)

	w = do(t, s, http.MethodPost, "/api/v1/rig/command", map[string]string{"command": "stop"})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		return lm.controller.GetStatus().Phase == machine.PhaseIdle
	}, 2*time.Second, 5*time.Millisecond)

	w = do(t, s, http.MethodPost, "/api/v1/rig/command", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPeripherals(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/peripherals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(9), body["count"])
}

func TestReadPeripheral(t *testing.T) {
	s, _, sim := newTestServer(t)
	sim.Set("AIN4", 0.0025)

	w := do(t, s, http.MethodGet, "/api/v1/peripherals/main_load_cell/reading", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "load_cell", body["kind"])
	assert.InDelta(t, 1000.0, body["value"], 1e-9)

	w = do(t, s, http.MethodGet, "/api/v1/peripherals/missing/reading", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	sim.SetReadFault("AIN0", nil)
	w = do(t, s, http.MethodGet, "/api/v1/peripherals/thermocouple_1/reading", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSetValve(t *testing.T) {
	s, lm, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/peripherals/feed_valve/valve", map[string]bool{"open": true})
	require.Equal(t, http.StatusOK, w.Code)
	feed, err := lm.set.Servo("feed_valve")
	require.NoError(t, err)
	assert.Equal(t, 100.0, feed.Angle())

	w = do(t, s, http.MethodPost, "/api/v1/peripherals/feed_valve/valve", map[string]bool{"open": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, feed.Angle())

	w = do(t, s, http.MethodPost, "/api/v1/peripherals/vent/valve", map[string]bool{"open": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/peripherals/feed_valve/valve", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSelfTestEndpoint(t *testing.T) {
	s, lm, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/selftest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["passed"])

	lm.selfTest = []error{errors.New("self-test thermocouple_1: read AIN0 failed")}
	w = do(t, s, http.MethodPost, "/api/v1/selftest", nil)
	body := decode(t, w)
	assert.Equal(t, false, body["passed"])
	assert.Len(t, body["failures"], 1)
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodOptions, "/api/v1/rig/status", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLiveStreamUnavailableWithoutHub(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/ws/live", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPeripheralHistory(t *testing.T) {
	s, lm, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/peripherals/main_load_cell/history", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	history := &fakeHistory{readings: []storage.Reading{
		{RecordedAt: at, Source: "main_load_cell", Value: 12.5},
	}}
	lm.history = history

	w = do(t, s, http.MethodGet, "/api/v1/peripherals/main_load_cell/history?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, "main_load_cell", history.source)
	assert.Equal(t, 5, history.limit)

	w = do(t, s, http.MethodGet, "/api/v1/peripherals/main_load_cell/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultHistoryLimit, history.limit)

	w = do(t, s, http.MethodGet, "/api/v1/peripherals/main_load_cell/history?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/peripherals/nope/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	history.err = errors.New("connection refused")
	w = do(t, s, http.MethodGet, "/api/v1/peripherals/main_load_cell/history", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMoveMainValve(t *testing.T) {
	s, lm, sim := newTestServer(t)

	volts := 0.0
	sim.SetReadFunc("AIN7", func() float64 {
		volts += 0.5
		return volts
	})

	w := do(t, s, http.MethodPost, "/api/v1/rig/main-valve", map[string]float64{"angle": 60, "power": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "main_valve", decode(t, w)["name"])

	drive, err := lm.set.DCDrive("main_valve")
	require.NoError(t, err)
	assert.Equal(t, peripheral.DirectionStopped, drive.Direction())
	assert.GreaterOrEqual(t, drive.Angle(), 60.0)

	w = do(t, s, http.MethodPost, "/api/v1/rig/main-valve", map[string]float64{"angle": 60})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/rig/main-valve", map[string]float64{"angle": 60, "power": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
