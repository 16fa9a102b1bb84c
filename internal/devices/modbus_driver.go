package devices

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenRigCore/internal/modbus"
	"github.com/KevinKickass/OpenRigCore/internal/thermo"
	"go.uber.org/zap"
)

type ModbusDriverConfig struct {
	Profile     string // profile name, e.g. "labjack-t7"
	SearchPaths []string
	Port        int
	Timeout     time.Duration
}

// ModbusDriver talks to LabJack T-series devices over Modbus TCP.
type ModbusDriver struct {
	loader  *ProfileLoader
	cfg     ModbusDriverConfig
	devices map[int]*modbus.Device
	next    int
	mu      sync.RWMutex
	logger  *zap.Logger
}

func NewModbusDriver(cfg ModbusDriverConfig, logger *zap.Logger) (*ModbusDriver, error) {
	loader, err := NewProfileLoader(cfg.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	return &ModbusDriver{
		loader:  loader,
		cfg:     cfg,
		devices: make(map[int]*modbus.Device),
		logger:  logger,
	}, nil
}

// Open connects to the device at identifier (host or host:port). Modbus has
// no discovery, so a wildcard identifier never finds a device.
func (m *ModbusDriver) Open(ctx context.Context, deviceType, connectionType, identifier string) (int, error) {
	profile, err := m.loader.Load(m.cfg.Profile)
	if err != nil {
		return 0, driverErr(CodeDeviceNotFound, "open", identifier, err)
	}

	if !matches(deviceType, profile.DeviceProfile.Model) {
		return 0, driverErr(CodeDeviceNotFound, "open", identifier,
			fmt.Errorf("profile %s does not serve device type %s", profile.DeviceProfile.ID, deviceType))
	}
	switch strings.ToUpper(connectionType) {
	case Wildcard, "", "ETHERNET", "TCP", "WIFI":
	default:
		return 0, driverErr(CodeDeviceNotFound, "open", identifier,
			fmt.Errorf("connection type %s not reachable over modbus tcp", connectionType))
	}
	if identifier == "" || strings.EqualFold(identifier, Wildcard) {
		return 0, driverErr(CodeDeviceNotFound, "open", identifier,
			errors.New("modbus tcp needs an explicit address"))
	}

	address := identifier
	if _, _, err := net.SplitHostPort(identifier); err != nil {
		port := m.cfg.Port
		if port == 0 {
			port = profile.Connection.Port
		}
		address = net.JoinHostPort(identifier, strconv.Itoa(port))
	}

	device := modbus.NewDevice(profile.DeviceProfile.Model, address, uint8(profile.Connection.UnitID), profile, m.cfg.Timeout)
	if err := device.Connect(ctx); err != nil {
		return 0, driverErr(CodeDeviceNotFound, "open", identifier, err)
	}

	m.mu.Lock()
	m.next++
	h := m.next
	m.devices[h] = device
	m.mu.Unlock()

	m.logger.Info("Device opened",
		zap.Int("handle", h),
		zap.String("profile", profile.DeviceProfile.ID),
		zap.String("address", address))

	return h, nil
}

func (m *ModbusDriver) device(op string, h int) (*modbus.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, ok := m.devices[h]
	if !ok {
		return nil, driverErr(CodeInvalidHandle, op, "", fmt.Errorf("handle %d", h))
	}
	return device, nil
}

func (m *ModbusDriver) ReadName(ctx context.Context, h int, name string) (float64, error) {
	device, err := m.device("read", h)
	if err != nil {
		return 0, err
	}
	v, err := device.ReadRegister(ctx, name)
	if err != nil {
		return 0, classify("read", name, err)
	}
	return v, nil
}

func (m *ModbusDriver) WriteName(ctx context.Context, h int, name string, value float64) error {
	_, err := m.WriteNames(ctx, h, []string{name}, []float64{value})
	return err
}

func (m *ModbusDriver) WriteNames(ctx context.Context, h int, names []string, values []float64) (int, error) {
	device, err := m.device("write", h)
	if err != nil {
		return 0, err
	}
	idx, err := device.WriteRegisters(ctx, names, values)
	if err != nil {
		name := ""
		if idx >= 0 && idx < len(names) {
			name = names[idx]
		}
		return idx, classify("write", name, err)
	}
	return -1, nil
}

func (m *ModbusDriver) VoltsToTemp(tcType thermo.Type, volts, cjcKelvin float64) (float64, error) {
	return convertTemp(tcType, volts, cjcKelvin)
}

func (m *ModbusDriver) Close(h int) error {
	m.mu.Lock()
	device, ok := m.devices[h]
	delete(m.devices, h)
	m.mu.Unlock()

	if !ok {
		return driverErr(CodeInvalidHandle, "close", "", fmt.Errorf("handle %d", h))
	}
	if err := device.Disconnect(); err != nil {
		return driverErr(CodeIO, "close", "", err)
	}

	m.logger.Info("Device closed", zap.Int("handle", h))
	return nil
}

func classify(op, name string, err error) *DriverError {
	switch {
	case errors.Is(err, modbus.ErrUnknownRegister):
		return driverErr(CodeUnknownName, op, name, err)
	case errors.Is(err, modbus.ErrNotWritable), errors.Is(err, modbus.ErrNotReadable):
		return driverErr(CodeReadOnly, op, name, err)
	default:
		return driverErr(CodeIO, op, name, err)
	}
}

func matches(filter, value string) bool {
	return filter == "" || strings.EqualFold(filter, Wildcard) || strings.EqualFold(filter, value)
}
