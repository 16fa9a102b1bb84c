package modbus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenRigCore/internal/types"
	"github.com/google/uuid"
)

var (
	ErrUnknownRegister = errors.New("register not found")
	ErrNotReadable     = errors.New("register is not readable")
	ErrNotWritable     = errors.New("register is not writable")
)

// Device is one Modbus TCP controller addressed by register name.
type Device struct {
	ID          uuid.UUID
	Name        string
	Profile     *types.DeviceProfileDefinition
	Client      *Client
	RegisterMap map[string]*types.RegisterDefinition
	mu          sync.Mutex
	unitID      uint8
}

func NewDevice(
	name string,
	address string,
	unitID uint8,
	profile *types.DeviceProfileDefinition,
	timeout time.Duration,
) *Device {
	registerMap := make(map[string]*types.RegisterDefinition)
	for i := range profile.Registers {
		reg := &profile.Registers[i]
		registerMap[reg.Name] = reg
	}

	return &Device{
		ID:          uuid.New(),
		Name:        name,
		Profile:     profile,
		Client:      NewClient(address, timeout),
		RegisterMap: registerMap,
		unitID:      unitID,
	}
}

func (d *Device) Connect(ctx context.Context) error {
	if err := d.Client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", d.Name, err)
	}
	return nil
}

func (d *Device) Disconnect() error {
	return d.Client.Close()
}

// Resolve looks a name up in the fixed register table first, then in the
// numbered register families.
func (d *Device) Resolve(name string) (types.RegisterDefinition, error) {
	if reg, ok := d.RegisterMap[name]; ok {
		return *reg, nil
	}

	for _, fam := range d.Profile.Families {
		if !strings.HasPrefix(name, fam.Prefix) || !strings.HasSuffix(name, fam.Suffix) {
			continue
		}
		middle := name[len(fam.Prefix) : len(name)-len(fam.Suffix)]
		if middle == "" || strings.TrimLeft(middle, "0123456789") != "" {
			continue
		}
		n, err := strconv.Atoi(middle)
		if err != nil || n >= fam.Count {
			continue
		}
		return types.RegisterDefinition{
			Name:     name,
			Address:  fam.BaseAddress + uint16(n)*fam.Stride,
			DataType: fam.DataType,
			Access:   fam.Access,
		}, nil
	}

	return types.RegisterDefinition{}, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
}

func (d *Device) ReadRegister(ctx context.Context, registerName string) (float64, error) {
	reg, err := d.Resolve(registerName)
	if err != nil {
		return 0, err
	}
	if !reg.Access.Readable() {
		return 0, fmt.Errorf("%w: %s", ErrNotReadable, registerName)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	words, err := d.Client.ReadHoldingRegisters(ctx, d.unitID, reg.Address, reg.DataType.Words())
	if err != nil {
		return 0, fmt.Errorf("failed to read register %s: %w", registerName, err)
	}

	return DecodeValue(reg.DataType, words), nil
}

func (d *Device) WriteRegister(ctx context.Context, registerName string, value float64) error {
	_, err := d.WriteRegisters(ctx, []string{registerName}, []float64{value})
	return err
}

// WriteRegisters writes the values in order while holding the device lock.
// On failure it returns the index of the register that failed; writes before
// it have already been applied.
func (d *Device) WriteRegisters(ctx context.Context, names []string, values []float64) (int, error) {
	if len(names) != len(values) {
		return -1, fmt.Errorf("names/values length mismatch: %d != %d", len(names), len(values))
	}

	regs := make([]types.RegisterDefinition, len(names))
	for i, name := range names {
		reg, err := d.Resolve(name)
		if err != nil {
			return i, err
		}
		if !reg.Access.Writable() {
			return i, fmt.Errorf("%w: %s", ErrNotWritable, name)
		}
		regs[i] = reg
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, reg := range regs {
		words := EncodeValue(reg.DataType, values[i])
		if err := d.Client.WriteMultipleRegisters(ctx, d.unitID, reg.Address, words); err != nil {
			return i, fmt.Errorf("failed to write register %s: %w", reg.Name, err)
		}
	}

	return -1, nil
}

// DecodeValue converts big-endian register words to a float64.
func DecodeValue(dataType types.DataType, registers []uint16) float64 {
	switch dataType {
	case types.DataTypeUint32:
		return float64(uint32(registers[0])<<16 | uint32(registers[1]))
	case types.DataTypeInt32:
		return float64(int32(uint32(registers[0])<<16 | uint32(registers[1])))
	case types.DataTypeFloat32:
		return float64(math.Float32frombits(uint32(registers[0])<<16 | uint32(registers[1])))
	default:
		return float64(registers[0])
	}
}

// EncodeValue converts a float64 to big-endian register words. Integer types
// are rounded to the nearest value.
func EncodeValue(dataType types.DataType, value float64) []uint16 {
	var bits uint32
	switch dataType {
	case types.DataTypeUint32:
		bits = uint32(math.Round(value))
	case types.DataTypeInt32:
		bits = uint32(int32(math.Round(value)))
	case types.DataTypeFloat32:
		bits = math.Float32bits(float32(value))
	default:
		return []uint16{uint16(math.Round(value))}
	}
	return []uint16{uint16(bits >> 16), uint16(bits)}
}
