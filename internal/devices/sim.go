package devices

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenRigCore/internal/thermo"
)

// ErrSimFault is the default error injected by SetReadFault/SetWriteFault.
var ErrSimFault = errors.New("simulated fault")

// SimWrite records one write accepted by the simulator.
type SimWrite struct {
	Handle int
	Name   string
	Value  float64
}

// SimDriver is an in-memory register file. Unset names read as zero.
type SimDriver struct {
	// Missing makes every Open fail with CodeDeviceNotFound.
	Missing bool

	mu          sync.Mutex
	values      map[string]float64
	readFuncs   map[string]func() float64
	readFaults  map[string]error
	writeFaults map[string]error
	readOnly    map[string]bool
	reads       map[string]int
	writes      []SimWrite
	open        map[int]bool
	next        int
}

func NewSimDriver() *SimDriver {
	return &SimDriver{
		values:      make(map[string]float64),
		readFuncs:   make(map[string]func() float64),
		readFaults:  make(map[string]error),
		writeFaults: make(map[string]error),
		readOnly:    make(map[string]bool),
		reads:       make(map[string]int),
		open:        make(map[int]bool),
	}
}

func (s *SimDriver) Set(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// SetReadFunc makes reads of name return fn() instead of the stored value.
func (s *SimDriver) SetReadFunc(name string, fn func() float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readFuncs[name] = fn
}

// SetReadFault makes reads of name fail. A nil err injects ErrSimFault.
func (s *SimDriver) SetReadFault(name string, err error) {
	if err == nil {
		err = ErrSimFault
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readFaults[name] = err
}

// SetWriteFault makes writes of name fail. A nil err injects ErrSimFault.
func (s *SimDriver) SetWriteFault(name string, err error) {
	if err == nil {
		err = ErrSimFault
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeFaults[name] = err
}

func (s *SimDriver) SetReadOnly(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly[name] = true
}

func (s *SimDriver) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readFaults = make(map[string]error)
	s.writeFaults = make(map[string]error)
}

func (s *SimDriver) Value(name string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[name]
}

func (s *SimDriver) Reads(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[name]
}

// Writes returns a copy of the accepted write log.
func (s *SimDriver) Writes() []SimWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *SimDriver) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *SimDriver) Open(ctx context.Context, deviceType, connectionType, identifier string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, driverErr(CodeIO, "open", identifier, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Missing {
		return 0, driverErr(CodeDeviceNotFound, "open", identifier,
			fmt.Errorf("no %s device on %s", deviceType, connectionType))
	}
	s.next++
	s.open[s.next] = true
	return s.next, nil
}

func (s *SimDriver) ReadName(ctx context.Context, h int, name string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, driverErr(CodeIO, "read", name, err)
	}

	s.mu.Lock()
	if !s.open[h] {
		s.mu.Unlock()
		return 0, driverErr(CodeInvalidHandle, "read", name, fmt.Errorf("handle %d", h))
	}
	if err, ok := s.readFaults[name]; ok {
		s.mu.Unlock()
		return 0, driverErr(CodeIO, "read", name, err)
	}
	s.reads[name]++
	fn := s.readFuncs[name]
	v := s.values[name]
	s.mu.Unlock()

	// fn runs unlocked so it may call Set.
	if fn != nil {
		v = fn()
	}
	return v, nil
}

func (s *SimDriver) WriteName(ctx context.Context, h int, name string, value float64) error {
	_, err := s.WriteNames(ctx, h, []string{name}, []float64{value})
	return err
}

func (s *SimDriver) WriteNames(ctx context.Context, h int, names []string, values []float64) (int, error) {
	if len(names) != len(values) {
		return 0, driverErr(CodeIO, "write", "", fmt.Errorf("names/values length mismatch: %d != %d", len(names), len(values)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open[h] {
		return 0, driverErr(CodeInvalidHandle, "write", "", fmt.Errorf("handle %d", h))
	}
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return i, driverErr(CodeIO, "write", name, err)
		}
		if s.readOnly[name] {
			return i, driverErr(CodeReadOnly, "write", name, nil)
		}
		if err, ok := s.writeFaults[name]; ok {
			return i, driverErr(CodeIO, "write", name, err)
		}
		s.values[name] = values[i]
		s.writes = append(s.writes, SimWrite{Handle: h, Name: name, Value: values[i]})
	}
	return -1, nil
}

func (s *SimDriver) VoltsToTemp(tcType thermo.Type, volts, cjcKelvin float64) (float64, error) {
	return convertTemp(tcType, volts, cjcKelvin)
}

func (s *SimDriver) Close(h int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open[h] {
		return driverErr(CodeInvalidHandle, "close", "", fmt.Errorf("handle %d", h))
	}
	delete(s.open, h)
	return nil
}
