package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenRigCore/internal/config"
	"github.com/KevinKickass/OpenRigCore/internal/machine"
	"github.com/KevinKickass/OpenRigCore/internal/peripheral"
	"github.com/KevinKickass/OpenRigCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State       string            `json:"state"`
	Device      string            `json:"device"`
	Peripherals int               `json:"peripherals"`
	Rig         machine.RigStatus `json:"rig"`
	Error       string            `json:"error,omitempty"`
}

// ReadingHistory serves persisted telemetry.
type ReadingHistory interface {
	RecentReadings(ctx context.Context, source string, limit int) ([]storage.Reading, error)
}

type LifecycleManager interface {
	Config() *config.Config
	Controller() *machine.Controller
	Peripherals() *peripheral.Set
	IO() peripheral.IO
	// History is nil when no database is configured.
	History() ReadingHistory
	GetCurrentStatus() SystemStatus
	// RunSelfTest runs every peripheral self-test and returns one error per failure.
	RunSelfTest(ctx context.Context) []error
	Shutdown(ctx context.Context) error
}
