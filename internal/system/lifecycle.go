package system

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/KevinKickass/OpenRigCore/internal/api/rest"
	"github.com/KevinKickass/OpenRigCore/internal/api/websocket"
	"github.com/KevinKickass/OpenRigCore/internal/config"
	"github.com/KevinKickass/OpenRigCore/internal/devices"
	"github.com/KevinKickass/OpenRigCore/internal/handle"
	"github.com/KevinKickass/OpenRigCore/internal/interfaces"
	"github.com/KevinKickass/OpenRigCore/internal/machine"
	"github.com/KevinKickass/OpenRigCore/internal/peripheral"
	"github.com/KevinKickass/OpenRigCore/internal/storage"
	"github.com/KevinKickass/OpenRigCore/internal/telemetry"
)

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

// LifecycleManager owns the rig from device open to device close.
type LifecycleManager struct {
	config *config.Config
	driver devices.Driver
	logger *zap.Logger

	handle     *handle.Handle
	set        *peripheral.Set
	controller *machine.Controller
	sampler    *telemetry.Sampler
	storage    *storage.PostgresClient
	wsHub      *websocket.Hub

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server
	grpcAddr   net.Addr

	stateMu          sync.RWMutex
	currentState     SystemState
	lastError        error
	selfTestFailures []error

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, driver devices.Driver, logger *zap.Logger) *LifecycleManager {
	return &LifecycleManager{
		config:       cfg,
		driver:       driver,
		logger:       logger,
		currentState: StateStopped,
		shutdownChan: make(chan struct{}),
	}
}

// NewDriver builds the device driver selected by cfg.Driver.
func NewDriver(cfg config.DeviceConfig, logger *zap.Logger) (devices.Driver, error) {
	switch cfg.Driver {
	case "sim":
		return devices.NewSimDriver(), nil
	case "modbus", "":
		return devices.NewModbusDriver(devices.ModbusDriverConfig{
			Profile:     cfg.Profile,
			SearchPaths: cfg.SearchPaths,
			Port:        cfg.Port,
			Timeout:     cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown device driver %q", cfg.Driver)
	}
}

// Start opens the device, builds the peripheral set and brings up the
// sequence controller, telemetry and operator servers. If the device cannot
// be opened nothing else is constructed and the error wraps
// types.ErrDeviceNotFound.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	if err := lm.setState(StateInitializing); err != nil {
		return err
	}
	lm.logger.Info("Starting OpenRigCore")

	if err := lm.startRig(ctx); err != nil {
		lm.setError(err)
		lm.releaseRig()
		return err
	}

	if lm.config.Server.Enabled {
		if err := lm.startGRPCServer(); err != nil {
			err = fmt.Errorf("failed to start gRPC: %w", err)
			lm.setError(err)
			return err
		}
		if err := lm.startRESTServer(); err != nil {
			err = fmt.Errorf("failed to start REST API: %w", err)
			lm.setError(err)
			return err
		}
	}

	if err := lm.setState(StateRunning); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.String("device", lm.handle.Target().String()),
		zap.Int("peripherals", len(lm.set.Peripherals())),
		zap.Int("self_test_failures", len(lm.SelfTestFailures())),
		zap.Bool("servers", lm.config.Server.Enabled))

	return nil
}

func (lm *LifecycleManager) startRig(ctx context.Context) error {
	target := handle.Target{
		DeviceType:     lm.config.Device.DeviceType,
		ConnectionType: lm.config.Device.ConnectionType,
		Identifier:     lm.config.Device.Identifier,
	}
	h, err := handle.Open(ctx, lm.driver, target, lm.logger)
	if err != nil {
		return err
	}
	lm.handle = h

	validator, err := devices.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}
	wiring, err := peripheral.LoadWiring(lm.config.Wiring.Path, validator)
	if err != nil {
		return err
	}
	set, err := peripheral.NewSet(wiring, lm.logger)
	if err != nil {
		return err
	}
	lm.set = set

	if err := set.Exclusive(func() error { return set.SetupServos(ctx, h) }); err != nil {
		return fmt.Errorf("servo setup failed: %w", err)
	}

	lm.wsHub = websocket.NewHub(lm.logger)
	lm.wsHub.SetStatusProvider(lm)
	go lm.wsHub.Run()

	lm.connectStorage(ctx)

	var recorder machine.TransitionRecorder
	if lm.storage != nil {
		recorder = lm.storage
	}
	lm.controller = machine.NewController(lm.logger, set, h, sequenceConfig(lm.config.Sequence, set.Roles()), recorder, lm.wsHub)
	lm.controller.OnPhaseChange(lm.onPhaseChange)

	lm.RunSelfTest(ctx)

	sink, err := lm.buildSink()
	if err != nil {
		return err
	}
	lm.sampler = telemetry.NewSampler(set, h, sink, lm.config.Telemetry.SampleInterval, lm.logger)
	return lm.sampler.Start()
}

// connectStorage is best effort: the rig runs without persistence when the
// database is unreachable.
func (lm *LifecycleManager) connectStorage(ctx context.Context) {
	if !lm.config.Database.Enabled {
		return
	}

	client, err := storage.NewPostgresClient(ctx, lm.config.Database)
	if err != nil {
		lm.logger.Warn("Database unavailable, continuing without persistence", zap.Error(err))
		return
	}
	if err := client.EnsureSchema(ctx); err != nil {
		lm.logger.Warn("Database schema setup failed, continuing without persistence", zap.Error(err))
		client.Close()
		return
	}
	lm.storage = client
}

func (lm *LifecycleManager) buildSink() (telemetry.Sink, error) {
	sinks := telemetry.MultiSink{telemetry.NewHubSink(lm.wsHub)}

	if lm.storage != nil {
		sinks = append(sinks, lm.storage)
	}

	if httpCfg := lm.config.Telemetry.HTTP; httpCfg.Enabled {
		httpSink, err := telemetry.NewHTTPSink(telemetry.HTTPSinkConfig{
			BaseURL:       httpCfg.BaseURL,
			Collection:    httpCfg.Collection,
			TokenEnv:      httpCfg.TokenEnv,
			Timeout:       httpCfg.Timeout,
			MaxRetries:    httpCfg.MaxRetries,
			RatePerSecond: httpCfg.RatePerSecond,
		}, lm.logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, httpSink)
		lm.logger.Info("Telemetry HTTP sink enabled", zap.String("endpoint", httpSink.Endpoint()))
	}

	return sinks, nil
}

func sequenceConfig(cfg config.SequenceConfig, roles peripheral.Roles) machine.SequenceConfig {
	sc := machine.SequenceConfig{
		Poll:           cfg.PollInterval,
		MaxReadRetries: cfg.MaxReadRetries,
		FillTimeout:    cfg.FillTimeout,
	}
	if cfg.FillTargetKg > 0 {
		loadCell := cfg.FillLoadCell
		if loadCell == "" {
			loadCell = roles.MainLoadCell
		}
		sc.FillDone = machine.WeightAtLeast(loadCell, cfg.FillTargetKg)
	}
	return sc
}

// RunSelfTest runs every peripheral self-test and records the failures.
func (lm *LifecycleManager) RunSelfTest(ctx context.Context) []error {
	failures := multierr.Errors(lm.set.TestAll(ctx, lm.handle))

	lm.stateMu.Lock()
	lm.selfTestFailures = failures
	lm.stateMu.Unlock()

	msgs := make([]string, len(failures))
	for i, err := range failures {
		msgs[i] = err.Error()
	}
	if lm.controller != nil {
		lm.controller.SetSelfTestFailures(failures)
	}
	if lm.wsHub != nil {
		lm.wsHub.Broadcast(websocket.NewSelfTestMessage(msgs))
	}

	if len(failures) > 0 {
		lm.logger.Warn("Self-test reported failures", zap.Int("count", len(failures)))
	} else {
		lm.logger.Info("Self-test passed")
	}
	return failures
}

func (lm *LifecycleManager) SelfTestFailures() []error {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return append([]error(nil), lm.selfTestFailures...)
}

func (lm *LifecycleManager) onPhaseChange(phase, _ machine.Phase) {
	if lm.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if phase == machine.PhaseFault {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	lm.health.SetServingStatus("", status)
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	lm.health = health.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)
	lm.grpcAddr = lis.Addr()
	lm.onPhaseChange(lm.controller.GetStatus().Phase, "")

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub)
	return lm.restServer.Start()
}

// GRPCAddr is the gRPC listener address, nil when servers are disabled.
func (lm *LifecycleManager) GRPCAddr() net.Addr {
	return lm.grpcAddr
}

// Shutdown stops the sequence, telemetry and servers, then closes the device
// handle. Only the first call has an effect.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Unexpected shutdown state", zap.Error(err))
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		if err := lm.setState(StateStopped); err != nil {
			lm.logger.Warn("Unexpected shutdown state", zap.Error(err))
		}
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs error

	if lm.controller != nil {
		if err := lm.controller.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("controller shutdown failed: %w", err))
		}
	}

	if lm.restServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
		cancel()
	}

	if lm.grpcServer != nil {
		lm.logger.Info("Stopping gRPC server")
		lm.health.Shutdown()
		lm.grpcServer.GracefulStop()
	}

	return multierr.Append(errs, lm.releaseRig())
}

// releaseRig stops whatever startRig brought up, closing the handle last.
func (lm *LifecycleManager) releaseRig() error {
	if lm.sampler != nil {
		lm.sampler.Stop()
	}
	if lm.wsHub != nil {
		lm.wsHub.Stop()
	}
	if lm.storage != nil {
		lm.storage.Close()
	}

	if lm.handle == nil {
		return nil
	}
	if err := lm.handle.Close(); err != nil {
		return fmt.Errorf("device close failed: %w", err)
	}
	return nil
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		return err
	}
	lm.currentState = state
	if state != StateError {
		lm.lastError = nil
	}
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err
	lm.stateMu.Unlock()

	lm.logger.Error("System error", zap.Error(err))
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	status := interfaces.SystemStatus{State: lm.currentState.String()}
	if lm.lastError != nil {
		status.Error = lm.lastError.Error()
	}
	lm.stateMu.RUnlock()

	if lm.handle != nil {
		status.Device = lm.handle.Target().String()
	}
	if lm.set != nil {
		status.Peripherals = len(lm.set.Peripherals())
	}
	if lm.controller != nil {
		status.Rig = lm.controller.GetStatus()
	}
	return status
}

// StatusSnapshot is sent to newly connected websocket clients.
func (lm *LifecycleManager) StatusSnapshot() any {
	return lm.GetCurrentStatus()
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// Controller is nil until Start has opened the device.
func (lm *LifecycleManager) Controller() *machine.Controller {
	return lm.controller
}

func (lm *LifecycleManager) Peripherals() *peripheral.Set {
	return lm.set
}

func (lm *LifecycleManager) IO() peripheral.IO {
	return lm.handle
}

func (lm *LifecycleManager) History() interfaces.ReadingHistory {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}
