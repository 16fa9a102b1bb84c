package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRigCore/internal/config"
	"github.com/KevinKickass/OpenRigCore/internal/devices"
	"github.com/KevinKickass/OpenRigCore/internal/handle"
	"github.com/KevinKickass/OpenRigCore/internal/machine"
	"github.com/KevinKickass/OpenRigCore/internal/peripheral"
	"github.com/KevinKickass/OpenRigCore/internal/system"
	"github.com/KevinKickass/OpenRigCore/internal/types"
)

const (
	flagConfig = "config"
	flagDebug  = "debug"
	flagSim    = "sim"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	var logger *zap.Logger

	return &cli.App{
		Name:  "rigctl",
		Usage: "run and inspect the test rig",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"RIG_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagSim,
				Usage: "use the simulated device driver",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			if c.Bool(flagDebug) {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			return err
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return runAction(c, logger)
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the rig and the fill sequence; type q to quit",
				Action: func(c *cli.Context) error { return runAction(c, logger) },
			},
			{
				Name:   "selftest",
				Usage:  "run every peripheral self-test once",
				Action: func(c *cli.Context) error { return selfTestAction(c, logger) },
			},
			{
				Name:      "read",
				Usage:     "take one reading from a peripheral",
				ArgsUsage: "<peripheral>",
				Action:    func(c *cli.Context) error { return readAction(c, logger) },
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	if c.Bool(flagSim) {
		cfg.Device.Driver = "sim"
	}
	return cfg, nil
}

func runAction(c *cli.Context, logger *zap.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	driver, err := system.NewDriver(cfg.Device, logger)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lm := system.NewLifecycleManager(cfg, driver, logger)
	if err := lm.Start(ctx); err != nil {
		shutdown(lm, cfg, logger)
		return startError(err)
	}

	if err := lm.Controller().ExecuteCommand(ctx, machine.CommandStart); err != nil {
		logger.Error("Failed to start sequence", zap.Error(err))
	}
	fmt.Fprintln(c.App.Writer, "rig running; commands: fill, start, stop, reset, status, q")

	go watchInput(ctx, os.Stdin, c.App.Writer, lm.Controller(), stop)

	<-ctx.Done()
	logger.Info("Shutdown requested")

	if err := shutdown(lm, cfg, logger); err != nil {
		return cli.Exit(fmt.Sprintf("shutdown failed: %v", err), 1)
	}
	return nil
}

func shutdown(lm *system.LifecycleManager, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err := lm.Shutdown(ctx)
	if err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
	}
	return err
}

func startError(err error) error {
	if errors.Is(err, types.ErrDeviceNotFound) {
		return cli.Exit(fmt.Sprintf("startup failed: %v", err), 3)
	}
	return cli.Exit(fmt.Sprintf("startup failed: %v", err), 1)
}

// openRig opens the device and builds the peripheral set without starting
// any background services.
func openRig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*handle.Handle, *peripheral.Set, error) {
	driver, err := system.NewDriver(cfg.Device, logger)
	if err != nil {
		return nil, nil, err
	}
	h, err := handle.Open(ctx, driver, handle.Target{
		DeviceType:     cfg.Device.DeviceType,
		ConnectionType: cfg.Device.ConnectionType,
		Identifier:     cfg.Device.Identifier,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	validator, err := devices.NewValidator()
	if err != nil {
		h.Close()
		return nil, nil, err
	}
	wiring, err := peripheral.LoadWiring(cfg.Wiring.Path, validator)
	if err != nil {
		h.Close()
		return nil, nil, err
	}
	set, err := peripheral.NewSet(wiring, logger)
	if err != nil {
		h.Close()
		return nil, nil, err
	}
	return h, set, nil
}

func selfTestAction(c *cli.Context, logger *zap.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	h, set, err := openRig(c.Context, cfg, logger)
	if err != nil {
		return startError(err)
	}
	defer h.Close()

	failures := multierr.Errors(set.TestAll(c.Context, h))
	for _, f := range failures {
		fmt.Fprintf(c.App.Writer, "FAIL %v\n", f)
	}
	if len(failures) > 0 {
		return cli.Exit(fmt.Sprintf("%d self-test failure(s)", len(failures)), 1)
	}
	fmt.Fprintf(c.App.Writer, "all %d peripherals passed\n", len(set.Peripherals()))
	return nil
}

func readAction(c *cli.Context, logger *zap.Logger) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: rigctl read <peripheral>", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	h, set, err := openRig(c.Context, cfg, logger)
	if err != nil {
		return startError(err)
	}
	defer h.Close()

	r, err := set.Read(c.Context, h, c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Fprintf(c.App.Writer, "%s\t%s\t%g\n", r.Source, r.Kind, r.Value)
	return nil
}
