package pipeline

import (
	"context"
	"fmt"

	"github.com/Audric-Dune/mondon-server/internal/adapters/controller"
	"github.com/Audric-Dune/mondon-server/internal/adapters/opcua"
	"github.com/Audric-Dune/mondon-server/internal/adapters/store"
	"github.com/Audric-Dune/mondon-server/internal/app/config"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// SessionsFromConfig returns the factory for the configured controller driver.
func SessionsFromConfig(cfg config.ControllerConfig, ua opcua.Config, obs ports.Observability) (SessionFactory, error) {
	opts := controller.Options{DialTimeout: cfg.DialTimeout, ReadTimeout: cfg.ReadTimeout}

	switch cfg.Driver {
	case config.DriverTCP:
		return func() (ports.ControllerSession, error) {
			return controller.NewTCPSession(cfg.Address, opts, obs), nil
		}, nil
	case config.DriverSerial:
		return func() (ports.ControllerSession, error) {
			return controller.NewSerialSession(cfg.Serial, opts, obs), nil
		}, nil
	case config.DriverModbus:
		return func() (ports.ControllerSession, error) {
			return controller.NewModbusSession(cfg.Address, cfg.Modbus, opts, obs), nil
		}, nil
	case config.DriverOPCUA:
		return func() (ports.ControllerSession, error) {
			return opcua.NewSession(ua, cfg.ReadTimeout, obs)
		}, nil
	case config.DriverSimulator:
		// One simulator for the process so its counters span restarts.
		sim := controller.NewSimulator(cfg.Simulator, obs)
		return func() (ports.ControllerSession, error) { return sim, nil }, nil
	}
	return nil, fmt.Errorf("unknown controller driver %q", cfg.Driver)
}

// StoresFromConfig opens a new store on every call.
func StoresFromConfig(cfg store.Config, obs ports.Observability) StoreFactory {
	return func(ctx context.Context) (ports.ReadingStore, error) {
		return store.Open(ctx, cfg, obs)
	}
}
