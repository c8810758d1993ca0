package mondon

import (
	"github.com/Audric-Dune/mondon-server/internal/adapters/mirror"
	"github.com/Audric-Dune/mondon-server/internal/adapters/observability"
	"github.com/Audric-Dune/mondon-server/internal/adapters/opcua"
	"github.com/Audric-Dune/mondon-server/internal/adapters/store"
	"github.com/Audric-Dune/mondon-server/internal/app/config"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy holds the poll and backoff timings.
	Policy = ports.Policy
	// ControllerConfig selects and configures the controller driver.
	ControllerConfig = config.ControllerConfig
	// OPCUAConfig configures the opcua driver.
	OPCUAConfig = opcua.Config
	// StoreConfig selects and configures the reading store.
	StoreConfig = store.Config
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig configures console and file logging.
	LogConfig = observability.LogConfig
	// DeadLetterConfig configures the on-disk dead-letter journal.
	DeadLetterConfig = config.DeadLetterConfig
	// MirrorConfig configures the optional InfluxDB and MQTT mirrors.
	MirrorConfig = config.MirrorConfig
	// InfluxConfig configures the InfluxDB mirror.
	InfluxConfig = mirror.InfluxConfig
	// MQTTConfig configures the MQTT mirror.
	MQTTConfig = mirror.MQTTConfig
)

const (
	DriverTCP       = config.DriverTCP
	DriverSerial    = config.DriverSerial
	DriverModbus    = config.DriverModbus
	DriverOPCUA     = config.DriverOPCUA
	DriverSimulator = config.DriverSimulator
)

// LoadConfig loads a YAML or TOML file and applies MONDON_* overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() (*Config, error) {
	return config.Default()
}
