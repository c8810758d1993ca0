package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/Audric-Dune/mondon-server/internal/adapters/controller"
	"github.com/Audric-Dune/mondon-server/internal/adapters/mirror"
	"github.com/Audric-Dune/mondon-server/internal/adapters/observability"
	"github.com/Audric-Dune/mondon-server/internal/adapters/opcua"
	"github.com/Audric-Dune/mondon-server/internal/adapters/store"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

const (
	DriverTCP       = "tcp"
	DriverSerial    = "serial"
	DriverModbus    = "modbus"
	DriverOPCUA     = "opcua"
	DriverSimulator = "simulator"
)

type Config struct {
	Controller ControllerConfig        `yaml:"controller" toml:"controller"`
	OPCUA      opcua.Config            `yaml:"opcua" toml:"opcua"`
	Store      store.Config            `yaml:"store" toml:"store"`
	Policy     ports.Policy            `yaml:"policy" toml:"policy"`
	Metrics    MetricsConfig           `yaml:"metrics" toml:"metrics"`
	Log        observability.LogConfig `yaml:"log" toml:"log"`
	DeadLetter DeadLetterConfig        `yaml:"dead_letter" toml:"dead_letter"`
	Mirror     MirrorConfig            `yaml:"mirror" toml:"mirror"`
}

type ControllerConfig struct {
	Driver      string        `yaml:"driver" toml:"driver"`
	Address     string        `yaml:"address" toml:"address"`
	Simulate    bool          `yaml:"simulate" toml:"simulate"`
	DialTimeout time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout" toml:"read_timeout"`

	Serial    controller.SerialConfig    `yaml:"serial" toml:"serial"`
	Modbus    controller.ModbusConfig    `yaml:"modbus" toml:"modbus"`
	Simulator controller.SimulatorConfig `yaml:"simulator" toml:"simulator"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type DeadLetterConfig struct {
	// Dir holds the journal. Empty disables dead-lettering.
	Dir string `yaml:"dir" toml:"dir"`
}

type MirrorConfig struct {
	Influx mirror.InfluxConfig `yaml:"influx" toml:"influx"`
	MQTT   mirror.MQTTConfig   `yaml:"mqtt" toml:"mqtt"`
}

// envOverrides lists the settings that can be changed through MONDON_*
// variables without editing the file.
type envOverrides struct {
	ControllerDriver  string        `env:"CONTROLLER_DRIVER"`
	ControllerAddress string        `env:"CONTROLLER_ADDRESS"`
	Simulate          bool          `env:"SIMULATE"`
	SerialPort        string        `env:"SERIAL_PORT"`
	OPCUAEndpoint     string        `env:"OPCUA_ENDPOINT"`
	StoreDriver       string        `env:"STORE_DRIVER"`
	StoreDSN          string        `env:"STORE_DSN"`
	PollPeriod        time.Duration `env:"POLL_PERIOD"`
	BackoffPeriod     time.Duration `env:"BACKOFF_PERIOD"`
	MetricsAddr       string        `env:"METRICS_ADDR"`
	LogLevel          string        `env:"LOG_LEVEL"`
	LogDir            string        `env:"LOG_DIR"`
	DeadLetterDir     string        `env:"DEAD_LETTER_DIR"`
	InfluxURL         string        `env:"INFLUX_URL"`
	InfluxToken       string        `env:"INFLUX_TOKEN"`
	MQTTBroker        string        `env:"MQTT_BROKER"`
}

// Load reads a YAML or TOML file (by extension), applies MONDON_*
// environment overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(raw), &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default is the configuration used when no file is given: the nominal
// controller address and a SQLite file next to the working directory.
func Default() (*Config, error) {
	var cfg Config
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o, env.Options{Prefix: "MONDON_"}); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Controller.Driver, o.ControllerDriver)
	set(&c.Controller.Address, o.ControllerAddress)
	set(&c.Controller.Serial.Port, o.SerialPort)
	set(&c.OPCUA.Endpoint, o.OPCUAEndpoint)
	set(&c.Store.Driver, o.StoreDriver)
	set(&c.Store.DSN, o.StoreDSN)
	set(&c.Metrics.Addr, o.MetricsAddr)
	set(&c.Log.Level, o.LogLevel)
	set(&c.Log.Dir, o.LogDir)
	set(&c.DeadLetter.Dir, o.DeadLetterDir)
	set(&c.Mirror.Influx.URL, o.InfluxURL)
	set(&c.Mirror.Influx.Token, o.InfluxToken)
	set(&c.Mirror.MQTT.Broker, o.MQTTBroker)
	if o.Simulate {
		c.Controller.Simulate = true
	}
	if o.PollPeriod > 0 {
		c.Policy.PollPeriod = o.PollPeriod
	}
	if o.BackoffPeriod > 0 {
		c.Policy.BackoffPeriod = o.BackoffPeriod
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Policy = c.Policy.WithDefaults()

	if c.Controller.Simulate {
		c.Controller.Driver = DriverSimulator
	}
	if c.Controller.Driver == "" {
		c.Controller.Driver = DriverTCP
	}
	if c.Controller.Address == "" {
		switch c.Controller.Driver {
		case DriverTCP:
			c.Controller.Address = "192.168.0.50:9600"
		case DriverModbus:
			c.Controller.Address = "192.168.0.50:502"
		}
	}
	if c.Controller.DialTimeout <= 0 {
		c.Controller.DialTimeout = 2 * time.Second
	}
	if c.Controller.ReadTimeout <= 0 {
		c.Controller.ReadTimeout = 4 * c.Policy.PollPeriod
	}
	c.Controller.Serial.ApplyDefaults()
	c.Controller.Simulator.ApplyDefaults()
	if c.Controller.Driver == DriverOPCUA {
		c.OPCUA.ApplyDefaults()
	}

	c.Store.ApplyDefaults()
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	c.Log.ApplyDefaults()
	c.Mirror.Influx.ApplyDefaults()
	c.Mirror.MQTT.ApplyDefaults()
}

func (c *Config) validate() error {
	switch c.Controller.Driver {
	case DriverTCP, DriverModbus:
		if c.Controller.Address == "" {
			return fmt.Errorf("controller.address is required for driver %s", c.Controller.Driver)
		}
	case DriverSerial:
		if err := c.Controller.Serial.Validate(); err != nil {
			return fmt.Errorf("controller.serial: %w", err)
		}
	case DriverOPCUA:
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	case DriverSimulator:
		if r := *c.Controller.Simulator.FailureRate; r < 0 || r > 1 {
			return fmt.Errorf("controller.simulator.failure_rate must be within [0,1], got %v", r)
		}
	default:
		return fmt.Errorf("controller.driver %q is not one of tcp, serial, modbus, opcua, simulator", c.Controller.Driver)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if c.Policy.PollPeriod < time.Millisecond {
		return fmt.Errorf("policy.poll_period must be at least 1ms")
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if err := c.Mirror.Influx.Validate(); err != nil {
		return fmt.Errorf("mirror.influx: %w", err)
	}
	if err := c.Mirror.MQTT.Validate(); err != nil {
		return fmt.Errorf("mirror.mqtt: %w", err)
	}
	return nil
}
