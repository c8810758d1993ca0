package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
controller:
  driver: tcp
store:
  driver: sqlite
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Controller.Address != "192.168.0.50:9600" {
		t.Fatalf("expected default controller address, got %s", cfg.Controller.Address)
	}
	if cfg.Policy.PollPeriod != 240*time.Millisecond {
		t.Fatalf("expected PollPeriod default 240ms, got %s", cfg.Policy.PollPeriod)
	}
	if cfg.Policy.BackoffPeriod != time.Second {
		t.Fatalf("expected BackoffPeriod default 1s, got %s", cfg.Policy.BackoffPeriod)
	}
	if cfg.Controller.ReadTimeout != 960*time.Millisecond {
		t.Fatalf("expected read timeout of four poll periods, got %s", cfg.Controller.ReadTimeout)
	}
	if cfg.Store.DSN != "../mondon.db" || cfg.Store.Table != "mondon_speed" {
		t.Fatalf("unexpected store defaults %+v", cfg.Store)
	}
	if cfg.Store.RetryAttempts != 3 || cfg.Store.RetryDelay != 10*time.Millisecond {
		t.Fatalf("unexpected retry defaults %+v", cfg.Store)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if cfg.DeadLetter.Dir != "" {
		t.Fatalf("dead-lettering should be off by default, got %q", cfg.DeadLetter.Dir)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[controller]
driver = "modbus"
address = "10.0.0.7:502"

[controller.modbus]
unit_id = 3
register = 100

[store]
driver = "postgres"
dsn = "postgres://mondon@localhost/mondon?sslmode=disable"

[policy]
poll_period = "500ms"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.Controller.Driver != DriverModbus || cfg.Controller.Modbus.UnitID != 3 || cfg.Controller.Modbus.Register != 100 {
		t.Fatalf("unexpected controller config %+v", cfg.Controller)
	}
	if cfg.Policy.PollPeriod != 500*time.Millisecond {
		t.Fatalf("expected poll period 500ms, got %s", cfg.Policy.PollPeriod)
	}
	if cfg.Controller.ReadTimeout != 2*time.Second {
		t.Fatalf("expected read timeout to follow poll period, got %s", cfg.Controller.ReadTimeout)
	}
}

func TestSimulateFlagSelectsSimulator(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
controller:
  simulate: true
  simulator:
    failure_rate: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Controller.Driver != DriverSimulator {
		t.Fatalf("expected simulator driver, got %s", cfg.Controller.Driver)
	}
	if *cfg.Controller.Simulator.FailureRate != 0 {
		t.Fatalf("expected explicit zero failure rate to be kept, got %v", *cfg.Controller.Simulator.FailureRate)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
controller:
  driver: tcp
  address: 192.168.0.50:9600
store:
  dsn: /var/lib/mondon.db
`)
	t.Setenv("MONDON_CONTROLLER_ADDRESS", "127.0.0.1:9600")
	t.Setenv("MONDON_STORE_DSN", "/tmp/override.db")
	t.Setenv("MONDON_POLL_PERIOD", "100ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Controller.Address != "127.0.0.1:9600" {
		t.Fatalf("expected env address, got %s", cfg.Controller.Address)
	}
	if cfg.Store.DSN != "/tmp/override.db" {
		t.Fatalf("expected env dsn, got %s", cfg.Store.DSN)
	}
	if cfg.Policy.PollPeriod != 100*time.Millisecond {
		t.Fatalf("expected env poll period, got %s", cfg.Policy.PollPeriod)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"controller.driver": "controller:\n  driver: carrier-pigeon\n",
		"store config":      "store:\n  driver: mysql\n",
		"opcua config":      "controller:\n  driver: opcua\n",
		"controller.serial": "controller:\n  driver: serial\n",
		"mirror.influx":     "mirror:\n  influx:\n    url: http://influx:8086\n",
		"failure_rate":      "controller:\n  driver: simulator\n  simulator:\n    failure_rate: 1.5\n",
	}
	for want, data := range cases {
		path := writeConfig(t, "config.yaml", data)
		_, err := Load(path)
		if err == nil {
			t.Fatalf("expected error mentioning %q", want)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error mentioning %q, got %v", want, err)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if cfg.Controller.Driver != DriverTCP || cfg.Store.Driver != "sqlite" {
		t.Fatalf("unexpected default drivers %s / %s", cfg.Controller.Driver, cfg.Store.Driver)
	}
}
