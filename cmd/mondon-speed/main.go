package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/Audric-Dune/mondon-server"
)

//go:embed assets/banner.txt
var banner string

func main() {
	fmt.Print(banner)
	fmt.Println()
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("mondon-speed %s: %v", cmd, err)
	}
}

func loadConfig(path string) (*mondon.Config, error) {
	if path == "" {
		return mondon.DefaultConfig()
	}
	return mondon.LoadConfig(path)
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to a YAML or TOML configuration file (defaults apply when empty)")
	simulate := fs.Bool("simulate", false, "Use the built-in controller simulator")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flow, err := mondon.ConfFromConfig(cfg)
	if err != nil {
		return err
	}
	if *simulate {
		flow.StreamIN(mondon.StreamInSimulator())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/mondon.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := mondon.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: controller=%s (%s) store=%s (%s)\n",
		*cfgPath, cfg.Controller.Driver, cfg.Controller.Address, cfg.Store.Driver, cfg.Store.DSN)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: *interval}
	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(client, *url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return err
	}

	value := func(name string) float64 {
		mf, ok := families[name]
		if !ok || len(mf.GetMetric()) == 0 {
			return 0
		}
		return sampleValue(mf.GetMetric()[0])
	}

	state := mondon.SupervisorState(value("mondon_supervisor_state"))
	fmt.Printf("[%s] state=%s speed=%.0f persisted=%.0f failures=%.0f restarts=%.0f deadletter_pending=%.0f\n",
		time.Now().Format(time.RFC3339),
		state,
		value("mondon_last_speed"),
		value("mondon_readings_persisted_total"),
		value("mondon_persist_failures_total"),
		value("mondon_session_restarts_total"),
		value("mondon_deadletter_pending"),
	)
	return nil
}

func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}

func printUsage() {
	fmt.Printf(`mondon-speed

Usage:
  mondon-speed <command> [flags]

Commands:
  run        Poll the controller and record speeds (defaults apply without -config)
  validate   Load and validate a config file without starting the runtime
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  mondon-speed run -config ./data/mondon.yaml
  mondon-speed run -simulate
  mondon-speed validate -config ./data/mondon.toml
  mondon-speed stats -url http://localhost:9100/metrics -interval 1s

Environment:
  MONDON_CONTROLLER_ADDRESS, MONDON_STORE_DRIVER, MONDON_STORE_DSN, MONDON_SIMULATE,
  MONDON_LOG_LEVEL, MONDON_METRICS_ADDR and friends override the file.
`)
}
