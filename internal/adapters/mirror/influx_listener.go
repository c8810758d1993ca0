package mirror

import (
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

type InfluxConfig struct {
	URL         string `yaml:"url" toml:"url"`
	Token       string `yaml:"token" toml:"token"`
	Org         string `yaml:"org" toml:"org"`
	Bucket      string `yaml:"bucket" toml:"bucket"`
	Measurement string `yaml:"measurement" toml:"measurement"`
	Machine     string `yaml:"machine" toml:"machine"`
	BatchSize   uint   `yaml:"batch_size" toml:"batch_size"`
}

func (c InfluxConfig) Enabled() bool { return c.URL != "" }

func (c *InfluxConfig) ApplyDefaults() {
	if c.Measurement == "" {
		c.Measurement = "mondon_speed"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 20
	}
}

func (c *InfluxConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Org == "" || c.Bucket == "" {
		return fmt.Errorf("org and bucket are required when url is set")
	}
	return nil
}

// pointWriter is the part of the influx non-blocking WriteAPI we use.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxListener mirrors every new reading to InfluxDB as a point.
type InfluxListener struct {
	measurement string
	machine     string
	writer      pointWriter
	closeFn     func()
	obs         ports.Observability
}

func NewInfluxListener(cfg InfluxConfig, obs ports.Observability) *InfluxListener {
	cfg.ApplyDefaults()
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(cfg.BatchSize))
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	l := newInfluxListener(cfg, writeAPI, obs)
	l.closeFn = client.Close

	errs := writeAPI.Errors()
	go func() {
		for err := range errs {
			obs.IncCounter("mondon_mirror_failures_total", 1)
			obs.LogError("influx_write_failed", err, ports.Field{Key: "component", Value: "MIRROR"})
		}
	}()
	return l
}

func newInfluxListener(cfg InfluxConfig, w pointWriter, obs ports.Observability) *InfluxListener {
	return &InfluxListener{
		measurement: cfg.Measurement,
		machine:     cfg.Machine,
		writer:      w,
		obs:         obs,
	}
}

func (l *InfluxListener) Name() string { return "influx" }

func (l *InfluxListener) HandleEvent(e domain.Event) {
	if e.Kind != domain.EventNewReading {
		return
	}
	l.writer.WritePoint(l.point(e.Reading))
}

func (l *InfluxListener) point(r domain.Reading) *write.Point {
	p := influxdb2.NewPointWithMeasurement(l.measurement).
		AddField("speed", int64(r.Speed)).
		SetTime(r.Time())
	if l.machine != "" {
		p.AddTag("machine", l.machine)
	}
	return p
}

// Close flushes buffered points and releases the client.
func (l *InfluxListener) Close() error {
	l.writer.Flush()
	if l.closeFn != nil {
		l.closeFn()
	}
	return nil
}
