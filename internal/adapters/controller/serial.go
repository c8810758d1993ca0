package controller

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial"

	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// SerialConfig describes an RS-232 link carrying the same frames as TCP.
type SerialConfig struct {
	Port     string `yaml:"port" toml:"port"`
	BaudRate int    `yaml:"baud_rate" toml:"baud_rate"`
	DataBits int    `yaml:"data_bits" toml:"data_bits"`
	Parity   string `yaml:"parity" toml:"parity"`
	StopBits string `yaml:"stop_bits" toml:"stop_bits"`
}

func (c *SerialConfig) ApplyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.Parity == "" {
		c.Parity = "none"
	}
	if c.StopBits == "" {
		c.StopBits = "1"
	}
}

func (c *SerialConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if _, err := parseParity(c.Parity); err != nil {
		return err
	}
	if _, err := parseStopBits(c.StopBits); err != nil {
		return err
	}
	return nil
}

func (c *SerialConfig) mode() (*serial.Mode, error) {
	parity, err := parseParity(c.Parity)
	if err != nil {
		return nil, err
	}
	stop, err := parseStopBits(c.StopBits)
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   parity,
		StopBits: stop,
	}, nil
}

// SerialDialer opens the configured port. A read that times out returns no
// bytes, which the session reports as an empty response.
func SerialDialer(cfg SerialConfig) Dialer {
	return func(ctx context.Context) (Link, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mode, err := cfg.mode()
		if err != nil {
			return nil, err
		}
		port, err := serial.Open(cfg.Port, mode)
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
		}
		return port, nil
	}
}

func NewSerialSession(cfg SerialConfig, opts Options, obs ports.Observability) *StreamSession {
	cfg.ApplyDefaults()
	return NewStreamSession("serial", cfg.Port, SerialDialer(cfg), opts, obs)
}

func parseParity(p string) (serial.Parity, error) {
	switch strings.ToLower(p) {
	case "", "none", "n":
		return serial.NoParity, nil
	case "odd", "o":
		return serial.OddParity, nil
	case "even", "e":
		return serial.EvenParity, nil
	default:
		return serial.NoParity, fmt.Errorf("unsupported parity %q", p)
	}
}

func parseStopBits(s string) (serial.StopBits, error) {
	switch s {
	case "", "1":
		return serial.OneStopBit, nil
	case "1.5":
		return serial.OnePointFiveStopBits, nil
	case "2":
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("unsupported stop bits %q", s)
	}
}
