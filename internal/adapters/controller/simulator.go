package controller

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/Audric-Dune/mondon-server/internal/adapters/codec"
	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

const (
	DefaultSimFailureRate = 0.01
	DefaultSimMaxSpeed    = 185
)

// ErrSimulatedFailure is the fault injected by the simulator.
var ErrSimulatedFailure = errors.New("controller: simulated failure")

type SimulatorConfig struct {
	// FailureRate is the probability in [0,1] that a poll fails. Nil means
	// DefaultSimFailureRate.
	FailureRate *float64 `yaml:"failure_rate" toml:"failure_rate"`
	MaxSpeed    uint32   `yaml:"max_speed" toml:"max_speed"`
	Seed        int64    `yaml:"seed" toml:"seed"`
}

func (c *SimulatorConfig) ApplyDefaults() {
	if c.FailureRate == nil {
		rate := DefaultSimFailureRate
		c.FailureRate = &rate
	}
	if c.MaxSpeed == 0 {
		c.MaxSpeed = DefaultSimMaxSpeed
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Simulator stands in for a controller: it fabricates speeds in
// [0, MaxSpeed] and fails a poll with probability FailureRate. A failed
// poll disconnects it, like a real session.
type Simulator struct {
	mu          sync.Mutex
	failureRate float64
	maxSpeed    uint32
	rng         *rand.Rand
	obs         ports.Observability

	connected  bool
	handshakes int
	polls      int
}

func NewSimulator(cfg SimulatorConfig, obs ports.Observability) *Simulator {
	cfg.ApplyDefaults()
	return &Simulator{
		failureRate: *cfg.FailureRate,
		maxSpeed:    cfg.MaxSpeed,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		obs:         obs,
	}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &domain.ConnectionError{Addr: "simulator", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handshakes++
	s.connected = true
	s.obs.LogInfo("controller_connected", ports.Field{Key: "addr", Value: "simulator"}, ports.Field{Key: "handshakes", Value: s.handshakes})
	return nil
}

func (s *Simulator) RequestSpeed(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, &domain.ProtocolError{Command: codec.GetSpeed.Name(), Err: ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		s.connected = false
		return 0, &domain.ProtocolError{Command: codec.GetSpeed.Name(), Err: err}
	}
	s.polls++
	if s.failureRate > 0 && s.rng.Float64() < s.failureRate {
		s.connected = false
		return 0, &domain.ProtocolError{Command: codec.GetSpeed.Name(), Err: ErrSimulatedFailure}
	}
	speed := uint32(s.rng.Int63n(int64(s.maxSpeed) + 1))
	s.obs.LogDebug("controller_speed", ports.Field{Key: "speed", Value: speed}, ports.Field{Key: "simulated", Value: true})
	return speed, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Handshakes counts successful Connect calls.
func (s *Simulator) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// Polls counts RequestSpeed calls made while connected.
func (s *Simulator) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

var _ ports.ControllerSession = (*Simulator)(nil)
