package controller

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goburrow/modbus"

	"github.com/Audric-Dune/mondon-server/internal/adapters/codec"
	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// speedRegisters is the number of 16-bit holding registers forming the
// 32-bit speed value.
const speedRegisters = codec.SpeedFieldLen / 2

type ModbusConfig struct {
	UnitID   uint8  `yaml:"unit_id" toml:"unit_id"`
	Register uint16 `yaml:"register" toml:"register"`
}

type registerReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

type modbusConnector func(addr string, unitID uint8, timeout time.Duration) (registerReader, io.Closer, error)

func dialModbusTCP(addr string, unitID uint8, timeout time.Duration) (registerReader, io.Closer, error) {
	h := modbus.NewTCPClientHandler(addr)
	h.Timeout = timeout
	h.SlaveId = unitID
	if err := h.Connect(); err != nil {
		return nil, nil, err
	}
	return modbus.NewClient(h), h, nil
}

// ModbusSession reads the speed from two consecutive holding registers,
// high word first, which is the same big-endian layout as GET_SPEED replies.
type ModbusSession struct {
	addr    string
	cfg     ModbusConfig
	timeout time.Duration
	connect modbusConnector
	obs     ports.Observability

	client registerReader
	closer io.Closer
	state  domain.SessionState
}

func NewModbusSession(addr string, cfg ModbusConfig, opts Options, obs ports.Observability) *ModbusSession {
	return &ModbusSession{
		addr:    addr,
		cfg:     cfg,
		timeout: opts.ReadTimeout,
		connect: dialModbusTCP,
		obs:     obs,
	}
}

func (s *ModbusSession) Name() string { return "modbus" }

// Connect reopens the Modbus/TCP connection. The first register read acts as
// the handshake.
func (s *ModbusSession) Connect(ctx context.Context) error {
	_ = s.Close()
	if err := ctx.Err(); err != nil {
		return &domain.ConnectionError{Addr: s.addr, Err: err}
	}

	client, closer, err := s.connect(s.addr, s.cfg.UnitID, s.timeout)
	if err != nil {
		return &domain.ConnectionError{Addr: s.addr, Err: err}
	}
	s.client, s.closer = client, closer

	resp, err := s.client.ReadHoldingRegisters(s.cfg.Register, speedRegisters)
	if err != nil {
		_ = s.Close()
		return &domain.ConnectionError{Addr: s.addr, Err: err}
	}
	if len(resp) == 0 {
		_ = s.Close()
		return &domain.ConnectionError{Addr: s.addr, Err: codec.ErrEmptyResponse}
	}

	s.state = domain.Connected
	s.obs.LogInfo("controller_connected",
		ports.Field{Key: "addr", Value: s.addr},
		ports.Field{Key: "unit_id", Value: s.cfg.UnitID},
		ports.Field{Key: "register", Value: s.cfg.Register})
	return nil
}

func (s *ModbusSession) RequestSpeed(ctx context.Context) (uint32, error) {
	if s.state != domain.Connected || s.client == nil {
		return 0, &domain.ProtocolError{Command: "READ_HOLDING_REGISTERS", Err: ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		_ = s.Close()
		return 0, &domain.ProtocolError{Command: "READ_HOLDING_REGISTERS", Err: err}
	}

	resp, err := s.client.ReadHoldingRegisters(s.cfg.Register, speedRegisters)
	if err != nil {
		_ = s.Close()
		return 0, &domain.ProtocolError{Command: "READ_HOLDING_REGISTERS", Err: err}
	}
	speed, err := codec.DecodeSpeed(resp)
	if err != nil {
		_ = s.Close()
		return 0, &domain.ProtocolError{Command: "READ_HOLDING_REGISTERS", Err: fmt.Errorf("register %d: %w", s.cfg.Register, err)}
	}
	return speed, nil
}

func (s *ModbusSession) Close() error {
	s.state = domain.Disconnected
	s.client = nil
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

var _ ports.ControllerSession = (*ModbusSession)(nil)
