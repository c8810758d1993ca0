package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Audric-Dune/mondon-server/internal/adapters/codec"
	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

const responseBufSize = 1024

// ErrNotConnected is returned when a request is made on a session whose
// handshake has not succeeded.
var ErrNotConnected = errors.New("controller: session not connected")

// Link is a byte stream to the controller that can bound its reads.
type Link interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
}

// Dialer opens a new Link. It must honour ctx while connecting.
type Dialer func(ctx context.Context) (Link, error)

// Options are shared by every stream-backed session.
type Options struct {
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// StreamSession runs the CONNECT / GET_SPEED exchange over any Link. Each
// command is written whole and answered by a single read.
type StreamSession struct {
	name        string
	addr        string
	dial        Dialer
	readTimeout time.Duration
	obs         ports.Observability

	link  Link
	state domain.SessionState
	buf   []byte
}

// NewStreamSession builds a session that obtains its link from dial. addr
// only labels errors and logs.
func NewStreamSession(name, addr string, dial Dialer, opts Options, obs ports.Observability) *StreamSession {
	return &StreamSession{
		name:        name,
		addr:        addr,
		dial:        dial,
		readTimeout: opts.ReadTimeout,
		obs:         obs,
		buf:         make([]byte, responseBufSize),
	}
}

func (s *StreamSession) Name() string { return s.name }

func (s *StreamSession) State() domain.SessionState { return s.state }

// Connect drops any existing link, opens a new one and performs the
// handshake. It never retries.
func (s *StreamSession) Connect(ctx context.Context) error {
	if s.link != nil {
		s.obs.LogInfo("controller_link_reset", ports.Field{Key: "addr", Value: s.addr})
	}
	s.closeLink()

	s.obs.LogInfo("controller_dial", ports.Field{Key: "addr", Value: s.addr}, ports.Field{Key: "driver", Value: s.name})
	link, err := s.dial(ctx)
	if err != nil {
		return &domain.ConnectionError{Addr: s.addr, Err: err}
	}
	s.link = link

	resp, err := s.exchange(ctx, codec.Connect)
	if err != nil {
		s.closeLink()
		return &domain.ConnectionError{Addr: s.addr, Err: err}
	}
	if len(resp) == 0 {
		s.closeLink()
		return &domain.ConnectionError{Addr: s.addr, Err: codec.ErrEmptyResponse}
	}

	s.state = domain.Connected
	s.obs.LogInfo("controller_connected", ports.Field{Key: "addr", Value: s.addr}, ports.Field{Key: "ack_bytes", Value: len(resp)})
	return nil
}

// RequestSpeed sends GET_SPEED and decodes the reply. Any failure leaves the
// session disconnected.
func (s *StreamSession) RequestSpeed(ctx context.Context) (uint32, error) {
	if s.state != domain.Connected || s.link == nil {
		return 0, &domain.ProtocolError{Command: codec.GetSpeed.Name(), Err: ErrNotConnected}
	}

	resp, err := s.exchange(ctx, codec.GetSpeed)
	if err != nil {
		s.closeLink()
		return 0, &domain.ProtocolError{Command: codec.GetSpeed.Name(), Err: err}
	}
	speed, err := codec.DecodeSpeed(resp)
	if err != nil {
		s.closeLink()
		return 0, &domain.ProtocolError{Command: codec.GetSpeed.Name(), Err: fmt.Errorf("%w (response %x)", err, resp)}
	}

	s.obs.LogDebug("controller_speed", ports.Field{Key: "speed", Value: speed})
	return speed, nil
}

// Close releases the link. It is safe to call more than once.
func (s *StreamSession) Close() error {
	if s.link == nil {
		s.state = domain.Disconnected
		return nil
	}
	err := s.link.Close()
	s.link = nil
	s.state = domain.Disconnected
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *StreamSession) closeLink() {
	if err := s.Close(); err != nil {
		s.obs.LogError("controller_close_failed", err, ports.Field{Key: "addr", Value: s.addr})
	}
}

// exchange writes cmd and returns whatever a single read yields. A clean EOF
// is reported as an empty response. Cancelling ctx closes the link so that a
// blocked read returns.
func (s *StreamSession) exchange(ctx context.Context, cmd codec.Command) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	link := s.link
	stop := context.AfterFunc(ctx, func() { _ = link.Close() })
	defer stop()

	s.obs.LogDebug("controller_send", ports.Field{Key: "command", Value: cmd.Name()}, ports.Field{Key: "hex", Value: cmd.Hex()})
	if _, err := link.Write(cmd.Bytes()); err != nil {
		return nil, s.ioErr(ctx, "write", err)
	}
	if err := link.SetReadTimeout(s.readTimeout); err != nil {
		return nil, s.ioErr(ctx, "set read timeout", err)
	}

	n, err := link.Read(s.buf)
	if n > 0 {
		resp := make([]byte, n)
		copy(resp, s.buf[:n])
		s.obs.LogDebug("controller_recv", ports.Field{Key: "command", Value: cmd.Name()}, ports.Field{Key: "bytes", Value: n})
		return resp, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, s.ioErr(ctx, "read", err)
	}
	return nil, nil
}

func (s *StreamSession) ioErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ ports.ControllerSession = (*StreamSession)(nil)
