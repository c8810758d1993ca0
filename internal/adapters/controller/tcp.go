package controller

import (
	"context"
	"net"
	"time"

	"github.com/Audric-Dune/mondon-server/internal/ports"
)

type tcpLink struct {
	net.Conn
}

func (l *tcpLink) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return l.SetReadDeadline(time.Time{})
	}
	return l.SetReadDeadline(time.Now().Add(d))
}

// TCPDialer connects to addr ("host:port").
func TCPDialer(addr string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (Link, error) {
		d := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return &tcpLink{Conn: conn}, nil
	}
}

// NewTCPSession is the production session: the controller's raw TCP port.
func NewTCPSession(addr string, opts Options, obs ports.Observability) *StreamSession {
	return NewStreamSession("tcp", addr, TCPDialer(addr, opts.DialTimeout), opts, obs)
}
