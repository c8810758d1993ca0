package domain

import (
	"errors"
	"fmt"
)

// ConnectionError reports a failed handshake with the controller. The
// session that produced it is no longer usable.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("controller connection %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports an empty, malformed or failed poll exchange. The
// session that produced it is no longer usable.
type ProtocolError struct {
	Command string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("controller %s: %v", e.Command, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// PersistenceError is returned once a store has used up its attempts for a
// reading. It does not invalidate the controller session.
type PersistenceError struct {
	Reading  Reading
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist reading ts=%d speed=%d after %d attempts: %v",
		e.Reading.TimestampMillis, e.Reading.Speed, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsSessionFatal reports whether err requires the controller session to be
// rebuilt.
func IsSessionFatal(err error) bool {
	var (
		connErr  *ConnectionError
		protoErr *ProtocolError
	)
	return errors.As(err, &connErr) || errors.As(err, &protoErr)
}
