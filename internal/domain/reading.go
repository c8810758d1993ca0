package domain

import "time"

// Reading is one speed measurement stamped with the wall-clock millisecond
// at which the controller's response was received.
type Reading struct {
	TimestampMillis uint64 `json:"ts"`
	Speed           uint32 `json:"speed"`
}

// NewReading stamps speed with the receipt time t.
func NewReading(speed uint32, t time.Time) Reading {
	return Reading{TimestampMillis: uint64(t.UnixMilli()), Speed: speed}
}

// Time returns the receipt time as a time.Time.
func (r Reading) Time() time.Time {
	return time.UnixMilli(int64(r.TimestampMillis))
}

type SessionState uint8

const (
	Disconnected SessionState = iota
	Connected
)

func (s SessionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// SupervisorState tracks where the polling supervisor is in its lifecycle.
type SupervisorState uint8

const (
	StateIdle SupervisorState = iota
	StateConnecting
	StatePolling
	StateBackoff
)

func (s SupervisorState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	default:
		return "idle"
	}
}
