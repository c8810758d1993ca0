package codec

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// SpeedFieldLen is the size of the big-endian speed value that ends every
// GET_SPEED response.
const SpeedFieldLen = 4

var (
	// ErrEmptyResponse means the controller answered with zero bytes. A healthy
	// controller always acknowledges with a non-empty frame.
	ErrEmptyResponse = errors.New("codec: empty response")
	// ErrShortResponse means the response is too short to carry a speed value.
	ErrShortResponse = errors.New("codec: response shorter than speed field")
)

// Command is a fixed frame the controller understands.
type Command struct {
	name string
	hex  string
	wire []byte
}

// Connect is the handshake sent right after the stream is opened.
var Connect = mustCommand("CONNECT", "46494E530000000C000000000000000000000000")

// GetSpeed asks the controller for its current speed.
var GetSpeed = mustCommand("GET_SPEED", "46494E530000001A000000020000000080000300010000EF00070101B10014000001")

// NewCommand decodes hexValue once; the resulting frame never changes.
func NewCommand(name, hexValue string) (Command, error) {
	wire, err := hex.DecodeString(hexValue)
	if err != nil {
		return Command{}, fmt.Errorf("command %s: %w", name, err)
	}
	if len(wire) == 0 {
		return Command{}, fmt.Errorf("command %s: empty frame", name)
	}
	return Command{name: name, hex: hexValue, wire: wire}, nil
}

func mustCommand(name, hexValue string) Command {
	c, err := NewCommand(name, hexValue)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Command) Name() string { return c.name }

// Hex is the frame as configured, used for diagnostics.
func (c Command) Hex() string { return c.hex }

// Bytes returns a copy of the frame to write on the wire.
func (c Command) Bytes() []byte {
	out := make([]byte, len(c.wire))
	copy(out, c.wire)
	return out
}

func (c Command) Len() int { return len(c.wire) }

// DecodeSpeed extracts the speed from the trailing four bytes of resp.
func DecodeSpeed(resp []byte) (uint32, error) {
	if len(resp) == 0 {
		return 0, ErrEmptyResponse
	}
	if len(resp) < SpeedFieldLen {
		return 0, fmt.Errorf("%w: got %d bytes", ErrShortResponse, len(resp))
	}
	return binary.BigEndian.Uint32(resp[len(resp)-SpeedFieldLen:]), nil
}
