package mondon

import (
	"github.com/Audric-Dune/mondon-server/internal/adapters/codec"
	"github.com/Audric-Dune/mondon-server/internal/adapters/controller"
	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// Reading is one persisted speed measurement.
type Reading = domain.Reading

// Event is published for every stored reading and every failure.
type Event = domain.Event

// EventKind distinguishes NewReading from Error events.
type EventKind = domain.EventKind

const (
	EventNewReading = domain.EventNewReading
	EventError      = domain.EventError
)

// SupervisorState is the acquisition loop's current phase.
type SupervisorState = domain.SupervisorState

const (
	StateIdle       = domain.StateIdle
	StateConnecting = domain.StateConnecting
	StatePolling    = domain.StatePolling
	StateBackoff    = domain.StateBackoff
)

// ControllerSession talks to the speed controller (TCP, serial, Modbus, OPC UA, simulator).
type ControllerSession = ports.ControllerSession

// ReadingStore durably records readings keyed by timestamp.
type ReadingStore = ports.ReadingStore

// EventListener receives events on its own goroutine.
type EventListener = ports.EventListener

// DeadLetterJournal keeps readings the store could not accept.
type DeadLetterJournal = ports.DeadLetterJournal

// DeadLetterID identifies a journalled reading.
type DeadLetterID = ports.DeadLetterID

// DeadLetterStats exposes journal metadata for observability.
type DeadLetterStats = ports.DeadLetterStats

// Observability receives logs and metrics from every component.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

type (
	ConnectionError  = domain.ConnectionError
	ProtocolError    = domain.ProtocolError
	PersistenceError = domain.PersistenceError
)

var (
	ErrEmptyResponse = codec.ErrEmptyResponse
	ErrShortResponse = codec.ErrShortResponse
	ErrNotConnected  = controller.ErrNotConnected
)
