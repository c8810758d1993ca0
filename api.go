package mondon

import (
	base "github.com/Audric-Dune/mondon-server/pkg/mondon"
)

// Re-exported errors for convenience.
var (
	ErrEmptyResponse         = base.ErrEmptyResponse
	ErrShortResponse         = base.ErrShortResponse
	ErrNotConnected          = base.ErrNotConnected
	ErrChannelListenerClosed = base.ErrChannelListenerClosed
)

// Type aliases so consumers can import github.com/Audric-Dune/mondon-server directly.
type (
	Config            = base.Config
	Policy            = base.Policy
	ControllerConfig  = base.ControllerConfig
	OPCUAConfig       = base.OPCUAConfig
	StoreConfig       = base.StoreConfig
	MetricsConfig     = base.MetricsConfig
	LogConfig         = base.LogConfig
	DeadLetterConfig  = base.DeadLetterConfig
	MirrorConfig      = base.MirrorConfig
	Flow              = base.Flow
	FlowOption        = base.FlowOption
	StreamInOption    = base.StreamInOption
	StreamOutOption   = base.StreamOutOption
	Runtime           = base.Runtime
	RuntimeOption     = base.RuntimeOption
	Reading           = base.Reading
	Event             = base.Event
	EventKind         = base.EventKind
	EventHandler      = base.EventHandler
	EventListener     = base.EventListener
	SupervisorState   = base.SupervisorState
	ControllerSession = base.ControllerSession
	ReadingStore      = base.ReadingStore
	DeadLetterJournal = base.DeadLetterJournal
	DeadLetterID      = base.DeadLetterID
	DeadLetterStats   = base.DeadLetterStats
	Observability     = base.Observability
	Field             = base.Field
	ConnectionError   = base.ConnectionError
	ProtocolError     = base.ProtocolError
	PersistenceError  = base.PersistenceError
)

const (
	EventNewReading = base.EventNewReading
	EventError      = base.EventError
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() (*Config, error) {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInSession(s ControllerSession) StreamInOption {
	return base.StreamInSession(s)
}

func StreamInSimulator() StreamInOption {
	return base.StreamInSimulator()
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutStore(s ReadingStore) StreamOutOption {
	return base.StreamOutStore(s)
}

func StreamOutJournal(j DeadLetterJournal) StreamOutOption {
	return base.StreamOutJournal(j)
}

func StreamOutListener(l EventListener) StreamOutOption {
	return base.StreamOutListener(l)
}

func StreamOutCallback(name string, fn EventHandler) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSession(s ControllerSession) RuntimeOption {
	return base.WithSession(s)
}

func WithStore(s ReadingStore) RuntimeOption {
	return base.WithStore(s)
}

func WithJournal(j DeadLetterJournal) RuntimeOption {
	return base.WithJournal(j)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithListener(l EventListener) RuntimeOption {
	return base.WithListener(l)
}

// Listener adapters.
func NewCallbackListener(name string, fn EventHandler) EventListener {
	return base.NewCallbackListener(name, fn)
}

func NewChannelListener(name string, buffer int) (EventListener, <-chan Event, func()) {
	return base.NewChannelListener(name, buffer)
}
