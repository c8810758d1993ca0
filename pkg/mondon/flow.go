package mondon

import (
	"context"
	"fmt"
)

// Flow is a convenience builder: Conf -> StreamIN (controller side) ->
// StreamOUT (storage and listeners) -> Runtime.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures the controller side of the pipeline.
type StreamInOption func(*Flow)

// StreamOutOption configures the store, journal and listeners.
type StreamOutOption func(*Flow)

// Conf loads a config file, applies FlowOption values, and returns a Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the underlying configuration so callers can tweak it before building a runtime.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw RuntimeOption values to the builder.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

// StreamIN records controller-side overrides.
func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT records storage-side overrides and builds a Runtime ready to run.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run is a shortcut for StreamOUT + runtime.Run.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// WithFlowOptions appends RuntimeOption values during Conf.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

// StreamInSession injects a custom controller session.
func StreamInSession(s ControllerSession) StreamInOption {
	return func(f *Flow) {
		if f != nil && s != nil {
			f.appendOptions(WithSession(s))
		}
	}
}

// StreamInSimulator switches the configured controller to the simulator.
func StreamInSimulator() StreamInOption {
	return func(f *Flow) {
		if f != nil && f.cfg != nil {
			f.cfg.Controller.Driver = DriverSimulator
			f.cfg.Controller.Simulate = true
			f.cfg.Controller.Simulator.ApplyDefaults()
		}
	}
}

// StreamInObservability overrides the default zerolog + Prometheus backend.
func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

// StreamOutStore injects a custom ReadingStore.
func StreamOutStore(s ReadingStore) StreamOutOption {
	return func(f *Flow) {
		if f != nil && s != nil {
			f.appendOptions(WithStore(s))
		}
	}
}

// StreamOutJournal injects a custom dead-letter journal.
func StreamOutJournal(j DeadLetterJournal) StreamOutOption {
	return func(f *Flow) {
		if f != nil && j != nil {
			f.appendOptions(WithJournal(j))
		}
	}
}

// StreamOutListener subscribes a listener to pipeline events.
func StreamOutListener(l EventListener) StreamOutOption {
	return func(f *Flow) {
		if f != nil && l != nil {
			f.appendOptions(WithListener(l))
		}
	}
}

// StreamOutCallback subscribes a listener built from a simple callback function.
func StreamOutCallback(name string, fn EventHandler) StreamOutOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(WithListener(NewCallbackListener(name, fn)))
		}
	}
}

// StreamOutObservability replaces the default observability backend.
func StreamOutObservability(obs Observability) StreamOutOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
