package ports

import "time"

const (
	DefaultPollPeriod         = 240 * time.Millisecond
	DefaultBackoffPeriod      = 1000 * time.Millisecond
	DefaultStoreRetryAttempts = 3
	DefaultStoreRetryDelay    = 10 * time.Millisecond
	DefaultEventBuffer        = 64
)

type Policy struct {
	PollPeriod    time.Duration `yaml:"poll_period" toml:"poll_period"`
	BackoffPeriod time.Duration `yaml:"backoff_period" toml:"backoff_period"`
	EventBuffer   int           `yaml:"event_buffer" toml:"event_buffer"`
}

// WithDefaults fills zero values with the controller's nominal timings.
func (p Policy) WithDefaults() Policy {
	if p.PollPeriod <= 0 {
		p.PollPeriod = DefaultPollPeriod
	}
	if p.BackoffPeriod <= 0 {
		p.BackoffPeriod = DefaultBackoffPeriod
	}
	if p.EventBuffer <= 0 {
		p.EventBuffer = DefaultEventBuffer
	}
	return p
}
