package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	Driver        string        `yaml:"driver" toml:"driver"`
	DSN           string        `yaml:"dsn" toml:"dsn"`
	Table         string        `yaml:"table" toml:"table"`
	RetryAttempts int           `yaml:"retry_attempts" toml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" toml:"retry_delay"`
	// LockTimeout bounds how long the bolt backend waits for the file lock.
	LockTimeout time.Duration `yaml:"lock_timeout" toml:"lock_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.DSN == "" && c.Driver == DriverSQLite {
		c.DSN = "../mondon.db"
	}
	if c.Table == "" {
		c.Table = "mondon_speed"
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = ports.DefaultStoreRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = ports.DefaultStoreRetryDelay
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = time.Second
	}
}

func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres, DriverBolt:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if !tableNameRE.MatchString(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	return nil
}

// backend is one live connection to the underlying storage.
type backend interface {
	insert(ctx context.Context, r domain.Reading) error
	close() error
}

type connector func(ctx context.Context) (backend, error)

type errClass uint8

const (
	classOther errClass = iota
	classTransient
	classFatal
	classDuplicate
)

func (c errClass) String() string {
	switch c {
	case classTransient:
		return "transient"
	case classFatal:
		return "fatal"
	case classDuplicate:
		return "duplicate"
	default:
		return "other"
	}
}

// Store wraps a backend with bounded retries. Transient errors are retried
// after a fixed delay, fatal errors rebuild the connection first, and a
// duplicate timestamp counts as success.
type Store struct {
	name     string
	connect  connector
	classify func(error) errClass
	attempts int
	delay    time.Duration
	obs      ports.Observability

	backend backend
}

// Open builds the store described by cfg and connects it.
func Open(ctx context.Context, cfg Config, obs ports.Observability) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverBolt:
		return newStore(ctx, DriverBolt, boltConnector(cfg.DSN, cfg.Table, cfg.LockTimeout), classifyBolt, cfg, obs)
	case DriverPostgres:
		return NewSQLStore(ctx, Postgres, cfg, OpenDB(Postgres, cfg.DSN), obs)
	default:
		return NewSQLStore(ctx, SQLite, cfg, OpenDB(SQLite, cfg.DSN), obs)
	}
}

func newStore(ctx context.Context, name string, connect connector, classify func(error) errClass, cfg Config, obs ports.Observability) (*Store, error) {
	cfg.ApplyDefaults()
	s := &Store{
		name:     name,
		connect:  connect,
		classify: classify,
		attempts: cfg.RetryAttempts,
		delay:    cfg.RetryDelay,
		obs:      obs,
	}
	b, err := connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", name, err)
	}
	s.backend = b
	obs.LogInfo("store_opened", ports.Field{Key: "driver", Value: name})
	return s, nil
}

func (s *Store) Name() string { return s.name }

// Insert records r. It returns nil when r is stored or a reading with the
// same timestamp already exists, and *domain.PersistenceError otherwise.
func (s *Store) Insert(ctx context.Context, r domain.Reading) error {
	start := time.Now()
	attempts := 0

	op := func() error {
		attempts++
		if s.backend == nil {
			if err := s.reconnect(ctx); err != nil {
				return err
			}
		}

		err := s.backend.insert(ctx, r)
		if err == nil {
			return nil
		}

		class := s.classify(err)
		switch class {
		case classDuplicate:
			s.obs.LogDebug("store_duplicate_ignored", ports.Field{Key: "ts", Value: r.TimestampMillis})
			s.obs.IncCounter("mondon_store_duplicates_total", 1)
			return nil
		case classFatal:
			s.obs.LogError("store_insert_fatal", err, ports.Field{Key: "attempt", Value: attempts})
			if rerr := s.reconnect(ctx); rerr != nil {
				return fmt.Errorf("%w (reconnect: %v)", err, rerr)
			}
		default:
			s.obs.LogError("store_insert_retry", err,
				ports.Field{Key: "attempt", Value: attempts},
				ports.Field{Key: "class", Value: class.String()})
		}
		s.obs.IncCounter("mondon_store_retries_total", 1)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.delay), uint64(s.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return &domain.PersistenceError{Reading: r, Attempts: attempts, Err: err}
	}

	s.obs.ObserveLatency("mondon_store_insert_latency_seconds", time.Since(start).Seconds())
	return nil
}

// reconnect drops the current backend and opens a new one.
func (s *Store) reconnect(ctx context.Context) error {
	if s.backend != nil {
		if err := s.backend.close(); err != nil {
			s.obs.LogError("store_close_failed", err, ports.Field{Key: "driver", Value: s.name})
		}
		s.backend = nil
	}
	s.obs.IncCounter("mondon_store_reconnects_total", 1)
	b, err := s.connect(ctx)
	if err != nil {
		s.obs.LogError("store_reconnect_failed", err, ports.Field{Key: "driver", Value: s.name})
		return err
	}
	s.backend = b
	s.obs.LogInfo("store_reconnected", ports.Field{Key: "driver", Value: s.name})
	return nil
}

func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	err := s.backend.close()
	s.backend = nil
	return err
}

var _ ports.ReadingStore = (*Store)(nil)
