package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// SessionFactory builds an unconnected controller session. It is called
// once per pipeline generation.
type SessionFactory func() (ports.ControllerSession, error)

// StoreFactory opens a store. It is called once per pipeline generation.
type StoreFactory func(ctx context.Context) (ports.ReadingStore, error)

type Deps struct {
	Sessions SessionFactory
	Stores   StoreFactory
	Events   ports.EventEmitter
	Obs      ports.Observability
	Policy   ports.Policy
	// Journal is optional. When set, readings the store gives up on are
	// appended to it and replayed after the next successful connect.
	Journal ports.DeadLetterJournal
}

// Supervisor drives the acquisition loop:
//
//	Idle -> Connecting -> Polling -> Backoff -> Connecting -> ...
//
// It owns one session and one store per generation and discards both on
// any session failure. It never gives up; only ctx stops it.
type Supervisor struct {
	sessions SessionFactory
	stores   StoreFactory
	events   ports.EventEmitter
	obs      ports.Observability
	policy   ports.Policy
	journal  ports.DeadLetterJournal

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	state   atomic.Int32
	session ports.ControllerSession
	store   ports.ReadingStore
}

func NewSupervisor(d Deps) (*Supervisor, error) {
	if d.Sessions == nil {
		return nil, errors.New("session factory is required")
	}
	if d.Stores == nil {
		return nil, errors.New("store factory is required")
	}
	if d.Events == nil {
		return nil, errors.New("event emitter is required")
	}
	if d.Obs == nil {
		return nil, errors.New("observability is required")
	}
	return &Supervisor{
		sessions: d.Sessions,
		stores:   d.Stores,
		events:   d.Events,
		obs:      d.Obs,
		policy:   d.Policy.WithDefaults(),
		journal:  d.Journal,
		now:      time.Now,
		sleep:    sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State is safe to call from any goroutine.
func (s *Supervisor) State() domain.SupervisorState {
	return domain.SupervisorState(s.state.Load())
}

func (s *Supervisor) setState(st domain.SupervisorState) {
	s.state.Store(int32(st))
	s.obs.SetGauge("mondon_supervisor_state", float64(st))
}

// Run loops until ctx is cancelled, then closes the current session and
// store and returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	state := domain.StateIdle
	for {
		s.setState(state)
		if err := ctx.Err(); err != nil {
			return s.stop(err)
		}

		switch state {
		case domain.StateIdle:
			state = domain.StateConnecting

		case domain.StateConnecting:
			if err := s.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return s.stop(ctx.Err())
				}
				s.fail("controller_connect_failed", err)
				state = domain.StateBackoff
				continue
			}
			s.replay(ctx)
			state = domain.StatePolling

		case domain.StatePolling:
			if err := s.cycle(ctx); err != nil {
				if ctx.Err() != nil {
					return s.stop(ctx.Err())
				}
				s.fail("controller_poll_failed", err)
				state = domain.StateBackoff
			}

		case domain.StateBackoff:
			s.teardown()
			s.obs.IncCounter("mondon_session_restarts_total", 1)
			if err := s.sleep(ctx, s.policy.BackoffPeriod); err != nil {
				return s.stop(err)
			}
			state = domain.StateConnecting
		}
	}
}

// connect opens a fresh store and session for the new generation.
func (s *Supervisor) connect(ctx context.Context) error {
	st, err := s.stores(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = st

	sess, err := s.sessions()
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	s.session = sess

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	s.obs.LogInfo("controller_connected",
		ports.Field{Key: "component", Value: "SPEED_THREAD"},
		ports.Field{Key: "driver", Value: sess.Name()},
		ports.Field{Key: "store", Value: st.Name()})
	return nil
}

// cycle runs one poll and sleeps out the remainder of the poll period. Only
// session failures and cancellation are returned; storage failures are
// reported and the loop keeps polling.
func (s *Supervisor) cycle(ctx context.Context) error {
	start := s.now()
	speed, err := s.session.RequestSpeed(ctx)
	if err != nil {
		return err
	}
	received := s.now()
	s.obs.ObserveLatency("mondon_poll_latency_seconds", received.Sub(start).Seconds())
	s.obs.SetGauge("mondon_last_speed", float64(speed))

	s.persist(ctx, domain.NewReading(speed, received))

	wait := s.policy.PollPeriod - s.now().Sub(start)
	if wait < 0 {
		wait = 0
	}
	return s.sleep(ctx, wait)
}

func (s *Supervisor) persist(ctx context.Context, r domain.Reading) {
	err := s.store.Insert(ctx, r)
	if err == nil {
		s.obs.IncCounter("mondon_readings_persisted_total", 1)
		s.events.Emit(domain.ReadingEvent(r))
		return
	}

	s.obs.IncCounter("mondon_persist_failures_total", 1)
	s.obs.LogError("persist_failed", err,
		ports.Field{Key: "component", Value: "DATABASE"},
		ports.Field{Key: "ts", Value: r.TimestampMillis},
		ports.Field{Key: "speed", Value: r.Speed})
	s.events.Emit(domain.ErrorEvent(err))
	s.deadLetter(r, err)
}

func (s *Supervisor) deadLetter(r domain.Reading, cause error) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Append(r); err != nil {
		s.obs.LogCritical("deadletter_append_failed", err,
			ports.Field{Key: "ts", Value: r.TimestampMillis},
			ports.Field{Key: "speed", Value: r.Speed})
		return
	}
	s.obs.RecordDeadLetter(r, cause)
	s.recordJournalGauges()
}

// replay pushes journalled readings into the fresh store, oldest first, and
// stops at the first one that still cannot be stored.
func (s *Supervisor) replay(ctx context.Context) {
	if s.journal == nil {
		return
	}
	stats := s.journal.Stats()
	if stats.Pending() == 0 {
		return
	}

	var (
		last     ports.DeadLetterID
		replayed int
	)
	err := s.journal.Iterate(stats.OldestUncommitted, func(id ports.DeadLetterID, r domain.Reading) error {
		if err := s.store.Insert(ctx, r); err != nil {
			return err
		}
		last = id
		replayed++
		return nil
	})
	if last > 0 {
		if cerr := s.journal.Commit(last); cerr != nil {
			s.obs.LogError("deadletter_commit_failed", cerr)
		}
	}
	if replayed > 0 {
		s.obs.IncCounter("mondon_deadletter_replayed_total", float64(replayed))
		s.obs.LogInfo("deadletter_replay_complete",
			ports.Field{Key: "component", Value: "DATABASE"},
			ports.Field{Key: "readings", Value: replayed},
			ports.Field{Key: "from_id", Value: uint64(stats.OldestUncommitted)})
	}
	if err != nil {
		s.obs.LogError("deadletter_replay_stopped", err, ports.Field{Key: "component", Value: "DATABASE"})
	}
	s.recordJournalGauges()
}

func (s *Supervisor) recordJournalGauges() {
	stats := s.journal.Stats()
	s.obs.SetGauge("mondon_deadletter_pending", float64(stats.Pending()))
	s.obs.SetGauge("mondon_deadletter_size_bytes", float64(stats.SizeBytes))
}

func (s *Supervisor) fail(msg string, err error) {
	s.obs.LogError(msg, err, ports.Field{Key: "component", Value: "SPEED_THREAD"})
	s.events.Emit(domain.ErrorEvent(err))
}

// teardown closes the current generation's session and store.
func (s *Supervisor) teardown() {
	if s.session != nil {
		if err := s.session.Close(); err != nil {
			s.obs.LogError("session_close_failed", err)
		}
		s.session = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.obs.LogError("store_close_failed", err, ports.Field{Key: "component", Value: "DATABASE"})
		}
		s.store = nil
	}
}

func (s *Supervisor) stop(cause error) error {
	s.teardown()
	s.setState(domain.StateIdle)
	s.obs.LogInfo("supervisor_stopped", ports.Field{Key: "reason", Value: cause.Error()})
	return cause
}
