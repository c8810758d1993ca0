package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Audric-Dune/mondon-server/internal/adapters/codec"
	"github.com/Audric-Dune/mondon-server/internal/adapters/controller"
	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

type fakeSession struct {
	speeds     []uint32
	connectErr error
	pollErr    error
	connects   int
	polls      int
	closed     int
}

func (f *fakeSession) Name() string { return "fake" }
func (f *fakeSession) Connect(context.Context) error {
	f.connects++
	return f.connectErr
}
func (f *fakeSession) RequestSpeed(context.Context) (uint32, error) {
	f.polls++
	if f.pollErr != nil {
		return 0, f.pollErr
	}
	if len(f.speeds) == 0 {
		return 66, nil
	}
	v := f.speeds[0]
	f.speeds = f.speeds[1:]
	return v, nil
}
func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

type fakeStore struct {
	inserted []domain.Reading
	// failures maps the 1-based Insert call number to the error returned.
	failures map[int]error
	calls    int
	closed   int
}

func (f *fakeStore) Name() string { return "fake" }
func (f *fakeStore) Insert(_ context.Context, r domain.Reading) error {
	f.calls++
	if err, ok := f.failures[f.calls]; ok {
		return &domain.PersistenceError{Reading: r, Attempts: 3, Err: err}
	}
	f.inserted = append(f.inserted, r)
	return nil
}
func (f *fakeStore) Close() error {
	f.closed++
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEmitter) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fakeJournal struct {
	entries   []domain.Reading
	committed ports.DeadLetterID
}

func (j *fakeJournal) Append(r domain.Reading) (ports.DeadLetterID, error) {
	j.entries = append(j.entries, r)
	return ports.DeadLetterID(len(j.entries)), nil
}
func (j *fakeJournal) Iterate(from ports.DeadLetterID, fn func(ports.DeadLetterID, domain.Reading) error) error {
	for i, r := range j.entries {
		id := ports.DeadLetterID(i + 1)
		if id < from {
			continue
		}
		if err := fn(id, r); err != nil {
			return err
		}
	}
	return nil
}
func (j *fakeJournal) Commit(upto ports.DeadLetterID) error {
	j.committed = upto
	return nil
}
func (j *fakeJournal) Stats() ports.DeadLetterStats {
	return ports.DeadLetterStats{OldestUncommitted: j.committed + 1, LatestAppended: ports.DeadLetterID(len(j.entries))}
}
func (j *fakeJournal) Close() error { return nil }

type mockObs struct {
	mu       sync.Mutex
	errors   []error
	counters map[string]float64
	gauges   map[string]float64
	dead     int
}

func newMockObs() *mockObs {
	return &mockObs{counters: map[string]float64{}, gauges: map[string]float64{}}
}

func (m *mockObs) LogDebug(string, ...ports.Field) {}
func (m *mockObs) LogInfo(string, ...ports.Field)  {}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
}
func (m *mockObs) LogCritical(_ string, err error, _ ...ports.Field) { m.LogError("", err) }
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	m.counters[name] += v
	m.mu.Unlock()
}
func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(name string, v float64) {
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}
func (m *mockObs) RecordDeadLetter(domain.Reading, error) { m.dead++ }

// harness wires a Supervisor to a fake clock that advances 5ms per reading
// and a sleeper that cancels the run after a given number of sleeps.
type harness struct {
	sup      *Supervisor
	obs      *mockObs
	events   *recordingEmitter
	sleeps   []time.Duration
	sessions int
	stores   int
	ctx      context.Context
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, session func() ports.ControllerSession, store func() ports.ReadingStore, journal ports.DeadLetterJournal, stopAfter int) *harness {
	t.Helper()
	h := &harness{obs: newMockObs(), events: &recordingEmitter{}}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	t.Cleanup(h.cancel)

	deps := Deps{
		Sessions: func() (ports.ControllerSession, error) {
			h.sessions++
			return session(), nil
		},
		Stores: func(context.Context) (ports.ReadingStore, error) {
			h.stores++
			return store(), nil
		},
		Events:  h.events,
		Obs:     h.obs,
		Journal: journal,
	}
	sup, err := NewSupervisor(deps)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	sup.now = func() time.Time {
		clock = clock.Add(5 * time.Millisecond)
		return clock
	}
	sup.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		if len(h.sleeps) >= stopAfter {
			h.cancel()
		}
		return ctx.Err()
	}
	h.sup = sup
	return h
}

func TestSupervisorPollsAndPersistsEveryCycle(t *testing.T) {
	sess := &fakeSession{speeds: []uint32{10, 20, 30, 40, 50}}
	st := &fakeStore{}
	h := newHarness(t,
		func() ports.ControllerSession { return sess },
		func() ports.ReadingStore { return st },
		nil, 5)

	err := h.sup.Run(h.ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if sess.connects != 1 {
		t.Fatalf("expected a single handshake, got %d", sess.connects)
	}
	if len(st.inserted) != 5 {
		t.Fatalf("expected 5 stored readings, got %d", len(st.inserted))
	}
	for i, r := range st.inserted {
		if r.Speed != uint32(10*(i+1)) {
			t.Fatalf("reading %d: expected speed %d, got %d", i, 10*(i+1), r.Speed)
		}
		if i > 0 && r.TimestampMillis <= st.inserted[i-1].TimestampMillis {
			t.Fatalf("timestamps must increase: %d then %d", st.inserted[i-1].TimestampMillis, r.TimestampMillis)
		}
	}

	kinds := h.events.kinds()
	if len(kinds) != 5 {
		t.Fatalf("expected 5 events, got %d", len(kinds))
	}
	for _, k := range kinds {
		if k != domain.EventNewReading {
			t.Fatalf("expected only NewReading events, got %v", kinds)
		}
	}

	// Each cycle spends 10ms of fake time, so the sleep makes up the rest.
	for _, d := range h.sleeps {
		if d != 230*time.Millisecond {
			t.Fatalf("expected compensated sleep of 230ms, got %s", d)
		}
	}
	if sess.closed == 0 || st.closed == 0 {
		t.Fatalf("expected session and store to be closed on shutdown")
	}
	if h.sup.State() != domain.StateIdle {
		t.Fatalf("expected Idle after stop, got %s", h.sup.State())
	}
}

func TestSupervisorBacksOffAndReconnectsOnSessionFailure(t *testing.T) {
	var built []*fakeSession
	var stores []*fakeStore
	h := newHarness(t,
		func() ports.ControllerSession {
			s := &fakeSession{pollErr: &domain.ProtocolError{Command: "GET_SPEED", Err: codec.ErrEmptyResponse}}
			built = append(built, s)
			return s
		},
		func() ports.ReadingStore {
			s := &fakeStore{}
			stores = append(stores, s)
			return s
		},
		nil, 2)

	if err := h.sup.Run(h.ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if len(built) != 2 || built[1].connects != 1 {
		t.Fatalf("expected a second generation with its own handshake, got %d sessions", len(built))
	}
	if built[0].closed == 0 || stores[0].closed == 0 {
		t.Fatalf("expected the failed generation to be closed before backoff")
	}
	if len(h.sleeps) != 2 || h.sleeps[0] != time.Second || h.sleeps[1] != time.Second {
		t.Fatalf("expected two 1s backoffs, got %v", h.sleeps)
	}
	kinds := h.events.kinds()
	if len(kinds) != 2 || kinds[0] != domain.EventError || kinds[1] != domain.EventError {
		t.Fatalf("expected one Error event per failure, got %v", kinds)
	}
	if h.obs.counters["mondon_session_restarts_total"] != 2 {
		t.Fatalf("expected restarts to be counted, got %v", h.obs.counters["mondon_session_restarts_total"])
	}
}

func TestSupervisorConnectFailureBacksOff(t *testing.T) {
	attempt := 0
	h := newHarness(t,
		func() ports.ControllerSession {
			attempt++
			if attempt == 1 {
				return &fakeSession{connectErr: &domain.ConnectionError{Addr: "192.168.0.50:9600", Err: errors.New("connection refused")}}
			}
			return &fakeSession{}
		},
		func() ports.ReadingStore { return &fakeStore{} },
		nil, 2)

	_ = h.sup.Run(h.ctx)

	if h.sleeps[0] != time.Second {
		t.Fatalf("expected backoff after connect failure, got %v", h.sleeps)
	}
	if h.sleeps[1] != 230*time.Millisecond {
		t.Fatalf("expected polling to resume after reconnect, got %v", h.sleeps)
	}
	kinds := h.events.kinds()
	if kinds[0] != domain.EventError || kinds[1] != domain.EventNewReading {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestSupervisorStoreOpenFailureBacksOff(t *testing.T) {
	obs := newMockObs()
	events := &recordingEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opens := 0
	sup, err := NewSupervisor(Deps{
		Sessions: func() (ports.ControllerSession, error) { return &fakeSession{}, nil },
		Stores: func(context.Context) (ports.ReadingStore, error) {
			opens++
			return nil, errors.New("unable to open database file")
		},
		Events: events,
		Obs:    obs,
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	var sleeps []time.Duration
	sup.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 3 {
			cancel()
		}
		return ctx.Err()
	}

	if err := sup.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if opens != 3 {
		t.Fatalf("expected a store open per generation, got %d", opens)
	}
	for _, d := range sleeps {
		if d != time.Second {
			t.Fatalf("expected backoff sleeps, got %v", sleeps)
		}
	}
	if len(events.kinds()) != 3 {
		t.Fatalf("expected an Error event per failed open, got %v", events.kinds())
	}
}

func TestSupervisorPersistenceErrorKeepsPolling(t *testing.T) {
	sess := &fakeSession{speeds: []uint32{1, 2, 3}}
	st := &fakeStore{failures: map[int]error{2: errors.New("database is locked")}}
	journal := &fakeJournal{}
	h := newHarness(t,
		func() ports.ControllerSession { return sess },
		func() ports.ReadingStore { return st },
		journal, 3)

	_ = h.sup.Run(h.ctx)

	if sess.connects != 1 || h.sessions != 1 {
		t.Fatalf("persistence failures must not restart the session")
	}
	kinds := h.events.kinds()
	want := []domain.EventKind{domain.EventNewReading, domain.EventError, domain.EventNewReading}
	if len(kinds) != len(want) {
		t.Fatalf("expected events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, kinds)
		}
	}
	if len(journal.entries) != 1 || journal.entries[0].Speed != 2 {
		t.Fatalf("expected failed reading to be journalled, got %+v", journal.entries)
	}
	if h.obs.dead != 1 || h.obs.counters["mondon_persist_failures_total"] != 1 {
		t.Fatalf("expected dead letter and failure to be recorded")
	}
	for _, d := range h.sleeps {
		if d != 230*time.Millisecond {
			t.Fatalf("expected polling sleeps only, got %v", h.sleeps)
		}
	}
}

func TestSupervisorReplaysJournalAfterConnect(t *testing.T) {
	journal := &fakeJournal{entries: []domain.Reading{
		{TimestampMillis: 100, Speed: 7},
		{TimestampMillis: 101, Speed: 8},
	}}
	st := &fakeStore{}
	h := newHarness(t,
		func() ports.ControllerSession { return &fakeSession{} },
		func() ports.ReadingStore { return st },
		journal, 1)

	_ = h.sup.Run(h.ctx)

	if len(st.inserted) != 3 {
		t.Fatalf("expected 2 replayed readings and 1 polled, got %d", len(st.inserted))
	}
	if st.inserted[0].TimestampMillis != 100 || st.inserted[1].TimestampMillis != 101 {
		t.Fatalf("expected journal to be replayed oldest first before polling, got %+v", st.inserted)
	}
	if journal.committed != 2 {
		t.Fatalf("expected journal committed up to 2, got %d", journal.committed)
	}
	if h.obs.counters["mondon_deadletter_replayed_total"] != 2 {
		t.Fatalf("expected replay to be counted")
	}
	if h.obs.gauges["mondon_deadletter_pending"] != 0 {
		t.Fatalf("expected no pending readings after replay")
	}
}

func TestSupervisorWithSimulator(t *testing.T) {
	rate := 1.0
	sim := controller.NewSimulator(controller.SimulatorConfig{FailureRate: &rate, Seed: 1}, newMockObs())
	st := &fakeStore{}
	h := newHarness(t,
		func() ports.ControllerSession { return sim },
		func() ports.ReadingStore { return st },
		nil, 2)

	_ = h.sup.Run(h.ctx)

	if sim.Handshakes() != 2 {
		t.Fatalf("expected a new handshake after the simulated failure, got %d", sim.Handshakes())
	}
	if len(st.inserted) != 0 {
		t.Fatalf("expected nothing stored when every poll fails")
	}
	for _, d := range h.sleeps {
		if d != time.Second {
			t.Fatalf("expected 1s backoffs, got %v", h.sleeps)
		}
	}
}

func TestNewSupervisorRequiresDeps(t *testing.T) {
	if _, err := NewSupervisor(Deps{}); err == nil {
		t.Fatalf("expected missing factories to be rejected")
	}
}

func TestSleepCtxHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepCtx(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancelled sleep should return immediately")
	}
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("expected plain sleep to succeed, got %v", err)
	}
}
