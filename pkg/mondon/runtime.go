package mondon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Audric-Dune/mondon-server/internal/adapters/deadletter"
	"github.com/Audric-Dune/mondon-server/internal/adapters/events"
	"github.com/Audric-Dune/mondon-server/internal/adapters/mirror"
	"github.com/Audric-Dune/mondon-server/internal/adapters/observability"
	"github.com/Audric-Dune/mondon-server/internal/app/pipeline"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// Version is reported in the startup log line.
var Version = "dev"

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	session       ControllerSession
	store         ReadingStore
	journal       DeadLetterJournal
	observability Observability
	listeners     []EventListener
}

// WithSession injects a controller session (custom transports, test doubles).
// The same session is reconnected after every failure.
func WithSession(s ControllerSession) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.session = s
	}
}

// WithStore injects a reading store. The runtime closes it on Shutdown only.
func WithStore(s ReadingStore) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.store = s
	}
}

// WithJournal replaces the file-backed dead-letter journal.
func WithJournal(j DeadLetterJournal) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.journal = j
	}
}

// WithObservability plugs in a custom logging/metrics backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithListener subscribes l to every NewReading and Error event.
func WithListener(l EventListener) RuntimeOption {
	return func(o *runtimeOverrides) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// Runtime wires the controller session, reading store, dead-letter journal
// and event listeners around the polling supervisor, and serves /metrics
// and /healthz.
type Runtime struct {
	cfg        *Config
	obs        ports.Observability
	registry   *prometheus.Registry
	supervisor *pipeline.Supervisor
	events     *events.Broadcaster
	journal    ports.DeadLetterJournal
	store      ports.ReadingStore
	closers    []io.Closer
	logCloser  io.Closer
	metricsSrv *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewRuntime bootstraps the adapters named in cfg. RuntimeOption values
// override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &Runtime{cfg: cfg, registry: prometheus.NewRegistry()}

	obs := overrides.observability
	if obs == nil {
		logger, closer, err := observability.NewLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		rt.logCloser = closer
		rt.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		obs = observability.NewPromObs(logger, rt.registry)
	}
	rt.obs = obs

	sessions, err := rt.sessionFactory(overrides.session)
	if err != nil {
		return nil, err
	}
	stores := pipeline.StoresFromConfig(cfg.Store, obs)
	if overrides.store != nil {
		rt.store = overrides.store
		shared := sharedStore{overrides.store}
		stores = func(context.Context) (ports.ReadingStore, error) { return shared, nil }
	}

	rt.journal = overrides.journal
	if rt.journal == nil && cfg.DeadLetter.Dir != "" {
		j, err := deadletter.NewFileJournal(cfg.DeadLetter.Dir)
		if err != nil {
			return nil, fmt.Errorf("dead-letter journal: %w", err)
		}
		rt.journal = j
	}

	rt.events = events.NewBroadcaster(cfg.Policy.EventBuffer, obs)
	rt.events.Subscribe(events.NewLogListener(obs))
	rt.subscribeMirrors()
	for _, l := range overrides.listeners {
		rt.events.Subscribe(l)
	}

	deps := pipeline.Deps{
		Sessions: sessions,
		Stores:   stores,
		Events:   rt.events,
		Obs:      obs,
		Policy:   cfg.Policy,
		Journal:  rt.journal,
	}
	rt.supervisor, err = pipeline.NewSupervisor(deps)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) sessionFactory(override ControllerSession) (pipeline.SessionFactory, error) {
	if override != nil {
		return func() (ports.ControllerSession, error) { return override, nil }, nil
	}
	return pipeline.SessionsFromConfig(r.cfg.Controller, r.cfg.OPCUA, r.obs)
}

// subscribeMirrors attaches the configured mirrors. A mirror that cannot
// start is logged and skipped.
func (r *Runtime) subscribeMirrors() {
	if r.cfg.Mirror.Influx.Enabled() {
		l := mirror.NewInfluxListener(r.cfg.Mirror.Influx, r.obs)
		r.events.Subscribe(l)
		r.closers = append(r.closers, l)
	}
	if r.cfg.Mirror.MQTT.Enabled() {
		l, err := mirror.NewMQTTListener(r.cfg.Mirror.MQTT, r.obs)
		if err != nil {
			r.obs.LogError("mqtt_mirror_disabled", err, ports.Field{Key: "component", Value: "MIRROR"})
			return
		}
		r.events.Subscribe(l)
		r.closers = append(r.closers, l)
	}
}

// Run starts the metrics server and blocks in the acquisition loop until
// ctx is cancelled, then shuts everything down.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.obs.LogInfo("app_start",
		ports.Field{Key: "version", Value: Version},
		ports.Field{Key: "controller", Value: r.cfg.Controller.Driver},
		ports.Field{Key: "address", Value: r.cfg.Controller.Address},
		ports.Field{Key: "store", Value: r.cfg.Store.Driver})
	r.startMetrics()

	err := r.supervisor.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.obs.LogCritical("supervisor_exited", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// State reports the supervisor's current phase.
func (r *Runtime) State() SupervisorState {
	return r.supervisor.State()
}

// DeadLetterStats reports the journal, or zero stats when dead-lettering is off.
func (r *Runtime) DeadLetterStats() DeadLetterStats {
	if r.journal == nil {
		return DeadLetterStats{}
	}
	return r.journal.Stats()
}

// Registry exposes the Prometheus registry served on /metrics.
func (r *Runtime) Registry() *prometheus.Registry {
	return r.registry
}

// Shutdown drains listeners and releases the metrics server, mirrors,
// journal and any injected store. It is safe to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		var errs []error

		if r.metricsSrv != nil {
			if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}

		r.events.Close()

		for _, c := range r.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if r.journal != nil {
			if err := r.journal.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if r.store != nil {
			if err := r.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		r.obs.LogInfo("app_stop")
		if r.logCloser != nil {
			if err := r.logCloser.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		r.shutdownErr = errors.Join(errs...)
	})
	return r.shutdownErr
}

func (r *Runtime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		state := r.supervisor.State()
		if state != StatePolling {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_, _ = w.Write([]byte(state.String()))
	})
	return mux
}

func (r *Runtime) startMetrics() {
	r.metricsSrv = &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           r.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err)
		}
	}()
}

// sharedStore keeps an injected store open across pipeline generations.
type sharedStore struct {
	ports.ReadingStore
}

func (sharedStore) Close() error { return nil }
