package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// PromObs implements ports.Observability with zerolog for logs and
// Prometheus collectors for metrics. Unknown metric names are ignored.
type PromObs struct {
	log zerolog.Logger

	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the mondon collectors on reg. A nil reg means
// prometheus.DefaultRegisterer.
func NewPromObs(logger zerolog.Logger, reg prometheus.Registerer) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	persisted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mondon_readings_persisted_total",
		Help: "Readings durably recorded in the store.",
	})
	persistFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mondon_persist_failures_total",
		Help: "Readings whose insert exhausted every retry.",
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mondon_store_retries_total",
		Help: "Store insert attempts that failed and were retried.",
	})
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mondon_store_reconnects_total",
		Help: "Store connections rebuilt after a fatal error.",
	})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mondon_store_duplicates_total",
		Help: "Inserts ignored because the timestamp was already recorded.",
	})
	restarts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mondon_session_restarts_total",
		Help: "Controller sessions torn down and rebuilt after a failure.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mondon_events_dropped_total",
		Help: "Events dropped because a listener queue was full.",
	})
	deadLettered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mondon_deadletter_total",
		Help: "Readings written to the dead-letter journal.",
	})
	replayed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mondon_deadletter_replayed_total",
		Help: "Journalled readings recorded in the store on replay.",
	})
	mirrorFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mondon_mirror_failures_total",
		Help: "Readings a mirror listener failed to forward.",
	})

	lastSpeed := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mondon_last_speed",
		Help: "Most recent speed read from the controller.",
	})
	state := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mondon_supervisor_state",
		Help: "Supervisor state: 0 idle, 1 connecting, 2 polling, 3 backoff.",
	})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mondon_deadletter_pending",
		Help: "Journalled readings not yet replayed.",
	})
	journalSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mondon_deadletter_size_bytes",
		Help: "Size of the dead-letter journal on disk.",
	})

	pollLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mondon_poll_latency_seconds",
		Help:    "Round trip of one GET_SPEED request.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	insertLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mondon_store_insert_latency_seconds",
		Help:    "Time to durably record one reading, retries included.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	reg.MustRegister(persisted, persistFailures, retries, reconnects, duplicates, restarts,
		dropped, deadLettered, replayed, mirrorFailures,
		lastSpeed, state, pending, journalSize, pollLatency, insertLatency)

	return &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			"mondon_readings_persisted_total":  persisted,
			"mondon_persist_failures_total":    persistFailures,
			"mondon_store_retries_total":       retries,
			"mondon_store_reconnects_total":    reconnects,
			"mondon_store_duplicates_total":    duplicates,
			"mondon_session_restarts_total":    restarts,
			"mondon_events_dropped_total":      dropped,
			"mondon_deadletter_total":          deadLettered,
			"mondon_deadletter_replayed_total": replayed,
			"mondon_mirror_failures_total":     mirrorFailures,
		},
		gauges: map[string]prometheus.Gauge{
			"mondon_last_speed":            lastSpeed,
			"mondon_supervisor_state":      state,
			"mondon_deadletter_pending":    pending,
			"mondon_deadletter_size_bytes": journalSize,
		},
		histos: map[string]prometheus.Observer{
			"mondon_poll_latency_seconds":         pollLatency,
			"mondon_store_insert_latency_seconds": insertLatency,
		},
	}
}

func withFields(e *zerolog.Event, fields []ports.Field) *zerolog.Event {
	for _, f := range fields {
		e = e.Interface(f.Key, f.Value)
	}
	return e
}

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	withFields(p.log.Debug(), fields).Msg(msg)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	withFields(p.log.Info(), fields).Msg(msg)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	withFields(p.log.Error().Err(err), fields).Msg(msg)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	withFields(p.log.WithLevel(zerolog.FatalLevel).Err(err), fields).Msg(msg)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDeadLetter(r domain.Reading, err error) {
	p.IncCounter("mondon_deadletter_total", 1)
	p.log.Warn().Err(err).
		Uint64("ts", r.TimestampMillis).
		Uint32("speed", r.Speed).
		Msg("reading_dead_lettered")
}

var _ ports.Observability = (*PromObs)(nil)
