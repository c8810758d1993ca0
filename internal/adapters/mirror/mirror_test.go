package mirror

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

type mockObs struct {
	mu       sync.Mutex
	failures float64
	errs     []error
}

func (m *mockObs) LogDebug(string, ...ports.Field) {}
func (m *mockObs) LogInfo(string, ...ports.Field)  {}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "mondon_mirror_failures_total" {
		m.failures += v
	}
}
func (m *mockObs) ObserveLatency(string, float64)         {}
func (m *mockObs) SetGauge(string, float64)               {}
func (m *mockObs) RecordDeadLetter(domain.Reading, error) {}

type fakeWriter struct {
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) { w.points = append(w.points, p) }
func (w *fakeWriter) Flush()                    { w.flushes++ }

func TestInfluxListenerWritesReadingPoints(t *testing.T) {
	cfg := InfluxConfig{Machine: "dec1"}
	cfg.ApplyDefaults()
	w := &fakeWriter{}
	l := newInfluxListener(cfg, w, &mockObs{})

	ts := uint64(1_700_000_000_250)
	l.HandleEvent(domain.ReadingEvent(domain.Reading{TimestampMillis: ts, Speed: 66}))
	l.HandleEvent(domain.ErrorEvent(errors.New("ignored")))

	if len(w.points) != 1 {
		t.Fatalf("expected one point, got %d", len(w.points))
	}
	p := w.points[0]
	if p.Name() != "mondon_speed" {
		t.Fatalf("unexpected measurement %q", p.Name())
	}
	if !p.Time().Equal(time.UnixMilli(int64(ts))) {
		t.Fatalf("expected point time %v, got %v", time.UnixMilli(int64(ts)), p.Time())
	}
	fields := p.FieldList()
	if len(fields) != 1 || fields[0].Key != "speed" || fields[0].Value != int64(66) {
		t.Fatalf("unexpected fields %+v", fields)
	}
	tags := p.TagList()
	if len(tags) != 1 || tags[0].Key != "machine" || tags[0].Value != "dec1" {
		t.Fatalf("unexpected tags %+v", tags)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w.flushes != 1 {
		t.Fatalf("expected close to flush")
	}
}

func TestInfluxConfigValidate(t *testing.T) {
	if err := (&InfluxConfig{}).Validate(); err != nil {
		t.Fatalf("disabled mirror should validate: %v", err)
	}
	if err := (&InfluxConfig{URL: "http://influx:8086"}).Validate(); err == nil {
		t.Fatalf("expected missing org/bucket to be rejected")
	}
}

type fakeToken struct {
	err     error
	expired bool
	done    chan struct{}
}

func newFakeToken(err error, expired bool) *fakeToken {
	t := &fakeToken{err: err, expired: expired, done: make(chan struct{})}
	if !expired {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { return !t.expired }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.expired }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	calls []publishCall
	token mqtt.Token
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.calls = append(p.calls, publishCall{topic: topic, qos: qos, payload: payload.([]byte)})
	return p.token
}

func TestMQTTListenerPublishesJSON(t *testing.T) {
	pub := &fakePublisher{token: newFakeToken(nil, false)}
	l := newMQTTListener(MQTTConfig{Broker: "tcp://broker:1883", QoS: 1}, pub, &mockObs{})

	l.HandleEvent(domain.ReadingEvent(domain.Reading{TimestampMillis: 42, Speed: 180}))
	l.HandleEvent(domain.ErrorEvent(errors.New("ignored")))

	if len(pub.calls) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.calls))
	}
	call := pub.calls[0]
	if call.topic != "mondon/speed" || call.qos != 1 {
		t.Fatalf("unexpected publish %+v", call)
	}
	var got speedPayload
	if err := json.Unmarshal(call.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.TimestampMillis != 42 || got.Speed != 180 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestMQTTListenerCountsFailures(t *testing.T) {
	obs := &mockObs{}
	pub := &fakePublisher{token: newFakeToken(errors.New("not connected"), false)}
	l := newMQTTListener(MQTTConfig{}, pub, obs)
	l.HandleEvent(domain.ReadingEvent(domain.Reading{TimestampMillis: 1, Speed: 1}))

	pub.token = newFakeToken(nil, true)
	l.HandleEvent(domain.ReadingEvent(domain.Reading{TimestampMillis: 2, Speed: 2}))

	if obs.failures != 2 || len(obs.errs) != 2 {
		t.Fatalf("expected 2 recorded failures, got %v (%d logs)", obs.failures, len(obs.errs))
	}
}
