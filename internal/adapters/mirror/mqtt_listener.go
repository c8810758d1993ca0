package mirror

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

type MQTTConfig struct {
	Broker   string        `yaml:"broker" toml:"broker"`
	ClientID string        `yaml:"client_id" toml:"client_id"`
	Username string        `yaml:"username" toml:"username"`
	Password string        `yaml:"password" toml:"password"`
	Topic    string        `yaml:"topic" toml:"topic"`
	QoS      byte          `yaml:"qos" toml:"qos"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
}

func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

func (c *MQTTConfig) ApplyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "mondon-speed"
	}
	if c.Topic == "" {
		c.Topic = "mondon/speed"
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
}

func (c *MQTTConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2")
	}
	return nil
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type speedPayload struct {
	TimestampMillis uint64 `json:"ts"`
	Speed           uint32 `json:"speed"`
}

// MQTTListener publishes every new reading as a small JSON document.
type MQTTListener struct {
	cfg     MQTTConfig
	pub     publisher
	closeFn func()
	obs     ports.Observability
}

// NewMQTTListener connects to the broker. paho reconnects on its own after
// the first successful connect.
func NewMQTTListener(cfg MQTTConfig, obs ports.Observability) (*MQTTListener, error) {
	cfg.ApplyDefaults()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		obs.LogError("mqtt_connection_lost", err, ports.Field{Key: "component", Value: "MIRROR"})
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", cfg.Broker, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	l := newMQTTListener(cfg, client, obs)
	l.closeFn = func() { client.Disconnect(250) }
	return l, nil
}

func newMQTTListener(cfg MQTTConfig, pub publisher, obs ports.Observability) *MQTTListener {
	cfg.ApplyDefaults()
	return &MQTTListener{cfg: cfg, pub: pub, obs: obs}
}

func (l *MQTTListener) Name() string { return "mqtt" }

func (l *MQTTListener) HandleEvent(e domain.Event) {
	if e.Kind != domain.EventNewReading {
		return
	}
	payload, err := json.Marshal(speedPayload{TimestampMillis: e.Reading.TimestampMillis, Speed: e.Reading.Speed})
	if err != nil {
		l.fail(err)
		return
	}
	token := l.pub.Publish(l.cfg.Topic, l.cfg.QoS, false, payload)
	if !token.WaitTimeout(l.cfg.Timeout) {
		l.fail(fmt.Errorf("publish to %s timed out", l.cfg.Topic))
		return
	}
	if err := token.Error(); err != nil {
		l.fail(err)
	}
}

func (l *MQTTListener) fail(err error) {
	l.obs.IncCounter("mondon_mirror_failures_total", 1)
	l.obs.LogError("mqtt_publish_failed", err,
		ports.Field{Key: "component", Value: "MIRROR"},
		ports.Field{Key: "topic", Value: l.cfg.Topic})
}

func (l *MQTTListener) Close() error {
	if l.closeFn != nil {
		l.closeFn()
	}
	return nil
}
