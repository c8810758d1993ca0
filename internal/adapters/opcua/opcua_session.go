package opcua

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/Audric-Dune/mondon-server/internal/adapters/codec"
	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

const readCommand = "OPCUA_READ"

// ErrNotConnected is returned by RequestSpeed before a successful Connect.
var ErrNotConnected = errors.New("opcua: session not connected")

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	Username        string `yaml:"username" toml:"username"`
	Password        string `yaml:"password" toml:"password"`
	SecurityMode    string `yaml:"security_mode" toml:"security_mode"`
	SecurityPolicy  string `yaml:"security_policy" toml:"security_policy"`
	ApplicationName string `yaml:"application_name" toml:"application_name"`
	// NodeID is the variable holding the speed, e.g. "ns=2;s=Mondon.Speed".
	NodeID string `yaml:"node_id" toml:"node_id"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "Mondon Speed"
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.NodeID == "" {
		return errors.New("node_id is required")
	}
	if _, err := ua.ParseNodeID(c.NodeID); err != nil {
		return fmt.Errorf("node_id %q: %w", c.NodeID, err)
	}
	return nil
}

// Session reads the speed from a single OPC UA variable. The handshake is a
// first read of that variable.
type Session struct {
	cfg         Config
	nodeID      *ua.NodeID
	readTimeout time.Duration
	obs         ports.Observability

	client *opcua.Client
	state  domain.SessionState
}

func NewSession(cfg Config, readTimeout time.Duration, obs ports.Observability) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nodeID, err := ua.ParseNodeID(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("parse node id %q: %w", cfg.NodeID, err)
	}
	return &Session{
		cfg:         cfg,
		nodeID:      nodeID,
		readTimeout: readTimeout,
		obs:         obs,
	}, nil
}

func (s *Session) Name() string { return "opcua" }

func (s *Session) Connect(ctx context.Context) error {
	_ = s.Close()

	client, err := opcua.NewClient(s.cfg.Endpoint, s.buildClientOptions()...)
	if err != nil {
		return &domain.ConnectionError{Addr: s.cfg.Endpoint, Err: fmt.Errorf("opcua new client: %w", err)}
	}
	if err := client.Connect(ctx); err != nil {
		return &domain.ConnectionError{Addr: s.cfg.Endpoint, Err: fmt.Errorf("opcua connect: %w", err)}
	}
	s.client = client

	if _, err := s.read(ctx); err != nil {
		_ = s.Close()
		return &domain.ConnectionError{Addr: s.cfg.Endpoint, Err: err}
	}

	s.state = domain.Connected
	s.obs.LogInfo("controller_connected",
		ports.Field{Key: "addr", Value: s.cfg.Endpoint},
		ports.Field{Key: "node_id", Value: s.cfg.NodeID})
	return nil
}

func (s *Session) RequestSpeed(ctx context.Context) (uint32, error) {
	if s.state != domain.Connected || s.client == nil {
		return 0, &domain.ProtocolError{Command: readCommand, Err: ErrNotConnected}
	}
	speed, err := s.read(ctx)
	if err != nil {
		_ = s.Close()
		return 0, &domain.ProtocolError{Command: readCommand, Err: err}
	}
	return speed, nil
}

func (s *Session) Close() error {
	client := s.client
	s.client = nil
	s.state = domain.Disconnected
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Session) read(ctx context.Context) (uint32, error) {
	if s.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.readTimeout)
		defer cancel()
	}

	req := &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: s.nodeID, AttributeID: ua.AttributeIDValue},
		},
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	}
	resp, err := s.client.Read(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", s.cfg.NodeID, err)
	}
	if resp == nil || len(resp.Results) == 0 {
		return 0, codec.ErrEmptyResponse
	}
	res := resp.Results[0]
	if res.Status != ua.StatusOK {
		return 0, fmt.Errorf("read %s failed: %s", s.cfg.NodeID, res.Status)
	}
	if res.Value == nil {
		return 0, codec.ErrEmptyResponse
	}
	return variantToSpeed(res.Value.Value())
}

func (s *Session) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(s.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(s.cfg.SecurityPolicy)),
		opcua.ApplicationName(s.cfg.ApplicationName),
		opcua.AutoReconnect(false),
	}
	if s.readTimeout > 0 {
		opts = append(opts, opcua.RequestTimeout(s.readTimeout))
	}

	if s.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(s.cfg.Username, s.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

// variantToSpeed accepts any numeric variant that fits an unsigned 32-bit
// speed. Fractions are truncated.
func variantToSpeed(v any) (uint32, error) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, codec.ErrEmptyResponse
	case float32:
		f = float64(val)
	case float64:
		f = val
	case int8:
		f = float64(val)
	case uint8:
		f = float64(val)
	case int16:
		f = float64(val)
	case uint16:
		f = float64(val)
	case int32:
		f = float64(val)
	case uint32:
		return val, nil
	case int64:
		f = float64(val)
	case uint64:
		f = float64(val)
	default:
		return 0, fmt.Errorf("unsupported speed type %T", v)
	}
	if math.IsNaN(f) || f < 0 || f > math.MaxUint32 {
		return 0, fmt.Errorf("speed %v out of range", f)
	}
	return uint32(f), nil
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.ControllerSession = (*Session)(nil)
