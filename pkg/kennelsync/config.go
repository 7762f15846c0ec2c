package kennelsync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pawsuite/kennelsync/internal/opstore"
)

// Config is the complete client configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	Fanout       FanoutConfig       `yaml:"fanout"`
	Replay       ReplayConfig       `yaml:"replay"`
	DeadLetter   DeadLetterConfig   `yaml:"dead_letter"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
}

// StoreConfig selects and configures the durable operation store backend.
type StoreConfig struct {
	Type      string `yaml:"type"`
	Namespace string `yaml:"namespace"`

	// Redis backend.
	Endpoints    []string      `yaml:"endpoints"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// DynamoDB backend.
	Region          string `yaml:"region"`
	TableName       string `yaml:"table_name"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// MySQL backend.
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Database          string        `yaml:"database"`
	Username          string        `yaml:"username"`
	MaxOpenConns      int           `yaml:"max_open_conns"`
	MaxIdleConns      int           `yaml:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// RealtimeConfig configures the live event channel.
type RealtimeConfig struct {
	// Enabled gates the whole realtime layer. A disabled client still queues
	// and replays; it just never receives pushes.
	Enabled bool `yaml:"enabled"`

	// WebSocketURL is the primary channel endpoint.
	WebSocketURL string `yaml:"websocket_url"`

	// SSEURL is the fallback event stream endpoint.
	SSEURL string `yaml:"sse_url"`

	// TenantID and Token are appended to the channel URLs as query
	// parameters; the server scopes and authorizes the stream with them.
	TenantID string `yaml:"tenant_id"`
	Token    string `yaml:"token"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// FanoutConfig configures the cross-process event relay.
type FanoutConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// TenantID scopes the relay channel so co-hosted tenants never see each
	// other's events.
	TenantID string `yaml:"tenant_id"`
}

// ReplayConfig configures the queue drain behavior.
type ReplayConfig struct {
	// RatePerSecond paces replays. Zero disables pacing.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	// MaxAttempts evicts an operation to the dead-letter sink after this many
	// failed passes. Zero keeps operations queued forever.
	MaxAttempts int `yaml:"max_attempts"`

	// DrainInterval is the background retry period.
	DrainInterval time.Duration `yaml:"drain_interval"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DeadLetterConfig configures the Kafka sink for evicted operations.
type DeadLetterConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ConnectivityConfig configures the reachability monitor.
type ConnectivityConfig struct {
	// ProbeURL is polled with HEAD requests. Empty disables polling; the
	// host then drives state via SetOnline.
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// DefaultConfig returns a configuration suitable for local development: an
// in-memory store, realtime disabled and no pacing.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Type:      "memory",
			Namespace: "kennelsync",
		},
		Replay: ReplayConfig{
			RatePerSecond:  10,
			Burst:          1,
			DrainInterval:  30 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 10 * time.Second,
		},
	}
}

// LoadConfig reads a YAML configuration file, applying defaults for any
// omitted section.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the backend factories cannot see.
func (c *Config) Validate() error {
	if c.Store.Type == "" {
		return fmt.Errorf("store.type is required")
	}
	if c.Realtime.Enabled && c.Realtime.WebSocketURL == "" && c.Realtime.SSEURL == "" {
		return fmt.Errorf("realtime.enabled requires websocket_url or sse_url")
	}
	if c.Fanout.Enabled && c.Fanout.Endpoint == "" {
		return fmt.Errorf("fanout.enabled requires an endpoint")
	}
	if c.DeadLetter.Enabled {
		if len(c.DeadLetter.Brokers) == 0 {
			return fmt.Errorf("dead_letter.enabled requires brokers")
		}
		if c.DeadLetter.Topic == "" {
			return fmt.Errorf("dead_letter.enabled requires a topic")
		}
	}
	if c.Replay.MaxAttempts < 0 {
		return fmt.Errorf("replay.max_attempts cannot be negative")
	}
	return nil
}

func (s StoreConfig) toOpstoreConfig() opstore.Config {
	return opstore.Config{
		Type:              s.Type,
		Namespace:         s.Namespace,
		Endpoints:         s.Endpoints,
		Password:          s.Password,
		DB:                s.DB,
		PoolSize:          s.PoolSize,
		MinIdleConns:      s.MinIdleConns,
		DialTimeout:       s.DialTimeout,
		ReadTimeout:       s.ReadTimeout,
		WriteTimeout:      s.WriteTimeout,
		Region:            s.Region,
		TableName:         s.TableName,
		Endpoint:          s.Endpoint,
		AccessKeyID:       s.AccessKeyID,
		SecretAccessKey:   s.SecretAccessKey,
		Host:              s.Host,
		Port:              s.Port,
		Database:          s.Database,
		Username:          s.Username,
		MaxOpenConns:      s.MaxOpenConns,
		MaxIdleConns:      s.MaxIdleConns,
		ConnMaxLifetime:   s.ConnMaxLifetime,
		ConnectionTimeout: s.ConnectionTimeout,
	}
}
