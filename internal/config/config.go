package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/tradingiq/prediction-client/internal/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Reconnect     ReconnectConfig    `yaml:"reconnect"`
	Heartbeat     HeartbeatConfig    `yaml:"heartbeat"`
	Subscriptions SubscriptionConfig `yaml:"subscriptions"`
	Logging       logging.Config     `yaml:"logging"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Relay         RelayConfig        `yaml:"relay"`
}

type ServerConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// SendRate limits outbound messages per second. Zero disables limiting.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`
}

type ReconnectConfig struct {
	// MaxAttempts of zero retries forever.
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SubscriptionConfig struct {
	Predictions  []string `yaml:"predictions"`
	MarketData   []string `yaml:"market_data"`
	Alerts       bool     `yaml:"alerts"`
	SystemHealth bool     `yaml:"system_health"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type RelayConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

func Default() *Config {
	return &Config{
		Reconnect: ReconnectConfig{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Listen: ":9102",
			Path:   "/metrics",
		},
		Relay: RelayConfig{
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "realtime",
		},
	}
}

// Load reads an optional YAML file on top of the defaults, then applies
// variables from .env and the process environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REALTIME_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("REALTIME_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Relay.NATSURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("invalid server.url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported server.url scheme %q", u.Scheme)
	}

	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return errors.New("reconnect.max_delay must be at least reconnect.base_delay")
	}
	if c.Heartbeat.Interval <= 0 {
		return errors.New("heartbeat.interval must be positive")
	}
	if c.Heartbeat.Timeout < 0 {
		return errors.New("heartbeat.timeout must not be negative")
	}
	if c.Server.SendRate < 0 {
		return errors.New("server.send_rate must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Relay.Enabled && c.Relay.SubjectPrefix == "" {
		return errors.New("relay.subject_prefix is required when relay is enabled")
	}
	return nil
}
