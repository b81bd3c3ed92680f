package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPollInterval    = 1 * time.Second
	DefaultMaxBackoff      = 30 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
	DefaultMonitorInterval = 30 * time.Second
	DefaultLogLevel        = "info"
)

// Config is the top-level configuration file. The agent reads only the
// `agent:` section; the `server:` section belongs to the broker.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all consumer-side settings.
type AgentConfig struct {
	// BrokerEndpoint is the base URL of the broker's HTTP API,
	// e.g. "http://localhost:8000".
	BrokerEndpoint string `yaml:"broker_endpoint"`

	// PollInterval is the first wait after an empty pop. Waits double up to
	// MaxBackoff while the queue stays empty.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxBackoff caps the wait between pops.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// RequestTimeout bounds a single HTTP request to the broker.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MonitorInterval is how often the broker's /metrics is scraped to
	// derive health. 0 disables monitoring.
	MonitorInterval time.Duration `yaml:"monitor_interval"`

	Log LogConfig `yaml:"log"`
}

// LogConfig sets the agent log level: debug | info | warn | error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps Level to a slog.Level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("agent config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			PollInterval:    DefaultPollInterval,
			MaxBackoff:      DefaultMaxBackoff,
			RequestTimeout:  DefaultRequestTimeout,
			MonitorInterval: DefaultMonitorInterval,
			Log:             LogConfig{Level: DefaultLogLevel},
		},
	}
}

func validate(cfg *Config) error {
	a := cfg.Agent
	if a.BrokerEndpoint == "" {
		return fmt.Errorf("agent.broker_endpoint is required")
	}
	u, err := url.Parse(a.BrokerEndpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("agent.broker_endpoint %q must be an http(s) URL", a.BrokerEndpoint)
	}
	if a.PollInterval <= 0 {
		return fmt.Errorf("agent.poll_interval must be positive")
	}
	if a.MaxBackoff < a.PollInterval {
		return fmt.Errorf("agent.max_backoff (%v) must not be below poll_interval (%v)", a.MaxBackoff, a.PollInterval)
	}
	if a.RequestTimeout <= 0 {
		return fmt.Errorf("agent.request_timeout must be positive")
	}
	if a.MonitorInterval < 0 {
		return fmt.Errorf("agent.monitor_interval must not be negative")
	}
	switch strings.ToLower(a.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log.level: unknown level %q", a.Log.Level)
	}
	return nil
}
