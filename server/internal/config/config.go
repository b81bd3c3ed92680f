package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	// Interval is how often rules are evaluated against the store statistics.
	Interval time.Duration   `yaml:"interval"`
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "depth > 1000", "rejected_total >= 50",
	// "empty_pops_total > 100".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort       = 8000
	DefaultLogLevel       = "info"
	DefaultOrigin         = "https://messagequeue.netlify.app"
	DefaultRateLimit      = 50.0
	DefaultRateBurst      = 20
	DefaultRateCleanup    = 5 * time.Minute
	DefaultStreamInterval = 2 * time.Second
	DefaultAlertsInterval = 15 * time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket stream listen on (default 8000).
	HTTPPort int `yaml:"http_port"`

	Log       LogConfig       `yaml:"log"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Stream    StreamConfig    `yaml:"stream"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// LogConfig controls log verbosity.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel maps Level to a slog.Level. Unknown values fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CORSConfig controls cross-origin access to the HTTP API.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to call the API. "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowCredentials sets Access-Control-Allow-Credentials on responses.
	AllowCredentials bool `yaml:"allow_credentials"`
}

// RateLimitConfig controls per-client admission rate limiting.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// Rate is admissions per second per client.
	Rate float64 `yaml:"rate"`

	// Burst is the burst allowance per client.
	Burst int `yaml:"burst"`

	// CleanupInterval controls how often idle client limiters are dropped.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// TrustForwardedFor keys clients on the first X-Forwarded-For hop
	// instead of the connection's peer address. Enable only behind a proxy
	// that overwrites the header.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// StreamConfig controls the WebSocket queue stream.
type StreamConfig struct {
	// Interval between broadcasts. Zero disables the stream endpoint.
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Log:      LogConfig{Level: DefaultLogLevel},
			CORS: CORSConfig{
				AllowedOrigins:   []string{DefaultOrigin},
				AllowCredentials: true,
			},
			RateLimit: RateLimitConfig{
				Rate:            DefaultRateLimit,
				Burst:           DefaultRateBurst,
				CleanupInterval: DefaultRateCleanup,
			},
			Stream: StreamConfig{Interval: DefaultStreamInterval},
			Alerts: AlertsConfig{Interval: DefaultAlertsInterval},
		},
	}
}

// ConditionFields are the statistics an alert condition may compare.
var ConditionFields = []string{
	"depth",
	"admitted_total",
	"popped_total",
	"rejected_total",
	"empty_pops_total",
}

// ConditionOps are the comparison operators an alert condition may use.
var ConditionOps = []string{">", ">=", "<", "<=", "=="}

// validateCondition checks that cond has the form "field op value" with a
// known field, a known operator and a numeric value.
func validateCondition(cond string) error {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return fmt.Errorf("want \"field op value\"")
	}
	if !contains(ConditionFields, parts[0]) {
		return fmt.Errorf("unknown field %q: want one of %s", parts[0], strings.Join(ConditionFields, ", "))
	}
	if !contains(ConditionOps, parts[1]) {
		return fmt.Errorf("unknown operator %q: want one of %s", parts[1], strings.Join(ConditionOps, " "))
	}
	if _, err := strconv.ParseFloat(parts[2], 64); err != nil {
		return fmt.Errorf("value %q is not a number", parts[2])
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.Rate <= 0 {
			return fmt.Errorf("server.ratelimit.rate must be positive when enabled")
		}
		if s.RateLimit.Burst <= 0 {
			return fmt.Errorf("server.ratelimit.burst must be positive when enabled")
		}
		if s.RateLimit.CleanupInterval <= 0 {
			return fmt.Errorf("server.ratelimit.cleanup_interval must be positive when enabled")
		}
	}
	if s.Stream.Interval < 0 {
		return fmt.Errorf("server.stream.interval must not be negative")
	}
	if s.Alerts.Interval <= 0 && len(s.Alerts.Rules) > 0 {
		return fmt.Errorf("server.alerts.interval must be positive when rules are set")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d].name is required", i)
		}
		if err := validateCondition(r.Condition); err != nil {
			return fmt.Errorf("server.alerts.rules[%d].condition %q: %w", i, r.Condition, err)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d].type %q unknown: want slack|teams|http", i, w.Type)
		}
	}
	return nil
}
