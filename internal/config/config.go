package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Auth modes for the HTTP API.
const (
	AuthNone   = "none"
	AuthAPIKey = "api-key"
	AuthJWT    = "jwt"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	DBPath string `envconfig:"DB_PATH" default:"opsdesk.db"`

	// HTTP API
	ListenAddr     string `envconfig:"LISTEN_ADDR" default:":8090"`
	AuthMode       string `envconfig:"AUTH_MODE" default:"api-key"`
	APIKey         string `envconfig:"API_KEY"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	WebhookSecret  string `envconfig:"WEBHOOK_SECRET"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"200"`
	TLSCert        string `envconfig:"TLS_CERT"`
	TLSKey         string `envconfig:"TLS_KEY"`

	// Policy thresholds (YAML); missing file means defaults
	PolicyFile string `envconfig:"POLICY_FILE" default:"policy.yaml"`

	// Agents: comma-separated "key=url" pairs
	AgentWebhooks       string        `envconfig:"AGENT_WEBHOOKS"`
	AgentTriggerTimeout time.Duration `envconfig:"AGENT_TRIGGER_TIMEOUT" default:"15s"`

	// Slack escalation notices (optional)
	SlackBotToken          string `envconfig:"SLACK_BOT_TOKEN"`
	SlackEscalationChannel string `envconfig:"SLACK_ESCALATION_CHANNEL"`

	// Redis event relay (optional; without it events stay in-process)
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisChannel  string `envconfig:"REDIS_CHANNEL" default:"opsdesk:events"`

	// Per-subscriber event buffer for the SSE stream
	EventBuffer int `envconfig:"EVENT_BUFFER" default:"64"`
}

// SlackEnabled returns true if escalation notices should go to Slack.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackEscalationChannel != ""
}

// RedisEnabled returns true if the cross-instance event relay is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// IsDevelopment reports whether console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate checks combinations envconfig cannot express.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case AuthNone:
	case AuthAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("AUTH_MODE=api-key requires API_KEY")
		}
	case AuthJWT:
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET of at least 32 bytes")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q (want none, api-key or jwt)", c.AuthMode)
	}
	if c.AgentTriggerTimeout <= 0 {
		return fmt.Errorf("AGENT_TRIGGER_TIMEOUT must be positive")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}
	return nil
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
