package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the complete bridge configuration, loaded from BRIDGE_*
// environment variables.
type Config struct {
	Server     ServerConfig
	Process    ProcessConfig
	Session    SessionConfig
	Buffer     BufferConfig
	Chunker    ChunkerConfig
	Classifier ClassifierConfig
	Webhook    WebhookConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP and gRPC listener configuration.
type ServerConfig struct {
	Port     string `envconfig:"PORT" default:"8000"`
	Host     string `envconfig:"HOST" default:"0.0.0.0"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"50052"`
	MaxConns int    `envconfig:"MAX_CONNS" default:"256"`
}

// ProcessConfig holds the managed child process configuration.
type ProcessConfig struct {
	Command    string `envconfig:"PROCESS_COMMAND" default:"claude"`
	Args       string `envconfig:"PROCESS_ARGS" default:""`
	WorkingDir string `envconfig:"PROCESS_WORKDIR" default:"/workspace"`
	UsePTY     bool   `envconfig:"PROCESS_PTY" default:"false"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	Timeout           time.Duration `envconfig:"SESSION_TIMEOUT" default:"1h"`
	CleanupInterval   time.Duration `envconfig:"SESSION_CLEANUP_INTERVAL" default:"5m"`
	MaxCommandHistory int           `envconfig:"SESSION_MAX_HISTORY" default:"100"`
	MaxOutputHistory  int           `envconfig:"SESSION_MAX_OUTPUT" default:"50"`
	// Comma-separated doublestar globs; empty allows any directory.
	AllowedWorkdirs string `envconfig:"SESSION_ALLOWED_WORKDIRS" default:""`
}

// BufferConfig holds output buffering configuration.
type BufferConfig struct {
	Strategy           string        `envconfig:"BUFFER_STRATEGY" default:"smart"`
	FlushInterval      time.Duration `envconfig:"BUFFER_FLUSH_INTERVAL" default:"2s"`
	MaxBufferSize      int           `envconfig:"BUFFER_MAX_SIZE" default:"50"`
	PendingThreshold   int           `envconfig:"BUFFER_PENDING_THRESHOLD" default:"20"`
	BurstThreshold     int           `envconfig:"BUFFER_BURST_THRESHOLD" default:"5"`
	BurstWindow        time.Duration `envconfig:"BUFFER_BURST_WINDOW" default:"2s"`
	CollapseDuplicates bool          `envconfig:"BUFFER_COLLAPSE_DUPLICATES" default:"false"`
}

// ChunkerConfig holds transport chunking limits.
type ChunkerConfig struct {
	TransportLimit int `envconfig:"CHUNK_TRANSPORT_LIMIT" default:"2000"`
	WorkingLimit   int `envconfig:"CHUNK_WORKING_LIMIT" default:"1900"`
}

// ClassifierConfig holds line classification configuration.
type ClassifierConfig struct {
	// RulesFile points to an optional YAML keyword-rules file.
	RulesFile string `envconfig:"CLASSIFIER_RULES" default:""`
	// ScriptFile points to an optional JavaScript classifier.
	ScriptFile string `envconfig:"CLASSIFIER_SCRIPT" default:""`
}

// WebhookConfig holds the optional webhook delivery sink configuration.
type WebhookConfig struct {
	Enabled      bool          `envconfig:"WEBHOOK_ENABLED" default:"false"`
	URL          string        `envconfig:"WEBHOOK_URL" default:""`
	MinInterval  time.Duration `envconfig:"WEBHOOK_MIN_INTERVAL" default:"500ms"`
	Timeout      time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxRetries   int           `envconfig:"WEBHOOK_MAX_RETRIES" default:"3"`
	SanitizeHTML bool          `envconfig:"WEBHOOK_SANITIZE_HTML" default:"false"`
}

// LogConfig selects log level and encoder mode.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("bridge", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads configuration from the environment, falling back
// to defaults when loading fails.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the built-in configuration used when the environment
// provides nothing.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     "8000",
			Host:     "0.0.0.0",
			GRPCPort: "50052",
			MaxConns: 256,
		},
		Process: ProcessConfig{
			Command:    "claude",
			WorkingDir: "/workspace",
		},
		Session: SessionConfig{
			Timeout:           time.Hour,
			CleanupInterval:   5 * time.Minute,
			MaxCommandHistory: 100,
			MaxOutputHistory:  50,
		},
		Buffer: BufferConfig{
			Strategy:         "smart",
			FlushInterval:    2 * time.Second,
			MaxBufferSize:    50,
			PendingThreshold: 20,
			BurstThreshold:   5,
			BurstWindow:      2 * time.Second,
		},
		Chunker: ChunkerConfig{
			TransportLimit: 2000,
			WorkingLimit:   1900,
		},
		Webhook: WebhookConfig{
			MinInterval: 500 * time.Millisecond,
			Timeout:     10 * time.Second,
			MaxRetries:  3,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}

// ProcessArgs splits the configured argument string.
func (c ProcessConfig) ProcessArgs() []string {
	if strings.TrimSpace(c.Args) == "" {
		return nil
	}
	return strings.Fields(c.Args)
}

// WorkdirGlobs splits the allowlist into individual glob patterns.
func (c SessionConfig) WorkdirGlobs() []string {
	if strings.TrimSpace(c.AllowedWorkdirs) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedWorkdirs, ",")
	globs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			globs = append(globs, p)
		}
	}
	return globs
}

// Validate checks configuration consistency, collecting every violation.
func (c *Config) Validate() error {
	var errs []string

	if c.Process.Command == "" {
		errs = append(errs, "process command is required")
	}
	if c.Session.Timeout <= 0 {
		errs = append(errs, "session timeout must be positive")
	}
	if c.Session.CleanupInterval <= 0 {
		errs = append(errs, "cleanup interval must be positive")
	}
	if c.Buffer.FlushInterval <= 0 {
		errs = append(errs, "flush interval must be positive")
	}
	if c.Chunker.WorkingLimit <= 0 || c.Chunker.TransportLimit <= 0 {
		errs = append(errs, "chunk limits must be positive")
	}
	if c.Chunker.WorkingLimit > c.Chunker.TransportLimit {
		errs = append(errs, "working limit cannot exceed transport limit")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		errs = append(errs, "webhook enabled but no URL configured")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
