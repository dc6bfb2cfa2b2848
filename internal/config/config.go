package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the root configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Session  SessionConfig  `mapstructure:"session"`
	Producer ProducerConfig `mapstructure:"producer"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds API server settings
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	Socket        string `mapstructure:"socket"` // IPC socket path, empty uses the default location
}

// SessionConfig holds state machine settings and the default test request
type SessionConfig struct {
	BufferSize          int    `mapstructure:"buffer_size"`           // Live chart samples per metric
	CompactBufferSize   int    `mapstructure:"compact_buffer_size"`   // Samples for compact charts
	IterationsPerMinute int    `mapstructure:"iterations_per_minute"` // Minute bucket size
	Strict              bool   `mapstructure:"strict"`                // Reject out-of-phase events
	Mode                string `mapstructure:"mode"`
	DurationMinutes     int    `mapstructure:"duration_minutes"`
	ServerID            string `mapstructure:"server_id"`
}

// ProducerConfig holds measurement settings
type ProducerConfig struct {
	Latency           string        `mapstructure:"latency"` // http, icmp or tcp
	Pings             int           `mapstructure:"pings"`
	ServerCount       int           `mapstructure:"server_count"` // Nearest servers pinged for auto-selection
	MaxConnections    int           `mapstructure:"max_connections"`
	SavingMode        bool          `mapstructure:"saving_mode"`
	IterationInterval time.Duration `mapstructure:"iteration_interval"`
	Timeout           time.Duration `mapstructure:"timeout"` // Per iteration
	DurationOptions   []int         `mapstructure:"duration_options"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults registers the default value of every key
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.socket", "")
	v.SetDefault("session.buffer_size", 50)
	v.SetDefault("session.compact_buffer_size", 30)
	v.SetDefault("session.iterations_per_minute", 12) // One iteration every 5s
	v.SetDefault("session.strict", false)
	v.SetDefault("session.mode", "single")
	v.SetDefault("session.duration_minutes", 5)
	v.SetDefault("session.server_id", "")
	v.SetDefault("producer.latency", "http")
	v.SetDefault("producer.pings", 10)
	v.SetDefault("producer.server_count", 5)
	v.SetDefault("producer.max_connections", 4)
	v.SetDefault("producer.saving_mode", false)
	v.SetDefault("producer.iteration_interval", "5s")
	v.SetDefault("producer.timeout", "2m")
	v.SetDefault("producer.duration_options", []int{5, 15, 30, 60})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Default returns the configuration with every default applied
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults always validate
		panic(err)
	}
	return cfg
}

// Load reads configuration from the specified file. An empty path uses
// defaults and environment variables only (prefix SPEEDPULSE_).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SPEEDPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for required fields and valid values
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	if c.Session.BufferSize < 1 || c.Session.BufferSize > 10000 {
		return fmt.Errorf("session.buffer_size must be between 1 and 10000")
	}
	if c.Session.CompactBufferSize < 1 || c.Session.CompactBufferSize > c.Session.BufferSize {
		return fmt.Errorf("session.compact_buffer_size must be between 1 and session.buffer_size")
	}
	if c.Session.IterationsPerMinute < 1 {
		return fmt.Errorf("session.iterations_per_minute must be positive")
	}
	switch c.Session.Mode {
	case "single":
	case "continuous":
		if c.Session.DurationMinutes <= 0 {
			return fmt.Errorf("session.duration_minutes must be positive for continuous mode")
		}
	default:
		return fmt.Errorf("session.mode must be 'single' or 'continuous', got %q", c.Session.Mode)
	}
	if c.Session.DurationMinutes < 0 {
		return fmt.Errorf("session.duration_minutes must not be negative")
	}

	switch c.Producer.Latency {
	case "http", "icmp", "tcp":
	default:
		return fmt.Errorf("producer.latency must be 'http', 'icmp' or 'tcp', got %q", c.Producer.Latency)
	}
	if c.Producer.Pings < 1 || c.Producer.Pings > 100 {
		return fmt.Errorf("producer.pings must be between 1 and 100")
	}
	if c.Producer.ServerCount < 1 {
		return fmt.Errorf("producer.server_count must be positive")
	}
	if c.Producer.MaxConnections < 1 || c.Producer.MaxConnections > 64 {
		return fmt.Errorf("producer.max_connections must be between 1 and 64")
	}
	if c.Producer.IterationInterval < 0 {
		return fmt.Errorf("producer.iteration_interval must not be negative")
	}
	if c.Producer.Timeout <= 0 {
		return fmt.Errorf("producer.timeout must be positive")
	}
	for _, d := range c.Producer.DurationOptions {
		if d <= 0 {
			return fmt.Errorf("producer.duration_options must be positive, got %d", d)
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", c.Logging.Format)
	}

	return nil
}
