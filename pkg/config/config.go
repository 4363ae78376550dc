// Package config provides YAML-based configuration loading for pipesync.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration, shared by the hub and the
// peer binaries.
type Config struct {
	// AppName optional logical name of the process
	AppName string `mapstructure:"app_name"`

	// DataDir base directory for persistent data (stats snapshots)
	DataDir string `mapstructure:"data_dir"`

	// Channel selects the local byte-stream channel the hub listens on and
	// peers dial.
	Channel ChannelConfig `mapstructure:"channel"`

	// Session holds the timing knobs of the connection layer.
	Session SessionConfig `mapstructure:"session"`

	// Ring configures the circular track the hub moves peers along.
	Ring RingConfig `mapstructure:"ring"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`
}

// ChannelConfig selects the transport kind and its well-known name.
type ChannelConfig struct {
	// Kind: unix, pipe, or mem
	Kind string `mapstructure:"kind"`
	// Name is the well-known channel name both sides agree on.
	Name string `mapstructure:"name"`
}

// SessionConfig defines the connection-layer timings, in milliseconds.
type SessionConfig struct {
	HandshakeTimeoutMS int `mapstructure:"handshake_timeout_ms"`
	AcceptBackoffMS    int `mapstructure:"accept_backoff_ms"`
	RetryDelayMS       int `mapstructure:"retry_delay_ms"`
	DialTimeoutMS      int `mapstructure:"dial_timeout_ms"`
	WriteTimeoutMS     int `mapstructure:"write_timeout_ms"`
}

// RingConfig describes the coordinate track driven by the hub.
type RingConfig struct {
	CenterX          float64 `mapstructure:"center_x"`
	CenterY          float64 `mapstructure:"center_y"`
	Radius           float64 `mapstructure:"radius"`
	Checkpoints      int     `mapstructure:"checkpoints"`
	PeriodMS         int     `mapstructure:"period_ms"`
	UpdateIntervalMS int     `mapstructure:"update_interval_ms"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "pipesync",
		DataDir: "./data",
		Channel: ChannelConfig{
			Kind: defaultChannelKind,
			Name: "pipesync",
		},
		Session: SessionConfig{
			HandshakeTimeoutMS: 5000,
			AcceptBackoffMS:    500,
			RetryDelayMS:       300,
			DialTimeoutMS:      2000,
			WriteTimeoutMS:     2000,
		},
		Ring: RingConfig{
			CenterX:          0,
			CenterY:          0,
			Radius:           100,
			Checkpoints:      12,
			PeriodMS:         30000,
			UpdateIntervalMS: 500,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/pipesync.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix PIPESYNC and `.`/`-` are replaced
// with `_`. Example: PIPESYNC_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PIPESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("channel.kind", cfg.Channel.Kind)
	v.SetDefault("channel.name", cfg.Channel.Name)
	v.SetDefault("session.handshake_timeout_ms", cfg.Session.HandshakeTimeoutMS)
	v.SetDefault("session.accept_backoff_ms", cfg.Session.AcceptBackoffMS)
	v.SetDefault("session.retry_delay_ms", cfg.Session.RetryDelayMS)
	v.SetDefault("session.dial_timeout_ms", cfg.Session.DialTimeoutMS)
	v.SetDefault("session.write_timeout_ms", cfg.Session.WriteTimeoutMS)
	v.SetDefault("ring.center_x", cfg.Ring.CenterX)
	v.SetDefault("ring.center_y", cfg.Ring.CenterY)
	v.SetDefault("ring.radius", cfg.Ring.Radius)
	v.SetDefault("ring.checkpoints", cfg.Ring.Checkpoints)
	v.SetDefault("ring.period_ms", cfg.Ring.PeriodMS)
	v.SetDefault("ring.update_interval_ms", cfg.Ring.UpdateIntervalMS)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("PIPESYNC_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `pipesync`
		v.SetConfigName("pipesync")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pipesync"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Channel.Kind = strings.ToLower(strings.TrimSpace(c.Channel.Kind))
	switch c.Channel.Kind {
	case "unix", "pipe", "mem":
		// ok
	default:
		return fmt.Errorf("invalid channel.kind: %q", c.Channel.Kind)
	}
	if strings.TrimSpace(c.Channel.Name) == "" {
		return errors.New("channel.name must not be empty")
	}

	if c.Session.HandshakeTimeoutMS <= 0 {
		c.Session.HandshakeTimeoutMS = 5000
	}
	if c.Session.AcceptBackoffMS <= 0 {
		c.Session.AcceptBackoffMS = 500
	}
	if c.Session.RetryDelayMS <= 0 {
		c.Session.RetryDelayMS = 300
	}
	if c.Session.DialTimeoutMS <= 0 {
		c.Session.DialTimeoutMS = 2000
	}
	if c.Session.WriteTimeoutMS <= 0 {
		c.Session.WriteTimeoutMS = 2000
	}

	if c.Ring.Radius <= 0 {
		return fmt.Errorf("ring.radius must be positive, got %v", c.Ring.Radius)
	}
	if c.Ring.Checkpoints < 0 {
		return fmt.Errorf("ring.checkpoints must not be negative, got %d", c.Ring.Checkpoints)
	}
	if c.Ring.PeriodMS <= 0 {
		return fmt.Errorf("ring.period_ms must be positive, got %d", c.Ring.PeriodMS)
	}
	if c.Ring.UpdateIntervalMS <= 0 {
		c.Ring.UpdateIntervalMS = 500
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
