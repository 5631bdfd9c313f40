// Package config provides configuration management for cpcbridge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// MaxPayloadCeiling is the hard upper bound on a single protocol payload.
// Configuration may lower it but never raise it.
const MaxPayloadCeiling = 1024 * 1024

// Default configuration values.
const (
	defaultStalenessBudget   = 40 * time.Millisecond
	defaultStallTimeout      = 200 * time.Millisecond
	defaultKeyframeRetries   = 3
	defaultWatchdogInterval  = 50 * time.Millisecond
	defaultAudioBufferSize   = 256 * 1024
	defaultAudioMinPayload   = 64
	minAudioPayloadFloor     = 5
	defaultDrainGrace        = 500 * time.Millisecond
	defaultProgressInterval  = 500 * time.Millisecond
	defaultServerPort        = 8490
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 10
	defaultMaxIdleConns      = 5
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultProtocolReadChunk = 16 * 1024
)

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Video    VideoConfig    `mapstructure:"video"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Replay   ReplayConfig   `mapstructure:"replay"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ProtocolConfig holds framing configuration.
type ProtocolConfig struct {
	// MaxPayloadSize caps the declared payload length of a single message.
	// Supports human-readable values like "512KB"; never above 1MiB.
	MaxPayloadSize ByteSize `mapstructure:"max_payload_size"`
	// ReadChunkSize is the buffered reader size wrapped around the transport.
	ReadChunkSize ByteSize `mapstructure:"read_chunk_size"`
}

// VideoConfig holds video admission and decoder discipline configuration.
type VideoConfig struct {
	StalenessBudget    time.Duration `mapstructure:"staleness_budget"`
	StallTimeout       time.Duration `mapstructure:"stall_timeout"`
	KeyframeRetries    int           `mapstructure:"keyframe_retries"`
	WatchdogInterval   time.Duration `mapstructure:"watchdog_interval"`
	CacheParameterSets bool          `mapstructure:"cache_parameter_sets"` // prepend cached SPS/PPS to bare IDRs
}

// AudioConfig holds audio ring buffer configuration.
type AudioConfig struct {
	// BufferSize is the ring capacity per logical channel.
	BufferSize ByteSize `mapstructure:"buffer_size"`
	// MinPayload is the PCM floor in bytes; shorter payloads are dropped.
	// Tails of 1 and 4 bytes are audio control messages, so the floor must
	// sit above them.
	MinPayload int    `mapstructure:"min_payload"`
	FillMode   string `mapstructure:"fill_mode"` // silence, repeat
}

// ReplayConfig holds capture replay configuration.
type ReplayConfig struct {
	DrainGrace       time.Duration `mapstructure:"drain_grace"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	Loop             bool          `mapstructure:"loop"`
}

// ServerConfig holds the status HTTP server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds the capture catalog database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CPCBRIDGE_ and use underscores for nesting.
// Example: CPCBRIDGE_VIDEO_STALL_TIMEOUT=250ms.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/cpcbridge")
		v.AddConfigPath("$HOME/.cpcbridge")
	}

	v.SetEnvPrefix("CPCBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	return FromViper(v)
}

// FromViper decodes and validates a configuration from an already
// populated Viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeHook returns the mapstructure hooks needed for ByteSize and
// time.Duration fields.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339Nano)

	// Protocol defaults
	v.SetDefault("protocol.max_payload_size", MaxPayloadCeiling)
	v.SetDefault("protocol.read_chunk_size", defaultProtocolReadChunk)

	// Video defaults
	v.SetDefault("video.staleness_budget", defaultStalenessBudget)
	v.SetDefault("video.stall_timeout", defaultStallTimeout)
	v.SetDefault("video.keyframe_retries", defaultKeyframeRetries)
	v.SetDefault("video.watchdog_interval", defaultWatchdogInterval)
	v.SetDefault("video.cache_parameter_sets", true)

	// Audio defaults
	v.SetDefault("audio.buffer_size", defaultAudioBufferSize)
	v.SetDefault("audio.min_payload", defaultAudioMinPayload)
	v.SetDefault("audio.fill_mode", "silence")

	// Replay defaults
	v.SetDefault("replay.drain_grace", defaultDrainGrace)
	v.SetDefault("replay.progress_interval", defaultProgressInterval)
	v.SetDefault("replay.loop", false)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "cpcbridge.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "cpcbridge")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Protocol validation
	if c.Protocol.MaxPayloadSize < 1 || c.Protocol.MaxPayloadSize > MaxPayloadCeiling {
		return fmt.Errorf("protocol.max_payload_size must be between 1 and %s", ByteSize(MaxPayloadCeiling))
	}
	if c.Protocol.ReadChunkSize < 16 {
		return fmt.Errorf("protocol.read_chunk_size must be at least 16 bytes")
	}

	// Video validation
	if c.Video.StalenessBudget <= 0 {
		return fmt.Errorf("video.staleness_budget must be positive")
	}
	if c.Video.StallTimeout <= 0 {
		return fmt.Errorf("video.stall_timeout must be positive")
	}
	if c.Video.KeyframeRetries < 0 {
		return fmt.Errorf("video.keyframe_retries must not be negative")
	}
	if c.Video.WatchdogInterval <= 0 || c.Video.WatchdogInterval > c.Video.StallTimeout {
		return fmt.Errorf("video.watchdog_interval must be positive and no longer than video.stall_timeout")
	}

	// Audio validation
	if c.Audio.BufferSize < 1024 {
		return fmt.Errorf("audio.buffer_size must be at least 1KB")
	}
	if c.Audio.MinPayload < minAudioPayloadFloor {
		return fmt.Errorf("audio.min_payload must be at least %d", minAudioPayloadFloor)
	}
	validFill := map[string]bool{"silence": true, "repeat": true}
	if !validFill[c.Audio.FillMode] {
		return fmt.Errorf("audio.fill_mode must be one of: silence, repeat")
	}

	// Replay validation
	if c.Replay.DrainGrace < 0 {
		return fmt.Errorf("replay.drain_grace must not be negative")
	}
	if c.Replay.ProgressInterval <= 0 {
		return fmt.Errorf("replay.progress_interval must be positive")
	}

	// Server validation
	const maxPort = 65535
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > maxPort) {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Default returns the configuration built purely from defaults.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := FromViper(v)
	if err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}
