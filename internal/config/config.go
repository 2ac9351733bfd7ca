package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	API        APIConfig        `mapstructure:"api"`
	Tracking   TrackingConfig   `mapstructure:"tracking"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig defines the local listeners
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	ControlPort int    `mapstructure:"control_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// APIConfig defines how the collaborator API is reached
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout string `mapstructure:"timeout"`
	Offline bool   `mapstructure:"offline"`
}

// UseMemory reports whether the in-process backend should stand in for the
// remote API.
func (a APIConfig) UseMemory() bool {
	return a.Offline || a.BaseURL == ""
}

// TrackingConfig defines the session clock, sampler and checkpoint cadence
type TrackingConfig struct {
	MaxSessionDuration     string  `mapstructure:"max_session_duration"`
	TickInterval           string  `mapstructure:"tick_interval"`
	SampleInterval         string  `mapstructure:"sample_interval"`
	CheckpointInterval     string  `mapstructure:"checkpoint_interval"`
	PointerFactor          float64 `mapstructure:"pointer_factor"`
	KeyFactor              float64 `mapstructure:"key_factor"`
	ProductivityThresholds []int   `mapstructure:"productivity_thresholds"`
	ReportTimeout          string  `mapstructure:"report_timeout"`
}

// SimulationConfig defines the simulated input source
type SimulationConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	PointerEventsPerMinute int  `mapstructure:"pointer_events_per_minute"`
	KeyEventsPerMinute     int  `mapstructure:"key_events_per_minute"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("KTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by defaults alone.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.control_port", 8787)
	v.SetDefault("server.metrics_port", 9097)

	// Collaborator API defaults
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.offline", true)

	// Tracking defaults
	v.SetDefault("tracking.max_session_duration", "24h")
	v.SetDefault("tracking.tick_interval", "1s")
	v.SetDefault("tracking.sample_interval", "10s")
	v.SetDefault("tracking.checkpoint_interval", "600s")
	v.SetDefault("tracking.pointer_factor", 2.0)
	v.SetDefault("tracking.key_factor", 5.0)
	v.SetDefault("tracking.productivity_thresholds", []int{20, 40, 60, 80})
	v.SetDefault("tracking.report_timeout", "10s")

	// Simulation defaults
	v.SetDefault("simulation.enabled", true)
	v.SetDefault("simulation.pointer_events_per_minute", 45)
	v.SetDefault("simulation.key_events_per_minute", 18)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/ktrack/ktrack.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// ValidKeys returns the set of recognised configuration keys
func ValidKeys() map[string]bool {
	return map[string]bool{
		// Server
		"server.bind_address": true,
		"server.control_port": true,
		"server.metrics_port": true,

		// Collaborator API
		"api.base_url": true,
		"api.timeout":  true,
		"api.offline":  true,

		// Tracking
		"tracking.max_session_duration":    true,
		"tracking.tick_interval":           true,
		"tracking.sample_interval":         true,
		"tracking.checkpoint_interval":     true,
		"tracking.pointer_factor":          true,
		"tracking.key_factor":              true,
		"tracking.productivity_thresholds": true,
		"tracking.report_timeout":          true,

		// Simulation
		"simulation.enabled":                   true,
		"simulation.pointer_events_per_minute": true,
		"simulation.key_events_per_minute":     true,

		// Storage
		"storage.type":                 true,
		"storage.path":                 true,
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,

		// Logging
		"logging.level":  true,
		"logging.format": true,
	}
}

// FindUnknownKeys reads the config file and returns keys not in ValidKeys
func FindUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	valid := ValidKeys()
	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	// Validate ports
	if cfg.Server.ControlPort <= 0 || cfg.Server.ControlPort > 65535 {
		return fmt.Errorf("invalid control port: %d", cfg.Server.ControlPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	// Validate collaborator API
	if !cfg.API.UseMemory() && !strings.HasPrefix(cfg.API.BaseURL, "http://") && !strings.HasPrefix(cfg.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be an http(s) URL: %q", cfg.API.BaseURL)
	}
	if _, err := positiveDuration("api.timeout", cfg.API.Timeout); err != nil {
		return err
	}

	// Validate tracking cadence
	t := cfg.Tracking
	if _, err := positiveDuration("tracking.max_session_duration", t.MaxSessionDuration); err != nil {
		return err
	}
	tick, err := positiveDuration("tracking.tick_interval", t.TickInterval)
	if err != nil {
		return err
	}
	if _, err := positiveDuration("tracking.sample_interval", t.SampleInterval); err != nil {
		return err
	}
	checkpoint, err := positiveDuration("tracking.checkpoint_interval", t.CheckpointInterval)
	if err != nil {
		return err
	}
	if checkpoint < tick {
		return fmt.Errorf("tracking.checkpoint_interval (%s) must not be shorter than tracking.tick_interval (%s)", checkpoint, tick)
	}
	if _, err := positiveDuration("tracking.report_timeout", t.ReportTimeout); err != nil {
		return err
	}
	if t.PointerFactor <= 0 || t.KeyFactor <= 0 {
		return fmt.Errorf("activity factors must be positive (pointer=%v, key=%v)", t.PointerFactor, t.KeyFactor)
	}
	if err := validateThresholds(t.ProductivityThresholds); err != nil {
		return err
	}

	// Validate simulation rates
	if cfg.Simulation.PointerEventsPerMinute < 0 || cfg.Simulation.KeyEventsPerMinute < 0 {
		return fmt.Errorf("simulation rates must not be negative")
	}

	// Validate storage
	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	case "none":
	default:
		return fmt.Errorf("unknown storage type: %q", cfg.Storage.Type)
	}

	// Validate logging
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging format: %q", cfg.Logging.Format)
	}

	return nil
}

func positiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, value)
	}
	return d, nil
}

func validateThresholds(t []int) error {
	if len(t) != 4 {
		return fmt.Errorf("tracking.productivity_thresholds needs 4 values, got %d", len(t))
	}
	prev := 0
	for i, v := range t {
		if v <= prev || v > 100 {
			return fmt.Errorf("tracking.productivity_thresholds[%d] (%d) must be greater than %d and at most 100", i, v, prev)
		}
		prev = v
	}
	return nil
}
