package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Backend BackendConfig `mapstructure:"backend"`
	Device  DeviceConfig  `mapstructure:"device"`
	Usage   UsageConfig   `mapstructure:"usage"`
	Shield  ShieldConfig  `mapstructure:"shield"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig defines the local listeners of the daemon
type ServerConfig struct {
	APIAddress     string `mapstructure:"api_address"`
	APIToken       string `mapstructure:"api_token"` // optional bearer token for the local API
	MetricsAddress string `mapstructure:"metrics_address"`
}

// StorageConfig defines the shared namespace backend
type StorageConfig struct {
	Type   string       `mapstructure:"type"` // "redis" or "sqlite"
	Redis  RedisConfig  `mapstructure:"redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
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
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// SQLiteConfig defines the embedded database settings
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// BackendConfig defines the MDM backend REST API
type BackendConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AuthToken string `mapstructure:"auth_token"`
	Timeout   string `mapstructure:"timeout"`
}

// DeviceConfig holds the identity reported with every usage report
type DeviceConfig struct {
	Email             string `mapstructure:"email"`
	ProfileID         string `mapstructure:"profile_id"`
	SerialNumber      string `mapstructure:"serial_number"`
	AppVersion        string `mapstructure:"app_version"`
	BatteryPercentage int    `mapstructure:"battery_percentage"` // -1 when unknown
}

// UsageConfig defines threshold aggregation settings
type UsageConfig struct {
	EventLogCapacity     int    `mapstructure:"event_log_capacity"`
	RetentionDays        int    `mapstructure:"retention_days"`
	DefaultLimitMinutes  int    `mapstructure:"default_limit_minutes"`
	DedupCacheSize       int    `mapstructure:"dedup_cache_size"`
	ReportMode           string `mapstructure:"report_mode"` // "event" or "batch"
	PollInterval         string `mapstructure:"poll_interval"`
	DailyResetTime       string `mapstructure:"daily_reset_time"`
	ThresholdStepMinutes int    `mapstructure:"threshold_step_minutes"`
	ThresholdPlan        string `mapstructure:"threshold_plan"` // "step" or "stride"
}

// ShieldConfig defines shield decision settings
type ShieldConfig struct {
	PolicyFile      string `mapstructure:"policy_file"`
	ClearOnRollover bool   `mapstructure:"clear_on_rollover"`
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
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("TABNOVA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
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

// isNotFound reports whether viper failed only because the file is missing.
// SetConfigFile bypasses the search path, so a missing file surfaces as a
// plain fs error rather than ConfigFileNotFoundError.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}

// Defaults returns the built-in configuration without reading any file
// or environment variable.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// UnknownKeys returns the keys of the file at configPath that are not
// configuration settings.
func UnknownKeys(configPath string) ([]string, error) {
	file := viper.New()
	file.SetConfigFile(configPath)
	if err := file.ReadInConfig(); err != nil {
		return nil, err
	}

	known := viper.New()
	setDefaults(known)
	valid := make(map[string]bool)
	for _, key := range known.AllKeys() {
		valid[key] = true
	}

	unknown := []string{}
	for _, key := range file.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_address", "127.0.0.1:8740")
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.metrics_address", "127.0.0.1:9740")

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "tabnova:")
	v.SetDefault("storage.sqlite.path", "/var/lib/tabnova/tabnova.db")

	// Backend defaults
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.auth_token", "")
	v.SetDefault("backend.timeout", "15s")

	// Device defaults
	v.SetDefault("device.email", "")
	v.SetDefault("device.profile_id", "")
	v.SetDefault("device.serial_number", "")
	v.SetDefault("device.app_version", "dev")
	v.SetDefault("device.battery_percentage", -1)

	// Usage defaults
	v.SetDefault("usage.event_log_capacity", 50)
	v.SetDefault("usage.retention_days", 7)
	v.SetDefault("usage.default_limit_minutes", 10)
	v.SetDefault("usage.dedup_cache_size", 4096)
	v.SetDefault("usage.report_mode", "event")
	v.SetDefault("usage.poll_interval", "30s")
	v.SetDefault("usage.daily_reset_time", "00:00")
	v.SetDefault("usage.threshold_step_minutes", 5)
	v.SetDefault("usage.threshold_plan", "step")

	// Shield defaults
	v.SetDefault("shield.policy_file", "")
	v.SetDefault("shield.clear_on_rollover", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.Storage.Type {
	case "", "redis":
		cfg.Storage.Type = "redis"
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Backend.BaseURL != "" {
		u, err := url.Parse(cfg.Backend.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid backend.base_url: %q", cfg.Backend.BaseURL)
		}
	}

	if cfg.Usage.EventLogCapacity <= 0 {
		return fmt.Errorf("usage.event_log_capacity must be positive: %d", cfg.Usage.EventLogCapacity)
	}
	if cfg.Usage.RetentionDays <= 0 {
		return fmt.Errorf("usage.retention_days must be positive: %d", cfg.Usage.RetentionDays)
	}
	if cfg.Usage.DefaultLimitMinutes <= 0 {
		return fmt.Errorf("usage.default_limit_minutes must be positive: %d", cfg.Usage.DefaultLimitMinutes)
	}
	if cfg.Usage.ThresholdStepMinutes <= 0 {
		return fmt.Errorf("usage.threshold_step_minutes must be positive: %d", cfg.Usage.ThresholdStepMinutes)
	}

	switch cfg.Usage.ReportMode {
	case "event", "batch":
	default:
		return fmt.Errorf("invalid usage.report_mode: %s (must be event or batch)", cfg.Usage.ReportMode)
	}

	switch cfg.Usage.ThresholdPlan {
	case "step", "stride":
	default:
		return fmt.Errorf("invalid usage.threshold_plan: %s (must be step or stride)", cfg.Usage.ThresholdPlan)
	}

	if _, err := time.Parse("15:04", cfg.Usage.DailyResetTime); err != nil {
		return fmt.Errorf("invalid usage.daily_reset_time %q: %w", cfg.Usage.DailyResetTime, err)
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
