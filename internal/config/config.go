package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	API       APIConfig       `mapstructure:"api"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// APIConfig points the client at the portal backend.
type APIConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	UserAgent          string        `mapstructure:"user_agent"`
}

// StorageConfig selects the profile store that plays the role of browser
// local storage: sqlite3 (default), postgres or redis.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AuthConfig struct {
	SSOPollInterval time.Duration `mapstructure:"sso_poll_interval"`
	SSOTimeout      time.Duration `mapstructure:"sso_timeout"`
	SkipMigration   bool          `mapstructure:"skip_migration"`
}

// BrowserConfig controls how the SSO redirect URL is opened. Mode "chrome"
// drives a visible Chrome window through chromedp, "print" only prints it.
type BrowserConfig struct {
	Mode     string `mapstructure:"mode"`
	ExecPath string `mapstructure:"exec_path"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Default returns the configuration used when no flag or environment
// variable overrides a value.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "error",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		API: APIConfig{
			BaseURL:   "http://localhost:8000/api",
			Timeout:   30 * time.Second,
			UserAgent: "portalctl/1.0",
		},
		Storage: StorageConfig{
			Driver:          "sqlite3",
			DSN:             DefaultProfilePath(),
			MaxConnections:  1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			KeyPrefix:    "portalctl:",
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Auth: AuthConfig{
			SSOPollInterval: 2 * time.Second,
			SSOTimeout:      10 * time.Minute,
		},
		Browser: BrowserConfig{
			Mode: "print",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         20,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "portalctl",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
	}
}

// DefaultProfilePath is the sqlite profile database under the user's home.
func DefaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "portalctl-profile.db"
	}
	return filepath.Join(home, ".portalctl", "profile.db")
}

// ApplyDefaults fills zero values left by viper.Unmarshal.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Logger.Level == "" {
		c.Logger.Level = d.Logger.Level
	}
	if c.Logger.Format == "" {
		c.Logger.Format = d.Logger.Format
	}
	if len(c.Logger.OutputPaths) == 0 {
		c.Logger.OutputPaths = d.Logger.OutputPaths
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = d.API.Timeout
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = d.API.UserAgent
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite3" {
		c.Storage.DSN = d.Storage.DSN
	}
	if c.Storage.MaxConnections == 0 {
		c.Storage.MaxConnections = d.Storage.MaxConnections
	}
	if c.Storage.MaxIdleConns == 0 {
		c.Storage.MaxIdleConns = d.Storage.MaxIdleConns
	}
	if c.Storage.ConnMaxLifetime == 0 {
		c.Storage.ConnMaxLifetime = d.Storage.ConnMaxLifetime
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = d.Redis.Addr
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = d.Redis.KeyPrefix
	}
	if c.Auth.SSOPollInterval == 0 {
		c.Auth.SSOPollInterval = d.Auth.SSOPollInterval
	}
	if c.Auth.SSOTimeout == 0 {
		c.Auth.SSOTimeout = d.Auth.SSOTimeout
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = d.Browser.Mode
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = d.RateLimit.RequestsPerSecond
	}
	if c.RateLimit.BurstSize == 0 {
		c.RateLimit.BurstSize = d.RateLimit.BurstSize
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
	if c.Telemetry.ExporterType == "" {
		c.Telemetry.ExporterType = d.Telemetry.ExporterType
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = d.Telemetry.Endpoint
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = d.Telemetry.SampleRate
	}
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	switch c.Storage.Driver {
	case "sqlite3", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	switch c.Browser.Mode {
	case "print", "chrome":
	default:
		return fmt.Errorf("unsupported browser mode: %s", c.Browser.Mode)
	}
	if c.Auth.SSOPollInterval <= 0 {
		return fmt.Errorf("auth.sso_poll_interval must be positive")
	}
	if c.RateLimit.MinDelay < 0 {
		return fmt.Errorf("rate_limit.min_delay must not be negative")
	}
	return nil
}
