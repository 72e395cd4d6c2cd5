package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/storage"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/portalctl/pkg/shutdown"
)

var (
	cfg             *config.Config
	log             *logger.Logger
	profile         storage.Store
	tel             telemetry.Telemetry
	shutdownHandler *shutdown.Handler
)

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Client for the multi-tenant pentest portal",
	Long: `portalctl - Pentest Portal Client

Signs in to the pentest portal (password, TOTP, first-time MFA enrollment
or SSO), keeps the session in a local profile, and manages targets and the
scan queue for your tenant. Super admins use the "admin" command group,
which keeps a separate session.

COMMANDS:
  Session:
    portalctl login [--sso]         - Sign in to the tenant portal
    portalctl logout                - End the tenant session
    portalctl whoami                - Show the signed-in identity

  Targets and queue:
    portalctl targets list|add|remove|remote
    portalctl queue list|add|remote
    portalctl migrate [--status]    - Copy the local cache to the backend

  Super admin:
    portalctl admin login|logout|whoami
    portalctl admin tenants|users|audit-logs|access-logs
    portalctl admin sso-config <tenant>|kms-config <tenant>

CONFIGURATION:
  Flags or PORTALCTL_* environment variables, e.g.
    PORTALCTL_API_URL=https://portal.example.com/api
    PORTALCTL_STORAGE_DRIVER=redis PORTALCTL_REDIS_ADDR=localhost:6379`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if skipInit(cmd) {
			return nil
		}

		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		tel, err = telemetry.New(cmd.Context(), cfg.Telemetry)
		if err != nil {
			log.Warnw("Telemetry disabled", "error", err)
			tel = telemetry.NewNoop()
		}

		profile, err = storage.Open(cmd.Context(), cfg.Storage, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("failed to open profile store: %w", err)
		}

		shutdownHandler = shutdown.NewHandler(log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeResources()
	},
}

// Execute runs the root command and prints errors the way a person should
// see them: the backend's message or a short fallback, never a stack.
func Execute() error {
	ctx := context.Background()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printError(rootCmd, err)
		closeResources()
	}
	return err
}

func init() {
	// Logging configuration
	rootCmd.PersistentFlags().String("log-level", "error", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindEnv("logger.level", "PORTALCTL_LOG_LEVEL")
	viper.BindEnv("logger.format", "PORTALCTL_LOG_FORMAT")

	// Backend
	rootCmd.PersistentFlags().String("api-url", "http://localhost:8000/api", "portal backend base URL")
	rootCmd.PersistentFlags().Duration("api-timeout", 30*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().Bool("insecure", false, "skip TLS verification (staging only)")
	viper.BindPFlag("api.base_url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("api.timeout", rootCmd.PersistentFlags().Lookup("api-timeout"))
	viper.BindPFlag("api.insecure_skip_verify", rootCmd.PersistentFlags().Lookup("insecure"))
	viper.BindEnv("api.base_url", "PORTALCTL_API_URL")
	viper.BindEnv("api.timeout", "PORTALCTL_API_TIMEOUT")

	// Profile storage
	rootCmd.PersistentFlags().String("storage-driver", "sqlite3", "profile store (sqlite3, postgres, redis)")
	rootCmd.PersistentFlags().String("storage-dsn", "", "profile store DSN (default ~/.portalctl/profile.db)")
	viper.BindPFlag("storage.driver", rootCmd.PersistentFlags().Lookup("storage-driver"))
	viper.BindPFlag("storage.dsn", rootCmd.PersistentFlags().Lookup("storage-dsn"))
	viper.BindEnv("storage.driver", "PORTALCTL_STORAGE_DRIVER")
	viper.BindEnv("storage.dsn", "PORTALCTL_STORAGE_DSN", "DATABASE_URL")

	// Redis configuration
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis server address")
	rootCmd.PersistentFlags().String("redis-password", "", "Redis password")
	rootCmd.PersistentFlags().Int("redis-db", 0, "Redis database number")
	viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindPFlag("redis.password", rootCmd.PersistentFlags().Lookup("redis-password"))
	viper.BindPFlag("redis.db", rootCmd.PersistentFlags().Lookup("redis-db"))
	viper.BindEnv("redis.addr", "PORTALCTL_REDIS_ADDR", "REDIS_URL")
	viper.BindEnv("redis.password", "PORTALCTL_REDIS_PASSWORD")

	// Login behaviour
	rootCmd.PersistentFlags().Duration("sso-poll-interval", 2*time.Second, "SSO status poll interval")
	rootCmd.PersistentFlags().Duration("sso-timeout", 10*time.Minute, "give up waiting for SSO after this long")
	rootCmd.PersistentFlags().String("browser", "print", "how to open SSO pages (print, chrome)")
	viper.BindPFlag("auth.sso_poll_interval", rootCmd.PersistentFlags().Lookup("sso-poll-interval"))
	viper.BindPFlag("auth.sso_timeout", rootCmd.PersistentFlags().Lookup("sso-timeout"))
	viper.BindPFlag("browser.mode", rootCmd.PersistentFlags().Lookup("browser"))
	viper.BindEnv("auth.skip_migration", "PORTALCTL_SKIP_MIGRATION")
	viper.BindEnv("browser.mode", "PORTALCTL_BROWSER")
	viper.BindEnv("browser.exec_path", "PORTALCTL_CHROME_PATH")

	// Security/Rate limiting
	rootCmd.PersistentFlags().Float64("rate-limit", 10, "Requests per second rate limit")
	rootCmd.PersistentFlags().Int("rate-burst", 20, "Rate limit burst size")
	rootCmd.PersistentFlags().Duration("rate-min-delay", 0, "Minimum spacing between requests to the same endpoint")
	viper.BindPFlag("rate_limit.requests_per_second", rootCmd.PersistentFlags().Lookup("rate-limit"))
	viper.BindPFlag("rate_limit.burst_size", rootCmd.PersistentFlags().Lookup("rate-burst"))
	viper.BindPFlag("rate_limit.min_delay", rootCmd.PersistentFlags().Lookup("rate-min-delay"))
	viper.BindEnv("rate_limit.min_delay", "PORTALCTL_RATE_MIN_DELAY")

	// Telemetry (environment only)
	viper.BindEnv("telemetry.enabled", "PORTALCTL_TELEMETRY_ENABLED")
	viper.BindEnv("telemetry.endpoint", "PORTALCTL_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.key_prefix", "portalctl:")
	viper.SetDefault("storage.conn_max_lifetime", "1h")
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.service_name", "portalctl")
	viper.SetDefault("telemetry.exporter_type", "otlp")
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.sample_rate", 1.0)
	viper.SetDefault("logger.output_paths", []string{"stderr"})
}

func initConfig() error {
	// No YAML files - configuration from flags + env vars only
	viper.SetEnvPrefix("PORTALCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()

	return cfg.Validate()
}

// shutdownTimeout bounds the registered cleanup functions, such as closing
// the SSO browser window.
const shutdownTimeout = 5 * time.Second

func skipInit(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "version", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return false
}

func closeResources() {
	if shutdownHandler != nil {
		if err := shutdownHandler.ShutdownWithTimeout(shutdownTimeout); err != nil && log != nil {
			log.Warnw("Cleanup did not finish in time", "error", err)
		}
		shutdownHandler = nil
	}
	if log != nil {
		// Sync errors on stdout/stderr are expected on Linux and can be safely ignored
		if err := log.Sync(); err != nil && !isStdSyncError(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
		}
	}
	if profile != nil {
		if err := profile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to close profile store: %v\n", err)
		}
		profile = nil
	}
	if tel != nil {
		if err := tel.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to flush telemetry: %v\n", err)
		}
		tel = nil
	}
}

func isStdSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stdout") || strings.Contains(msg, "sync /dev/stderr")
}

func printError(cmd *cobra.Command, err error) {
	msg := err.Error()
	var friendly interface{ UserMessage() string }
	var apiErr *api.APIError
	if errors.As(err, &friendly) || errors.As(err, &apiErr) || errors.Is(err, api.ErrUnreachable) {
		msg = api.UserMessage(err)
	}
	color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "Error: %s\n", msg)
	if log != nil {
		log.Debugw("Command failed", "error", err)
	}
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return cfg
}

// GetLogger returns the process logger.
func GetLogger() *logger.Logger {
	return log
}
