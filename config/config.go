// Package config binds pg_cmdqd's CLI flags and environment variables
// into a validated Config (spec §6, §4.7.1).
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
)

type Config struct {
	// ConnString is the positional libpq keyword/value or URI
	// connection string; when empty, pgx falls back to PG* env vars.
	ConnString string

	LogLevel string `validate:"required"`
	LogTimes bool

	// CmdQueues restricts discovery to these identities; empty means
	// every queue in the registry.
	CmdQueues []string

	EmitSIGUSR1WhenReady bool

	Env            string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	MetricsPort    string `env:"PG_CMDQD_METRICS_PORT" envDefault:"9090"`
	AdminPort      string `env:"PG_CMDQD_ADMIN_PORT" envDefault:"8081"`
	// AdminJWTSecret signs/verifies the admin surface's bearer JWTs.
	// Required: the pause/resume mutation routes must never be
	// reachable without auth (spec §8), so an unset secret is a
	// config error rather than a silently open admin surface.
	AdminJWTSecret string `env:"PG_CMDQD_ADMIN_JWT_SECRET" validate:"required,min=32"`

	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM" validate:"required_if=Env production,required_if=Env staging"`
	AlertTo      string `env:"PG_CMDQD_ALERT_TO"`
}

// envDefaults carries the fields caarlos0/env populates (LOG_LEVEL,
// LOG_TIMES, CMD_QUEUE) before cobra flag defaults are set from them,
// so a CLI flag wins only when the operator actually passes it.
type envDefaults struct {
	LogLevel             string   `env:"PG_CMDQD_LOG_LEVEL" envDefault:"INFO"`
	LogTimes             bool     `env:"PG_CMDQD_LOG_TIMES" envDefault:"true"`
	CmdQueues            []string `env:"PG_CMDQD_CMD_QUEUE" envSeparator:","`
	EmitSIGUSR1WhenReady bool     `env:"PG_CMDQD_EMIT_SIGUSR1_WHEN_READY" envDefault:"false"`
}

// Load parses args (normally os.Args[1:]) against flags whose defaults
// come from the environment, then validates the result. A non-nil
// error always warrants exit code 2 (spec §6).
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	var envDef envDefaults
	if err := env.Parse(&envDef); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cmd := &cobra.Command{
		Use:           "pg_cmdqd [connection_string]",
		Short:         "Execute commands queued in PostgreSQL tables.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.ConnString = args[0]
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", envDef.LogLevel,
		"NONE, PANIC, FATAL, LOG, ERROR, WARNING, NOTICE, INFO, or DEBUG1-DEBUG5 (LOG_ prefix tolerated)")
	cmd.Flags().BoolVar(&cfg.LogTimes, "log-times", envDef.LogTimes, "prefix log lines with a timestamp")
	var noLogTimes bool
	cmd.Flags().BoolVar(&noLogTimes, "no-log-times", false, "do not prefix log lines with a timestamp")
	cmd.Flags().StringArrayVar(&cfg.CmdQueues, "cmd-queue", envDef.CmdQueues,
		"restrict to this queue identity (repeatable)")
	cmd.Flags().BoolVar(&cfg.EmitSIGUSR1WhenReady, "emit-sigusr1-when-ready", envDef.EmitSIGUSR1WhenReady,
		"send SIGUSR1 to the parent process after the first successful registry read")

	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if noLogTimes {
		cfg.LogTimes = false
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// NormalizeLogLevel upper-cases level and strips a tolerated LOG_ prefix.
func NormalizeLogLevel(level string) string {
	level = strings.ToUpper(strings.TrimSpace(level))
	return strings.TrimPrefix(level, "LOG_")
}

// SlogLevel maps the PostgreSQL-style log level onto slog's coarser
// level set (spec §4.7.2): DEBUG2-DEBUG5 collapse onto slog.LevelDebug,
// the finer granularity preserved separately by DebugLevel.
func (c *Config) SlogLevel() slog.Level {
	switch NormalizeLogLevel(c.LogLevel) {
	case "NONE":
		return slog.LevelError + 8
	case "PANIC", "FATAL":
		return slog.LevelError + 4
	case "ERROR":
		return slog.LevelError
	case "WARNING":
		return slog.LevelWarn
	case "NOTICE", "INFO":
		return slog.LevelInfo
	default:
		if strings.HasPrefix(NormalizeLogLevel(c.LogLevel), "DEBUG") {
			return slog.LevelDebug
		}
		return slog.LevelInfo
	}
}

// DebugLevel returns the numeric suffix of a DEBUG1-DEBUG5 level, or 0.
func (c *Config) DebugLevel() int {
	lvl := NormalizeLogLevel(c.LogLevel)
	if !strings.HasPrefix(lvl, "DEBUG") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(lvl, "DEBUG"))
	if err != nil {
		return 0
	}
	return n
}
