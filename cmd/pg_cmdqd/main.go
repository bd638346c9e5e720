// Command pg_cmdqd is a long-running daemon that executes commands
// queued as rows in PostgreSQL tables: one runner per registered
// queue, supervised and reconciled against the registry as it changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bigsmoke/pg_cmdqd/config"
	"github.com/bigsmoke/pg_cmdqd/internal/adminhttp"
	"github.com/bigsmoke/pg_cmdqd/internal/email"
	"github.com/bigsmoke/pg_cmdqd/internal/health"
	ctxlog "github.com/bigsmoke/pg_cmdqd/internal/log"
	"github.com/bigsmoke/pg_cmdqd/internal/metrics"
	"github.com/bigsmoke/pg_cmdqd/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg_cmdqd: %v\n", err)
		return 2
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel(), cfg.LogTimes)
	logger.Info("starting", "env", cfg.Env, "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	metrics.Register()
	checker := health.NewChecker(health.ConnStringPinger{ConnString: cfg.ConnString}, logger, prometheus.DefaultRegisterer)

	alerter := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)

	sup := supervisor.New(supervisor.Config{
		ConnString:           cfg.ConnString,
		AllowList:            cfg.CmdQueues,
		EmitSIGUSR1WhenReady: cfg.EmitSIGUSR1WhenReady,
		AlertTo:              cfg.AlertTo,
		Logger:               logger,
		Metrics:              metrics.SupervisorMetrics{},
		RunnerMetrics:        metrics.RunnerMetrics{},
		Alerter:              alerter,
	})

	adminSrv := &http.Server{
		Addr:    ":" + cfg.AdminPort,
		Handler: adminhttp.NewRouter(logger, sup, checker, []byte(cfg.AdminJWTSecret)),
	}
	go func() {
		logger.Info("admin HTTP surface started", "port", cfg.AdminPort)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin HTTP surface", "error", err)
		}
	}()

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	supErr := make(chan error, 1)
	go func() { supErr <- sup.Run(ctx) }()

	var exitCode int
	select {
	case <-ctx.Done():
		<-supErr // wait for the supervisor to unwind before shutting down the HTTP servers
	case err := <-supErr:
		if err != nil {
			logger.Error("supervisor exited", "error", err)
			exitCode = 1
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin HTTP surface shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("pg_cmdqd shut down")
	return exitCode
}

func newLogger(env string, level slog.Level, logTimes bool) *slog.Logger {
	var dropTime func([]string, slog.Attr) slog.Attr
	if !logTimes {
		dropTime = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:       level,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: dropTime,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: dropTime,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
