// Package main implements the odinmirror entry point: it connects to an odin
// control server, mirrors the parameter trees of its adapters and serves the
// mirrored parameters over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DiamondLightSource/odinmirror/adapters"
	"github.com/DiamondLightSource/odinmirror/config"
	"github.com/DiamondLightSource/odinmirror/errors"
	"github.com/DiamondLightSource/odinmirror/httpconn"
	"github.com/DiamondLightSource/odinmirror/logging"
	"github.com/DiamondLightSource/odinmirror/metric"
	"github.com/DiamondLightSource/odinmirror/pkg/retry"
)

const (
	// Version is the build version
	Version = "0.1.0"
	appName = "odinmirror"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON configuration file")
	validateOnly := flag.Bool("validate", false, "validate the configuration and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	logFormat := flag.String("log-format", "text", "log output format: text or json")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *validateOnly {
		fmt.Println("Configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.LogLevel(), *logFormat)
	slog.SetDefault(logger)

	logger.Info("Starting odin parameter mirror",
		"version", Version,
		"server", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"update_period", cfg.Cache.UpdatePeriod.Std())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc := connectNATS(ctx, cfg, logger)
	if nc != nil {
		defer nc.Close()
	}
	log := logging.New("main", cfg.Server.Label, nc, logger)

	registry := metric.NewRegistry()
	if err := registerServerMetrics(registry); err != nil {
		return err
	}

	conn := httpconn.New(cfg.Server.Host, cfg.Server.Port,
		httpconn.WithAPIPrefix(cfg.Server.APIPrefix),
		httpconn.WithLogger(logger))

	root, err := initialiseRoot(ctx, conn, cfg, registry, logger)
	if err != nil {
		return err
	}
	log.Info(ctx, "Controller hierarchy initialised")

	server := newMirrorServer(root, registry, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Listen)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// initialiseRoot builds the controller hierarchy, retrying with backoff while
// the control server is unreachable. Non-transient failures abort
// immediately; a malformed parameter tree will not fix itself by waiting.
func initialiseRoot(
	ctx context.Context,
	conn *httpconn.Connection,
	cfg *config.Config,
	registry *metric.Registry,
	logger *slog.Logger,
) (*adapters.Root, error) {
	return retry.DoWithResult(ctx, retry.Persistent(), func() (*adapters.Root, error) {
		root := adapters.NewRoot(conn,
			adapters.WithUpdatePeriod(cfg.Cache.UpdatePeriod.Std()),
			adapters.WithTimerWindow(cfg.Cache.TimerWindow),
			adapters.WithLogger(logger),
			adapters.WithMetrics(registry))

		if err := root.Initialise(ctx); err != nil {
			if !errors.IsTransient(err) {
				return nil, retry.NonRetryable(err)
			}
			logger.Warn("Control server not ready, retrying", "error", err)
			return nil, err
		}
		return root, nil
	})
}

// registerServerMetrics adds the process-level gauges alongside the core
// mirror metrics.
func registerServerMetrics(registry *metric.Registry) error {
	started := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "odinmirror",
		Subsystem: "server",
		Name:      "start_timestamp_seconds",
		Help:      "Unix timestamp of process start",
	})
	started.SetToCurrentTime()
	return registry.RegisterGauge("server", "start_timestamp_seconds", started)
}

// connectNATS opens the optional log streaming connection, retrying briefly
// in case the broker starts alongside the mirror. The mirror runs fine
// without it.
func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) *nats.Conn {
	if cfg.Logging.NATSURL == "" {
		return nil
	}

	nc, err := retry.DoWithResult(ctx, retry.Quick(), func() (*nats.Conn, error) {
		return nats.Connect(cfg.Logging.NATSURL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
	})
	if err != nil {
		logger.Warn("Log streaming disabled, NATS unreachable",
			"url", cfg.Logging.NATSURL, "error", err)
		return nil
	}
	return nc
}

func setupLogger(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
