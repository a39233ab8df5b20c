// courierd serves the resources registered in this process over HTTP and the
// message broker, and routes the calls they make to other resources.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marcus-qen/courier/internal/config"
	"github.com/marcus-qen/courier/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("COURIER_CONFIG"), "path to YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	telemetry.SetLogger(logger)
	if cfg.Tracing.Endpoint != "" {
		shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.Tracing.Endpoint, "courierd", version)
		if err != nil {
			logger.Fatal("failed to init tracing", zap.Error(err))
		}
		defer func() {
			tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer tcancel()
			if err := shutdownTracing(tctx); err != nil {
				logger.Warn("tracing shutdown", zap.Error(err))
			}
		}()
	}

	d, err := build(cfg, logger)
	if err != nil {
		logger.Fatal("failed to wire courierd", zap.Error(err))
	}
	if err := d.start(ctx); err != nil {
		logger.Fatal("failed to start courierd", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      d.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting courierd",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("discovery", cfg.Discovery.Mode),
		zap.String("sessions", cfg.Sessions.Backend),
		zap.Bool("memory_broker", cfg.UsesMemoryBroker()),
		zap.Int("resources", len(d.registry.All())),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	d.stop(shutdownCtx)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
