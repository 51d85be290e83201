package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"yieldvault/observability/logging"
	telemetry "yieldvault/observability/otel"
	"yieldvault/services/vaultd/app"
	"yieldvault/services/vaultd/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTD_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := logging.SetupWithOptions("vaultd", env, logging.Options{
		Level: logging.ParseLevel(cfg.Log.Level),
		File: logging.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("vaultd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	vaultApp, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("build vault: %v", err)
	}
	defer func() {
		if err := vaultApp.Close(); err != nil {
			logger.Warn("vaultd: close", "error", err)
		}
	}()
	vaultApp.LogSummary()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := vaultApp.Start(ctx); err != nil {
		log.Fatalf("start keeper: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           vaultApp.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("vaultd: http shutdown", "error", err)
		}
	case err, ok := <-serverErr:
		if ok && err != nil {
			logger.Error("vaultd: server failed", "error", err)
			stop()
			return
		}
	}
}
