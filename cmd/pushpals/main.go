// PushPals coordinator server — provides the HTTP/WebSocket API, owns the
// durable store, and mediates between clients, planners and workers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pushpals/pushpals/pkg/api"
	"github.com/pushpals/pushpals/pkg/approvals"
	"github.com/pushpals/pushpals/pkg/config"
	"github.com/pushpals/pushpals/pkg/events"
	"github.com/pushpals/pushpals/pkg/queue"
	"github.com/pushpals/pushpals/pkg/store"
	"github.com/pushpals/pushpals/pkg/version"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to environment file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting PushPals coordinator",
		"version", version.Version,
		"protocol_version", version.ProtocolVersion,
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir)

	ctx := context.Background()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("Failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		slog.Error("Failed to open store", "path", cfg.StorePath(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()
	slog.Info("Store opened", "path", cfg.StorePath())

	// Rebuild task projections and readiness state from the event log
	// before accepting traffic.
	buses := events.NewManager(st, cfg.SubscriberBuffer)
	if err := buses.Rebuild(ctx); err != nil {
		slog.Error("Failed to rebuild session projections", "error", err)
		os.Exit(1)
	}

	requests := queue.NewRequests(st)
	jobs := queue.NewJobs(st, cfg.JobLogTail)
	completions := queue.NewCompletions(st)
	sweeper := queue.NewSweeper(st, cfg.StaleClaimTTL, cfg.SweepInterval)
	registry := approvals.NewRegistry()

	httpServer := api.NewServer(cfg, st, buses, requests, jobs, completions, registry, sweeper)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
