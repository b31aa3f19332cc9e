package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casematch/internal/app"
	"casematch/internal/config"
	"casematch/internal/contextutil"
)

//go:generate swagger generate spec -o swagger.json

// General API information
//
// This API recommends service catalog items for a free-text problem description
// by matching it against embedded historical cases.
//
// swagger:meta
//
// ---
// swagger: '2.0'
// info:
//   title: CaseMatch API
//   description: |
//     Catalog recommendation API. Historical case narratives are embedded in batches;
//     a query is embedded the same way and the catalog items of its nearest cases are
//     ranked by how often and how closely they match.
//   version: 1.0.0
// schemes:
//   - http
//   - https
// consumes:
//   - application/json
// produces:
//   - application/json
// securityDefinitions:
//   api_key:
//     type: apiKey
//     in: header
//     name: X-API-Key

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() {
		_ = a.Close()
	}()
	slog.Info("Database initialized", "path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fail fast on a wrong provider URL, credential or vector size
	if err := a.Start(ctx, true); err != nil {
		log.Fatalf("Startup check failed: %v", err)
	}

	// Start the batch scheduler in background
	schedulerDone := make(chan struct{})
	if cfg.BatchInterval > 0 {
		go func() {
			defer close(schedulerDone)
			runCtx := contextutil.WithLogger(ctx, logger.With("component", "scheduler"))
			if err := a.Pipeline.Run(runCtx, cfg.BatchInterval, cfg.BatchWorkers, cfg.BatchSize); err != nil {
				slog.Error("Batch scheduler stopped", "error", err)
			}
		}()
	} else {
		close(schedulerDone)
		slog.Info("Batch scheduler disabled")
	}

	addr := ":" + cfg.APIPort
	srv := &nethttp.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting API server", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
	<-schedulerDone
}
