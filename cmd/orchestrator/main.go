// Package main is the entry point for the orchestrator service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentmesh/orchestrator/engine"
	"github.com/agentmesh/orchestrator/internal/api"
	"github.com/agentmesh/orchestrator/internal/config"
	"github.com/agentmesh/orchestrator/internal/memory"
	"github.com/agentmesh/orchestrator/internal/tracing"
	"github.com/agentmesh/orchestrator/internal/validator"
	"github.com/agentmesh/orchestrator/pkg/types"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting orchestrator",
		slog.String("port", cfg.Port),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize tracing
	traceProvider, err := tracing.Init(context.Background(), &tracing.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.TracingEndpoint,
		Enabled:      cfg.TracingEnabled,
		SampleRate:   1.0,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize event sink based on configuration
	var downstream memory.Sink
	switch cfg.EventSink {
	case "redis":
		redisSink, err := memory.NewRedisSink(&memory.RedisConfig{
			URL:    cfg.RedisURL,
			Stream: cfg.EventStream,
			MaxLen: cfg.EventMaxLen,
			TTL:    cfg.EventTTL,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to Redis, events stay in-process", "error", err)
		} else {
			downstream = redisSink
			logger.Info("using Redis event sink",
				slog.String("url", cfg.RedisURL),
				slog.String("stream", cfg.EventStream),
			)
		}
	default:
		logger.Info("using in-process event sink")
	}
	events := memory.NewBroadcast(downstream)
	defer events.Close()

	// Initialize the engine
	defaultRetry := types.DefaultRetryPolicy()
	defaultRetry.MaxAttempts = cfg.DefaultMaxRetries
	defaultRetry.Backoff = cfg.DefaultBackoff
	eng := engine.New(&engine.Config{
		MaxConcurrent:  cfg.MaxConcurrent,
		PollInterval:   cfg.SchedulerPoll,
		DefaultTimeout: cfg.DefaultTimeout,
		DefaultRetry:   defaultRetry,
	},
		engine.WithLogger(logger),
		engine.WithSink(events),
	)

	engineCtx, stopEngine := context.WithCancel(context.Background())
	eng.Start(engineCtx)

	logger.Info("engine started",
		slog.Int("max_concurrent", cfg.MaxConcurrent),
		slog.Duration("poll_interval", cfg.SchedulerPoll),
	)

	// Initialize validator
	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		// Continue without validator - validation will be basic
		v = nil
	}

	// Initialize API handlers
	handlers := api.NewHandlers(eng, v, events, cfg, logger)
	server := api.NewServer(handlers)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	stopEngine()
	eng.Stop()

	if err := traceProvider.Shutdown(ctx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
