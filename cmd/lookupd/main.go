package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/place-lookup-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/place-lookup-service/internal/adapter/kafka"
	"github.com/couchcryptid/place-lookup-service/internal/adapter/mapbox"
	"github.com/couchcryptid/place-lookup-service/internal/config"
	"github.com/couchcryptid/place-lookup-service/internal/lookup"
	"github.com/couchcryptid/place-lookup-service/internal/observability"
	"github.com/couchcryptid/place-lookup-service/internal/pipeline"
	"github.com/couchcryptid/place-lookup-service/internal/schedule"
	"github.com/couchcryptid/place-lookup-service/internal/session"
)

const resultBatchSize = 100

// readiness is ready only when every check passes.
type readiness []httpadapter.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	searcher := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxResultLimit, cfg.MapboxTimeout, metrics, logger)
	logger.Info("mapbox search configured", "limit", cfg.MapboxResultLimit, "timeout", cfg.MapboxTimeout)

	loop := schedule.NewLoop(nil)
	manager := session.NewManager(loop, func(l *schedule.Loop) *lookup.Coordinator {
		return lookup.New(l, searcher,
			lookup.WithMinRequestDelay(cfg.MinRequestDelay),
			lookup.WithMinQueryLength(cfg.MinQueryLength),
			lookup.WithCacheSize(cfg.CacheSize),
			lookup.WithLogger(logger),
			lookup.WithMetrics(metrics),
		)
	}, logger, metrics, session.WithIdleTimeout(cfg.SessionIdleTimeout))

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, manager, manager, writer, logger, metrics, resultBatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, readiness{manager, p}, manager, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The loop outlives the pipeline so in-flight dispatches can finish.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(loopCtx); err != nil {
			logger.Error("lookup loop error", "error", err)
		}
	}()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start lookup pipeline.
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	select {
	case <-pipelineDone:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	stopLoop()
	<-loopDone

	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete", "sessions", manager.Sessions())
}
