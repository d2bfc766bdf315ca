package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/disaster-alert-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/disaster-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/disaster-alert-service/internal/adapter/sendgrid"
	"github.com/couchcryptid/disaster-alert-service/internal/adapter/sqlite"
	"github.com/couchcryptid/disaster-alert-service/internal/config"
	"github.com/couchcryptid/disaster-alert-service/internal/dispatch"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
	"github.com/couchcryptid/disaster-alert-service/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	store, err := sqlite.Open(cfg.SQLitePath, clock, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.SQLitePath)
		os.Exit(1)
	}

	// Transport is feature-flagged via SENDGRID_API_KEY: without credentials
	// the full pass runs but alerts land in the log only.
	var transport dispatch.Transport
	if cfg.TransportEnabled() {
		transport = sendgrid.NewMailer(cfg.SendGridAPIKey, cfg.SendGridFromName, cfg.SendGridFromEmail, logger)
		logger.Info("sendgrid transport enabled", "from", cfg.SendGridFromEmail)
	} else {
		transport = dispatch.LogTransport{Logger: logger}
		logger.Info("sendgrid transport disabled, alerts will be logged only")
	}

	dispatcher := dispatch.New(store, store, transport, cfg.SuppressionWindow, clock, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, store, dispatcher, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start alert pipeline.
	go func() {
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
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
