package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/brokerauth/internal/api/http"
	"github.com/spec-kit/brokerauth/internal/auth"
	"github.com/spec-kit/brokerauth/internal/config"
	"github.com/spec-kit/brokerauth/internal/events"
	"github.com/spec-kit/brokerauth/internal/observability"
	"github.com/spec-kit/brokerauth/internal/service"
	"github.com/spec-kit/brokerauth/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(dispatcher, worker.NewAuditWorker(logger, metrics))

	opts, err := service.SessionOptionsFromConfig(*cfg, dispatcher, logger)
	if err != nil {
		logger.Fatal("failed to build session", zap.Error(err))
	}
	opts.Username = cfg.Broker.Username

	session, err := service.OpenSession(ctx, opts)
	if err != nil {
		logger.Fatal("failed to open session", zap.Error(err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("session release failed", zap.Error(err))
		}
	}()

	app := httptransport.NewServer(httptransport.ServerDeps{
		Name:           cfg.App.Name,
		Version:        cfg.App.Version,
		StorageBackend: cfg.Storage.Backend,
		Session:        session,
		Store:          opts.Store,
		Operators:      auth.NewOperatorAuth(cfg.Operator, logger),
		Metrics:        metrics,
		Logger:         logger,
		RequestTimeout: cfg.App.RequestTimeout(),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()
	logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("storage", cfg.Storage.Backend))

	waitForShutdown(logger)

	if err := app.Shutdown(); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
