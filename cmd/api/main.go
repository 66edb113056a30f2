// Command api runs the Loom graph engine as an HTTP service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"loom-backend/internal/application/services"
	appsync "loom-backend/internal/application/sync"
	"loom-backend/internal/config"
	"loom-backend/internal/infrastructure/observability"
	"loom-backend/internal/infrastructure/remote"
	"loom-backend/internal/interfaces/http/rest"
	"loom-backend/internal/repository/memory"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	logger, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewCollector("loom")

	if cfg.Features.EnableTracing {
		tp, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName: cfg.Tracing.ServiceName,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			logger.Warn("tracing disabled, exporter init failed", zap.Error(err))
		} else {
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					logger.Warn("tracer shutdown failed", zap.Error(err))
				}
			}()
		}
	}

	repo := memory.NewNodeRepository()
	history := services.NewHistoryManager(cfg.Engine.HistoryCapacity, logger)
	engine := services.NewMutationEngine(repo, history, logger, cfg.Engine.MaxKeyPoints, cfg.Engine.MaxDeleteBatch)
	coordinator := appsync.NewCoordinator(repo, logger)
	fetcher := remote.NewContextFetcher(cfg.Remote.BaseURL, cfg.Remote.Timeout, repo, logger)

	graphHandler := rest.NewGraphHandler(repo, engine, history, fetcher, metrics, logger, cfg.Engine.ReferenceLimit)
	syncHandler := rest.NewSyncHandler(coordinator, metrics, logger)
	router := rest.NewRouter(graphHandler, syncHandler, metrics, logger)

	// Engine limits follow the config file while the process runs.
	if path := os.Getenv("LOOM_CONFIG_FILE"); path != "" {
		watcher, err := config.NewWatcher(path, cfg, logger)
		if err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		} else {
			watcher.OnChange(func(old, new config.Config) {
				history.SetCapacity(new.Engine.HistoryCapacity)
				engine.SetMaxKeyPoints(new.Engine.MaxKeyPoints)
				engine.SetMaxDeleteBatch(new.Engine.MaxDeleteBatch)
				graphHandler.SetReferenceLimit(new.Engine.ReferenceLimit)
			})
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router.Setup(),
	}

	go func() {
		logger.Info("server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
