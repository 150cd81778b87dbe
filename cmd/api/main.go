package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IgorGrieder/zurl/internal/config"
	"github.com/IgorGrieder/zurl/internal/docstore"
	"github.com/IgorGrieder/zurl/internal/docstore/memory"
	"github.com/IgorGrieder/zurl/internal/infrastructure/db"
	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	"github.com/IgorGrieder/zurl/internal/infrastructure/telemetry"
	"github.com/IgorGrieder/zurl/internal/processing/clicks"
	"github.com/IgorGrieder/zurl/internal/processing/folders"
	"github.com/IgorGrieder/zurl/internal/processing/links"
	"github.com/IgorGrieder/zurl/internal/storage/limiter"
	"github.com/IgorGrieder/zurl/internal/storage/mongo"
	httpTransport "github.com/IgorGrieder/zurl/internal/transport/http"
	"go.uber.org/zap"
)

// backend is the storage wiring for one STORAGE_BACKEND value.
type backend struct {
	store  docstore.Store
	stats  links.StatsRepository
	clicks links.ClickRecorder
	ping   func(context.Context) error
	close  func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.App.Env, cfg.App.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("env", cfg.App.Env),
		zap.String("storage", cfg.Storage.Backend),
	)

	var shutdownTracer func(context.Context) error
	if cfg.OTel.Enabled {
		var err error
		shutdownTracer, err = telemetry.InitTracer(telemetry.Options{
			Endpoint:       cfg.OTel.Endpoint,
			ServiceName:    cfg.App.Name,
			ServiceVersion: cfg.App.Version,
			Environment:    cfg.App.Env,
			SampleRatio:    cfg.OTel.SampleRatio,
		})
		if err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			logger.Info("OpenTelemetry tracer initialized", zap.String("endpoint", cfg.OTel.Endpoint))
		}
	}

	var be backend
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		be = memoryBackend()
	default:
		be, err = mongoBackend(cfg)
		if err != nil {
			logger.Fatal("Failed to initialize MongoDB storage", zap.Error(err))
		}
	}
	defer be.close()

	linkSvc := links.NewService(be.store, be.stats, be.clicks, links.NewCryptoSlugger(), cfg.Shortener.SlugLength)
	router := httpTransport.NewRouter(cfg, httpTransport.Services{
		Links:         linkSvc,
		Folders:       folders.NewCoordinator(be.store),
		Ping:          be.ping,
		UnlockLimiter: limiter.NewFixedWindow(be.store, "unlock", time.Minute),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}

		if shutdownTracer != nil {
			_ = shutdownTracer(shutdownCtx)
		}
	}()

	logger.Info("Server starting",
		zap.String("port", cfg.Server.Port),
		zap.String("env", cfg.App.Env),
		zap.String("address", fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)),
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// memoryBackend keeps everything in process. Clicks are applied directly
// instead of going through the outbox and Kafka.
func memoryBackend() backend {
	store := memory.New()
	stats := clicks.NewDocumentStats(store)

	logger.Warn("Using in-memory storage, data is lost on restart")
	return backend{
		store:  store,
		stats:  stats,
		clicks: clicks.NewCounter(store, stats),
		close:  func() {},
	}
}

// mongoBackend stores documents in MongoDB and records clicks in the outbox
// for the outbox worker to publish.
func mongoBackend(cfg *config.Config) (backend, error) {
	mongoConn, err := db.ConnectMongo(cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		return backend{}, err
	}
	closeConn := func() { _ = mongoConn.Disconnect() }

	store, err := mongo.NewDocumentStore(mongoConn, mongo.DefaultIndexes()...)
	if err != nil {
		closeConn()
		return backend{}, fmt.Errorf("document store: %w", err)
	}
	statsRepo, err := mongo.NewClickStatsRepository(mongoConn)
	if err != nil {
		closeConn()
		return backend{}, fmt.Errorf("click stats repository: %w", err)
	}
	outbox, err := mongo.NewClickOutboxRepository(mongoConn)
	if err != nil {
		closeConn()
		return backend{}, fmt.Errorf("click outbox repository: %w", err)
	}

	return backend{
		store:  store,
		stats:  statsRepo,
		clicks: outbox,
		ping:   mongoConn.Ping,
		close:  closeConn,
	}, nil
}
