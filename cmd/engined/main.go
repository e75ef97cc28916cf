package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"parcelharvest/internal/archive"
	"parcelharvest/internal/cache"
	"parcelharvest/internal/config"
	"parcelharvest/internal/engine"
	"parcelharvest/internal/events"
	"parcelharvest/internal/model"
	"parcelharvest/internal/remote"
	"parcelharvest/internal/server"
	"parcelharvest/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	configPath := "config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		zerolog.SetGlobalLevel(level)
	}

	// Cache backend
	var engineCache cache.Cache
	switch cfg.Engine.Cache.Backend {
	case "redis":
		engineCache, err = cache.NewRedisCache(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis cache")
		}
	default:
		engineCache = cache.NewMemoryCache()
	}

	// Storage
	store, err := storage.NewMongoStore(cfg.MongoDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MongoDB store")
	}
	pool := storage.NewPool(store.Factory(), cfg.Engine.Pool)
	coordinator := storage.NewCoordinator(pool)

	// Remote data source
	client := remote.New(cfg.Remote)

	// Optional collaborators
	var publisher events.Publisher
	if cfg.RabbitMQ.Enabled {
		publisher, err = events.NewAMQPPublisher(cfg.RabbitMQ)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize job event publisher")
		}
	}

	var archiver archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.NewS3Archiver(cfg.Archive)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize payload archiver")
		}
	}

	eng := engine.New(engine.Options{
		Config:    cfg.Engine,
		Cache:     engineCache,
		Fetcher:   client,
		Persister: coordinator,
		Publisher: publisher,
		Archiver:  archiver,
	})
	eng.Start()

	httpServer := server.New(*cfg, eng)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	report := eng.Shutdown(model.ShutdownDrain)
	log.Info().
		Int("drained", report.Drained).
		Int("cancelled", report.Cancelled).
		Int("failed", report.Failed).
		Msg("Engine drained")

	if err := pool.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error closing storage pool")
	}
	if err := store.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error disconnecting MongoDB")
	}
	if err := engineCache.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing cache")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing event publisher")
		}
	}
}
