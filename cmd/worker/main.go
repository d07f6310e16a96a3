// Package main provides the entrypoint for the aqicast ingest worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqicast/aqicast/internal/airquality"
	"github.com/aqicast/aqicast/internal/airquality/waqi"
	"github.com/aqicast/aqicast/internal/api"
	"github.com/aqicast/aqicast/internal/api/middleware"
	"github.com/aqicast/aqicast/internal/config"
	"github.com/aqicast/aqicast/internal/geo"
	"github.com/aqicast/aqicast/internal/ingest"
	"github.com/aqicast/aqicast/internal/provider/resilience"
	"github.com/aqicast/aqicast/internal/series"
	"github.com/aqicast/aqicast/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "aqicast-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting aqicast worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.FromConfig(cfg, serviceName, Version, log))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}
	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

	store, err := series.Open(ctx, series.OpenConfig{
		Driver:     cfg.StoreDriver,
		SQLitePath: cfg.SQLitePath,
		Postgres:   cfg.Database,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open history store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close history store")
		}
	}()

	// Ingestion has nothing to do without live readings.
	client, err := waqi.NewClient(waqi.ClientConfig{
		BaseURL:     cfg.WAQIBaseURL,
		Token:       cfg.WAQIToken,
		Timeout:     cfg.LookupTimeout,
		MinInterval: cfg.WAQIMinInterval,
	})
	if errors.Is(err, waqi.ErrMissingToken) {
		log.Fatal().Msg("WAQI_TOKEN is required by the worker")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create WAQI client")
	}

	registry := geo.DefaultRegistry()
	cached := airquality.NewCachedLookup(airquality.CachedLookupConfig{
		Lookup:   client,
		Logger:   log,
		CacheTTL: cfg.LookupCacheTTL,
		Provider: waqi.ProviderName,
		Metrics:  providerMetrics,
	})
	resolver := airquality.NewResolver(airquality.ResolverConfig{
		Registry: registry,
		Lookup:   cached,
		Logger:   log,
	})

	jobCfg := ingest.DefaultConfig()
	jobCfg.Concurrency = cfg.IngestConcurrency
	jobCfg.Timeout = cfg.IngestTimeout

	job := ingest.NewJob(ingest.JobConfig{
		Config:   jobCfg,
		Registry: registry,
		Resolver: resolver,
		Store:    store,
		Logger:   log,
		Meter:    tp.Meter,
	})

	scheduler, err := ingest.NewScheduler(ingest.SchedulerConfig{
		Job:        job,
		At:         cfg.IngestAt,
		RunOnStart: cfg.IngestOnStart,
		Logger:     log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ingest scheduler")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// On-demand ingestion over Pub/Sub
	if cfg.PubSubEnabled() {
		handler, err := ingest.NewPubSubHandler(ctx, ingest.PubSubConfig{
			ProjectID:        cfg.PubSubProjectID,
			SubscriptionName: cfg.PubSubSubscription,
			Job:              job,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() {
			if err := handler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		go func() {
			if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	} else {
		log.Info().Msg("Pub/Sub not configured - on-demand ingestion disabled")
	}

	// Worker also exposes ops endpoints for Cloud Run
	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.RouterConfig{
			Version:     Version,
			BuildTime:   BuildTime,
			Logger:      log,
			ServiceName: serviceName,
			Metrics:     metrics,
			Registry:    registry,
			Store:       store,
			Providers:   resilience.GlobalRegistry,
			Ingest:      job,
			Cache:       cached,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
