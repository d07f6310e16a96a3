// Package main provides the entrypoint for the aqicast API server.
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
	"github.com/aqicast/aqicast/internal/forecast"
	"github.com/aqicast/aqicast/internal/geo"
	"github.com/aqicast/aqicast/internal/provider/resilience"
	"github.com/aqicast/aqicast/internal/series"
	"github.com/aqicast/aqicast/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "aqicast-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting aqicast API")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.FromConfig(cfg, serviceName, Version, log))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if tp.Enabled() {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}
	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

	// Open the history store
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
	log.Info().Str("driver", cfg.StoreDriver).Msg("history store opened")

	registry := geo.DefaultRegistry()

	// Live readings come from WAQI when a token is configured.
	var (
		lookup      airquality.Lookup      = airquality.Unavailable{}
		pointLookup airquality.PointLookup = airquality.Unavailable{}
		cached      *airquality.CachedLookup
	)
	client, err := waqi.NewClient(waqi.ClientConfig{
		BaseURL:     cfg.WAQIBaseURL,
		Token:       cfg.WAQIToken,
		Timeout:     cfg.LookupTimeout,
		MinInterval: cfg.WAQIMinInterval,
	})
	switch {
	case errors.Is(err, waqi.ErrMissingToken):
		log.Warn().Msg("WAQI_TOKEN not set - live readings disabled")
	case err != nil:
		log.Fatal().Err(err).Msg("failed to create WAQI client")
	default:
		cached = airquality.NewCachedLookup(airquality.CachedLookupConfig{
			Lookup:   client,
			Logger:   log,
			CacheTTL: cfg.LookupCacheTTL,
			Provider: waqi.ProviderName,
			Metrics:  providerMetrics,
		})
		lookup = cached
		pointLookup = client
		log.Info().Msg("WAQI client initialized")
	}

	resolver := airquality.NewResolver(airquality.ResolverConfig{
		Registry: registry,
		Lookup:   lookup,
		Logger:   log,
	})

	// Load the forecast model; a missing artifact leaves the fallback in charge.
	model := forecast.LoadModel(cfg.ModelPath)
	if err := model.Err(); err != nil {
		log.Warn().Err(err).Str("path", cfg.ModelPath).Msg("model unavailable - serving fallback forecasts")
	} else {
		log.Info().Str("path", cfg.ModelPath).Msg("forecast model loaded")
	}

	engine, err := forecast.NewEngine(forecast.EngineConfig{
		Model:        model,
		Preprocessor: series.NewPreprocessor(series.PreprocessorConfig{Store: store}),
		Logger:       log,
		Tracer:       tp.Tracer,
		Meter:        tp.Meter,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create forecast engine")
	}

	forecasts := forecast.NewService(forecast.ServiceConfig{
		Registry:    registry,
		Resolver:    resolver,
		Engine:      engine,
		PointLookup: pointLookup,
		Logger:      log,
	})

	// Create router with configuration
	routerCfg := api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		RequireTLS:  cfg.RequireTLS,
		Registry:    registry,
		Forecasts:   forecasts,
		Store:       store,
		Model:       model,
		Providers:   resilience.GlobalRegistry,
	}
	if cached != nil {
		routerCfg.Cache = cached
	}
	router := api.NewRouter(routerCfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
