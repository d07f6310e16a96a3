// Package api provides the HTTP API for aqicast.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/aqicast/aqicast/internal/api/handler"
	"github.com/aqicast/aqicast/internal/api/middleware"
	"github.com/aqicast/aqicast/internal/api/models"
	"github.com/aqicast/aqicast/internal/api/response"
	"github.com/aqicast/aqicast/internal/forecast"
	"github.com/aqicast/aqicast/internal/geo"
	"github.com/aqicast/aqicast/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	Registry  *geo.Registry
	Forecasts handler.ForecastService
	Store     handler.Pinger
	Model     *forecast.ModelHandle
	Providers *resilience.Registry
	Ingest    handler.IngestStats
	Cache     handler.LookupCache

	// ForecastRateLimit overrides middleware.ForecastRateLimit.
	ForecastRateLimit *middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "aqicast-api"
	}
	registry := cfg.Registry
	if registry == nil {
		registry = geo.DefaultRegistry()
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewProblem(
			models.ProblemTypeMethodNotAllowed,
			"Method not allowed",
			http.StatusMethodNotAllowed,
			middleware.GetRequestID(r.Context()),
		).WithDetail(r.Method + " is not supported on " + r.URL.Path)
		response.Error(w, r, problem)
	})

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Store:     cfg.Store,
		Model:     cfg.Model,
		Providers: cfg.Providers,
		Ingest:    cfg.Ingest,
		Cache:     cfg.Cache,
		Logger:    cfg.Logger,
	})
	locationsHandler := handler.NewLocationsHandler(registry)

	forecastLimit := middleware.ForecastRateLimit
	if cfg.ForecastRateLimit != nil {
		forecastLimit = *cfg.ForecastRateLimit
	}
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min
	forecastRateLimit := middleware.RateLimitByIP(forecastLimit)                // 30 req/min

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.With(standardRateLimit).Get("/locations", locationsHandler.ListLocations)

		if cfg.Forecasts != nil {
			forecastHandler := handler.NewForecastHandler(cfg.Forecasts, registry, cfg.Logger)
			r.Route("/forecasts", func(r chi.Router) {
				r.Use(forecastRateLimit)
				r.Get("/locations/{name}", forecastHandler.ForecastByLocation)
				r.Get("/coordinates", forecastHandler.ForecastByCoordinates)
			})
		}
	})

	return r
}
