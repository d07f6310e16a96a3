// Package handler provides HTTP handlers for the aqicast API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqicast/aqicast/internal/airquality"
	"github.com/aqicast/aqicast/internal/api/models"
	"github.com/aqicast/aqicast/internal/api/response"
	"github.com/aqicast/aqicast/internal/forecast"
	"github.com/aqicast/aqicast/internal/provider/resilience"
)

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IngestStats exposes ingest job statistics. *ingest.Job implements it.
type IngestStats interface {
	MetricsSnapshot() map[string]interface{}
}

// LookupCache reports the live-reading cache state.
// *airquality.CachedLookup implements it.
type LookupCache interface {
	CacheStatus() airquality.CacheStatus
}

var _ LookupCache = (*airquality.CachedLookup)(nil)

// OpsHandlerConfig holds dependencies for the ops endpoints.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string

	// Store is the history store checked by readiness.
	Store Pinger

	// Model is the forecast model handle loaded at startup. Processes that do
	// not serve forecasts leave it nil.
	Model *forecast.ModelHandle

	// Providers tracks upstream circuit state (default: resilience.GlobalRegistry).
	Providers *resilience.Registry

	// Ingest is optional; the API process usually does not run ingestion.
	Ingest IngestStats

	// Cache is optional; nil when live readings are disabled.
	Cache LookupCache

	Logger zerolog.Logger

	// PingTimeout bounds dependency checks (default: 2s).
	PingTimeout time.Duration
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version     string
	buildTime   string
	store       Pinger
	model       *forecast.ModelHandle
	providers   *resilience.Registry
	ingest      IngestStats
	cache       LookupCache
	logger      zerolog.Logger
	pingTimeout time.Duration
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	providers := cfg.Providers
	if providers == nil {
		providers = resilience.GlobalRegistry
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout == 0 {
		pingTimeout = 2 * time.Second
	}
	return &OpsHandler{
		version:     cfg.Version,
		buildTime:   cfg.BuildTime,
		store:       cfg.Store,
		model:       cfg.Model,
		providers:   providers,
		ingest:      cfg.Ingest,
		cache:       cfg.Cache,
		logger:      cfg.Logger,
		pingTimeout: pingTimeout,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. The service is ready when the
// history store answers; a missing model only degrades forecasts to the
// fallback and does not block traffic.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	store := h.checkStore(r.Context())

	health := models.Health{
		Status: store.Status,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"store": store.Status,
		},
	}
	if h.model != nil {
		health.Details["modelMode"] = string(h.model.Mode())
	}

	if store.Status != models.HealthStatusOK {
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	store := h.checkStore(r.Context())
	providers := h.providerStatuses()

	overall := models.HealthStatusOK
	var model *models.ModelStatus
	if h.model != nil {
		ms := h.modelStatus()
		model = &ms
		if ms.Mode != string(forecast.ModeModel) {
			overall = models.HealthStatusDegraded
		}
	}
	for _, p := range providers {
		if p.Status != models.HealthStatusOK {
			overall = models.HealthStatusDegraded
		}
	}
	if store.Status != models.HealthStatusOK {
		overall = models.HealthStatusFail
	}

	status := models.SystemStatus{
		Status:     overall,
		Time:       models.Timestamp(time.Now()),
		Subsystems: []models.SubsystemStatus{store},
		Providers:  providers,
		Model:      model,
	}
	if h.ingest != nil {
		status.Ingest = h.ingest.MetricsSnapshot()
	}
	if h.cache != nil {
		cs := h.cache.CacheStatus()
		status.Cache = &models.CacheStatus{
			Entries:     cs.Entries,
			Expired:     cs.Expired,
			LastFetchAt: timestampPtr(nonZero(cs.LastFetchAt)),
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) checkStore(ctx context.Context) models.SubsystemStatus {
	status := models.SubsystemStatus{Name: "store", Status: models.HealthStatusOK}
	if h.store == nil {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, h.pingTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("store ping failed")
		detail := err.Error()
		status.Status = models.HealthStatusFail
		status.Detail = &detail
	}
	return status
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	snapshot := h.providers.Snapshot()
	out := make([]models.ProviderStatus, 0, len(snapshot))
	for _, p := range snapshot {
		ps := models.ProviderStatus{
			Provider:            p.Name,
			Status:              healthStatusFor(p.Status),
			CircuitState:        p.CircuitState,
			ConsecutiveFailures: p.ConsecutiveFailures,
			LastSuccessAt:       timestampPtr(p.LastSuccessAt),
			LastFailureAt:       timestampPtr(p.LastFailureAt),
		}
		if p.LastError != "" {
			msg := p.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}

func (h *OpsHandler) modelStatus() models.ModelStatus {
	ms := models.ModelStatus{
		Mode:   string(h.model.Mode()),
		Source: h.model.Source(),
	}
	if loadedAt := h.model.LoadedAt(); !loadedAt.IsZero() {
		ts := models.Timestamp(loadedAt)
		ms.LoadedAt = &ts
	}
	if err := h.model.Err(); err != nil {
		msg := err.Error()
		ms.Error = &msg
	}
	return ms
}

func healthStatusFor(s resilience.Status) models.HealthStatus {
	switch s {
	case resilience.StatusHealthy:
		return models.HealthStatusOK
	case resilience.StatusDegraded:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusFail
	}
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timestampPtr(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	ts := models.Timestamp(*t)
	return &ts
}
