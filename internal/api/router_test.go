package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqicast/aqicast/internal/airquality"
	"github.com/aqicast/aqicast/internal/api"
	"github.com/aqicast/aqicast/internal/api/middleware"
	"github.com/aqicast/aqicast/internal/api/models"
	"github.com/aqicast/aqicast/internal/forecast"
	"github.com/aqicast/aqicast/internal/geo"
	"github.com/aqicast/aqicast/internal/provider/resilience"
	"github.com/aqicast/aqicast/internal/series"
)

var today = time.Date(2025, time.November, 2, 9, 0, 0, 0, time.UTC)

type fakeLookup map[string]airquality.RawAQI

func (f fakeLookup) Current(_ context.Context, location string) (airquality.RawAQI, error) {
	if v, ok := f[location]; ok {
		return v, nil
	}
	return airquality.Missing, nil
}

type fakePointLookup struct {
	value airquality.RawAQI
}

func (f fakePointLookup) CurrentAt(context.Context, float64, float64) (airquality.RawAQI, error) {
	return f.value, nil
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubIngest struct{}

func (stubIngest) MetricsSnapshot() map[string]interface{} {
	return map[string]interface{}{"total_runs": 3}
}

type routerOptions struct {
	store     *series.InMemoryStore
	lookup    fakeLookup
	point     airquality.PointLookup
	pinger    stubPinger
	model     *forecast.ModelHandle
	providers *resilience.Registry
	limit     *middleware.RateLimitConfig
}

func newTestRouter(t *testing.T, opts routerOptions) http.Handler {
	t.Helper()
	logger := zerolog.New(io.Discard)
	registry := geo.DefaultRegistry()

	if opts.store == nil {
		opts.store = series.NewInMemoryStore()
	}
	if opts.model == nil {
		opts.model = forecast.UnavailableModel(nil)
	}
	if opts.providers == nil {
		opts.providers = resilience.NewRegistry()
	}

	engine, err := forecast.NewEngine(forecast.EngineConfig{
		Model:        opts.model,
		Preprocessor: series.NewPreprocessor(series.PreprocessorConfig{Store: opts.store}),
		Logger:       logger,
	})
	require.NoError(t, err)

	svc := forecast.NewService(forecast.ServiceConfig{
		Registry: registry,
		Resolver: airquality.NewResolver(airquality.ResolverConfig{
			Registry: registry,
			Lookup:   opts.lookup,
			Logger:   logger,
			Now:      func() time.Time { return today },
		}),
		Engine:      engine,
		PointLookup: opts.point,
		Logger:      logger,
		Now:         func() time.Time { return today },
	})

	return api.NewRouter(api.RouterConfig{
		Version:           "test",
		BuildTime:         "2025-01-01T00:00:00Z",
		Logger:            logger,
		Registry:          registry,
		Forecasts:         svc,
		Store:             opts.pinger,
		Model:             opts.model,
		Providers:         opts.providers,
		Ingest:            stubIngest{},
		ForecastRateLimit: opts.limit,
	})
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestRouter_HealthCheck(t *testing.T) {
	w := get(t, newTestRouter(t, routerOptions{}), "/v1/ops/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	w := get(t, newTestRouter(t, routerOptions{}), "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, string(forecast.ModeFallbackOnly), health.Details["modelMode"])
}

func TestRouter_ReadinessCheck_StoreDown(t *testing.T) {
	router := newTestRouter(t, routerOptions{pinger: stubPinger{err: errors.New("connection refused")}})

	w := get(t, router, "/v1/ops/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusFail, health.Status)
}

func TestRouter_SystemStatus(t *testing.T) {
	providers := resilience.NewRegistry()
	providers.Register("waqi", resilience.NewClient(resilience.ClientConfig{Name: "waqi"}))
	providers.RecordFailure("waqi", errors.New("timeout"))

	w := get(t, newTestRouter(t, routerOptions{providers: providers}), "/v1/ops/status")
	assert.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))

	// Fallback-only model degrades the service.
	assert.Equal(t, models.HealthStatusDegraded, status.Status)
	require.NotNil(t, status.Model)
	assert.Equal(t, string(forecast.ModeFallbackOnly), status.Model.Mode)
	require.NotNil(t, status.Model.Error)

	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "store", status.Subsystems[0].Name)

	require.Len(t, status.Providers, 1)
	assert.Equal(t, "waqi", status.Providers[0].Provider)
	assert.Equal(t, models.HealthStatusOK, status.Providers[0].Status)
	require.NotNil(t, status.Providers[0].Message)
	assert.Equal(t, "timeout", *status.Providers[0].Message)

	assert.EqualValues(t, 3, status.Ingest["total_runs"])
}

func TestRouter_ListLocations(t *testing.T) {
	w := get(t, newTestRouter(t, routerOptions{}), "/v1/locations")
	assert.Equal(t, http.StatusOK, w.Code)

	var list models.LocationList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))

	registry := geo.DefaultRegistry()
	require.Len(t, list.Items, registry.Len())
	for i, loc := range registry.Locations() {
		assert.Equal(t, loc.Name, list.Items[i].Name)
	}
}

func TestRouter_ForecastByLocation(t *testing.T) {
	store := series.NewInMemoryStore()
	store.Seed("Coimbatore", 100, 110, 120, 130, 140, 150, 160)
	router := newTestRouter(t, routerOptions{store: store})

	w := get(t, router, "/v1/forecasts/locations/coimbatore")
	require.Equal(t, http.StatusOK, w.Code)

	var fc models.Forecast
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Equal(t, "Coimbatore", fc.Location.Name)
	assert.Equal(t, 137, fc.PredictedNextDayAQI)
	assert.Equal(t, string(forecast.MethodFallback), fc.Method)
	assert.Equal(t, "Unhealthy for Sensitive Groups", fc.Category)
	assert.NotEmpty(t, fc.HealthAdvice)
	require.Len(t, fc.History, 7)
	assert.Equal(t, 100, fc.History[0].AQI)
	assert.Equal(t, 160, fc.History[6].AQI)
	assert.Nil(t, fc.Current)
	assert.Nil(t, fc.RequestedPoint)
}

func TestRouter_ForecastByLocation_IncludeCurrent(t *testing.T) {
	store := series.NewInMemoryStore()
	store.Seed("Chennai", 80, 82, 84, 86, 88, 90, 92)
	router := newTestRouter(t, routerOptions{
		store: store,
		lookup: fakeLookup{
			"Chennai":     airquality.Raw("-"),
			"Kanchipuram": airquality.Raw("118"),
		},
	})

	w := get(t, router, "/v1/forecasts/locations/Chennai?includeCurrent=true")
	require.Equal(t, http.StatusOK, w.Code)

	var fc models.Forecast
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	require.NotNil(t, fc.Current)
	assert.Equal(t, 118, fc.Current.AQI)
	assert.Equal(t, "nearest:Kanchipuram", fc.Current.Source)
	assert.Equal(t, "2025-11-02", time.Time(fc.Current.Date).Format(time.DateOnly))
}

func TestRouter_ForecastByLocation_CurrentUnavailable(t *testing.T) {
	store := series.NewInMemoryStore()
	store.Seed("Salem", 60, 61, 62, 63, 64, 65, 66)
	router := newTestRouter(t, routerOptions{store: store, lookup: fakeLookup{}})

	w := get(t, router, "/v1/forecasts/locations/Salem?includeCurrent=true")
	require.Equal(t, http.StatusOK, w.Code)

	var fc models.Forecast
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Nil(t, fc.Current)
	assert.NotZero(t, fc.PredictedNextDayAQI)
}

func TestRouter_ForecastByLocation_Errors(t *testing.T) {
	store := series.NewInMemoryStore()
	store.Seed("Salem", 1, 2, 3)
	router := newTestRouter(t, routerOptions{store: store})

	tests := []struct {
		name   string
		path   string
		status int
		ptype  string
	}{
		{"unknown location", "/v1/forecasts/locations/Atlantis", http.StatusNotFound, models.ProblemTypeNotFound},
		{"short history", "/v1/forecasts/locations/Salem", http.StatusUnprocessableEntity, models.ProblemTypeInsufficientHistory},
		{"no history", "/v1/forecasts/locations/Madurai", http.StatusUnprocessableEntity, models.ProblemTypeInsufficientHistory},
		{"bad flag", "/v1/forecasts/locations/Salem?includeCurrent=maybe", http.StatusBadRequest, models.ProblemTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, tt.path)
			assert.Equal(t, tt.status, w.Code)
			p := decodeProblem(t, w)
			assert.Equal(t, tt.ptype, p.Type)
			assert.NotEmpty(t, p.TraceID)
		})
	}
}

func TestRouter_ForecastByCoordinates(t *testing.T) {
	store := series.NewInMemoryStore()
	store.Seed("Ooty", 30, 32, 34, 36, 38, 40, 42)
	router := newTestRouter(t, routerOptions{
		store: store,
		point: fakePointLookup{value: airquality.Raw("27")},
	})

	w := get(t, router, "/v1/forecasts/coordinates?lat=11.40&lon=76.70&includeCurrent=true")
	require.Equal(t, http.StatusOK, w.Code)

	var fc models.Forecast
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Equal(t, "Ooty", fc.Location.Name)
	require.NotNil(t, fc.RequestedPoint)
	assert.InDelta(t, 11.40, fc.RequestedPoint.Lat, 1e-9)
	require.NotNil(t, fc.Current)
	assert.Equal(t, 27, fc.Current.AQI)
	assert.Equal(t, string(airquality.SourcePoint), fc.Current.Source)
}

func TestRouter_ForecastByCoordinates_Validation(t *testing.T) {
	router := newTestRouter(t, routerOptions{})

	tests := []struct {
		name   string
		query  string
		fields []string
	}{
		{"missing both", "", []string{"lat", "lon"}},
		{"lat out of range", "?lat=91&lon=80", []string{"lat"}},
		{"lon out of range", "?lat=13&lon=-180.5", []string{"lon"}},
		{"not a number", "?lat=abc&lon=80", []string{"lat"}},
		{"nan", "?lat=NaN&lon=80", []string{"lat"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, "/v1/forecasts/coordinates"+tt.query)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			p := decodeProblem(t, w)
			var fields []string
			for _, e := range p.Errors {
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}

func TestRouter_ForecastRateLimit(t *testing.T) {
	store := series.NewInMemoryStore()
	store.Seed("Erode", 50, 50, 50, 50, 50, 50, 50)
	router := newTestRouter(t, routerOptions{
		store: store,
		limit: &middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute},
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(t, router, "/v1/forecasts/locations/Erode").Code)
	}
	w := get(t, router, "/v1/forecasts/locations/Erode")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Other endpoints have their own budget.
	assert.Equal(t, http.StatusOK, get(t, router, "/v1/locations").Code)
}

func TestRouter_RequestID_Generated(t *testing.T) {
	w := get(t, newTestRouter(t, routerOptions{}), "/v1/ops/health")

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	router := newTestRouter(t, routerOptions{})

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	w := get(t, newTestRouter(t, routerOptions{}), "/v1/nonexistent")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.ProblemTypeNotFound, decodeProblem(t, w).Type)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, routerOptions{})

	req := httptest.NewRequest(http.MethodPost, "/v1/locations", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, models.ProblemTypeMethodNotAllowed, decodeProblem(t, w).Type)
}

func TestRouter_OpsOnly(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Version:   "test",
		Logger:    zerolog.New(io.Discard),
		Providers: resilience.NewRegistry(),
		Ingest:    stubIngest{},
	})

	w := get(t, router, "/v1/ops/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.Nil(t, status.Model)
	assert.Nil(t, status.Cache)
	assert.NotEmpty(t, status.Ingest)

	w = get(t, router, "/v1/forecasts/locations/Delhi")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type stubCache struct{ status airquality.CacheStatus }

func (s stubCache) CacheStatus() airquality.CacheStatus { return s.status }

func TestRouter_SystemStatus_ReportsLookupCache(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Logger:    zerolog.New(io.Discard),
		Providers: resilience.NewRegistry(),
		Cache: stubCache{status: airquality.CacheStatus{
			Entries:     15,
			Expired:     2,
			LastFetchAt: today,
		}},
	})

	w := get(t, router, "/v1/ops/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.NotNil(t, status.Cache)
	assert.Equal(t, 15, status.Cache.Entries)
	assert.Equal(t, 2, status.Cache.Expired)
	require.NotNil(t, status.Cache.LastFetchAt)
	assert.True(t, time.Time(*status.Cache.LastFetchAt).Equal(today))
}

func TestRouter_SystemStatus_EmptyCacheOmitsLastFetch(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Logger:    zerolog.New(io.Discard),
		Providers: resilience.NewRegistry(),
		Cache:     stubCache{},
	})

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(get(t, router, "/v1/ops/status").Body.Bytes(), &status))
	require.NotNil(t, status.Cache)
	assert.Zero(t, status.Cache.Entries)
	assert.Nil(t, status.Cache.LastFetchAt)
}
