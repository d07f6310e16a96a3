package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aqicast/aqicast/internal/airquality"
	"github.com/aqicast/aqicast/internal/api/middleware"
	"github.com/aqicast/aqicast/internal/api/models"
	"github.com/aqicast/aqicast/internal/api/response"
	"github.com/aqicast/aqicast/internal/forecast"
	"github.com/aqicast/aqicast/internal/geo"
)

// ForecastService produces forecasts and live readings.
// *forecast.Service implements it.
type ForecastService interface {
	PredictByLocation(ctx context.Context, name string) (forecast.Forecast, error)
	PredictByCoordinates(ctx context.Context, lat, lon float64) (geo.Location, forecast.Forecast, error)
	CurrentByLocation(ctx context.Context, name string) (airquality.Reading, error)
	CurrentByCoordinates(ctx context.Context, lat, lon float64, loc geo.Location) (airquality.Reading, error)
}

var _ ForecastService = (*forecast.Service)(nil)

// ForecastHandler handles forecast endpoints.
type ForecastHandler struct {
	service  ForecastService
	registry *geo.Registry
	logger   zerolog.Logger
}

// NewForecastHandler creates a new ForecastHandler.
func NewForecastHandler(service ForecastService, registry *geo.Registry, logger zerolog.Logger) *ForecastHandler {
	return &ForecastHandler{
		service:  service,
		registry: registry,
		logger:   logger,
	}
}

// ForecastByLocation handles GET /v1/forecasts/locations/{name}.
func (h *ForecastHandler) ForecastByLocation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	includeCurrent, err := parseIncludeCurrent(r)
	if err != nil {
		response.BadRequest(w, r, "invalid query parameter", []models.FieldError{
			{Field: "includeCurrent", Message: "must be true or false", Code: "INVALID"},
		})
		return
	}

	loc, err := h.registry.Get(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	fc, err := h.service.PredictByLocation(r.Context(), loc.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := toForecastResponse(loc, fc)
	if includeCurrent {
		reading, err := h.service.CurrentByLocation(r.Context(), loc.Name)
		resp.Current = h.currentOrNil(r, loc.Name, reading, err)
	}

	response.JSON(w, r, http.StatusOK, resp)
}

// ForecastByCoordinates handles GET /v1/forecasts/coordinates?lat=&lon=.
func (h *ForecastHandler) ForecastByCoordinates(w http.ResponseWriter, r *http.Request) {
	lat, lon, fieldErrs := parseCoordinates(r)
	includeCurrent, err := parseIncludeCurrent(r)
	if err != nil {
		fieldErrs = append(fieldErrs, models.FieldError{
			Field: "includeCurrent", Message: "must be true or false", Code: "INVALID",
		})
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid coordinates", fieldErrs)
		return
	}

	loc, fc, err := h.service.PredictByCoordinates(r.Context(), lat, lon)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := toForecastResponse(loc, fc)
	resp.RequestedPoint = &models.Point{Lat: lat, Lon: lon}
	if includeCurrent {
		reading, err := h.service.CurrentByCoordinates(r.Context(), lat, lon, loc)
		resp.Current = h.currentOrNil(r, loc.Name, reading, err)
	}

	response.JSON(w, r, http.StatusOK, resp)
}

// currentOrNil converts a live reading for the response. A failed live lookup
// never fails the forecast; the field is omitted instead.
func (h *ForecastHandler) currentOrNil(r *http.Request, location string, reading airquality.Reading, err error) *models.CurrentReading {
	if err != nil {
		log := middleware.RequestLogger(r.Context(), h.logger)
		log.Warn().
			Err(err).
			Str("location", location).
			Msg("live reading unavailable")
		return nil
	}
	return &models.CurrentReading{
		AQI:    reading.AQI,
		Source: string(reading.Source),
		Date:   models.Date(reading.Date),
	}
}

// writeError maps domain errors to problem responses.
func (h *ForecastHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geo.ErrUnknownLocation):
		response.NotFound(w, r, err.Error())
	case errors.Is(err, geo.ErrInvalidCoordinates):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, forecast.ErrInsufficientHistory):
		response.UnprocessableHistory(w, r, err.Error())
	case errors.Is(err, airquality.ErrProviderUnavailable):
		response.ServiceUnavailable(w, r, "air quality provider unavailable")
	case errors.Is(err, airquality.ErrNoValidNeighbor):
		response.ServiceUnavailable(w, r, "no air quality data available")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		response.ServiceUnavailable(w, r, "forecast timed out")
	default:
		log := middleware.RequestLogger(r.Context(), h.logger)
		log.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("forecast failed")
		response.InternalError(w, r, "forecast failed")
	}
}

func toForecastResponse(loc geo.Location, fc forecast.Forecast) models.Forecast {
	category := fc.Category()
	history := make([]models.HistoryPoint, len(fc.History))
	for i, s := range fc.History {
		history[i] = models.HistoryPoint{
			Date:   models.Date(s.Date),
			AQI:    s.AQI,
			Source: string(s.Source),
		}
	}
	return models.Forecast{
		Location:            toLocation(loc),
		PredictedNextDayAQI: fc.AQI,
		Method:              string(fc.Method),
		Category:            category.Name,
		HealthAdvice:        category.Advice,
		History:             history,
	}
}

func toLocation(loc geo.Location) models.Location {
	return models.Location{Name: loc.Name, Lat: loc.Lat, Lon: loc.Lon}
}

func parseCoordinates(r *http.Request) (lat, lon float64, errs []models.FieldError) {
	lat, err := parseFloatParam(r, "lat", -90, 90)
	if err != nil {
		errs = append(errs, *err)
	}
	lon, err = parseFloatParam(r, "lon", -180, 180)
	if err != nil {
		errs = append(errs, *err)
	}
	return lat, lon, errs
}

func parseFloatParam(r *http.Request, name string, lo, hi float64) (float64, *models.FieldError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, &models.FieldError{Field: name, Message: "is required", Code: "REQUIRED"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return 0, &models.FieldError{Field: name, Message: "must be a number", Code: "INVALID"}
	}
	if v < lo || v > hi {
		return 0, &models.FieldError{
			Field:   name,
			Message: fmt.Sprintf("must be between %g and %g", lo, hi),
			Code:    "OUT_OF_RANGE",
		}
	}
	return v, nil
}

func parseIncludeCurrent(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("includeCurrent")
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
