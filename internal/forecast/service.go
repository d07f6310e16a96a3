package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqicast/aqicast/internal/airquality"
	"github.com/aqicast/aqicast/internal/geo"
)

// ServiceConfig holds configuration for the forecast service.
type ServiceConfig struct {
	Registry *geo.Registry
	Resolver *airquality.Resolver
	Engine   *Engine

	// PointLookup serves live readings for exact coordinates. Optional; when nil
	// coordinate readings come from the resolved registry location.
	PointLookup airquality.PointLookup

	Logger zerolog.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service is the public forecasting surface: it pins a request to a registry
// location, then forecasts from that location's stored history.
type Service struct {
	registry    *geo.Registry
	resolver    *airquality.Resolver
	engine      *Engine
	pointLookup airquality.PointLookup
	logger      zerolog.Logger
	now         func() time.Time
}

// NewService creates a new forecast service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		registry:    cfg.Registry,
		resolver:    cfg.Resolver,
		engine:      cfg.Engine,
		pointLookup: cfg.PointLookup,
		logger:      cfg.Logger,
		now:         now,
	}
}

// PredictByLocation forecasts the next day for a named registry location.
func (s *Service) PredictByLocation(ctx context.Context, name string) (Forecast, error) {
	loc, err := s.registry.Get(name)
	if err != nil {
		return Forecast{}, err
	}
	return s.engine.Predict(ctx, loc.Name)
}

// PredictByCoordinates forecasts for the registry location nearest to a point
// and returns that location alongside the forecast.
func (s *Service) PredictByCoordinates(ctx context.Context, lat, lon float64) (geo.Location, Forecast, error) {
	loc, err := s.resolver.ResolveLocationForCoordinates(lat, lon)
	if err != nil {
		return geo.Location{}, Forecast{}, err
	}

	s.logger.Debug().
		Float64("lat", lat).
		Float64("lon", lon).
		Str("location", loc.Name).
		Msg("resolved coordinates to location")

	fc, err := s.engine.Predict(ctx, loc.Name)
	if err != nil {
		return loc, Forecast{}, err
	}
	return loc, fc, nil
}

// CurrentByLocation resolves today's live reading for a registry location,
// borrowing from the nearest neighbour when needed.
func (s *Service) CurrentByLocation(ctx context.Context, name string) (airquality.Reading, error) {
	return s.resolver.ResolveReading(ctx, name)
}

// CurrentByCoordinates returns the live reading for an exact point when the
// point feed has a valid value, and otherwise the resolved reading of the
// nearest registry location.
func (s *Service) CurrentByCoordinates(ctx context.Context, lat, lon float64, loc geo.Location) (airquality.Reading, error) {
	if s.pointLookup != nil {
		raw, err := s.pointLookup.CurrentAt(ctx, lat, lon)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return airquality.Reading{}, ctxErr
			}
			s.logger.Warn().
				Err(err).
				Float64("lat", lat).
				Float64("lon", lon).
				Msg("point lookup failed, using nearest location")
		default:
			if parsed := airquality.ParseAQI(raw); parsed.Valid() {
				return airquality.Reading{
					Location: loc.Name,
					Date:     airquality.Day(s.now()),
					AQI:      parsed.AQI,
					Source:   airquality.SourcePoint,
				}, nil
			}
		}
	}

	reading, err := s.resolver.ResolveReading(ctx, loc.Name)
	if err != nil {
		return airquality.Reading{}, fmt.Errorf("current reading for %s: %w", loc.Name, err)
	}
	return reading, nil
}

// Mode returns the engine's model mode.
func (s *Service) Mode() Mode {
	return s.engine.Mode()
}

