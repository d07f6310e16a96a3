package airquality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqicast/aqicast/internal/geo"
)

// ResolverConfig holds configuration for the station resolver.
type ResolverConfig struct {
	// Registry is the set of known locations.
	Registry *geo.Registry

	// Lookup fetches live values. Pacing between calls is the lookup's concern.
	Lookup Lookup

	// Logger for resolver operations.
	Logger zerolog.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Resolver pins live readings and coordinates to registry locations.
type Resolver struct {
	registry *geo.Registry
	lookup   Lookup
	logger   zerolog.Logger
	now      func() time.Time
}

// NewResolver creates a new Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		registry: cfg.Registry,
		lookup:   cfg.Lookup,
		logger:   cfg.Logger,
		now:      now,
	}
}

// ResolveReading returns today's reading for a location.
// If the location's own value is missing or invalid, every other location is
// queried in registry order and the geographically nearest one with a valid
// value is used instead. Returns geo.ErrEmptyCandidateSet when the registry
// has no other location and ErrNoValidNeighbor when none has a valid value.
// When every neighbour lookup failed, the error also wraps the first lookup
// failure, so errors.Is(err, ErrProviderUnavailable) reports a provider outage.
func (r *Resolver) ResolveReading(ctx context.Context, name string) (Reading, error) {
	target, err := r.registry.Get(name)
	if err != nil {
		return Reading{}, err
	}

	today := Day(r.now())

	parsed, _, err := r.current(ctx, target.Name)
	if err != nil {
		return Reading{}, err
	}
	if parsed.Valid() {
		return Reading{
			Location: target.Name,
			Date:     today,
			AQI:      parsed.AQI,
			Source:   SourceDirect,
		}, nil
	}

	r.logger.Info().
		Str("location", target.Name).
		Str("status", parsed.Status.String()).
		Msg("direct reading unusable, scanning neighbours")

	neighbour, value, err := r.nearestValid(ctx, target)
	if err != nil {
		return Reading{}, err
	}

	return Reading{
		Location: target.Name,
		Date:     today,
		AQI:      value,
		Source:   NearestSource(neighbour.Name),
	}, nil
}

// ResolveLocationForCoordinates returns the registry location closest to the
// given point. Ties go to the location listed first in the registry.
func (r *Resolver) ResolveLocationForCoordinates(lat, lon float64) (geo.Location, error) {
	loc, _, err := r.registry.NearestTo(lat, lon)
	return loc, err
}

func (r *Resolver) nearestValid(ctx context.Context, target geo.Location) (geo.Location, int, error) {
	if r.registry.Len() < 2 {
		return geo.Location{}, 0, fmt.Errorf("%w: %s", geo.ErrEmptyCandidateSet, target.Name)
	}

	var (
		candidates []geo.Location
		scanned    int
		failed     int
		firstErr   error
	)
	values := make(map[string]int)

	for _, loc := range r.registry.Locations() {
		if loc.Name == target.Name {
			continue
		}
		scanned++

		parsed, lookupErr, err := r.current(ctx, loc.Name)
		if err != nil {
			return geo.Location{}, 0, err
		}
		if lookupErr != nil {
			failed++
			if firstErr == nil {
				firstErr = lookupErr
			}
			continue
		}
		if !parsed.Valid() {
			continue
		}

		candidates = append(candidates, loc)
		values[loc.Name] = parsed.AQI
	}

	if len(candidates) == 0 {
		if failed == scanned {
			return geo.Location{}, 0, fmt.Errorf("%w: %s: all %d lookups failed: %w",
				ErrNoValidNeighbor, target.Name, failed, firstErr)
		}
		return geo.Location{}, 0, fmt.Errorf("%w: %s", ErrNoValidNeighbor, target.Name)
	}

	nearest, dist, err := geo.NearestAmong(target, candidates)
	if err != nil {
		return geo.Location{}, 0, fmt.Errorf("%w: %s", ErrNoValidNeighbor, target.Name)
	}

	r.logger.Debug().
		Str("location", target.Name).
		Str("neighbour", nearest.Name).
		Float64("distance_km", dist).
		Int("candidates", len(candidates)).
		Msg("borrowed reading from nearest neighbour")

	return nearest, values[nearest.Name], nil
}

// current fetches and classifies one value. A lookup failure is returned as
// lookupErr alongside a missing value so the scan can continue; only
// cancellation of ctx is returned as err.
func (r *Resolver) current(ctx context.Context, name string) (parsed ParsedAQI, lookupErr, err error) {
	if err := ctx.Err(); err != nil {
		return ParsedAQI{}, nil, err
	}

	raw, lookupErr := r.lookup.Current(ctx, name)
	if lookupErr != nil {
		if errors.Is(lookupErr, context.Canceled) || errors.Is(lookupErr, context.DeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ParsedAQI{}, nil, ctxErr
			}
		}
		r.logger.Warn().
			Err(lookupErr).
			Str("location", name).
			Msg("live lookup failed")
		return ParsedAQI{Status: StatusMissing}, lookupErr, nil
	}

	return ParseAQI(raw), nil, nil
}
