package forecast_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqicast/aqicast/internal/airquality"
	"github.com/aqicast/aqicast/internal/forecast"
	"github.com/aqicast/aqicast/internal/geo"
	"github.com/aqicast/aqicast/internal/series"
)

var now = time.Date(2025, time.November, 2, 9, 0, 0, 0, time.UTC)

type fakeLookup map[string]airquality.RawAQI

func (f fakeLookup) Current(_ context.Context, location string) (airquality.RawAQI, error) {
	if v, ok := f[location]; ok {
		return v, nil
	}
	return airquality.Missing, nil
}

type fakePointLookup struct {
	value airquality.RawAQI
	err   error
	calls int
}

func (f *fakePointLookup) CurrentAt(context.Context, float64, float64) (airquality.RawAQI, error) {
	f.calls++
	return f.value, f.err
}

func newService(t *testing.T, store series.Store, lookup airquality.Lookup, point airquality.PointLookup) *forecast.Service {
	t.Helper()
	registry := geo.DefaultRegistry()
	return forecast.NewService(forecast.ServiceConfig{
		Registry: registry,
		Resolver: airquality.NewResolver(airquality.ResolverConfig{
			Registry: registry,
			Lookup:   lookup,
			Logger:   zerolog.New(io.Discard),
			Now:      func() time.Time { return now },
		}),
		Engine:      newEngine(t, store, forecast.UnavailableModel(nil)),
		PointLookup: point,
		Logger:      zerolog.New(io.Discard),
		Now:         func() time.Time { return now },
	})
}

func TestService_PredictByLocation(t *testing.T) {
	svc := newService(t, seeded("Coimbatore", 100, 110, 120, 130, 140, 150, 160), fakeLookup{}, nil)

	fc, err := svc.PredictByLocation(context.Background(), "coimbatore")
	require.NoError(t, err)
	assert.Equal(t, "Coimbatore", fc.Location)
	assert.Equal(t, 137, fc.AQI)
	assert.Equal(t, forecast.MethodFallback, fc.Method)
	assert.Equal(t, "Unhealthy for Sensitive Groups", fc.Category().Name)
	assert.Equal(t, forecast.ModeFallbackOnly, svc.Mode())
}

func TestService_PredictByLocation_Errors(t *testing.T) {
	svc := newService(t, seeded("Salem", 1, 2, 3), fakeLookup{}, nil)

	_, err := svc.PredictByLocation(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, geo.ErrUnknownLocation)

	_, err = svc.PredictByLocation(context.Background(), "Salem")
	assert.ErrorIs(t, err, forecast.ErrInsufficientHistory)
}

func TestService_PredictByCoordinates(t *testing.T) {
	svc := newService(t, seeded("Ooty", 30, 32, 34, 36, 38, 40, 42), fakeLookup{}, nil)

	loc, fc, err := svc.PredictByCoordinates(context.Background(), 11.40, 76.70)
	require.NoError(t, err)
	assert.Equal(t, "Ooty", loc.Name)
	assert.Equal(t, "Ooty", fc.Location)
	assert.Equal(t, forecast.MethodFallback, fc.Method)
}

func TestService_PredictByCoordinates_Errors(t *testing.T) {
	svc := newService(t, series.NewInMemoryStore(), fakeLookup{}, nil)

	_, _, err := svc.PredictByCoordinates(context.Background(), 120, 0)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinates)

	loc, _, err := svc.PredictByCoordinates(context.Background(), 13.08, 80.27)
	assert.ErrorIs(t, err, forecast.ErrInsufficientHistory)
	assert.Equal(t, "Chennai", loc.Name)
}

func TestService_CurrentByLocation(t *testing.T) {
	svc := newService(t, series.NewInMemoryStore(), fakeLookup{
		"Chennai":     airquality.Raw("-"),
		"Kanchipuram": airquality.Raw("118"),
	}, nil)

	reading, err := svc.CurrentByLocation(context.Background(), "Chennai")
	require.NoError(t, err)
	assert.Equal(t, 118, reading.AQI)
	assert.Equal(t, airquality.NearestSource("Kanchipuram"), reading.Source)
}

func TestService_CurrentByCoordinates(t *testing.T) {
	chennai, err := geo.DefaultRegistry().Get("Chennai")
	require.NoError(t, err)
	lookup := fakeLookup{"Chennai": airquality.Raw("77")}

	t.Run("point feed valid", func(t *testing.T) {
		point := &fakePointLookup{value: airquality.Raw("64")}
		svc := newService(t, series.NewInMemoryStore(), lookup, point)

		reading, err := svc.CurrentByCoordinates(context.Background(), 13.05, 80.25, chennai)
		require.NoError(t, err)
		assert.Equal(t, 64, reading.AQI)
		assert.Equal(t, airquality.SourcePoint, reading.Source)
		assert.Equal(t, "Chennai", reading.Location)
		assert.Equal(t, time.Date(2025, time.November, 2, 0, 0, 0, 0, time.UTC), reading.Date)
	})

	t.Run("point feed placeholder", func(t *testing.T) {
		point := &fakePointLookup{value: airquality.Raw("-")}
		svc := newService(t, series.NewInMemoryStore(), lookup, point)

		reading, err := svc.CurrentByCoordinates(context.Background(), 13.05, 80.25, chennai)
		require.NoError(t, err)
		assert.Equal(t, 77, reading.AQI)
		assert.Equal(t, airquality.SourceDirect, reading.Source)
		assert.Equal(t, 1, point.calls)
	})

	t.Run("point feed error", func(t *testing.T) {
		point := &fakePointLookup{err: errors.New("timeout")}
		svc := newService(t, series.NewInMemoryStore(), lookup, point)

		reading, err := svc.CurrentByCoordinates(context.Background(), 13.05, 80.25, chennai)
		require.NoError(t, err)
		assert.Equal(t, 77, reading.AQI)
	})

	t.Run("no neighbour", func(t *testing.T) {
		svc := newService(t, series.NewInMemoryStore(), fakeLookup{}, nil)

		_, err := svc.CurrentByCoordinates(context.Background(), 13.05, 80.25, chennai)
		assert.ErrorIs(t, err, airquality.ErrNoValidNeighbor)
	})
}
