// Package series stores daily AQI histories and turns them into fixed-length
// model input windows.
package series

import (
	"context"
	"errors"
	"time"

	"github.com/aqicast/aqicast/internal/airquality"
)

// ErrInvalidReading is returned when a reading cannot be stored.
var ErrInvalidReading = errors.New("invalid reading")

// Sample is one stored daily value.
type Sample struct {
	Date   time.Time
	AQI    int
	Source airquality.Source
}

// Store reads location histories.
type Store interface {
	// History returns up to maxDays most recent samples for a location,
	// ordered oldest first. An unknown location has an empty history.
	History(ctx context.Context, location string, maxDays int) ([]Sample, error)
}

// Writer records daily readings.
type Writer interface {
	// Upsert stores a reading, replacing any existing one for the same
	// location and date.
	Upsert(ctx context.Context, reading airquality.Reading) error
}

// ReadWriter is a Store that can also record readings.
type ReadWriter interface {
	Store
	Writer
}

// Values extracts the AQI values of samples in order.
func Values(samples []Sample) []float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = float64(s.AQI)
	}
	return values
}

func validateReading(r airquality.Reading) error {
	if r.Location == "" {
		return errors.Join(ErrInvalidReading, errors.New("location is required"))
	}
	if r.Date.IsZero() {
		return errors.Join(ErrInvalidReading, errors.New("date is required"))
	}
	if r.Source == "" {
		return errors.Join(ErrInvalidReading, errors.New("source is required"))
	}
	return nil
}

// dateKey normalizes a reading date to a UTC calendar day so the same local
// day always maps to the same stored row.
func dateKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
