package series

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aqicast/aqicast/internal/airquality"
)

// seedEpoch is the first day Seed assigns to an empty history.
var seedEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// InMemoryStore is an in-memory implementation of ReadWriter.
// This is intended for testing. Production should use PostgresStore or SQLiteStore.
type InMemoryStore struct {
	mu      sync.RWMutex
	samples map[string][]Sample
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		samples: make(map[string][]Sample),
	}
}

// Seed appends consecutive daily values for a location, oldest first.
func (s *InMemoryStore) Seed(location string, values ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.samples[location]
	start := dateKey(seedEpoch)
	if n := len(existing); n > 0 {
		start = existing[n-1].Date.AddDate(0, 0, 1)
	}
	for i, v := range values {
		existing = append(existing, Sample{
			Date:   start.AddDate(0, 0, i),
			AQI:    v,
			Source: airquality.SourceDirect,
		})
	}
	s.samples[location] = existing
}

// History returns up to maxDays most recent samples, oldest first.
func (s *InMemoryStore) History(_ context.Context, location string, maxDays int) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.samples[location]
	if maxDays > 0 && len(all) > maxDays {
		all = all[len(all)-maxDays:]
	}

	out := make([]Sample, len(all))
	copy(out, all)
	return out, nil
}

// Upsert stores a reading, replacing any existing one for the same date.
func (s *InMemoryStore) Upsert(_ context.Context, r airquality.Reading) error {
	if err := validateReading(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day := dateKey(r.Date)
	sample := Sample{Date: day, AQI: r.AQI, Source: r.Source}

	existing := s.samples[r.Location]
	for i := range existing {
		if existing[i].Date.Equal(day) {
			existing[i] = sample
			return nil
		}
	}

	existing = append(existing, sample)
	sort.Slice(existing, func(a, b int) bool {
		return existing[a].Date.Before(existing[b].Date)
	})
	s.samples[r.Location] = existing
	return nil
}

// Ensure InMemoryStore implements ReadWriter interface.
var _ ReadWriter = (*InMemoryStore)(nil)
