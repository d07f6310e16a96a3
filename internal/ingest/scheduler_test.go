package ingest_test

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqicast/aqicast/internal/ingest"
	"github.com/aqicast/aqicast/internal/series"
)

func TestNewScheduler_Validation(t *testing.T) {
	_, err := ingest.NewScheduler(ingest.SchedulerConfig{})
	assert.Error(t, err)

	job := newJob(t, &stubResolver{}, series.NewInMemoryStore(), ingest.DefaultConfig())
	_, err = ingest.NewScheduler(ingest.SchedulerConfig{Job: job, At: "25:99"})
	assert.Error(t, err)
}

func TestScheduler_NextRunIsDaily(t *testing.T) {
	job := newJob(t, &stubResolver{}, series.NewInMemoryStore(), ingest.DefaultConfig())
	s, err := ingest.NewScheduler(ingest.SchedulerConfig{
		Job:    job,
		At:     "06:30",
		Logger: zerolog.New(io.Discard),
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	next := s.NextRun().UTC()
	assert.Equal(t, 6, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.True(t, next.After(time.Now()))
	assert.True(t, next.Before(time.Now().Add(25*time.Hour)))
}

func TestScheduler_RunOnStart(t *testing.T) {
	resolver := &stubResolver{}
	job := newJob(t, resolver, series.NewInMemoryStore(), ingest.DefaultConfig())
	s, err := ingest.NewScheduler(ingest.SchedulerConfig{
		Job:        job,
		RunOnStart: true,
		Logger:     zerolog.New(io.Discard),
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return job.GetMetrics().TotalRuns == 1
	}, time.Second, 5*time.Millisecond)
}
