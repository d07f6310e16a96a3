// Package ingest records one resolved AQI reading per location per day.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/aqicast/aqicast/internal/airquality"
	"github.com/aqicast/aqicast/internal/geo"
	"github.com/aqicast/aqicast/internal/series"
)

// ErrTooManyFailures is returned when more locations failed than succeeded.
var ErrTooManyFailures = errors.New("too many ingest failures")

// Config holds configuration for the ingest job.
type Config struct {
	// Concurrency is the number of locations resolved at once.
	// Default: 2
	Concurrency int

	// Timeout bounds the resolution and write of a single location.
	// Default: 30 seconds
	Timeout time.Duration

	// Locations restricts the run to these registry names. Empty means all.
	Locations []string
}

// DefaultConfig returns the default ingest configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 2,
		Timeout:     30 * time.Second,
	}
}

// ReadingResolver resolves today's reading for a location.
type ReadingResolver interface {
	ResolveReading(ctx context.Context, name string) (airquality.Reading, error)
}

// JobConfig holds the dependencies of a Job.
type JobConfig struct {
	Config   Config
	Registry *geo.Registry
	Resolver ReadingResolver
	Store    series.Writer
	Logger   zerolog.Logger

	// Meter defaults to the global OpenTelemetry meter provider.
	Meter metric.Meter
}

// Job resolves and stores today's reading for every configured location.
type Job struct {
	config   Config
	registry *geo.Registry
	resolver ReadingResolver
	store    series.Writer
	logger   zerolog.Logger

	runs     metric.Int64Counter
	outcomes metric.Int64Counter

	mu      sync.RWMutex
	metrics Metrics
	running bool
}

// Metrics tracks ingest statistics across runs.
type Metrics struct {
	TotalRuns           int64
	Stored              int64
	Borrowed            int64
	Failed              int64
	LastRunAt           time.Time
	LastRunDuration     time.Duration
	LastRunFailed       int
	LastRunLocationErrs []LocationError
}

// Result contains the outcome of one run.
type Result struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Total      int
	Successful int
	Borrowed   int
	Failed     int
	Errors     []LocationError
	Skipped    bool
}

// LocationError describes a location that could not be ingested.
type LocationError struct {
	Location string `json:"location"`
	Error    string `json:"error"`
}

// NewJob creates a new ingest job.
func NewJob(cfg JobConfig) *Job {
	config := cfg.Config
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter("github.com/aqicast/aqicast/internal/ingest")
	}
	runs, err := meter.Int64Counter("aqi.ingest.runs",
		metric.WithDescription("Ingest runs started"))
	if err != nil {
		runs = noop.Int64Counter{}
	}
	outcomes, err := meter.Int64Counter("aqi.ingest.locations",
		metric.WithDescription("Locations processed by ingest, by outcome"))
	if err != nil {
		outcomes = noop.Int64Counter{}
	}

	return &Job{
		config:   config,
		registry: cfg.Registry,
		resolver: cfg.Resolver,
		store:    cfg.Store,
		logger:   cfg.Logger,
		runs:     runs,
		outcomes: outcomes,
	}
}

// Run ingests every configured location. Per-location failures are logged
// and counted; they never abort the run. A run that starts while another is
// still in progress is skipped.
func (j *Job) Run(ctx context.Context) *Result {
	return j.run(ctx, j.config.Locations)
}

// RunLocations ingests only the named locations.
func (j *Job) RunLocations(ctx context.Context, names []string) *Result {
	if len(names) == 0 {
		return j.Run(ctx)
	}
	return j.run(ctx, names)
}

func (j *Job) run(ctx context.Context, names []string) *Result {
	startTime := time.Now()
	result := &Result{StartTime: startTime}

	if !j.begin() {
		j.logger.Warn().Msg("ingest already running, skipping")
		result.Skipped = true
		return result
	}
	defer j.end()

	locations, unknown := j.targets(names)
	result.Total = len(locations) + len(unknown)
	for _, name := range unknown {
		result.Failed++
		result.Errors = append(result.Errors, LocationError{
			Location: name,
			Error:    geo.ErrUnknownLocation.Error(),
		})
	}

	j.runs.Add(ctx, 1)
	j.logger.Info().
		Int("locations", result.Total).
		Int("concurrency", j.config.Concurrency).
		Msg("starting ingest")

	queue := make(chan string, len(locations))
	outcomes := make(chan outcome, len(locations))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.worker(ctx, queue, outcomes)
		}()
	}

	for _, loc := range locations {
		queue <- loc.Name
	}
	close(queue)

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		switch {
		case o.err != nil:
			result.Failed++
			result.Errors = append(result.Errors, LocationError{
				Location: o.location,
				Error:    o.err.Error(),
			})
		case o.borrowed:
			result.Successful++
			result.Borrowed++
		default:
			result.Successful++
		}
	}

	// Locations never picked up because the context ended count as failures.
	if missing := result.Total - result.Successful - result.Failed; missing > 0 {
		result.Failed += missing
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("stored", result.Successful).
		Int("borrowed", result.Borrowed).
		Int("failed", result.Failed).
		Msg("ingest completed")

	return result
}

type outcome struct {
	location string
	borrowed bool
	err      error
}

func (j *Job) worker(ctx context.Context, names <-chan string, outcomes chan<- outcome) {
	for name := range names {
		select {
		case <-ctx.Done():
			return
		default:
			outcomes <- j.ingestLocation(ctx, name)
		}
	}
}

func (j *Job) ingestLocation(ctx context.Context, name string) outcome {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	o := outcome{location: name}

	reading, err := j.resolver.ResolveReading(ctx, name)
	if err != nil {
		o.err = err
		j.record(ctx, "failed")
		j.logger.Error().Err(err).Str("location", name).Msg("resolve reading failed")
		return o
	}

	if err := j.store.Upsert(ctx, reading); err != nil {
		o.err = err
		j.record(ctx, "failed")
		j.logger.Error().Err(err).Str("location", name).Msg("store reading failed")
		return o
	}

	_, o.borrowed = reading.Source.BorrowedFrom()
	if o.borrowed {
		j.record(ctx, "borrowed")
	} else {
		j.record(ctx, "direct")
	}

	j.logger.Debug().
		Str("location", name).
		Int("aqi", reading.AQI).
		Str("source", string(reading.Source)).
		Msg("stored reading")
	return o
}

func (j *Job) record(ctx context.Context, result string) {
	j.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result)))
}

// targets returns the registry locations to ingest, in registry order, and
// any configured names the registry does not know.
func (j *Job) targets(names []string) ([]geo.Location, []string) {
	if len(names) == 0 {
		return j.registry.Locations(), nil
	}

	var (
		locations []geo.Location
		unknown   []string
	)
	for _, name := range names {
		loc, err := j.registry.Get(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		locations = append(locations, loc)
	}
	return locations, unknown
}

func (j *Job) begin() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	return true
}

func (j *Job) end() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
}

func (j *Job) updateMetrics(result *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.metrics.TotalRuns++
	j.metrics.Stored += int64(result.Successful)
	j.metrics.Borrowed += int64(result.Borrowed)
	j.metrics.Failed += int64(result.Failed)
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.LastRunFailed = result.Failed
	j.metrics.LastRunLocationErrs = append([]LocationError(nil), result.Errors...)
}

// GetMetrics returns a copy of the current metrics.
func (j *Job) GetMetrics() Metrics {
	j.mu.RLock()
	defer j.mu.RUnlock()

	m := j.metrics
	m.LastRunLocationErrs = append([]LocationError(nil), j.metrics.LastRunLocationErrs...)
	return m
}

// MetricsSnapshot returns the current metrics as a map for status output.
func (j *Job) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":        m.TotalRuns,
		"stored":            m.Stored,
		"borrowed":          m.Borrowed,
		"failed":            m.Failed,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
		"last_run_failed":   m.LastRunFailed,
		"last_run_errors":   m.LastRunLocationErrs,
	}
}

// MostlyFailed reports whether more locations failed than succeeded.
func (r *Result) MostlyFailed() bool {
	return r.Failed > r.Successful
}
