package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// SchedulerConfig holds configuration for the daily scheduler.
type SchedulerConfig struct {
	// Job is the ingest job to run.
	Job *Job

	// At is the daily run time as "HH:MM" (default: "06:00").
	At string

	// Location is the time zone At is interpreted in (default: UTC).
	Location *time.Location

	// RunOnStart also runs the job immediately when the scheduler starts.
	RunOnStart bool

	Logger zerolog.Logger
}

// Scheduler runs the ingest job once a day.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	job        *Job
	at         string
	runOnStart bool
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	entry  *gocron.Job
}

// NewScheduler creates a new daily scheduler. The job is registered but not
// started until Start is called.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Job == nil {
		return nil, fmt.Errorf("ingest: job is required")
	}
	at := cfg.At
	if at == "" {
		at = "06:00"
	}
	if _, err := time.Parse("15:04", at); err != nil {
		return nil, fmt.Errorf("ingest: invalid run time %q: %w", at, err)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		scheduler:  gocron.NewScheduler(loc),
		job:        cfg.Job,
		at:         at,
		runOnStart: cfg.RunOnStart,
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	s.scheduler.SingletonModeAll()
	entry, err := s.scheduler.Every(1).Day().At(at).Do(s.run)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ingest: schedule daily job: %w", err)
	}
	s.entry = entry

	return s, nil
}

// Start starts the scheduler in the background.
func (s *Scheduler) Start() {
	if s.runOnStart {
		go s.run()
	}
	s.scheduler.StartAsync()

	s.logger.Info().
		Str("at", s.at).
		Time("next_run", s.NextRun()).
		Msg("ingest scheduler started")
}

// Stop stops the scheduler and cancels an in-flight run.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}

// NextRun returns the next scheduled run time.
func (s *Scheduler) NextRun() time.Time {
	return s.entry.NextRun()
}

func (s *Scheduler) run() {
	result := s.job.Run(s.ctx)
	if result.Skipped {
		return
	}
	if result.MostlyFailed() {
		s.logger.Error().
			Int("failed", result.Failed).
			Int("total", result.Total).
			Msg("scheduled ingest mostly failed")
	}
}
