package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultUpdateSchedule runs dataset updates every Sunday at 01:00
const DefaultUpdateSchedule = "0 1 * * 0"

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a scheduler evaluating schedules in loc (nil means local time)
func New(log zerolog.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a standard five-field cron schedule
// Schedule examples:
//   - "0 1 * * 0"   - Sundays at 01:00
//   - "@weekly"     - Sundays at midnight
//   - "@every 6h"   - Every six hours
//
// A job that is still running when its next tick fires is skipped.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		start := time.Now()
		s.log.Info().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			s.log.Info().Str("job", job.Name()).Dur("duration", time.Since(start)).Msg("Job completed")
		}
	}))

	id, err := s.cron.AddJob(schedule, wrapped)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	s.entries[job.Name()] = id
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// Next returns the next run time of the named job, or false if it is not registered
// or the scheduler is not running.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// NextAfter computes the next activation of schedule after t without registering anything
func NextAfter(schedule string, t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return sched.Next(t), nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}
