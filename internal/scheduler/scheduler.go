// Package scheduler runs periodic engine jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)

	running atomic.Bool
}

// Scheduler runs registered jobs. A job whose previous run is still in
// progress is skipped.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context

	mu      sync.Mutex
	jobs    map[string]*Job
	entries map[string]cron.EntryID
	cancel  context.CancelFunc
}

// New creates a scheduler. Schedules are evaluated in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cronLogger{}))),
		jobs:    make(map[string]*Job),
		entries: make(map[string]cron.EntryID),
	}
}

// Register adds a job. An empty schedule disables the job.
func (s *Scheduler) Register(name, schedule string, run func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	job := &Job{Name: name, Schedule: schedule, Run: run}
	s.jobs[name] = job

	if schedule == "" {
		slog.Info("scheduled job disabled", "job", name)
		return nil
	}

	id, err := s.cron.AddFunc(schedule, func() {
		s.RunJob(s.context(), name)
	})
	if err != nil {
		delete(s.jobs, name)
		return fmt.Errorf("register job %q: %w", name, err)
	}
	s.entries[name] = id

	slog.Info("registered scheduled job", "job", name, "schedule", schedule)
	return nil
}

// Start starts the cron loop. Jobs receive a context derived from ctx that
// is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.entries))
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// Next returns the next run time of a job, or zero when it is not scheduled.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// RunJob runs a job now. It returns false when the job is unknown or
// already running.
func (s *Scheduler) RunJob(ctx context.Context, name string) bool {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}

	if !job.running.CompareAndSwap(false, true) {
		jobRuns.WithLabelValues(name, "skipped").Inc()
		slog.Debug("job still running, skipping", "job", name)
		return false
	}
	defer job.running.Store(false)

	start := time.Now()
	job.Run(ctx)
	jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	jobRuns.WithLabelValues(name, "completed").Inc()
	return true
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
