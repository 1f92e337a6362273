package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named periodic maintenance jobs.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]*job
	logger *slog.Logger
}

type job struct {
	id       cron.EntryID
	schedule string
	runs     atomic.Int64
	panics   atomic.Int64
}

// JobInfo describes a registered job for the admin API.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
	Runs     int64     `json:"runs"`
	Panics   int64     `json:"panics"`
}

// New creates a new scheduler. A job still running when its next tick
// arrives skips that tick.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs:   make(map[string]*job),
		logger: logger.With("component", "scheduler"),
	}
}

// Start begins the cron scheduler. Blocks until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// AddJob schedules fn under name, replacing any job with the same name.
// The schedule is a standard 5-field cron expression or a descriptor such
// as "@every 10m".
func (s *Scheduler) AddJob(name, schedule string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &job{schedule: schedule}
	id, err := s.cron.AddFunc(schedule, func() {
		j.runs.Add(1)
		defer func() {
			if r := recover(); r != nil {
				j.panics.Add(1)
				s.logger.Error("job panicked", "job", name, "panic", r)
			}
		}()
		fn()
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}
	j.id = id

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
	}
	s.jobs[name] = j
	s.logger.Info("job registered", "job", name, "schedule", schedule)
	return nil
}

// RemoveJob removes the named job.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[name]; ok {
		s.cron.Remove(j.id)
		delete(s.jobs, name)
	}
}

// Jobs returns the registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		e := s.cron.Entry(j.id)
		out = append(out, JobInfo{
			Name:     name,
			Schedule: j.schedule,
			Next:     e.Next,
			Prev:     e.Prev,
			Runs:     j.runs.Load(),
			Panics:   j.panics.Load(),
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// JobCount returns the number of scheduled jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
