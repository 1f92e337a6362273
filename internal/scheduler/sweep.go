package scheduler

import (
	"time"

	"github.com/legalmeet/intake/internal/metrics"
)

// Sweeper evicts stale sessions. *session.MemoryStore implements it.
type Sweeper interface {
	SweepIdle(now time.Time, ttl time.Duration) int
	SweepStuck(now time.Time, ttl time.Duration) int
}

// SweepConfig controls session eviction.
type SweepConfig struct {
	IdleSchedule  string        `json:"idle_schedule"`
	IdleTTL       time.Duration `json:"idle_ttl"`
	StuckSchedule string        `json:"stuck_schedule"`
	StuckTTL      time.Duration `json:"stuck_ttl"`
}

// DefaultSweepConfig sweeps idle sessions after an hour and sessions stuck
// in the booking dialogue after five minutes.
var DefaultSweepConfig = SweepConfig{
	IdleSchedule:  "@every 10m",
	IdleTTL:       time.Hour,
	StuckSchedule: "@every 2m",
	StuckTTL:      5 * time.Minute,
}

func (c SweepConfig) withDefaults() SweepConfig {
	d := DefaultSweepConfig
	if c.IdleSchedule == "" {
		c.IdleSchedule = d.IdleSchedule
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = d.IdleTTL
	}
	if c.StuckSchedule == "" {
		c.StuckSchedule = d.StuckSchedule
	}
	if c.StuckTTL <= 0 {
		c.StuckTTL = d.StuckTTL
	}
	return c
}

// RegisterSweeps adds the idle and stuck session sweeps.
func (s *Scheduler) RegisterSweeps(sw Sweeper, cfg SweepConfig, m *metrics.Metrics) error {
	cfg = cfg.withDefaults()

	if err := s.AddJob("sweep_idle", cfg.IdleSchedule, func() {
		s.sweep("idle", m, func(now time.Time) int { return sw.SweepIdle(now, cfg.IdleTTL) })
	}); err != nil {
		return err
	}
	return s.AddJob("sweep_stuck", cfg.StuckSchedule, func() {
		s.sweep("stuck", m, func(now time.Time) int { return sw.SweepStuck(now, cfg.StuckTTL) })
	})
}

func (s *Scheduler) sweep(kind string, m *metrics.Metrics, fn func(time.Time) int) {
	n := fn(time.Now())
	m.Swept(kind, n)
	if n > 0 {
		s.logger.Info("sessions swept", "kind", kind, "count", n)
	}
}
