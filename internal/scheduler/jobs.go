package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/bissquit/nudge/internal/session"
)

// Job names.
const (
	JobMaintain = "maintain"
	JobBurnout  = "burnout_check"
	JobPeakTime = "peak_time_check"
	JobEvict    = "evict_idle"
)

// Engine is the batch surface of the session manager.
type Engine interface {
	MaintainAll(ctx context.Context) session.MaintenanceSummary
	BurnoutCheckAll(ctx context.Context) session.CheckSummary
	PeakTimeCheckAll(ctx context.Context) session.CheckSummary
	EvictIdle(ctx context.Context, idle time.Duration) int
}

// Cleaner forgets idle per-user state.
type Cleaner interface {
	Cleanup() int
}

// EngineSchedules holds the cron expressions of the engine jobs.
type EngineSchedules struct {
	Maintain    string
	Burnout     string
	PeakTime    string
	Evict       string
	IdleTimeout time.Duration
}

// RegisterEngineJobs registers the periodic engine jobs. cleaners run after
// each eviction pass.
func RegisterEngineJobs(s *Scheduler, engine Engine, cfg EngineSchedules, cleaners ...Cleaner) error {
	jobs := []struct {
		name     string
		schedule string
		run      func(ctx context.Context)
	}{
		{JobMaintain, cfg.Maintain, func(ctx context.Context) {
			sum := engine.MaintainAll(ctx)
			slog.Info("maintenance pass finished",
				"sessions", sum.Sessions,
				"reconciled", sum.Reconciled,
				"retrained", sum.Retrained,
				"pruned", sum.Pruned,
			)
		}},
		{JobBurnout, cfg.Burnout, func(ctx context.Context) {
			logCheck("burnout", engine.BurnoutCheckAll(ctx))
		}},
		{JobPeakTime, cfg.PeakTime, func(ctx context.Context) {
			logCheck("peak time", engine.PeakTimeCheckAll(ctx))
		}},
		{JobEvict, cfg.Evict, func(ctx context.Context) {
			evicted := engine.EvictIdle(ctx, cfg.IdleTimeout)
			removed := 0
			for _, c := range cleaners {
				removed += c.Cleanup()
			}
			if evicted+removed > 0 {
				slog.Info("evicted idle state", "sessions", evicted, "rate_limiters", removed)
			}
		}},
	}

	for _, j := range jobs {
		if err := s.Register(j.name, j.schedule, j.run); err != nil {
			return err
		}
	}
	return nil
}

func logCheck(kind string, sum session.CheckSummary) {
	level := slog.LevelInfo
	if sum.Failed > 0 {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, kind+" checks finished",
		"checked", sum.Checked,
		"notified", sum.Notified,
		"failed", sum.Failed,
	)
}
