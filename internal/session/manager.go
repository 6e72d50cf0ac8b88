// Package session keeps one notification engine per user and exposes it
// over HTTP.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/notifications"
	"github.com/bissquit/nudge/internal/pkg/metrics"
	"github.com/bissquit/nudge/internal/queue"
	"github.com/bissquit/nudge/internal/store"
)

// HistoryReader reads study sessions and tasks.
type HistoryReader = notifications.HistoryReader

// Session holds one user's orchestrator. The mutex serializes every
// operation on it.
type Session struct {
	mu       sync.Mutex
	orch     *notifications.Orchestrator
	lastUsed time.Time
	evicted  bool
}

// Manager creates sessions on first access and runs batch work across them.
type Manager struct {
	cfg  notifications.Config
	deps notifications.Deps

	// Now returns the current time. Sessions created after it is set use
	// the same clock.
	Now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager.
func NewManager(cfg notifications.Config, deps notifications.Deps) *Manager {
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		Now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// session returns the user's session, loading persisted state when it is
// created. The new session is locked until loading completes.
func (m *Manager) session(ctx context.Context, userID string) *Session {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return s
	}

	orch := notifications.NewOrchestrator(userID, m.cfg, m.deps)
	orch.Now = m.Now
	s := &Session{orch: orch, lastUsed: m.Now()}
	s.mu.Lock()
	m.sessions[userID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
	orch.Load(ctx)
	s.mu.Unlock()

	slog.Debug("session loaded", "user_id", userID)
	return s
}

// with runs fn on the user's orchestrator under the session lock.
func (m *Manager) with(ctx context.Context, userID string, fn func(o *notifications.Orchestrator)) {
	for {
		s := m.session(ctx, userID)
		s.mu.Lock()
		if s.evicted {
			s.mu.Unlock()
			continue
		}
		s.lastUsed = m.Now()
		fn(s.orch)
		s.mu.Unlock()
		return
	}
}

// snapshot returns the loaded sessions.
func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of loaded sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Submit hands a request to the user's engine.
func (m *Manager) Submit(ctx context.Context, userID string, req domain.NotificationRequest, opts notifications.SubmitOptions) (res notifications.Result, err error) {
	m.with(ctx, userID, func(o *notifications.Orchestrator) {
		res, err = o.Submit(ctx, req, opts)
	})
	return res, err
}

// RecordResponse records the user's reaction to a sent notification.
func (m *Manager) RecordResponse(ctx context.Context, userID, notificationID string, opened, actionTaken bool, latencySeconds float64) (out notifications.ResponseOutcome, err error) {
	m.with(ctx, userID, func(o *notifications.Orchestrator) {
		out, err = o.RecordResponse(ctx, notificationID, opened, actionTaken, latencySeconds)
	})
	return out, err
}

// RemoveQueued drops a queued notification of the user.
func (m *Manager) RemoveQueued(ctx context.Context, userID, notificationID string) (removed bool) {
	m.with(ctx, userID, func(o *notifications.Orchestrator) {
		removed = o.RemoveQueued(ctx, notificationID)
	})
	return removed
}

// RecordActivity notes that the user interacted with the app.
func (m *Manager) RecordActivity(ctx context.Context, userID string) {
	m.with(ctx, userID, func(o *notifications.Orchestrator) {
		o.RecordActivity(ctx)
	})
}

// SetStudySession marks the start or end of the user's study session.
func (m *Manager) SetStudySession(ctx context.Context, userID string, active bool) {
	m.with(ctx, userID, func(o *notifications.Orchestrator) {
		o.SetStudySession(ctx, active)
	})
}

// QueueStats summarizes the user's queue.
func (m *Manager) QueueStats(ctx context.Context, userID string) (stats queue.Stats) {
	m.with(ctx, userID, func(o *notifications.Orchestrator) {
		stats = o.QueueStats()
	})
	return stats
}

// ModelStats describes the user's predictor.
func (m *Manager) ModelStats(ctx context.Context, userID string) (stats notifications.ModelStats) {
	m.with(ctx, userID, func(o *notifications.Orchestrator) {
		stats = o.ModelStats()
	})
	return stats
}

// RunBurnoutCheck runs the burnout analysis for the user.
func (m *Manager) RunBurnoutCheck(ctx context.Context, userID string) (check notifications.BurnoutCheck, err error) {
	m.with(ctx, userID, func(o *notifications.Orchestrator) {
		check, err = o.RunBurnoutCheck(ctx)
	})
	return check, err
}

// RunPeakTimeCheck runs the peak-time analysis for the user.
func (m *Manager) RunPeakTimeCheck(ctx context.Context, userID string) (check notifications.PeakTimeCheck, err error) {
	m.with(ctx, userID, func(o *notifications.Orchestrator) {
		check, err = o.RunPeakTimeCheck(ctx)
	})
	return check, err
}

// each runs fn on every loaded session under its lock. It stops early when
// ctx is done.
func (m *Manager) each(ctx context.Context, fn func(o *notifications.Orchestrator)) {
	for _, s := range m.snapshot() {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		if !s.evicted {
			fn(s.orch)
		}
		s.mu.Unlock()
	}
}

// DrainAll drains every loaded session and refreshes the queue gauges.
func (m *Manager) DrainAll(ctx context.Context) notifications.DrainResult {
	var total notifications.DrainResult
	sizes := make(map[domain.Priority]int, len(domain.Priorities))

	m.each(ctx, func(o *notifications.Orchestrator) {
		total.Add(o.Drain(ctx))
		for p, n := range o.QueueStats().ByPriority {
			sizes[p] += n
		}
	})

	queue.RecordSizes(sizes)
	metrics.ActiveSessions.Set(float64(m.Len()))
	return total
}

// MaintenanceSummary totals a maintenance pass across sessions.
type MaintenanceSummary struct {
	Sessions   int
	Reconciled int
	Retrained  int
	Pruned     int
}

// MaintainAll reconciles, retrains and prunes every loaded session.
func (m *Manager) MaintainAll(ctx context.Context) MaintenanceSummary {
	var sum MaintenanceSummary
	m.each(ctx, func(o *notifications.Orchestrator) {
		res := o.Maintain(ctx)
		sum.Sessions++
		sum.Reconciled += res.Reconciled
		sum.Pruned += res.Pruned
		if res.Retrained {
			sum.Retrained++
		}
	})
	return sum
}

// CheckSummary totals an analysis pass across sessions.
type CheckSummary struct {
	Checked  int
	Notified int
	Failed   int
}

// BurnoutCheckAll runs the burnout check for every loaded session.
func (m *Manager) BurnoutCheckAll(ctx context.Context) CheckSummary {
	var sum CheckSummary
	m.each(ctx, func(o *notifications.Orchestrator) {
		check, err := o.RunBurnoutCheck(ctx)
		if err != nil {
			slog.Warn("burnout check failed", "user_id", o.UserID(), "error", err)
			sum.Failed++
			return
		}
		sum.Checked++
		if check.Notification != nil {
			sum.Notified++
		}
	})
	return sum
}

// PeakTimeCheckAll runs the peak-time check for every loaded session.
func (m *Manager) PeakTimeCheckAll(ctx context.Context) CheckSummary {
	var sum CheckSummary
	m.each(ctx, func(o *notifications.Orchestrator) {
		check, err := o.RunPeakTimeCheck(ctx)
		if err != nil {
			slog.Warn("peak time check failed", "user_id", o.UserID(), "error", err)
			sum.Failed++
			return
		}
		sum.Checked++
		if check.Notification != nil {
			sum.Notified++
		}
	})
	return sum
}

// Preload loads the sessions of users that have a persisted queue so that
// their entries are drained without waiting for a request. Stores that
// cannot list users are skipped.
func (m *Manager) Preload(ctx context.Context) (int, error) {
	lister, ok := m.deps.Store.(store.Lister)
	if !ok {
		return 0, nil
	}
	users, err := lister.ListUsers(ctx, store.NamespaceQueue)
	if err != nil {
		return 0, err
	}
	for _, id := range users {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		m.session(ctx, id)
	}
	return len(users), nil
}

// EvictIdle flushes and unloads sessions unused for idle whose queue is
// empty. Sessions with queued entries stay loaded so they keep draining.
func (m *Manager) EvictIdle(ctx context.Context, idle time.Duration) int {
	cutoff := m.Now().Add(-idle)
	evicted := 0

	for _, s := range m.snapshot() {
		s.mu.Lock()
		if s.evicted || s.lastUsed.After(cutoff) || s.orch.QueueStats().Total > 0 {
			s.mu.Unlock()
			continue
		}
		s.orch.Flush(ctx)
		s.evicted = true

		m.mu.Lock()
		if m.sessions[s.orch.UserID()] == s {
			delete(m.sessions, s.orch.UserID())
		}
		m.mu.Unlock()
		s.mu.Unlock()
		evicted++
	}

	metrics.ActiveSessions.Set(float64(m.Len()))
	return evicted
}

// FlushAll persists every loaded session.
func (m *Manager) FlushAll(ctx context.Context) {
	m.each(ctx, func(o *notifications.Orchestrator) {
		o.Flush(ctx)
	})
}
