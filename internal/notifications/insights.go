package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bissquit/nudge/internal/burnout"
	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/peaktime"
	"github.com/bissquit/nudge/internal/store"
)

// BurnoutCheck is the result of RunBurnoutCheck.
type BurnoutCheck struct {
	Analysis     burnout.Analysis `json:"analysis"`
	Cached       bool             `json:"cached"`
	Notification *Result          `json:"notification,omitempty"`
}

// PeakTimeCheck is the result of RunPeakTimeCheck.
type PeakTimeCheck struct {
	Analysis     peaktime.Analysis `json:"analysis"`
	Cached       bool              `json:"cached"`
	Notification *Result           `json:"notification,omitempty"`
}

// RunBurnoutCheck analyzes recent study history and submits a wellbeing
// warning when intervention is needed. A fresh cached analysis is returned
// without reading history.
func (o *Orchestrator) RunBurnoutCheck(ctx context.Context) (BurnoutCheck, error) {
	now := o.Now()
	if o.burnout.IsFresh(now) {
		return BurnoutCheck{Analysis: *o.burnout, Cached: true}, nil
	}

	settings := o.settings(ctx)
	local := now.In(settings.Location())
	sessions, tasks, err := o.history(ctx, now.Add(-peaktime.Window))
	if err != nil {
		return BurnoutCheck{}, err
	}
	o.refreshContext(sessions, tasks, local)

	a := burnout.Analyze(sessions, tasks, local)
	o.burnout = &a
	o.markDirty(store.NamespaceBurnout)
	defer o.persist(ctx)

	check := BurnoutCheck{Analysis: a}
	if !a.NeedsIntervention {
		return check, nil
	}

	body := "You have been working hard. Consider taking a break."
	if len(a.Recommendations) > 0 {
		body = a.Recommendations[0]
	}
	req := domain.NotificationRequest{
		ID:       fmt.Sprintf("burnout_%s_%s", o.userID, local.Format("20060102")),
		UserID:   o.userID,
		Type:     domain.NotificationTypeBurnoutWarning,
		Priority: domain.PriorityHigh,
		Title:    "Time to slow down",
		Body:     body,
		Data: map[string]string{
			"risk_level": string(a.RiskLevel),
			"risk_score": strconv.FormatFloat(a.RiskScore, 'f', 1, 64),
		},
	}
	res, err := o.Submit(ctx, req, SubmitOptions{CanDelay: true})
	if err != nil {
		slog.Warn("failed to submit burnout warning", "user_id", o.userID, "error", err)
		return check, nil
	}
	check.Notification = &res
	return check, nil
}

// RunPeakTimeCheck finds the user's most productive hours. With pending work
// it sends a study reminder now when the current hour is a peak hour, or
// queues one for the next peak hour otherwise. At most one suggestion is
// made per CacheTTL.
func (o *Orchestrator) RunPeakTimeCheck(ctx context.Context) (PeakTimeCheck, error) {
	now := o.Now()
	settings := o.settings(ctx)
	local := now.In(settings.Location())

	var check PeakTimeCheck
	var tasks []domain.Task
	if o.peak.IsFresh(now) {
		check = PeakTimeCheck{Analysis: *o.peak, Cached: true}
		if o.peak.SuggestedRecently(now) {
			return check, nil
		}
		if o.deps.History != nil {
			var err error
			if tasks, err = o.deps.History.ListTasks(ctx, o.userID); err != nil {
				slog.Warn("failed to list tasks for peak time reminder", "user_id", o.userID, "error", err)
				return check, nil
			}
		}
	} else {
		sessions, ts, err := o.history(ctx, now.Add(-peaktime.Window))
		if err != nil {
			return PeakTimeCheck{}, err
		}
		tasks = ts
		o.refreshContext(sessions, tasks, local)
		a := peaktime.Analyze(sessions, local)
		if o.peak != nil {
			a.LastSuggested = o.peak.LastSuggested
		}
		o.peak = &a
		o.markDirty(store.NamespacePeakTime)
		check = PeakTimeCheck{Analysis: a}
		if a.SuggestedRecently(now) {
			o.persist(ctx)
			return check, nil
		}
	}
	defer o.persist(ctx)

	pending := pendingTasks(tasks)
	if pending == 0 || check.Analysis.Confidence == peaktime.ConfidenceLow {
		return check, nil
	}

	req := domain.NotificationRequest{
		ID:       fmt.Sprintf("peak_%s_%s", o.userID, local.Format("2006010215")),
		UserID:   o.userID,
		Type:     domain.NotificationTypePeakTimeSuggestion,
		Priority: domain.PriorityMedium,
		Title:    "Good time to study",
		Body:     fmt.Sprintf("This is one of your most productive hours. You have %d pending tasks.", pending),
	}
	opts := SubmitOptions{CanDelay: true}

	if peaktime.ShouldRemindNow(&check.Analysis, true, local) {
		opts.ForceImmediate = true
	} else {
		at, ok := check.Analysis.NextPeak(local)
		if !ok {
			return check, nil
		}
		hour := at.Hour()
		req.ID = fmt.Sprintf("peak_%s_%s", o.userID, at.Format("2006010215"))
		req.Body = fmt.Sprintf("You usually study best around %02d:00. You have %d pending tasks.", hour, pending)
		req.Hints = &domain.SchedulingHints{PreferredHour: &hour}
		opts.MaxDelayHours = 24
	}

	res, err := o.Submit(ctx, req, opts)
	if err != nil {
		slog.Warn("failed to submit peak time suggestion", "user_id", o.userID, "error", err)
		return check, nil
	}
	check.Notification = &res

	switch res.Status {
	case StatusSent, StatusQueued, StatusDeferred:
		o.peak.LastSuggested = &now
		o.markDirty(store.NamespacePeakTime)
		check.Analysis.LastSuggested = &now
	}
	return check, nil
}

func (o *Orchestrator) history(ctx context.Context, since time.Time) ([]domain.StudySession, []domain.Task, error) {
	if o.deps.History == nil {
		return nil, nil, fmt.Errorf("%w: no history reader configured", ErrHistoryUnavailable)
	}
	sessions, err := o.deps.History.ListSessions(ctx, o.userID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: list sessions: %w", ErrHistoryUnavailable, err)
	}
	tasks, err := o.deps.History.ListTasks(ctx, o.userID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: list tasks: %w", ErrHistoryUnavailable, err)
	}
	return sessions, tasks, nil
}

// refreshContext updates the collector's overdue count and study streak.
func (o *Orchestrator) refreshContext(sessions []domain.StudySession, tasks []domain.Task, now time.Time) {
	overdue := 0
	for _, t := range tasks {
		if t.IsOverdue(now) {
			overdue++
		}
	}
	o.collector.UpdateContext(overdue, StudyStreak(sessions, now))
	o.markDirty(store.NamespaceTraining)
}

// StudyStreak counts consecutive days with at least one session, ending
// today or, if nothing was studied yet today, yesterday. Days are taken in
// now's location.
func StudyStreak(sessions []domain.StudySession, now time.Time) int {
	days := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		days[s.StartedAt.In(now.Location()).Format(time.DateOnly)] = struct{}{}
	}

	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	if _, ok := days[day.Format(time.DateOnly)]; !ok {
		day = day.AddDate(0, 0, -1)
	}
	streak := 0
	for {
		if _, ok := days[day.Format(time.DateOnly)]; !ok {
			return streak
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
}

func pendingTasks(tasks []domain.Task) int {
	n := 0
	for _, t := range tasks {
		if !t.Completed {
			n++
		}
	}
	return n
}
