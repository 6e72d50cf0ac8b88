package notifications

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bissquit/nudge/internal/burnout"
	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/peaktime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// overworked returns three days of 13 hour low rated sessions on top of a
// well rated baseline, plus six overdue tasks.
func overworked(now time.Time) ([]domain.StudySession, []domain.Task) {
	var sessions []domain.StudySession
	for i := 0; i < 3; i++ {
		y, m, d := now.AddDate(0, 0, -i).Date()
		sessions = append(sessions,
			domain.StudySession{
				ID:              fmt.Sprintf("base-%d", i),
				StartedAt:       time.Date(y, m, d-4, 9, 0, 0, 0, time.UTC),
				DurationMinutes: 60,
				Effectiveness:   5,
			},
			domain.StudySession{
				ID:              fmt.Sprintf("long-%d", i),
				StartedAt:       time.Date(y, m, d, 6, 0, 0, 0, time.UTC),
				DurationMinutes: 13 * 60,
				Effectiveness:   1,
			},
		)
	}
	var tasks []domain.Task
	for i := 0; i < 6; i++ {
		tasks = append(tasks, domain.Task{ID: fmt.Sprintf("t-%d", i), DueAt: now.Add(-time.Hour)})
	}
	return sessions, tasks
}

func TestRunBurnoutCheck_Intervenes(t *testing.T) {
	now := time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.history.sessions, f.history.tasks = overworked(now)
	ctx := context.Background()

	check, err := f.o.RunBurnoutCheck(ctx)
	require.NoError(t, err)
	assert.False(t, check.Cached)
	assert.Equal(t, burnout.LevelCritical, check.Analysis.RiskLevel)
	require.NotNil(t, check.Notification)
	assert.Equal(t, "burnout_user-1_20260310", check.Notification.NotificationID)
	assert.Equal(t, StatusSent, check.Notification.Status)

	require.Len(t, f.dispatcher.sent, 1)
	msg := f.dispatcher.sent[0]
	assert.Equal(t, domain.NotificationTypeBurnoutWarning, msg.Type)
	assert.Equal(t, check.Analysis.Recommendations[0], msg.Body)
	assert.Equal(t, "critical", msg.Data["risk_level"])

	assert.Equal(t, 6, f.o.collector.Features(&domain.NotificationRequest{}, now).TasksOverdue)
	assert.Equal(t, 3, f.o.collector.Features(&domain.NotificationRequest{}, now).StudyStreak)

	again, err := f.o.RunBurnoutCheck(ctx)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Nil(t, again.Notification)
	assert.Equal(t, 1, f.history.calls)
}

func TestRunBurnoutCheck_NoIntervention(t *testing.T) {
	f := newFixture(t, morning)

	check, err := f.o.RunBurnoutCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, burnout.LevelNone, check.Analysis.RiskLevel)
	assert.Nil(t, check.Notification)
	assert.Empty(t, f.dispatcher.sent)
}

func TestRunBurnoutCheck_HistoryUnavailable(t *testing.T) {
	f := newFixture(t, morning)
	f.history.err = errors.New("connection refused")

	_, err := f.o.RunBurnoutCheck(context.Background())
	assert.ErrorIs(t, err, ErrHistoryUnavailable)

	f.o.deps.History = nil
	_, err = f.o.RunBurnoutCheck(context.Background())
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
}

func productiveHistory(now time.Time) []domain.StudySession {
	session := func(daysBack, hour, minutes, effectiveness int) domain.StudySession {
		y, m, d := now.AddDate(0, 0, -daysBack).Date()
		return domain.StudySession{
			ID:              fmt.Sprintf("s-%d-%d", daysBack, hour),
			StartedAt:       time.Date(y, m, d, hour, 0, 0, 0, time.UTC),
			DurationMinutes: minutes,
			Effectiveness:   effectiveness,
		}
	}
	var sessions []domain.StudySession
	for day := 1; day <= 8; day++ {
		sessions = append(sessions, session(day, 9, 90, 5), session(day, 20, 45, 2))
	}
	for day := 1; day <= 4; day++ {
		sessions = append(sessions, session(day, 14, 60, 4))
	}
	return sessions
}

func TestRunPeakTimeCheck(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.history.sessions = productiveHistory(now)
	f.history.tasks = []domain.Task{
		{ID: "t-1", DueAt: now.AddDate(0, 0, 2)},
		{ID: "t-2", DueAt: now.AddDate(0, 0, -2), Completed: true},
	}
	ctx := context.Background()

	check, err := f.o.RunPeakTimeCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, peaktime.ConfidenceHigh, check.Analysis.Confidence)
	assert.Equal(t, []int{9, 14, 20}, check.Analysis.PeakHours)
	require.NotNil(t, check.Notification)
	assert.Equal(t, StatusSent, check.Notification.Status, "09:30 is a peak hour")

	require.NotNil(t, check.Analysis.LastSuggested)

	f.now = time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	check, err = f.o.RunPeakTimeCheck(ctx)
	require.NoError(t, err)
	assert.True(t, check.Cached)
	assert.Nil(t, check.Notification, "already suggested this period")
	assert.Equal(t, 1, f.history.calls)
}

func TestRunPeakTimeCheck_QueuesNextPeak(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.history.sessions = productiveHistory(now)
	f.history.tasks = []domain.Task{{ID: "t-1", DueAt: now.AddDate(0, 0, 2)}}

	check, err := f.o.RunPeakTimeCheck(context.Background())
	require.NoError(t, err)
	require.NotNil(t, check.Notification)
	assert.Equal(t, StatusQueued, check.Notification.Status)
	require.NotNil(t, check.Notification.ScheduledFor)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), *check.Notification.ScheduledFor)
}

func TestRunPeakTimeCheck_OncePerCachePeriod(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, start)
	f.settings.settings.QuietHours.Enabled = false
	f.history.sessions = productiveHistory(start)
	f.history.tasks = []domain.Task{{ID: "t-1", DueAt: start.AddDate(0, 0, 20)}}
	ctx := context.Background()

	suggestions := func() int {
		n := 0
		for _, msg := range f.dispatcher.sent {
			if msg.Type == domain.NotificationTypePeakTimeSuggestion {
				n++
			}
		}
		return n
	}

	for h := 0; h < 48; h++ {
		f.now = start.Add(time.Duration(h) * time.Hour)
		_, err := f.o.RunPeakTimeCheck(ctx)
		require.NoError(t, err)
		f.o.Drain(ctx)
	}
	assert.Equal(t, 1, suggestions())
	assert.Equal(t, 1, f.history.calls)

	// A reloaded session keeps the suggestion time.
	f.o.Flush(ctx)
	f.o = f.orchestrator()
	f.o.Load(ctx)
	f.now = start.Add(72 * time.Hour)
	check, err := f.o.RunPeakTimeCheck(ctx)
	require.NoError(t, err)
	assert.Nil(t, check.Notification)

	f.now = start.Add(peaktime.CacheTTL + 2*time.Hour)
	check, err = f.o.RunPeakTimeCheck(ctx)
	require.NoError(t, err)
	require.NotNil(t, check.Notification, "new period allows a suggestion")
}

func TestRunPeakTimeCheck_NoPendingWork(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.history.sessions = productiveHistory(now)

	check, err := f.o.RunPeakTimeCheck(context.Background())
	require.NoError(t, err)
	assert.Nil(t, check.Notification)
	assert.Empty(t, f.dispatcher.sent)
}
