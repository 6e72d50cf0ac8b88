package ratelimit

import (
	"testing"
	"time"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(maxPerDay, spacingMinutes int) domain.NotificationSettings {
	s := domain.DefaultNotificationSettings()
	s.Timezone = "UTC"
	s.MaxNotificationsPerDay = maxPerDay
	s.MinTimeBetweenNotifications = spacingMinutes
	return s
}

func request(id string, t domain.NotificationType, p domain.Priority, taskID string) *domain.NotificationRequest {
	return &domain.NotificationRequest{
		ID:       id,
		UserID:   "user-1",
		Type:     t,
		Priority: p,
		Title:    "title",
		TaskID:   taskID,
	}
}

func TestLimiter_DailyCap(t *testing.T) {
	tests := []struct {
		name     string
		priority domain.Priority
		accepted int
	}{
		{name: "medium capped at three", priority: domain.PriorityMedium, accepted: 3},
		{name: "critical bypasses cap", priority: domain.PriorityCritical, accepted: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New("user-1")
			settings := testSettings(3, 0)
			now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

			accepted := 0
			for i := 0; i < 4; i++ {
				req := request("n", domain.NotificationTypeDailySummary, tt.priority, "")
				if l.Check(req, settings, now).Allowed {
					l.Record(req, settings, now)
					accepted++
				}
				now = now.Add(time.Hour)
			}
			assert.Equal(t, tt.accepted, accepted)
		})
	}
}

func TestLimiter_DailyCapResetsAtLocalMidnight(t *testing.T) {
	l := New("user-1")
	settings := testSettings(1, 0)
	settings.Timezone = "Europe/Berlin"
	req := request("n", domain.NotificationTypeDailySummary, domain.PriorityLow, "")

	// 22:30 UTC is 23:30 in Berlin (CET).
	evening := time.Date(2026, 1, 10, 22, 30, 0, 0, time.UTC)
	require.True(t, l.Check(req, settings, evening).Allowed)
	l.Record(req, settings, evening)

	d := l.Check(req, settings, evening.Add(20*time.Minute))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyCap, d.Reason)
	require.NotNil(t, d.RetryAt)
	assert.True(t, d.RetryAt.Equal(time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC)))

	// 23:05 UTC is past midnight in Berlin.
	assert.True(t, l.Check(req, settings, evening.Add(35*time.Minute)).Allowed)
	assert.Equal(t, 0, l.DailyCount(settings, evening.Add(35*time.Minute)))
}

func TestLimiter_TaskCooldown(t *testing.T) {
	l := New("user-1")
	settings := testSettings(10, 0)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	req := request("n1", domain.NotificationTypeDeadlineReminder, domain.PriorityHigh, "task-1")
	require.True(t, l.Check(req, settings, now).Allowed)
	l.Record(req, settings, now)

	again := request("n2", domain.NotificationTypeDeadlineReminder, domain.PriorityHigh, "task-1")
	d := l.Check(again, settings, now.Add(time.Hour))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonTaskCooldown, d.Reason)

	otherTask := request("n3", domain.NotificationTypeDeadlineReminder, domain.PriorityHigh, "task-2")
	assert.True(t, l.Check(otherTask, settings, now.Add(time.Hour)).Allowed)

	otherType := request("n4", domain.NotificationTypeOverdueTask, domain.PriorityHigh, "task-1")
	assert.True(t, l.Check(otherType, settings, now.Add(time.Hour)).Allowed)

	assert.True(t, l.Check(again, settings, now.Add(2*time.Hour)).Allowed)
}

func TestLimiter_MinSpacing(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		req     *domain.NotificationRequest
		allowed bool
	}{
		{
			name:    "regular request waits for spacing",
			req:     request("n2", domain.NotificationTypeStudySessionReminder, domain.PriorityMedium, ""),
			allowed: false,
		},
		{
			name:    "new task deadline high bypasses spacing",
			req:     request("n2", domain.NotificationTypeNewTaskDeadline, domain.PriorityHigh, "task-9"),
			allowed: true,
		},
		{
			name:    "new task deadline medium bypasses spacing",
			req:     request("n2", domain.NotificationTypeNewTaskDeadline, domain.PriorityMedium, "task-9"),
			allowed: true,
		},
		{
			name:    "new task deadline low does not bypass",
			req:     request("n2", domain.NotificationTypeNewTaskDeadline, domain.PriorityLow, "task-9"),
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New("user-1")
			settings := testSettings(10, 30)
			first := request("n1", domain.NotificationTypeDailySummary, domain.PriorityLow, "")
			l.Record(first, settings, now)

			d := l.Check(tt.req, settings, now.Add(10*time.Minute))
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.Equal(t, ReasonMinSpacing, d.Reason)
				require.NotNil(t, d.RetryAt)
				assert.True(t, d.RetryAt.Equal(now.Add(30*time.Minute)))
			}
		})
	}
}

func TestLimiter_NewTaskDeadlineStillHonorsDailyCap(t *testing.T) {
	l := New("user-1")
	settings := testSettings(1, 30)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	l.Record(request("n1", domain.NotificationTypeDailySummary, domain.PriorityLow, ""), settings, now)

	d := l.Check(request("n2", domain.NotificationTypeNewTaskDeadline, domain.PriorityHigh, "task-1"), settings, now.Add(time.Minute))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyCap, d.Reason)
}

func TestLimiter_SnapshotRestore(t *testing.T) {
	settings := testSettings(2, 0)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	l := New("user-1")
	l.Record(request("n1", domain.NotificationTypeDeadlineReminder, domain.PriorityHigh, "task-1"), settings, now)
	l.Record(request("n2", domain.NotificationTypeDailySummary, domain.PriorityLow, ""), settings, now)

	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "daily_user-1", snap[0].Key)
	assert.Equal(t, 2, snap[0].DailyCount)
	assert.Equal(t, "2026-03-10", snap[0].DailyDate)

	restored := New("user-1")
	restored.Restore(snap)
	assert.Equal(t, 2, restored.DailyCount(settings, now))

	d := restored.Check(request("n3", domain.NotificationTypeAchievement, domain.PriorityLow, ""), settings, now.Add(time.Hour))
	assert.Equal(t, ReasonDailyCap, d.Reason)
}

func TestLimiter_Prune(t *testing.T) {
	settings := testSettings(10, 0)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	l := New("user-1")
	l.Record(request("n1", domain.NotificationTypeDeadlineReminder, domain.PriorityHigh, "task-1"), settings, now)
	l.Record(request("n2", domain.NotificationTypeDeadlineReminder, domain.PriorityHigh, "task-2"), settings, now.Add(90*time.Minute))

	assert.Equal(t, 1, l.Prune(now.Add(2*time.Hour)))
	assert.Len(t, l.Snapshot(), 3)
}
