package notifications

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/predictor"
	"github.com/bissquit/nudge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

type mockDispatcher struct {
	sent []Message
	err  error
}

func (m *mockDispatcher) Send(_ context.Context, msg Message) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "delivery-" + msg.NotificationID, nil
}

type mockSettings struct {
	settings domain.NotificationSettings
	err      error
}

func (m *mockSettings) Settings(_ context.Context, _ string) (domain.NotificationSettings, error) {
	return m.settings, m.err
}

type mockHistory struct {
	sessions []domain.StudySession
	tasks    []domain.Task
	err      error
	calls    int
}

func (m *mockHistory) ListSessions(_ context.Context, _ string, since time.Time) ([]domain.StudySession, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.StudySession
	for _, s := range m.sessions {
		if !s.StartedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockHistory) ListTasks(_ context.Context, _ string) ([]domain.Task, error) {
	return m.tasks, m.err
}

type fixture struct {
	o          *Orchestrator
	now        time.Time
	dispatcher *mockDispatcher
	settings   *mockSettings
	history    *mockHistory
	store      *store.Memory
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	settings := domain.DefaultNotificationSettings()
	settings.Timezone = "UTC"

	f := &fixture{
		now:        now,
		dispatcher: &mockDispatcher{},
		settings:   &mockSettings{settings: settings},
		history:    &mockHistory{},
		store:      store.NewMemory(),
	}
	f.o = f.orchestrator()
	return f
}

func (f *fixture) orchestrator() *Orchestrator {
	o := NewOrchestrator(testUser, DefaultConfig(), Deps{
		Dispatcher: f.dispatcher,
		Settings:   f.settings,
		History:    f.history,
		Store:      f.store,
	})
	o.Now = func() time.Time { return f.now }
	return o
}

// seedBestHour makes hour the clear winner of the hourly matrix.
func (f *fixture) seedBestHour(hour int) {
	m := f.o.predictor.Matrix()
	for i := 0; i < predictor.MinSendsPerHour; i++ {
		m.RecordSent(hour, f.now)
		m.RecordResponse(hour, true, 60, f.now)
	}
}

func request(id string, priority domain.Priority) domain.NotificationRequest {
	return domain.NotificationRequest{
		ID:       id,
		Type:     domain.NotificationTypeStudySessionReminder,
		Priority: priority,
		Title:    "Study",
		Body:     "Time for statistics",
	}
}

var morning = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func TestSubmit_CriticalBypassesLimitsAndQuietHours(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		res, err := f.o.Submit(ctx, request(fmt.Sprintf("crit-%d", i), domain.PriorityCritical), SubmitOptions{CanDelay: true})
		require.NoError(t, err)
		assert.Equal(t, StatusSent, res.Status)
		assert.NotEmpty(t, res.DeliveryID)
	}
	assert.Len(t, f.dispatcher.sent, 12)
}

func TestSubmit_Suppressed(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*domain.NotificationSettings)
		reason string
	}{
		{
			name:   "all disabled",
			modify: func(s *domain.NotificationSettings) { s.Enabled = false },
			reason: "notifications_disabled",
		},
		{
			name:   "category disabled",
			modify: func(s *domain.NotificationSettings) { s.Study = false },
			reason: "type_disabled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, morning)
			tt.modify(&f.settings.settings)

			res, err := f.o.Submit(context.Background(), request("n-1", domain.PriorityCritical), SubmitOptions{})
			require.NoError(t, err)
			assert.Equal(t, StatusSuppressed, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, f.dispatcher.sent)
		})
	}
}

func TestSubmit_SettingsErrorUsesDefaults(t *testing.T) {
	f := newFixture(t, morning)
	f.settings.err = errors.New("mongo down")

	res, err := f.o.Submit(context.Background(), request("n-1", domain.PriorityMedium), SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)
}

func TestSubmit_Invalid(t *testing.T) {
	f := newFixture(t, morning)
	ctx := context.Background()

	bad := request("n-1", domain.PriorityMedium)
	bad.Type = "homework_party"
	_, err := f.o.Submit(ctx, bad, SubmitOptions{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	noTitle := request("n-2", domain.PriorityMedium)
	noTitle.Title = ""
	_, err = f.o.Submit(ctx, noTitle, SubmitOptions{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	other := request("n-3", domain.PriorityMedium)
	other.UserID = "someone-else"
	_, err = f.o.Submit(ctx, other, SubmitOptions{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmit_AssignsID(t *testing.T) {
	f := newFixture(t, morning)

	res, err := f.o.Submit(context.Background(), request("", domain.PriorityMedium), SubmitOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.NotificationID)
	require.Len(t, f.dispatcher.sent, 1)
	assert.Equal(t, testUser, f.dispatcher.sent[0].UserID)
}

func TestSubmit_QuietHoursDefers(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC))

	res, err := f.o.Submit(context.Background(), request("n-1", domain.PriorityHigh), SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusDeferred, res.Status)
	require.NotNil(t, res.ScheduledFor)
	assert.Equal(t, time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC), *res.ScheduledFor)
	assert.Empty(t, f.dispatcher.sent)
	assert.Equal(t, 1, f.o.QueueStats().Total)
}

func TestSubmit_NotDelayableSendsNow(t *testing.T) {
	f := newFixture(t, morning)
	f.seedBestHour(14)

	res, err := f.o.Submit(context.Background(), request("n-1", domain.PriorityLow), SubmitOptions{CanDelay: false})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)

	require.Len(t, f.dispatcher.sent, 1)
	msg := f.dispatcher.sent[0]
	assert.Equal(t, "📚 Study", msg.Title)
	assert.Equal(t, "Study Session Reminder", msg.Data[DataTypeLabel])
	assert.True(t, msg.Hints.Silent)
	assert.Equal(t, 1, f.o.ModelStats().PendingSends)
}

func TestSubmit_SchedulesAtBestHour(t *testing.T) {
	f := newFixture(t, morning)
	f.seedBestHour(14)
	ctx := context.Background()

	res, err := f.o.Submit(ctx, request("n-1", domain.PriorityMedium), SubmitOptions{CanDelay: true})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)
	require.NotNil(t, res.ScheduledFor)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), *res.ScheduledFor)
	require.NotNil(t, res.Prediction)
	assert.Equal(t, predictor.SourceHeuristic, res.Prediction.Source)

	assert.Equal(t, DrainResult{}, f.o.Drain(ctx), "not due yet")

	f.now = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	drained := f.o.Drain(ctx)
	assert.Equal(t, 1, drained.Sent)
	assert.Len(t, f.dispatcher.sent, 1)
	assert.Equal(t, 0, f.o.QueueStats().Total)
}

func TestSubmit_PreferredHourHint(t *testing.T) {
	f := newFixture(t, morning)
	f.seedBestHour(14)
	hour := 12
	req := request("n-1", domain.PriorityMedium)
	req.Hints = &domain.SchedulingHints{PreferredHour: &hour}

	res, err := f.o.Submit(context.Background(), req, SubmitOptions{CanDelay: true})
	require.NoError(t, err)
	require.NotNil(t, res.ScheduledFor)
	assert.Equal(t, 12, res.ScheduledFor.Hour())
}

func TestSubmit_DeadlineHint(t *testing.T) {
	t.Run("caps delay one hour before deadline", func(t *testing.T) {
		f := newFixture(t, morning)
		f.seedBestHour(14)
		deadline := morning.Add(3 * time.Hour)
		req := request("n-1", domain.PriorityMedium)
		req.Hints = &domain.SchedulingHints{Deadline: &deadline}

		res, err := f.o.Submit(context.Background(), req, SubmitOptions{CanDelay: true})
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, res.Status)
		require.NotNil(t, res.ScheduledFor)
		assert.Equal(t, morning.Add(2*time.Hour), *res.ScheduledFor)
	})

	t.Run("imminent deadline sends now", func(t *testing.T) {
		f := newFixture(t, morning)
		f.seedBestHour(14)
		deadline := morning.Add(30 * time.Minute)
		req := request("n-1", domain.PriorityMedium)
		req.Hints = &domain.SchedulingHints{Deadline: &deadline}

		res, err := f.o.Submit(context.Background(), req, SubmitOptions{CanDelay: true})
		require.NoError(t, err)
		assert.Equal(t, StatusSent, res.Status)
	})
}

func TestSubmit_PredictedHourInQuietHours(t *testing.T) {
	evening := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	deadline := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		alternative bool
		deadline    *time.Time
		maxDelay    int
		wantStatus  Status
		wantAt      time.Time
	}{
		{
			name:       "deadline leaves no slot before quiet hours",
			deadline:   &deadline,
			wantStatus: StatusSent,
		},
		{
			name:       "short max delay sends now",
			maxDelay:   2,
			wantStatus: StatusSent,
		},
		{
			name:        "alternative hour before quiet hours",
			alternative: true,
			deadline:    &deadline,
			wantStatus:  StatusQueued,
			wantAt:      time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, evening)
			f.seedBestHour(23)
			if tt.alternative {
				m := f.o.predictor.Matrix()
				for i := 0; i < predictor.MinSendsPerHour; i++ {
					m.RecordSent(21, f.now)
					m.RecordResponse(21, i%2 == 0, 60, f.now)
				}
			}

			req := request("n-1", domain.PriorityHigh)
			req.Type = domain.NotificationTypeDeadlineReminder
			if tt.deadline != nil {
				req.Hints = &domain.SchedulingHints{Deadline: tt.deadline}
			}

			res, err := f.o.Submit(ctx, req, SubmitOptions{CanDelay: true, MaxDelayHours: tt.maxDelay})
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, res.Status, res.Reason)

			if tt.wantStatus == StatusSent {
				assert.Len(t, f.dispatcher.sent, 1)
				assert.Zero(t, f.o.QueueStats().Total)
				return
			}

			require.NotNil(t, res.ScheduledFor)
			assert.Equal(t, tt.wantAt, *res.ScheduledFor)

			f.now = tt.wantAt
			drained := f.o.Drain(ctx)
			assert.Equal(t, 1, drained.Sent)
			assert.Zero(t, drained.Expired)
			assert.Len(t, f.dispatcher.sent, 1)
		})
	}
}

func TestSubmit_Throttled(t *testing.T) {
	f := newFixture(t, morning)
	f.settings.settings.MaxNotificationsPerDay = 2
	f.settings.settings.MinTimeBetweenNotifications = 0
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := f.o.Submit(ctx, request(fmt.Sprintf("n-%d", i), domain.PriorityMedium), SubmitOptions{})
		require.NoError(t, err)
		require.Equal(t, StatusSent, res.Status)
	}

	res, err := f.o.Submit(ctx, request("n-2", domain.PriorityMedium), SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusThrottled, res.Status)
	assert.Equal(t, "daily_cap", res.Reason)
	require.NotNil(t, res.RetryAt)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), *res.RetryAt)
}

func TestSubmit_Duplicate(t *testing.T) {
	f := newFixture(t, morning)
	f.seedBestHour(14)
	ctx := context.Background()

	res, err := f.o.Submit(ctx, request("n-1", domain.PriorityMedium), SubmitOptions{CanDelay: true})
	require.NoError(t, err)
	require.Equal(t, StatusQueued, res.Status)

	res, err = f.o.Submit(ctx, request("n-1", domain.PriorityMedium), SubmitOptions{CanDelay: true})
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.Equal(t, 1, f.o.QueueStats().Total)
}

func TestSubmit_DispatchFailure(t *testing.T) {
	t.Run("retryable error queues for the next drain", func(t *testing.T) {
		f := newFixture(t, morning)
		f.dispatcher.err = NewRetryableError(errors.New("fcm unavailable"))
		ctx := context.Background()

		res, err := f.o.Submit(ctx, request("n-1", domain.PriorityCritical), SubmitOptions{})
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, res.Status)
		assert.Equal(t, "dispatch_failed", res.Reason)

		assert.Equal(t, 1, f.o.Drain(ctx).Failed)
		assert.Equal(t, 1, f.o.QueueStats().Total)

		f.dispatcher.err = nil
		assert.Equal(t, 1, f.o.Drain(ctx).Sent)
		assert.Equal(t, 0, f.o.QueueStats().Total)
	})

	t.Run("permanent error fails", func(t *testing.T) {
		f := newFixture(t, morning)
		f.dispatcher.err = NewNonRetryableError(errors.New("invalid token"))

		res, err := f.o.Submit(context.Background(), request("n-1", domain.PriorityCritical), SubmitOptions{})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, 0, f.o.QueueStats().Total)
	})
}

func TestDrain_ExpiresEntries(t *testing.T) {
	f := newFixture(t, morning)
	f.seedBestHour(14)
	ctx := context.Background()
	deadline := morning.Add(4*time.Hour + 30*time.Minute)
	req := request("n-1", domain.PriorityMedium)
	req.Hints = &domain.SchedulingHints{Deadline: &deadline}

	res, err := f.o.Submit(ctx, req, SubmitOptions{CanDelay: true})
	require.NoError(t, err)
	require.Equal(t, StatusQueued, res.Status)

	f.now = deadline
	drained := f.o.Drain(ctx)
	assert.Equal(t, 1, drained.Expired)
	assert.Empty(t, f.dispatcher.sent)
}

func TestDrain_ReschedulesIntoQuietHours(t *testing.T) {
	f := newFixture(t, morning)
	f.seedBestHour(14)
	ctx := context.Background()

	_, err := f.o.Submit(ctx, request("n-1", domain.PriorityMedium), SubmitOptions{CanDelay: true})
	require.NoError(t, err)

	f.now = time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	drained := f.o.Drain(ctx)
	assert.Equal(t, 1, drained.Deferred)
	assert.Empty(t, f.dispatcher.sent)

	stats := f.o.QueueStats()
	require.NotNil(t, stats.NextDueAt)
	assert.Equal(t, time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC), *stats.NextDueAt)
}

func TestDrain_DropsDisabledTypes(t *testing.T) {
	f := newFixture(t, morning)
	f.seedBestHour(14)
	ctx := context.Background()

	_, err := f.o.Submit(ctx, request("n-1", domain.PriorityMedium), SubmitOptions{CanDelay: true})
	require.NoError(t, err)

	f.settings.settings.Study = false
	f.now = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, f.o.Drain(ctx).Dropped)
	assert.Equal(t, 0, f.o.QueueStats().Total)
}

func TestRemoveQueued(t *testing.T) {
	f := newFixture(t, morning)
	f.seedBestHour(14)
	ctx := context.Background()

	_, err := f.o.Submit(ctx, request("n-1", domain.PriorityMedium), SubmitOptions{CanDelay: true})
	require.NoError(t, err)

	assert.True(t, f.o.RemoveQueued(ctx, "n-1"))
	assert.False(t, f.o.RemoveQueued(ctx, "n-1"))
}

func TestRecordResponse(t *testing.T) {
	f := newFixture(t, morning)
	ctx := context.Background()

	_, err := f.o.RecordResponse(ctx, "missing", true, false, 10)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	_, err = f.o.Submit(ctx, request("n-1", domain.PriorityMedium), SubmitOptions{})
	require.NoError(t, err)

	out, err := f.o.RecordResponse(ctx, "n-1", true, true, 120)
	require.NoError(t, err)
	assert.True(t, out.Sample.RespondedWithinHour)
	assert.Equal(t, 10, out.Sample.Features.HourOfDay)
	assert.False(t, out.Retrained)

	slot := f.o.predictor.Matrix().Slot(10)
	assert.Equal(t, 1, slot.TotalSent)
	assert.Equal(t, 1, slot.TotalResponded)
}

func TestRecordResponse_TrainsWithEnoughSamples(t *testing.T) {
	f := newFixture(t, morning)
	f.settings.settings.MaxNotificationsPerDay = 100
	f.settings.settings.MinTimeBetweenNotifications = 0
	ctx := context.Background()

	var last ResponseOutcome
	for i := 0; i < predictor.MinTrainingSamples; i++ {
		id := fmt.Sprintf("n-%d", i)
		_, err := f.o.Submit(ctx, request(id, domain.PriorityMedium), SubmitOptions{})
		require.NoError(t, err)

		opened := i%2 == 0
		last, err = f.o.RecordResponse(ctx, id, opened, false, 60)
		require.NoError(t, err)
		if i < predictor.MinTrainingSamples-1 {
			require.False(t, last.Retrained, "sample %d", i)
		}
		f.now = f.now.Add(time.Minute)
	}

	assert.True(t, last.Retrained)
	stats := f.o.ModelStats()
	assert.True(t, stats.HasModel)
	assert.Equal(t, predictor.SourceModel, stats.Source)
	assert.Equal(t, predictor.MinTrainingSamples, stats.SampleCount)
	assert.Equal(t, 0, stats.SinceTraining)
}

func TestMaintain_ReconcilesStaleSends(t *testing.T) {
	f := newFixture(t, morning)
	ctx := context.Background()

	_, err := f.o.Submit(ctx, request("n-1", domain.PriorityMedium), SubmitOptions{})
	require.NoError(t, err)

	f.now = morning.Add(25 * time.Hour)
	res := f.o.Maintain(ctx)
	assert.Equal(t, 1, res.Reconciled)
	assert.False(t, res.Retrained)
	assert.Equal(t, 1, f.o.ModelStats().BufferedSamples)
}

func TestPersistence_RoundTrip(t *testing.T) {
	f := newFixture(t, morning)
	f.seedBestHour(14)
	ctx := context.Background()

	_, err := f.o.Submit(ctx, request("n-1", domain.PriorityMedium), SubmitOptions{CanDelay: true})
	require.NoError(t, err)
	f.o.Flush(ctx)

	for _, ns := range store.Namespaces {
		_, err := f.store.Load(ctx, store.Key(ns, testUser))
		assert.NoError(t, err, ns)
	}

	restored := f.orchestrator()
	restored.Load(ctx)

	want, got := f.o.QueueStats(), restored.QueueStats()
	assert.Equal(t, want.Total, got.Total)
	assert.Equal(t, want.ByPriority, got.ByPriority)
	require.NotNil(t, got.NextDueAt)
	assert.True(t, want.NextDueAt.Equal(*got.NextDueAt))
	assert.Equal(t, f.o.ModelStats().Matrix, restored.ModelStats().Matrix)
}

func TestLoad_DiscardsCorruptModel(t *testing.T) {
	f := newFixture(t, morning)
	ctx := context.Background()

	corrupt := &predictor.Model{Version: predictor.ModelVersion, HourWeights: []float64{1, 2}, SampleCount: 40}
	require.NoError(t, store.SaveJSON(ctx, f.store, store.NamespaceModel, testUser, corrupt))

	f.o.Load(ctx)
	assert.False(t, f.o.ModelStats().HasModel)

	data, err := f.store.Load(ctx, store.Key(store.NamespaceModel, testUser))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data), "corrupt model overwritten")
}

func TestStudyStreak(t *testing.T) {
	at := func(daysBack int) domain.StudySession {
		return domain.StudySession{StartedAt: morning.AddDate(0, 0, -daysBack).Add(-2 * time.Hour)}
	}
	tests := []struct {
		name     string
		sessions []domain.StudySession
		want     int
	}{
		{"none", nil, 0},
		{"today only", []domain.StudySession{at(0)}, 1},
		{"ends yesterday", []domain.StudySession{at(1), at(2)}, 2},
		{"gap breaks streak", []domain.StudySession{at(0), at(1), at(3)}, 2},
		{"several per day", []domain.StudySession{at(0), at(0), at(1)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StudyStreak(tt.sessions, morning))
		})
	}
}
