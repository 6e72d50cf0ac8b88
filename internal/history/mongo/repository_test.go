//go:build integration

package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/pkg/mongodb"
	"github.com/bissquit/nudge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	container, err := testutil.NewMongoContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate mongo: %v", err)
		}
	})

	client, err := mongodb.Connect(ctx, mongodb.Config{URI: container.URI, Database: "nudge_test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	repo := NewRepository(client.Database(), domain.DefaultNotificationSettings())
	require.NoError(t, repo.EnsureIndexes(ctx))
	return repo
}

func TestRepository_Sessions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertSessions(ctx, []domain.StudySession{
		{ID: "s-3", UserID: "user-1", StartedAt: now.Add(-2 * time.Hour), DurationMinutes: 60, Effectiveness: 4},
		{ID: "s-1", UserID: "user-1", StartedAt: now.AddDate(0, 0, -40), DurationMinutes: 30},
		{ID: "s-2", UserID: "user-1", StartedAt: now.AddDate(0, 0, -3), DurationMinutes: 90, Effectiveness: 5},
		{ID: "s-4", UserID: "user-2", StartedAt: now.Add(-time.Hour), DurationMinutes: 45},
	}))

	sessions, err := repo.ListSessions(ctx, "user-1", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-2", sessions[0].ID)
	assert.Equal(t, "s-3", sessions[1].ID)
	assert.True(t, now.Add(-2*time.Hour).Equal(sessions[1].StartedAt))
	assert.Equal(t, 4, sessions[1].Effectiveness)

	empty, err := repo.ListSessions(ctx, "nobody", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestRepository_Tasks(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	done := now.Add(-time.Hour)

	require.NoError(t, repo.InsertTasks(ctx, []domain.Task{
		{ID: "t-2", UserID: "user-1", Title: "Essay", DueAt: now.AddDate(0, 0, 2)},
		{ID: "t-1", UserID: "user-1", Title: "Lab", DueAt: now.AddDate(0, 0, -1), Completed: true, CompletedAt: &done},
	}))

	tasks, err := repo.ListTasks(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t-1", tasks[0].ID)
	assert.True(t, tasks[0].Completed)
	require.NotNil(t, tasks[0].CompletedAt)
	assert.Nil(t, tasks[1].CompletedAt)
}

func TestRepository_Settings(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	s, err := repo.Settings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultNotificationSettings(), s, "fallback for unknown user")

	custom := domain.DefaultNotificationSettings()
	custom.Timezone = "Europe/Berlin"
	custom.MaxNotificationsPerDay = 3
	custom.QuietHours.Enabled = false
	require.NoError(t, repo.SaveSettings(ctx, "user-1", custom))

	s, err = repo.Settings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, custom, s)

	custom.Study = false
	require.NoError(t, repo.SaveSettings(ctx, "user-1", custom))
	s, err = repo.Settings(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, s.Study)
}
