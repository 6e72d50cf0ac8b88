package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllNotificationTypesHaveCategory(t *testing.T) {
	for _, typ := range AllNotificationTypes {
		category, ok := typ.Category()
		assert.True(t, ok, "%s has no category", typ)
		assert.NotEmpty(t, category)

		settings := DefaultNotificationSettings()
		assert.True(t, settings.TypeEnabled(typ), "%s disabled by default", typ)
	}
	assert.False(t, NotificationType("reminder").IsValid())
}

func TestTypeEnabled(t *testing.T) {
	tests := []struct {
		name    string
		disable func(*NotificationSettings)
		typ     NotificationType
	}{
		{name: "deadlines", disable: func(s *NotificationSettings) { s.Deadlines = false }, typ: NotificationTypeOverdueTask},
		{name: "study", disable: func(s *NotificationSettings) { s.Study = false }, typ: NotificationTypePeakTimeSuggestion},
		{name: "wellbeing", disable: func(s *NotificationSettings) { s.Wellbeing = false }, typ: NotificationTypeBurnoutWarning},
		{name: "summaries", disable: func(s *NotificationSettings) { s.Summaries = false }, typ: NotificationTypeDailySummary},
		{name: "achievements", disable: func(s *NotificationSettings) { s.Achievements = false }, typ: NotificationTypeAchievement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultNotificationSettings()
			tt.disable(&s)
			assert.False(t, s.TypeEnabled(tt.typ))
		})
	}
}

func TestPriorityRank(t *testing.T) {
	for i, p := range Priorities {
		assert.Equal(t, i, p.Rank())
		assert.True(t, p.IsValid())
	}
	assert.False(t, Priority("urgent").IsValid())
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "07:00", want: 420},
		{in: "23:59", want: 1439},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNotificationSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*NotificationSettings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*NotificationSettings) {}},
		{name: "timezone", mutate: func(s *NotificationSettings) { s.Timezone = "Europe/Berlin" }},
		{name: "unknown timezone", mutate: func(s *NotificationSettings) { s.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "bad quiet start", mutate: func(s *NotificationSettings) { s.QuietHours.Start = "25:00" }, wantErr: true},
		{name: "bad quiet end ignored when disabled", mutate: func(s *NotificationSettings) {
			s.QuietHours.Enabled = false
			s.QuietHours.End = "x"
		}},
		{name: "negative cap", mutate: func(s *NotificationSettings) { s.MaxNotificationsPerDay = -1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultNotificationSettings()
			tt.mutate(&s)
			if tt.wantErr {
				assert.Error(t, s.Validate())
			} else {
				assert.NoError(t, s.Validate())
			}
		})
	}
}
