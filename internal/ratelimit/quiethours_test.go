package ratelimit

import (
	"testing"
	"time"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/stretchr/testify/assert"
)

func quietSettings(start, end string) domain.NotificationSettings {
	s := domain.DefaultNotificationSettings()
	s.Timezone = "UTC"
	s.QuietHours = domain.QuietHours{Enabled: true, Start: start, End: end}
	return s
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestQuietWindow_Contains(t *testing.T) {
	tests := []struct {
		name   string
		start  string
		end    string
		at     time.Time
		inside bool
	}{
		{name: "overnight late evening", start: "22:00", end: "07:00", at: at(23, 30), inside: true},
		{name: "overnight early morning", start: "22:00", end: "07:00", at: at(6, 59), inside: true},
		{name: "overnight end is exclusive", start: "22:00", end: "07:00", at: at(7, 0), inside: false},
		{name: "overnight start is inclusive", start: "22:00", end: "07:00", at: at(22, 0), inside: true},
		{name: "overnight midday", start: "22:00", end: "07:00", at: at(12, 0), inside: false},
		{name: "same day inside", start: "13:00", end: "15:00", at: at(14, 0), inside: true},
		{name: "same day before", start: "13:00", end: "15:00", at: at(12, 59), inside: false},
		{name: "same day end", start: "13:00", end: "15:00", at: at(15, 0), inside: false},
		{name: "empty window", start: "09:00", end: "09:00", at: at(9, 0), inside: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewQuietWindow(quietSettings(tt.start, tt.end))
			assert.Equal(t, tt.inside, w.Contains(tt.at))
		})
	}
}

func TestQuietWindow_Disabled(t *testing.T) {
	s := quietSettings("22:00", "07:00")
	s.QuietHours.Enabled = false
	assert.False(t, NewQuietWindow(s).Contains(at(23, 30)))

	invalid := quietSettings("25:00", "07:00")
	assert.False(t, NewQuietWindow(invalid).Contains(at(23, 30)))
}

func TestQuietWindow_NextEnd(t *testing.T) {
	w := NewQuietWindow(quietSettings("22:00", "07:00"))

	assert.Equal(t, time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC), w.NextEnd(at(23, 30)))
	assert.Equal(t, time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC), w.NextEnd(at(6, 59)))
	assert.Equal(t, at(12, 0), w.NextEnd(at(12, 0)))
}

func TestQuietWindow_Timezone(t *testing.T) {
	s := quietSettings("22:00", "07:00")
	s.Timezone = "America/New_York"
	w := NewQuietWindow(s)

	// 03:00 UTC is 23:00 the previous evening in New York (EDT after March 8).
	assert.True(t, w.Contains(at(3, 0)))
	// 12:00 UTC is 08:00 in New York.
	assert.False(t, w.Contains(at(12, 0)))
}

func TestQuietWindow_Duration(t *testing.T) {
	assert.Equal(t, 9*time.Hour, NewQuietWindow(quietSettings("22:00", "07:00")).Duration())
	assert.Equal(t, 2*time.Hour, NewQuietWindow(quietSettings("13:00", "15:00")).Duration())
	assert.Equal(t, time.Duration(0), NewQuietWindow(quietSettings("09:00", "09:00")).Duration())
}
