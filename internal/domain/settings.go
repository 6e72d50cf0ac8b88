package domain

import (
	"fmt"
	"time"
)

// QuietHours is a daily window in which only critical alerts are delivered.
// Start and End use the "HH:MM" 24h format; Start > End spans midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled" bson:"enabled" koanf:"enabled"`
	Start   string `json:"start" bson:"start" koanf:"start"`
	End     string `json:"end" bson:"end" koanf:"end"`
}

// NotificationSettings are the user's preferences. They are read on every
// decision and never mutated by the engine.
type NotificationSettings struct {
	Enabled                     bool       `json:"enabled" bson:"enabled" koanf:"enabled"`
	Deadlines                   bool       `json:"deadlines" bson:"deadlines" koanf:"deadlines"`
	Study                       bool       `json:"study" bson:"study" koanf:"study"`
	Wellbeing                   bool       `json:"wellbeing" bson:"wellbeing" koanf:"wellbeing"`
	Summaries                   bool       `json:"summaries" bson:"summaries" koanf:"summaries"`
	Achievements                bool       `json:"achievements" bson:"achievements" koanf:"achievements"`
	QuietHours                  QuietHours `json:"quiet_hours" bson:"quiet_hours" koanf:"quiet_hours"`
	MaxNotificationsPerDay      int        `json:"max_notifications_per_day" bson:"max_notifications_per_day" koanf:"max_notifications_per_day"`
	MinTimeBetweenNotifications int        `json:"min_time_between_notifications" bson:"min_time_between_notifications" koanf:"min_time_between_notifications"`
	Timezone                    string     `json:"timezone" bson:"timezone" koanf:"timezone"`
}

// DefaultNotificationSettings returns the settings used when a user has none
// stored or the settings provider is unavailable.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:      true,
		Deadlines:    true,
		Study:        true,
		Wellbeing:    true,
		Summaries:    true,
		Achievements: true,
		QuietHours: QuietHours{
			Enabled: true,
			Start:   "22:00",
			End:     "07:00",
		},
		MaxNotificationsPerDay:      10,
		MinTimeBetweenNotifications: 30,
	}
}

// TypeEnabled reports whether alerts of type t are switched on.
func (s NotificationSettings) TypeEnabled(t NotificationType) bool {
	category, ok := t.Category()
	if !ok {
		return false
	}
	switch category {
	case CategoryDeadlines:
		return s.Deadlines
	case CategoryStudy:
		return s.Study
	case CategoryWellbeing:
		return s.Wellbeing
	case CategorySummaries:
		return s.Summaries
	case CategoryAchievements:
		return s.Achievements
	}
	return false
}

// MinSpacing returns the minimum gap between two accepted notifications.
func (s NotificationSettings) MinSpacing() time.Duration {
	return time.Duration(s.MinTimeBetweenNotifications) * time.Minute
}

// Location resolves the configured timezone, falling back to time.Local.
func (s NotificationSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ParseClock parses an "HH:MM" string into minutes after midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("parse clock %q: out of range", s)
	}
	return h*60 + m, nil
}

// Validate checks the settings for values the engine cannot interpret.
func (s NotificationSettings) Validate() error {
	if s.MaxNotificationsPerDay < 0 || s.MinTimeBetweenNotifications < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if s.QuietHours.Enabled {
		if _, err := ParseClock(s.QuietHours.Start); err != nil {
			return fmt.Errorf("quiet hours start: %w", err)
		}
		if _, err := ParseClock(s.QuietHours.End); err != nil {
			return fmt.Errorf("quiet hours end: %w", err)
		}
	}
	return nil
}
