package domain

import "time"

// ActivityState is the coarse presence state of a user.
type ActivityState string

// Activity states.
const (
	ActivityActive   ActivityState = "active"
	ActivityIdle     ActivityState = "idle"
	ActivityStudying ActivityState = "studying"
	ActivityAway     ActivityState = "away"
)

// ActivityStates lists all states.
var ActivityStates = []ActivityState{ActivityActive, ActivityIdle, ActivityStudying, ActivityAway}

// Features describe the situation in which a notification was sent.
type Features struct {
	HourOfDay             int              `json:"hour_of_day"`
	DayOfWeek             int              `json:"day_of_week"`
	NotificationType      NotificationType `json:"notification_type"`
	Priority              Priority         `json:"priority"`
	UserActiveState       ActivityState    `json:"user_active_state"`
	RecentActivityMinutes float64          `json:"recent_activity_minutes"`
	CurrentSessionActive  bool             `json:"current_session_active"`
	TasksOverdue          int              `json:"tasks_overdue"`
	StudyStreak           int              `json:"study_streak"`
}

// TrainingDataPoint is one labelled observation for the optimal-time model.
type TrainingDataPoint struct {
	NotificationID      string    `json:"notification_id"`
	Features            Features  `json:"features"`
	RespondedWithinHour bool      `json:"responded_within_hour"`
	EngagementScore     float64   `json:"engagement_score"`
	RecordedAt          time.Time `json:"recorded_at"`
}
