package consumer

import (
	"time"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/notifications"
)

// EventType names the kinds of events the consumer accepts.
type EventType string

// Event types.
const (
	EventActivity     EventType = "activity"
	EventStudySession EventType = "study_session"
	EventResponse     EventType = "response"
	EventNotification EventType = "notification"
)

// Event is the JSON envelope published by other services.
type Event struct {
	Type         EventType          `json:"type" validate:"required,oneof=activity study_session response notification"`
	UserID       string             `json:"user_id" validate:"required,max=128"`
	OccurredAt   time.Time          `json:"occurred_at"`
	Active       *bool              `json:"active,omitempty" validate:"required_if=Type study_session"`
	Response     *ResponseEvent     `json:"response,omitempty" validate:"required_if=Type response"`
	Notification *NotificationEvent `json:"notification,omitempty" validate:"required_if=Type notification"`
}

// ResponseEvent reports a user's reaction to a delivered notification.
type ResponseEvent struct {
	NotificationID string  `json:"notification_id" validate:"required"`
	Opened         bool    `json:"opened"`
	ActionTaken    bool    `json:"action_taken"`
	LatencySeconds float64 `json:"latency_seconds" validate:"min=0"`
}

// NotificationEvent asks the engine to deliver a notification.
type NotificationEvent struct {
	Request domain.NotificationRequest  `json:"request" validate:"-"`
	Options notifications.SubmitOptions `json:"options"`
}
