package domain

import "time"

// NotificationType identifies what an alert is about.
type NotificationType string

// Notification types.
const (
	NotificationTypeDeadlineReminder     NotificationType = "deadline_reminder"
	NotificationTypeNewTaskDeadline      NotificationType = "new_task_deadline"
	NotificationTypeOverdueTask          NotificationType = "overdue_task"
	NotificationTypeStudySessionReminder NotificationType = "study_session_reminder"
	NotificationTypeBreakReminder        NotificationType = "break_reminder"
	NotificationTypeBurnoutWarning       NotificationType = "burnout_warning"
	NotificationTypePeakTimeSuggestion   NotificationType = "peak_time_suggestion"
	NotificationTypeDailySummary         NotificationType = "daily_summary"
	NotificationTypeAchievement          NotificationType = "achievement"
)

// AllNotificationTypes lists every notification type in declaration order.
var AllNotificationTypes = []NotificationType{
	NotificationTypeDeadlineReminder,
	NotificationTypeNewTaskDeadline,
	NotificationTypeOverdueTask,
	NotificationTypeStudySessionReminder,
	NotificationTypeBreakReminder,
	NotificationTypeBurnoutWarning,
	NotificationTypePeakTimeSuggestion,
	NotificationTypeDailySummary,
	NotificationTypeAchievement,
}

// Category groups notification types under one user-facing settings switch.
type Category string

// Settings categories.
const (
	CategoryDeadlines    Category = "deadlines"
	CategoryStudy        Category = "study"
	CategoryWellbeing    Category = "wellbeing"
	CategorySummaries    Category = "summaries"
	CategoryAchievements Category = "achievements"
)

// Category returns the settings category that controls the type.
// Returns false for an unknown type.
func (t NotificationType) Category() (Category, bool) {
	switch t {
	case NotificationTypeDeadlineReminder, NotificationTypeNewTaskDeadline, NotificationTypeOverdueTask:
		return CategoryDeadlines, true
	case NotificationTypeStudySessionReminder, NotificationTypeBreakReminder, NotificationTypePeakTimeSuggestion:
		return CategoryStudy, true
	case NotificationTypeBurnoutWarning:
		return CategoryWellbeing, true
	case NotificationTypeDailySummary:
		return CategorySummaries, true
	case NotificationTypeAchievement:
		return CategoryAchievements, true
	}
	return "", false
}

// IsValid reports whether t is one of the known types.
func (t NotificationType) IsValid() bool {
	_, ok := t.Category()
	return ok
}

// Priority is the delivery urgency of a notification.
type Priority string

// Priorities, most urgent first.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Priorities lists priorities in delivery order.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Rank returns the bucket index of the priority: 0 for critical, 3 for low, -1 if unknown.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return -1
}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	return p.Rank() >= 0
}

// SchedulingHints carries optional caller knowledge that shapes scheduling.
type SchedulingHints struct {
	PreferredHour *int       `json:"preferred_hour,omitempty" validate:"omitempty,min=0,max=23"`
	Deadline      *time.Time `json:"deadline,omitempty"`
}

// NotificationRequest is an alert that the engine may deliver to a user.
type NotificationRequest struct {
	ID        string            `json:"id" validate:"required"`
	UserID    string            `json:"user_id" validate:"required"`
	Type      NotificationType  `json:"type" validate:"required,notification_type"`
	Priority  Priority          `json:"priority" validate:"required,oneof=critical high medium low"`
	Title     string            `json:"title" validate:"required,max=200"`
	Body      string            `json:"body" validate:"max=2000"`
	TaskID    string            `json:"task_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Hints     *SchedulingHints  `json:"hints,omitempty"`
}

// IsCritical reports whether the request bypasses throttling.
func (r *NotificationRequest) IsCritical() bool {
	return r.Priority == PriorityCritical
}

// IsNewTaskDeadlineAlert reports whether the request is a high or medium
// alert about a freshly created task's deadline.
func (r *NotificationRequest) IsNewTaskDeadlineAlert() bool {
	return r.Type == NotificationTypeNewTaskDeadline &&
		(r.Priority == PriorityHigh || r.Priority == PriorityMedium)
}
