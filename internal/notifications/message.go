package notifications

import (
	"strings"

	"github.com/bissquit/nudge/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Push payload data keys.
const (
	DataNotificationID = "notification_id"
	DataType           = "type"
	DataTypeLabel      = "type_label"
	DataCategory       = "category"
	DataPriority       = "priority"
	DataTaskID         = "task_id"
)

var titleCaser = cases.Title(language.English)

// BuildMessage renders a request into a push message. Caller data is kept;
// reserved keys are overwritten.
func BuildMessage(req *domain.NotificationRequest) Message {
	data := make(map[string]string, len(req.Data)+6)
	for k, v := range req.Data {
		data[k] = v
	}
	category, _ := req.Type.Category()
	data[DataNotificationID] = req.ID
	data[DataType] = string(req.Type)
	data[DataTypeLabel] = TypeLabel(req.Type)
	data[DataCategory] = string(category)
	data[DataPriority] = string(req.Priority)
	if req.TaskID != "" {
		data[DataTaskID] = req.TaskID
	}

	title := req.Title
	if emoji := typeEmoji(req.Type); emoji != "" {
		title = emoji + " " + title
	}

	return Message{
		NotificationID: req.ID,
		UserID:         req.UserID,
		Type:           req.Type,
		Priority:       req.Priority,
		Title:          title,
		Body:           req.Body,
		Data:           data,
		Hints:          displayHints(req.Priority),
	}
}

// TypeLabel returns a human readable name such as "Deadline Reminder".
func TypeLabel(t domain.NotificationType) string {
	return titleCaser.String(strings.ReplaceAll(string(t), "_", " "))
}

func displayHints(p domain.Priority) DisplayHints {
	switch p {
	case domain.PriorityCritical:
		return DisplayHints{Sound: "alarm", ChannelID: "urgent", Color: "#D32F2F"}
	case domain.PriorityHigh:
		return DisplayHints{Sound: "default", ChannelID: "important", Color: "#F57C00"}
	case domain.PriorityMedium:
		return DisplayHints{Sound: "default", ChannelID: "general"}
	default:
		return DisplayHints{ChannelID: "quiet", Silent: true}
	}
}

func typeEmoji(t domain.NotificationType) string {
	switch t {
	case domain.NotificationTypeDeadlineReminder, domain.NotificationTypeNewTaskDeadline:
		return "⏰"
	case domain.NotificationTypeOverdueTask:
		return "⚠️"
	case domain.NotificationTypeStudySessionReminder, domain.NotificationTypePeakTimeSuggestion:
		return "📚"
	case domain.NotificationTypeBreakReminder:
		return "☕"
	case domain.NotificationTypeBurnoutWarning:
		return "🧘"
	case domain.NotificationTypeDailySummary:
		return "📋"
	case domain.NotificationTypeAchievement:
		return "🏆"
	}
	return ""
}
