package notifications

import (
	"context"

	"github.com/bissquit/nudge/internal/domain"
)

// DisplayHints tell the device how prominently to present a message.
type DisplayHints struct {
	Sound     string `json:"sound,omitempty"`
	ChannelID string `json:"channel_id"`
	Color     string `json:"color,omitempty"`
	Silent    bool   `json:"silent"`
}

// Message is a rendered notification ready for the push transport.
type Message struct {
	NotificationID string
	UserID         string
	Type           domain.NotificationType
	Priority       domain.Priority
	Title          string
	Body           string
	Data           map[string]string
	Hints          DisplayHints
}

// Dispatcher hands messages to the push transport. It returns an opaque
// delivery id; a nil error does not guarantee the message was displayed.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) (deliveryID string, err error)
}
