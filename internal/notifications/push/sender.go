// Package push delivers notifications through Firebase Cloud Messaging.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/notifications"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

const (
	defaultRateLimit   = 50.0
	defaultTopicPrefix = "user_"
)

// Config holds push sender configuration.
type Config struct {
	Enabled         bool    `koanf:"enabled"`
	ProjectID       string  `koanf:"project_id"`
	CredentialsFile string  `koanf:"credentials_file"`
	RateLimit       float64 `koanf:"rate_limit"`
	TopicPrefix     string  `koanf:"topic_prefix"`
}

// messagingClient is the subset of *messaging.Client the sender uses.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Sender implements notifications.Dispatcher on top of FCM. Each user's
// devices subscribe to the topic TopicPrefix+userID.
type Sender struct {
	config  Config
	client  messagingClient
	limiter *rate.Limiter
}

// NewSender creates a push sender. A disabled sender only logs messages.
// Returns error if enabled but required config is missing.
func NewSender(ctx context.Context, config Config) (*Sender, error) {
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = defaultTopicPrefix
	}

	s := &Sender{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}

	if config.Enabled {
		if config.ProjectID == "" || config.CredentialsFile == "" {
			return nil, errors.New("push sender: project id and credentials file are required when enabled")
		}
		app, err := firebase.NewApp(ctx,
			&firebase.Config{ProjectID: config.ProjectID},
			option.WithCredentialsFile(config.CredentialsFile),
		)
		if err != nil {
			return nil, fmt.Errorf("push sender: init firebase app: %w", err)
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("push sender: messaging client: %w", err)
		}
		s.client = client
	}

	slog.Info("push sender configured",
		"enabled", config.Enabled,
		"project_id", config.ProjectID,
		"rate_limit", config.RateLimit,
	)

	return s, nil
}

// Send delivers msg to the user's topic and returns the FCM message id.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) (string, error) {
	if !s.config.Enabled || s.client == nil {
		id := "log-" + uuid.NewString()
		slog.Info("push sender disabled, logging notification",
			"delivery_id", id,
			"user_id", msg.UserID,
			"notification_id", msg.NotificationID,
			"type", msg.Type,
			"title", msg.Title,
		)
		return id, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", notifications.NewRetryableError(fmt.Errorf("rate limit wait: %w", err))
	}

	id, err := s.client.Send(ctx, s.buildMessage(msg))
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

func (s *Sender) buildMessage(msg notifications.Message) *messaging.Message {
	androidPriority := "normal"
	if msg.Priority == domain.PriorityCritical || msg.Priority == domain.PriorityHigh {
		androidPriority = "high"
	}

	aps := &messaging.Aps{
		Alert: &messaging.ApsAlert{Title: msg.Title, Body: msg.Body},
		Sound: msg.Hints.Sound,
	}
	if msg.Hints.Silent {
		aps.Sound = ""
	}

	return &messaging.Message{
		Topic: s.config.TopicPrefix + msg.UserID,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority:    androidPriority,
			CollapseKey: string(msg.Type),
			Notification: &messaging.AndroidNotification{
				ChannelID: msg.Hints.ChannelID,
				Sound:     msg.Hints.Sound,
				Color:     msg.Hints.Color,
				Tag:       msg.NotificationID,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: aps},
		},
	}
}

// classify marks FCM errors that will never succeed on retry as permanent.
func classify(err error) error {
	wrapped := fmt.Errorf("fcm send: %w", err)
	switch {
	case messaging.IsUnregistered(err),
		messaging.IsSenderIDMismatch(err),
		errorutils.IsInvalidArgument(err),
		errorutils.IsPermissionDenied(err),
		errorutils.IsUnauthenticated(err):
		return notifications.NewNonRetryableError(wrapped)
	default:
		return notifications.NewRetryableError(wrapped)
	}
}
