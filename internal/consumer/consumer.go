// Package consumer feeds events from RabbitMQ into the notification engine.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/notifications"
	"github.com/bissquit/nudge/internal/pkg/ctxlog"
	"github.com/bissquit/nudge/internal/pkg/rabbitmq"
	"github.com/go-playground/validator/v10"
)

// Engine receives decoded events.
type Engine interface {
	Submit(ctx context.Context, userID string, req domain.NotificationRequest, opts notifications.SubmitOptions) (notifications.Result, error)
	RecordResponse(ctx context.Context, userID, notificationID string, opened, actionTaken bool, latencySeconds float64) (notifications.ResponseOutcome, error)
	RecordActivity(ctx context.Context, userID string)
	SetStudySession(ctx context.Context, userID string, active bool)
}

// Config configures the consumer.
type Config struct {
	URL             string
	Exchange        string
	Queue           string
	RoutingKeys     []string
	Prefetch        int
	ConnectAttempts int
	ReconnectDelay  time.Duration
	ConsumerTag     string
}

// Consumer reads events from a queue and reconnects when the broker
// connection drops.
type Consumer struct {
	cfg       Config
	engine    Engine
	validator *validator.Validate

	running  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a consumer.
func New(cfg Config, engine Engine) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "nudge"
	}
	return &Consumer{
		cfg:       cfg,
		engine:    engine,
		validator: notifications.NewValidator(),
	}, nil
}

// Start consumes in the background until Stop is called or ctx is done.
func (c *Consumer) Start(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)
		c.run(ctx)
	}()

	slog.Info("event consumer started", "exchange", c.cfg.Exchange, "queue", c.cfg.Queue)
}

// Stop stops consuming and waits for the in-flight event. It is safe to
// call more than once.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		slog.Info("event consumer stopped")
	})
}

// Running reports whether the consumer loop is active.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

func (c *Consumer) run(ctx context.Context) {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("event consumer disconnected", "error", err, "retry_in", c.cfg.ReconnectDelay)

		t := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		reconnectsTotal.Inc()
	}
}

// consume runs one broker session. It returns when the connection closes
// or ctx is done.
func (c *Consumer) consume(ctx context.Context) error {
	client, err := rabbitmq.Dial(ctx, c.cfg.URL, c.cfg.ConnectAttempts)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Debug("close rabbitmq client", "error", err)
		}
	}()

	if err := client.DeclareTopology(c.cfg.Exchange, c.cfg.Queue, c.cfg.RoutingKeys); err != nil {
		return err
	}

	closed := client.NotifyClose()
	messages, err := client.Consume(ctx, c.cfg.Queue, c.cfg.ConsumerTag, c.cfg.Prefetch)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case msg, ok := <-messages:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.deliver(ctx, &msg)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, msg *rabbitmq.Message) {
	err := c.Handle(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Warn("failed to ack event", "message_id", msg.MessageID, "error", ackErr)
		}
	case ctx.Err() != nil:
		if nackErr := msg.Nack(true); nackErr != nil {
			slog.Warn("failed to requeue event", "message_id", msg.MessageID, "error", nackErr)
		}
	default:
		slog.Warn("event rejected",
			"message_id", msg.MessageID,
			"routing_key", msg.RoutingKey,
			"error", err,
		)
		if nackErr := msg.Nack(false); nackErr != nil {
			slog.Warn("failed to nack event", "message_id", msg.MessageID, "error", nackErr)
		}
	}
}

// Handle decodes one event body and applies it to the engine. Errors mean
// the event cannot be processed and should not be redelivered.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		recordEvent("", "malformed")
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if err := c.validator.Struct(ev); err != nil {
		recordEvent(ev.Type, "malformed")
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	ctx = ctxlog.With(ctx, "user_id", ev.UserID, "event_type", ev.Type)
	err := c.apply(ctx, &ev)
	if err != nil {
		recordEvent(ev.Type, "rejected")
		return err
	}
	recordEvent(ev.Type, "applied")
	return nil
}

func (c *Consumer) apply(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventActivity:
		c.engine.RecordActivity(ctx, ev.UserID)

	case EventStudySession:
		c.engine.SetStudySession(ctx, ev.UserID, *ev.Active)

	case EventResponse:
		r := ev.Response
		if _, err := c.engine.RecordResponse(ctx, ev.UserID, r.NotificationID, r.Opened, r.ActionTaken, r.LatencySeconds); err != nil {
			return fmt.Errorf("record response: %w", err)
		}

	case EventNotification:
		req := ev.Notification.Request
		if req.UserID == "" {
			req.UserID = ev.UserID
		}
		res, err := c.engine.Submit(ctx, ev.UserID, req, ev.Notification.Options)
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		ctxlog.FromContext(ctx).Debug("event notification submitted",
			"notification_id", res.NotificationID,
			"status", res.Status,
			"reason", res.Reason,
		)
	}
	return nil
}
