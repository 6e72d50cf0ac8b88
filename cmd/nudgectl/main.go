// Command nudgectl is an operator tool for nudge. It issues access tokens
// and publishes engine events to RabbitMQ.
//
// Usage:
//
//	nudgectl token -user student-1 [-ttl 24h]
//	nudgectl publish -user student-1 -type activity
//	nudgectl publish -user student-1 -type study_session -active=false
//	nudgectl publish -user student-1 -type response -notification n-1 -opened
//	nudgectl publish -user student-1 -type notification -file request.json
//	nudgectl version
//
// Settings are read like the server's: .env, NUDGE_CONFIG, NUDGE_* variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bissquit/nudge/internal/config"
	"github.com/bissquit/nudge/internal/consumer"
	"github.com/bissquit/nudge/internal/identity"
	"github.com/bissquit/nudge/internal/pkg/rabbitmq"
	"github.com/bissquit/nudge/internal/version"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "nudgectl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: nudgectl <token|publish|version> [flags]")
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	switch args[0] {
	case "token":
		return tokenCmd(args[1:], out)
	case "publish":
		return publishCmd(args[1:], out)
	case "version":
		_, err := fmt.Fprintln(out, version.Get())
		return err
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func tokenCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id (token subject)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("token: -user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	v, err := identity.NewVerifier(cfg.JWT)
	if err != nil {
		return err
	}
	token, err := v.IssueToken(*user, cfg.JWT.Issuer, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func publishCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	typ := fs.String("type", string(consumer.EventActivity), "event type: activity, study_session, response, notification")
	key := fs.String("key", "", "routing key (default <type>.<user>)")
	active := fs.Bool("active", true, "study_session: session started")
	notificationID := fs.String("notification", "", "response: notification id")
	opened := fs.Bool("opened", false, "response: notification opened")
	actionTaken := fs.Bool("action", false, "response: action taken")
	latency := fs.Float64("latency", 0, "response: seconds until the reaction")
	file := fs.String("file", "", "notification: JSON file with {\"request\":...,\"options\":...}")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ev, err := buildEvent(eventFlags{
		user:           *user,
		typ:            consumer.EventType(*typ),
		active:         *active,
		notificationID: *notificationID,
		opened:         *opened,
		actionTaken:    *actionTaken,
		latency:        *latency,
		file:           *file,
	})
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.AMQP.URL == "" {
		return errors.New("publish: NUDGE_AMQP_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := rabbitmq.Dial(ctx, cfg.AMQP.URL, 1)
	if err != nil {
		return err
	}
	defer client.Close()

	routingKey := *key
	if routingKey == "" {
		routingKey = string(ev.Type) + "." + ev.UserID
	}
	if err := client.Publish(ctx, cfg.AMQP.Exchange, routingKey, body); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "published %s event for %s to %s/%s\n", ev.Type, ev.UserID, cfg.AMQP.Exchange, routingKey)
	return err
}

type eventFlags struct {
	user           string
	typ            consumer.EventType
	active         bool
	notificationID string
	opened         bool
	actionTaken    bool
	latency        float64
	file           string
}

func buildEvent(f eventFlags) (consumer.Event, error) {
	if f.user == "" {
		return consumer.Event{}, errors.New("publish: -user is required")
	}
	ev := consumer.Event{Type: f.typ, UserID: f.user, OccurredAt: time.Now().UTC()}

	switch f.typ {
	case consumer.EventActivity:
	case consumer.EventStudySession:
		ev.Active = &f.active
	case consumer.EventResponse:
		if f.notificationID == "" {
			return consumer.Event{}, errors.New("publish: -notification is required for response events")
		}
		ev.Response = &consumer.ResponseEvent{
			NotificationID: f.notificationID,
			Opened:         f.opened,
			ActionTaken:    f.actionTaken,
			LatencySeconds: f.latency,
		}
	case consumer.EventNotification:
		if f.file == "" {
			return consumer.Event{}, errors.New("publish: -file is required for notification events")
		}
		data, err := os.ReadFile(f.file)
		if err != nil {
			return consumer.Event{}, err
		}
		var n consumer.NotificationEvent
		if err := json.Unmarshal(data, &n); err != nil {
			return consumer.Event{}, fmt.Errorf("parse %s: %w", f.file, err)
		}
		ev.Notification = &n
	default:
		return consumer.Event{}, fmt.Errorf("publish: unknown event type %q", f.typ)
	}
	return ev, nil
}
