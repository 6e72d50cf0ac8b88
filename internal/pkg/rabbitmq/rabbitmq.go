// Package rabbitmq wraps an AMQP connection and channel.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/bissquit/nudge/internal/pkg/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Client wraps a RabbitMQ connection and one channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Message is a delivery received from a queue.
type Message struct {
	Body       []byte
	RoutingKey string
	MessageID  string
	delivery   amqp.Delivery
}

// Ack acknowledges the message.
func (m *Message) Ack() error {
	return m.delivery.Ack(false)
}

// Nack rejects the message, optionally returning it to the queue.
func (m *Message) Nack(requeue bool) error {
	return m.delivery.Nack(false, requeue)
}

// Dial connects to url, retrying with backoff, and opens a channel.
func Dial(ctx context.Context, url string, attempts int) (*Client, error) {
	var conn *amqp.Connection
	err := retry.Do(ctx, "rabbitmq", attempts, func(context.Context) error {
		c, err := amqp.Dial(url)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &Client{conn: conn, channel: channel}, nil
}

// DeclareTopology declares a durable topic exchange and a durable queue
// bound to it with each routing key.
func (c *Client) DeclareTopology(exchange, queue string, routingKeys []string) error {
	if err := c.channel.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if _, err := c.channel.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	for _, key := range routingKeys {
		if err := c.channel.QueueBind(queue, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", queue, key, err)
		}
	}
	return nil
}

// Consume starts consuming queue with manual acknowledgements. At most
// prefetch messages are unacknowledged at a time. The returned channel is
// closed when the AMQP channel closes or ctx is done.
func (c *Client) Consume(ctx context.Context, queue, consumerTag string, prefetch int) (<-chan Message, error) {
	if prefetch > 0 {
		if err := c.channel.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("set prefetch: %w", err)
		}
	}

	deliveries, err := c.channel.ConsumeWithContext(ctx,
		queue,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for d := range deliveries {
			msg := Message{Body: d.Body, RoutingKey: d.RoutingKey, MessageID: d.MessageId, delivery: d}
			select {
			case out <- msg:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}()
	return out, nil
}

// Publish sends a persistent JSON message.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	return c.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// NotifyClose returns a channel that receives the error closing the
// connection.
func (c *Client) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// IsClosed reports whether the connection is closed.
func (c *Client) IsClosed() bool {
	return c.conn.IsClosed()
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
