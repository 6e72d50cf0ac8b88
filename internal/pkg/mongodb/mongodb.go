// Package mongodb provides MongoDB connection utilities.
package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/nudge/internal/pkg/retry"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config contains MongoDB connection configuration.
type Config struct {
	URI             string        `koanf:"uri"`
	Database        string        `koanf:"database"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// Client wraps a connected client and its database.
type Client struct {
	client   *mongo.Client
	database *mongo.Database
}

// Connect opens a client and pings the primary. Each attempt is bounded by
// ConnectTimeout.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("configure mongodb client: %w", err)
	}

	err = retry.Do(ctx, "mongodb", cfg.ConnectAttempts, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return client.Ping(pingCtx, readpref.Primary())
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	slog.Info("using mongodb database", "database", cfg.Database)
	return &Client{client: client, database: client.Database(cfg.Database)}, nil
}

// Database returns the database handle.
func (c *Client) Database() *mongo.Database {
	return c.database
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Disconnect closes the connection.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
