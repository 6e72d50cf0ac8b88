// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/bissquit/nudge/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrations holds the schema of the kv_store table.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations.
const MigrationsDir = "migrations"

// Store implements store.Store on a JSONB table.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	query := `
		SELECT value::text
		FROM kv_store
		WHERE key = $1
	`
	var value string
	if err := s.db.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return []byte(value), nil
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query, key, string(value)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// DeleteUser removes every namespace stored for the user.
func (s *Store) DeleteUser(ctx context.Context, userID string) (int64, error) {
	keys := make([]string, 0, len(store.Namespaces))
	for _, ns := range store.Namespaces {
		keys = append(keys, store.Key(ns, userID))
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM kv_store WHERE key = ANY($1)`, keys)
	if err != nil {
		return 0, fmt.Errorf("delete user %s: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}

// ListUsers implements store.Lister.
func (s *Store) ListUsers(ctx context.Context, ns store.Namespace) ([]string, error) {
	query := `
		SELECT key
		FROM kv_store
		WHERE starts_with(key, $1)
		ORDER BY key
	`
	rows, err := s.db.Query(ctx, query, string(ns)+"_")
	if err != nil {
		return nil, fmt.Errorf("list %s users: %w", ns, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan %s keys: %w", ns, err)
	}

	users := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := store.UserFromKey(ns, key); ok {
			users = append(users, id)
		}
	}
	return users, nil
}
