// Package store defines the per-user key-value persistence used for engine
// state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Load when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Namespace groups one kind of state.
type Namespace string

// State namespaces.
const (
	NamespaceQueue       Namespace = "queue"
	NamespaceRateLimit   Namespace = "ratelimit"
	NamespaceHourlyStats Namespace = "hourly_stats"
	NamespaceModel       Namespace = "model"
	NamespaceTraining    Namespace = "training"
	NamespaceBurnout     Namespace = "burnout"
	NamespacePeakTime    Namespace = "peaktime"
)

// Namespaces lists every namespace.
var Namespaces = []Namespace{
	NamespaceQueue,
	NamespaceRateLimit,
	NamespaceHourlyStats,
	NamespaceModel,
	NamespaceTraining,
	NamespaceBurnout,
	NamespacePeakTime,
}

// Key returns the storage key of a namespace for a user.
func Key(ns Namespace, userID string) string {
	return string(ns) + "_" + userID
}

// Store is a byte-oriented key-value store.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Lister is implemented by stores that can enumerate users.
type Lister interface {
	// ListUsers returns the ids of users that have ns stored.
	ListUsers(ctx context.Context, ns Namespace) ([]string, error)
}

// UserFromKey splits a key of ns into its user id.
func UserFromKey(ns Namespace, key string) (string, bool) {
	prefix := string(ns) + "_"
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return "", false
	}
	return key[len(prefix):], true
}

// SaveJSON encodes v and stores it under the namespaced key.
func SaveJSON(ctx context.Context, s Store, ns Namespace, userID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ns, err)
	}
	if err := s.Save(ctx, Key(ns, userID), data); err != nil {
		return fmt.Errorf("save %s: %w", ns, err)
	}
	return nil
}

// LoadJSON decodes the namespaced key into v. It returns ErrNotFound when
// nothing is stored.
func LoadJSON(ctx context.Context, s Store, ns Namespace, userID string, v any) error {
	data, err := s.Load(ctx, Key(ns, userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("load %s: %w", ns, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", ns, err)
	}
	return nil
}
