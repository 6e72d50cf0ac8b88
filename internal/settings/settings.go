// Package settings provides notification settings for users.
package settings

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bissquit/nudge/internal/domain"
)

// Provider returns a user's notification settings.
type Provider interface {
	Settings(ctx context.Context, userID string) (domain.NotificationSettings, error)
}

// Static serves configured defaults, with optional per-user overrides.
type Static struct {
	mu        sync.RWMutex
	defaults  domain.NotificationSettings
	overrides map[string]domain.NotificationSettings
}

// NewStatic creates a static provider.
func NewStatic(defaults domain.NotificationSettings) *Static {
	return &Static{defaults: defaults, overrides: make(map[string]domain.NotificationSettings)}
}

// Settings returns the override for userID or the defaults.
func (s *Static) Settings(_ context.Context, userID string) (domain.NotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.overrides[userID]; ok {
		return o, nil
	}
	return s.defaults, nil
}

// Set stores an override for userID.
func (s *Static) Set(userID string, settings domain.NotificationSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[userID] = settings
}

// Fallback serves from Primary and uses Secondary when Primary fails.
type Fallback struct {
	Primary   Provider
	Secondary Provider
}

// Settings implements Provider.
func (f Fallback) Settings(ctx context.Context, userID string) (domain.NotificationSettings, error) {
	s, err := f.Primary.Settings(ctx, userID)
	if err == nil {
		return s, nil
	}
	slog.Warn("primary settings provider failed", "user_id", userID, "error", err)
	return f.Secondary.Settings(ctx, userID)
}
