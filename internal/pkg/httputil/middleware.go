package httputil

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/nudge/internal/pkg/ctxlog"
	"github.com/bissquit/nudge/internal/pkg/metrics"
	"golang.org/x/time/rate"
)

// CORSMiddleware creates CORS middleware that handles preflight requests
// and adds appropriate CORS headers to responses.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if originsSet[origin] || originsSet["*"] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

// UserIDKey is the context key of the authenticated user id.
const UserIDKey contextKey = "user_id"

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (userID string, err error)
}

// AuthMiddleware creates authentication middleware. The user id is stored
// in the context and added to the request logger.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				Error(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			userID, err := validator.ValidateToken(r.Context(), parts[1])
			if err != nil {
				Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = ctxlog.With(ctx, "user_id", userID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID extracts user ID from context.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

// UserRateLimiter throttles requests per authenticated user.
type UserRateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	limiters map[string]*userLimiter
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserRateLimiter allows perSecond requests per user with the given burst.
func NewUserRateLimiter(perSecond float64, burst int) *UserRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &UserRateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		limiters: make(map[string]*userLimiter),
	}
}

// Allow reports whether userID may make a request now.
func (l *UserRateLimiter) Allow(userID string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}

// Cleanup forgets limiters of users idle for longer than the idle timeout.
func (l *UserRateLimiter) Cleanup() int {
	cutoff := time.Now().Add(-l.idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, ul := range l.limiters {
		if ul.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over the user's rate with 429. It must run
// after AuthMiddleware.
func (l *UserRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := GetUserID(r.Context())
		if userID != "" && !l.Allow(userID) {
			metrics.HTTPThrottled.Inc()
			w.Header().Set("Retry-After", "1")
			Error(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
