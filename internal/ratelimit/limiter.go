// Package ratelimit throttles notifications per task, per day and per user.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// DefaultTaskCooldown is the minimum gap between two alerts of the same type
// about the same task.
const DefaultTaskCooldown = 2 * time.Hour

const dateLayout = "2006-01-02"

// Reason explains a rejected check.
type Reason string

// Rejection reasons.
const (
	ReasonNone         Reason = ""
	ReasonTaskCooldown Reason = "task_cooldown"
	ReasonDailyCap     Reason = "daily_cap"
	ReasonMinSpacing   Reason = "min_spacing"
)

// Decision is the outcome of Check.
type Decision struct {
	Allowed bool
	Reason  Reason
	// RetryAt is the earliest time the same request could pass, when known.
	RetryAt *time.Time
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason Reason, retryAt time.Time) Decision {
	return Decision{Reason: reason, RetryAt: &retryAt}
}

// Record is the persisted throttle state for one key.
type Record struct {
	Key              string `json:"key"`
	LastSentAtMillis int64  `json:"last_sent_at"`
	DailyCount       int    `json:"daily_count"`
	DailyDate        string `json:"daily_date"`
}

func (r Record) lastSentAt() time.Time {
	return time.UnixMilli(r.LastSentAtMillis)
}

// Limiter holds the throttle records of one user.
type Limiter struct {
	userID   string
	cooldown time.Duration

	mu      sync.RWMutex
	records map[string]Record
}

// New creates an empty limiter for the user.
func New(userID string) *Limiter {
	return &Limiter{
		userID:   userID,
		cooldown: DefaultTaskCooldown,
		records:  make(map[string]Record),
	}
}

// Check decides whether req may be delivered at now. Quiet hours are not
// considered here; see QuietHours.
func (l *Limiter) Check(req *domain.NotificationRequest, settings domain.NotificationSettings, now time.Time) Decision {
	if req.IsCritical() {
		return allow()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if req.TaskID != "" {
		if rec, ok := l.records[taskKey(req)]; ok && rec.LastSentAtMillis > 0 {
			next := rec.lastSentAt().Add(l.cooldown)
			if now.Before(next) {
				recordDecision(ReasonTaskCooldown)
				return deny(ReasonTaskCooldown, next)
			}
		}
	}

	today := now.In(settings.Location()).Format(dateLayout)
	if rec, ok := l.records[l.dailyKey()]; ok && rec.DailyDate == today {
		if rec.DailyCount >= settings.MaxNotificationsPerDay {
			recordDecision(ReasonDailyCap)
			return deny(ReasonDailyCap, nextMidnight(now, settings.Location()))
		}
	}

	if spacing := settings.MinSpacing(); spacing > 0 && !req.IsNewTaskDeadlineAlert() {
		if rec, ok := l.records[l.globalKey()]; ok && rec.LastSentAtMillis > 0 {
			next := rec.lastSentAt().Add(spacing)
			if now.Before(next) {
				recordDecision(ReasonMinSpacing)
				return deny(ReasonMinSpacing, next)
			}
		}
	}

	recordDecision(ReasonNone)
	return allow()
}

// Record registers an accepted delivery of req at now. The task, daily and
// global records are built first and become visible together.
func (l *Limiter) Record(req *domain.NotificationRequest, settings domain.NotificationSettings, now time.Time) {
	millis := now.UnixMilli()
	today := now.In(settings.Location()).Format(dateLayout)

	l.mu.Lock()
	defer l.mu.Unlock()

	updates := make([]Record, 0, 3)
	if req.TaskID != "" {
		key := taskKey(req)
		rec := l.records[key]
		updates = append(updates, rolled(rec, key, millis, today))
	}
	dailyKey := l.dailyKey()
	updates = append(updates, rolled(l.records[dailyKey], dailyKey, millis, today))
	globalKey := l.globalKey()
	updates = append(updates, rolled(l.records[globalKey], globalKey, millis, today))

	for _, rec := range updates {
		l.records[rec.Key] = rec
	}
}

// DailyCount returns the number of deliveries recorded for the local day of now.
func (l *Limiter) DailyCount(settings domain.NotificationSettings, now time.Time) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[l.dailyKey()]
	if !ok || rec.DailyDate != now.In(settings.Location()).Format(dateLayout) {
		return 0
	}
	return rec.DailyCount
}

// Prune drops task records whose cooldown elapsed before now.
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, rec := range l.records {
		if key == l.dailyKey() || key == l.globalKey() {
			continue
		}
		if now.Sub(rec.lastSentAt()) >= l.cooldown {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}

// Snapshot returns the records sorted by key.
func (l *Limiter) Snapshot() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Restore replaces all records.
func (l *Limiter) Restore(records []Record) {
	next := make(map[string]Record, len(records))
	for _, rec := range records {
		if rec.Key == "" {
			continue
		}
		next[rec.Key] = rec
	}

	l.mu.Lock()
	l.records = next
	l.mu.Unlock()
}

func rolled(rec Record, key string, millis int64, today string) Record {
	if rec.DailyDate != today {
		rec.DailyCount = 0
		rec.DailyDate = today
	}
	rec.Key = key
	rec.DailyCount++
	rec.LastSentAtMillis = millis
	return rec
}

func taskKey(req *domain.NotificationRequest) string {
	return "task_" + string(req.Type) + "_" + req.TaskID
}

func (l *Limiter) dailyKey() string {
	return "daily_" + l.userID
}

func (l *Limiter) globalKey() string {
	return "global_" + l.userID
}

func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
