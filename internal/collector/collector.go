// Package collector turns user activity and notification responses into
// labelled training samples for the optimal-time model.
package collector

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// Collector defaults.
const (
	DefaultBufferSize = 1000
	RetrainBatch      = 50
	ResponseWindow    = time.Hour
	ReconcileAfter    = 24 * time.Hour
	ActiveThreshold   = 5 * time.Minute
	IdleThreshold     = 30 * time.Minute

	maxRecentActivityMinutes = 24 * 60
)

// ErrUnknownNotification is returned for responses to notifications that
// were never recorded as sent or were already resolved.
var ErrUnknownNotification = errors.New("no pending send for notification")

// AnalyticsSink receives every resolved response. The predictor's hourly
// matrix implements it.
type AnalyticsSink interface {
	RecordResponse(hour int, respondedWithinHour bool, latencySeconds float64, at time.Time)
}

// PendingSend is a delivered notification awaiting a response.
type PendingSend struct {
	Features domain.Features `json:"features"`
	SentAt   time.Time       `json:"sent_at"`
}

// Collector observes one user. It is not safe for concurrent use; the owning
// session serializes access.
type Collector struct {
	sink AnalyticsSink

	ring  []domain.TrainingDataPoint
	head  int
	count int

	pending map[string]PendingSend

	lastActivity   time.Time
	studying       bool
	studyStartedAt time.Time
	tasksOverdue   int
	studyStreak    int

	sinceTrigger  int
	sinceTraining int
}

// New creates a collector with the given ring buffer size. A non-positive
// size selects DefaultBufferSize. sink may be nil.
func New(size int, sink AnalyticsSink) *Collector {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Collector{
		sink:    sink,
		ring:    make([]domain.TrainingDataPoint, size),
		pending: make(map[string]PendingSend),
	}
}

// RecordActivity notes user interaction at now.
func (c *Collector) RecordActivity(now time.Time) {
	if now.After(c.lastActivity) {
		c.lastActivity = now
	}
}

// SetStudySession toggles the study-session flag.
func (c *Collector) SetStudySession(active bool, now time.Time) {
	if active && !c.studying {
		c.studyStartedAt = now
	}
	c.studying = active
	c.RecordActivity(now)
}

// UpdateContext replaces the workload context attached to new samples.
func (c *Collector) UpdateContext(tasksOverdue, studyStreak int) {
	c.tasksOverdue = max(0, tasksOverdue)
	c.studyStreak = max(0, studyStreak)
}

// State derives the activity state at now.
func (c *Collector) State(now time.Time) domain.ActivityState {
	if c.studying {
		return domain.ActivityStudying
	}
	if c.lastActivity.IsZero() {
		return domain.ActivityAway
	}
	elapsed := now.Sub(c.lastActivity)
	switch {
	case elapsed <= ActiveThreshold:
		return domain.ActivityActive
	case elapsed <= IdleThreshold:
		return domain.ActivityIdle
	default:
		return domain.ActivityAway
	}
}

// Features describes the current moment for req. Hour and weekday are taken
// from now as given, so callers pass now in the user's timezone.
func (c *Collector) Features(req *domain.NotificationRequest, now time.Time) domain.Features {
	return domain.Features{
		HourOfDay:             now.Hour(),
		DayOfWeek:             int(now.Weekday()),
		NotificationType:      req.Type,
		Priority:              req.Priority,
		UserActiveState:       c.State(now),
		RecentActivityMinutes: c.recentActivityMinutes(now),
		CurrentSessionActive:  c.studying,
		TasksOverdue:          c.tasksOverdue,
		StudyStreak:           c.studyStreak,
	}
}

func (c *Collector) recentActivityMinutes(now time.Time) float64 {
	if c.lastActivity.IsZero() {
		return maxRecentActivityMinutes
	}
	minutes := now.Sub(c.lastActivity).Minutes()
	return math.Max(0, math.Min(minutes, maxRecentActivityMinutes))
}

// RecordSent snapshots the sending context of req for later labelling.
func (c *Collector) RecordSent(req *domain.NotificationRequest, now time.Time) {
	c.pending[req.ID] = PendingSend{Features: c.Features(req, now), SentAt: now}
}

// Pending returns the number of sends awaiting a response.
func (c *Collector) Pending() int {
	return len(c.pending)
}

// ResponseResult is the outcome of RecordResponse.
type ResponseResult struct {
	Sample domain.TrainingDataPoint
	// RetrainDue is set once every RetrainBatch new samples.
	RetrainDue bool
}

// RecordResponse labels the pending send id and appends the sample.
func (c *Collector) RecordResponse(id string, opened, actionTaken bool, latencySeconds float64, now time.Time) (ResponseResult, error) {
	p, ok := c.pending[id]
	if !ok {
		return ResponseResult{}, fmt.Errorf("record response %s: %w", id, ErrUnknownNotification)
	}
	delete(c.pending, id)

	if latencySeconds < 0 {
		latencySeconds = 0
	}
	if opened {
		c.RecordActivity(now)
	}

	sample := domain.TrainingDataPoint{
		NotificationID:      id,
		Features:            p.Features,
		RespondedWithinHour: opened && latencySeconds <= ResponseWindow.Seconds(),
		EngagementScore:     EngagementScore(opened, actionTaken, latencySeconds),
		RecordedAt:          now,
	}
	outcome := "late"
	if sample.RespondedWithinHour {
		outcome = "responded"
	} else if !opened {
		outcome = "ignored"
	}
	recordResponse(outcome)

	return ResponseResult{Sample: sample, RetrainDue: c.add(sample, latencySeconds)}, nil
}

// Reconcile turns sends older than ReconcileAfter without a response into
// negative samples. It returns the number of samples added and whether a
// retrain became due.
func (c *Collector) Reconcile(now time.Time) (int, bool) {
	added := 0
	due := false
	for id, p := range c.pending {
		if now.Sub(p.SentAt) < ReconcileAfter {
			continue
		}
		delete(c.pending, id)
		sample := domain.TrainingDataPoint{
			NotificationID: id,
			Features:       p.Features,
			RecordedAt:     now,
		}
		if c.add(sample, 0) {
			due = true
		}
		added++
		recordResponse("expired")
	}
	return added, due
}

func (c *Collector) add(sample domain.TrainingDataPoint, latencySeconds float64) bool {
	c.ring[c.head] = sample
	c.head = (c.head + 1) % len(c.ring)
	if c.count < len(c.ring) {
		c.count++
	}

	if c.sink != nil {
		c.sink.RecordResponse(sample.Features.HourOfDay, sample.RespondedWithinHour, latencySeconds, sample.RecordedAt)
	}

	c.sinceTraining++
	c.sinceTrigger++
	if c.sinceTrigger >= RetrainBatch {
		c.sinceTrigger = 0
		return true
	}
	return false
}

// Samples returns the buffered samples, oldest first.
func (c *Collector) Samples() []domain.TrainingDataPoint {
	out := make([]domain.TrainingDataPoint, 0, c.count)
	start := (c.head - c.count + len(c.ring)) % len(c.ring)
	for i := 0; i < c.count; i++ {
		out = append(out, c.ring[(start+i)%len(c.ring)])
	}
	return out
}

// SampleCount returns the number of buffered samples.
func (c *Collector) SampleCount() int {
	return c.count
}

// SinceTraining returns the number of samples added since MarkTrained.
func (c *Collector) SinceTraining() int {
	return c.sinceTraining
}

// MarkTrained resets the new-sample counter after a successful training.
func (c *Collector) MarkTrained() {
	c.sinceTraining = 0
}

// EngagementScore grades a response in [0, 1]. Faster responses score
// higher; taking the suggested action multiplies the score by 1.25.
func EngagementScore(opened, actionTaken bool, latencySeconds float64) float64 {
	if !opened {
		return 0
	}
	var score float64
	switch {
	case latencySeconds <= 60:
		score = 1.0
	case latencySeconds <= 5*60:
		score = 0.8
	case latencySeconds <= 15*60:
		score = 0.6
	case latencySeconds <= 60*60:
		score = 0.4
	case latencySeconds <= 4*60*60:
		score = 0.2
	default:
		score = 0.1
	}
	if actionTaken {
		score *= 1.25
	}
	return math.Min(score, 1)
}
