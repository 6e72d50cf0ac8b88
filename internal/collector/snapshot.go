package collector

import (
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// Snapshot is the persisted form of a collector.
type Snapshot struct {
	Samples        []domain.TrainingDataPoint `json:"samples"`
	Pending        map[string]PendingSend     `json:"pending,omitempty"`
	LastActivity   *time.Time                 `json:"last_activity,omitempty"`
	Studying       bool                       `json:"studying"`
	StudyStartedAt *time.Time                 `json:"study_started_at,omitempty"`
	TasksOverdue   int                        `json:"tasks_overdue"`
	StudyStreak    int                        `json:"study_streak"`
	SinceTrigger   int                        `json:"since_trigger"`
	SinceTraining  int                        `json:"since_training"`
}

// Snapshot captures the buffer, pending sends and activity context.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		Samples:       c.Samples(),
		Pending:       make(map[string]PendingSend, len(c.pending)),
		Studying:      c.studying,
		TasksOverdue:  c.tasksOverdue,
		StudyStreak:   c.studyStreak,
		SinceTrigger:  c.sinceTrigger,
		SinceTraining: c.sinceTraining,
	}
	for id, p := range c.pending {
		s.Pending[id] = p
	}
	if !c.lastActivity.IsZero() {
		t := c.lastActivity
		s.LastActivity = &t
	}
	if c.studying {
		t := c.studyStartedAt
		s.StudyStartedAt = &t
	}
	return s
}

// Restore replaces the collector state. When the snapshot holds more samples
// than the buffer, the oldest are dropped.
func (c *Collector) Restore(s Snapshot) {
	c.ring = make([]domain.TrainingDataPoint, len(c.ring))
	c.head, c.count = 0, 0

	samples := s.Samples
	if len(samples) > len(c.ring) {
		samples = samples[len(samples)-len(c.ring):]
	}
	for _, sample := range samples {
		c.ring[c.head] = sample
		c.head = (c.head + 1) % len(c.ring)
		c.count++
	}

	c.pending = make(map[string]PendingSend, len(s.Pending))
	for id, p := range s.Pending {
		c.pending[id] = p
	}

	c.lastActivity = time.Time{}
	if s.LastActivity != nil {
		c.lastActivity = *s.LastActivity
	}
	c.studying = s.Studying
	c.studyStartedAt = time.Time{}
	if s.StudyStartedAt != nil {
		c.studyStartedAt = *s.StudyStartedAt
	}
	c.tasksOverdue = s.TasksOverdue
	c.studyStreak = s.StudyStreak
	c.sinceTrigger = s.SinceTrigger
	c.sinceTraining = s.SinceTraining
}
