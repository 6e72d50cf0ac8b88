package queue

import (
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// Stats summarizes queue contents.
type Stats struct {
	Total      int                     `json:"total"`
	MaxSize    int                     `json:"max_size"`
	ByPriority map[domain.Priority]int `json:"by_priority"`
	Ready      int                     `json:"ready"`
	Sent       int                     `json:"sent"`
	NextDueAt  *time.Time              `json:"next_due_at,omitempty"`
	OldestAt   *time.Time              `json:"oldest_enqueued_at,omitempty"`
}

// Stats computes a summary as of now.
func (q *Queue) Stats(now time.Time) Stats {
	s := Stats{
		Total:      len(q.index),
		MaxSize:    q.maxSize,
		ByPriority: make(map[domain.Priority]int, bucketCount),
	}
	for _, p := range domain.Priorities {
		s.ByPriority[p] = len(q.buckets[p.Rank()])
	}

	q.each(func(e *Entry) {
		if e.Sent {
			s.Sent++
		} else if e.IsReady(now) {
			s.Ready++
		} else if s.NextDueAt == nil || e.ScheduledFor.Before(*s.NextDueAt) {
			at := e.ScheduledFor
			s.NextDueAt = &at
		}
		if s.OldestAt == nil || e.EnqueuedAt.Before(*s.OldestAt) {
			at := e.EnqueuedAt
			s.OldestAt = &at
		}
	})

	return s
}
