package queue

import (
	"log/slog"
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// SnapshotVersion is the persisted layout version.
const SnapshotVersion = 1

// Snapshot is the persisted form of a queue. Buckets are flattened in
// delivery order; the index is never stored.
type Snapshot struct {
	Version int             `json:"version"`
	Entries []SnapshotEntry `json:"entries"`
}

// SnapshotEntry is the persisted form of an Entry. Times are Unix milliseconds.
type SnapshotEntry struct {
	Request              snapshotRequest `json:"request"`
	PredictedOptimalHour int             `json:"predicted_optimal_hour"`
	PredictedSuccessRate float64         `json:"predicted_success_rate"`
	AlternativeHours     []int           `json:"alternative_hours,omitempty"`
	ScheduledForMillis   int64           `json:"scheduled_for"`
	ExpiresAtMillis      *int64          `json:"expires_at,omitempty"`
	Sent                 bool            `json:"sent"`
	CanDelay             bool            `json:"can_delay"`
	MaxDelayHours        int             `json:"max_delay_hours"`
	EnqueuedAtMillis     int64           `json:"enqueued_at"`
}

type snapshotRequest struct {
	ID             string                  `json:"id"`
	UserID         string                  `json:"user_id"`
	Type           domain.NotificationType `json:"type"`
	Priority       domain.Priority         `json:"priority"`
	Title          string                  `json:"title"`
	Body           string                  `json:"body"`
	TaskID         string                  `json:"task_id,omitempty"`
	Data           map[string]string       `json:"data,omitempty"`
	CreatedAt      int64                   `json:"created_at"`
	PreferredHour  *int                    `json:"preferred_hour,omitempty"`
	DeadlineMillis *int64                  `json:"deadline,omitempty"`
}

// Snapshot flattens the buckets.
func (q *Queue) Snapshot() Snapshot {
	s := Snapshot{Version: SnapshotVersion, Entries: make([]SnapshotEntry, 0, len(q.index))}
	q.each(func(e *Entry) {
		s.Entries = append(s.Entries, toSnapshotEntry(e))
	})
	return s
}

// Restore replaces the queue contents with the snapshot. The index is rebuilt
// from the restored buckets; duplicate ids and unknown priorities are dropped.
func (q *Queue) Restore(s Snapshot) {
	q.buckets = [bucketCount][]*Entry{}
	q.index = make(map[string]domain.Priority, len(s.Entries))

	dropped := 0
	for _, se := range s.Entries {
		e := fromSnapshotEntry(se)
		rank := e.Request.Priority.Rank()
		if rank < 0 || e.ID() == "" {
			dropped++
			continue
		}
		if _, dup := q.index[e.ID()]; dup {
			dropped++
			continue
		}
		q.buckets[rank] = append(q.buckets[rank], e)
		q.index[e.ID()] = e.Request.Priority
	}

	if dropped > 0 {
		slog.Warn("queue: dropped invalid snapshot entries", "dropped", dropped)
	}
}

func toSnapshotEntry(e *Entry) SnapshotEntry {
	r := e.Request
	se := SnapshotEntry{
		Request: snapshotRequest{
			ID:        r.ID,
			UserID:    r.UserID,
			Type:      r.Type,
			Priority:  r.Priority,
			Title:     r.Title,
			Body:      r.Body,
			TaskID:    r.TaskID,
			Data:      r.Data,
			CreatedAt: r.CreatedAt.UnixMilli(),
		},
		PredictedOptimalHour: e.PredictedOptimalHour,
		PredictedSuccessRate: e.PredictedSuccessRate,
		AlternativeHours:     append([]int(nil), e.AlternativeHours...),
		ScheduledForMillis:   e.ScheduledFor.UnixMilli(),
		ExpiresAtMillis:      millisPtr(e.ExpiresAt),
		Sent:                 e.Sent,
		CanDelay:             e.CanDelay,
		MaxDelayHours:        e.MaxDelayHours,
		EnqueuedAtMillis:     e.EnqueuedAt.UnixMilli(),
	}
	if r.Hints != nil {
		se.Request.PreferredHour = r.Hints.PreferredHour
		se.Request.DeadlineMillis = millisPtr(r.Hints.Deadline)
	}
	return se
}

func fromSnapshotEntry(se SnapshotEntry) *Entry {
	sr := se.Request
	req := domain.NotificationRequest{
		ID:        sr.ID,
		UserID:    sr.UserID,
		Type:      sr.Type,
		Priority:  sr.Priority,
		Title:     sr.Title,
		Body:      sr.Body,
		TaskID:    sr.TaskID,
		Data:      sr.Data,
		CreatedAt: time.UnixMilli(sr.CreatedAt),
	}
	if sr.PreferredHour != nil || sr.DeadlineMillis != nil {
		req.Hints = &domain.SchedulingHints{
			PreferredHour: sr.PreferredHour,
			Deadline:      timePtr(sr.DeadlineMillis),
		}
	}
	return &Entry{
		Request:              req,
		PredictedOptimalHour: se.PredictedOptimalHour,
		PredictedSuccessRate: se.PredictedSuccessRate,
		AlternativeHours:     se.AlternativeHours,
		ScheduledFor:         time.UnixMilli(se.ScheduledForMillis),
		ExpiresAt:            timePtr(se.ExpiresAtMillis),
		Sent:                 se.Sent,
		CanDelay:             se.CanDelay,
		MaxDelayHours:        se.MaxDelayHours,
		EnqueuedAt:           time.UnixMilli(se.EnqueuedAtMillis),
	}
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func timePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}
