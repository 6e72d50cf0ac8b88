// Package queue holds notifications waiting for their optimal send time.
package queue

import (
	"log/slog"
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// DefaultMaxSize bounds the number of entries a user's queue may hold.
const DefaultMaxSize = 200

// Entry is a queued notification together with its scheduling decision.
type Entry struct {
	Request              domain.NotificationRequest
	PredictedOptimalHour int
	PredictedSuccessRate float64
	AlternativeHours     []int
	ScheduledFor         time.Time
	ExpiresAt            *time.Time
	Sent                 bool
	CanDelay             bool
	MaxDelayHours        int
	EnqueuedAt           time.Time
}

// ID returns the notification id.
func (e *Entry) ID() string {
	return e.Request.ID
}

// IsReady reports whether the entry is due and not yet sent.
func (e *Entry) IsReady(now time.Time) bool {
	return !e.Sent && !e.ScheduledFor.After(now)
}

// IsExpired reports whether an unsent entry has passed its expiry.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.Sent && e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

const bucketCount = 4

// Queue is a priority-bucketed FIFO with an id index.
// It is not safe for concurrent use; the owning session serializes access.
type Queue struct {
	maxSize int
	buckets [bucketCount][]*Entry
	index   map[string]domain.Priority
}

// New creates an empty queue. A non-positive maxSize selects DefaultMaxSize.
func New(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Queue{
		maxSize: maxSize,
		index:   make(map[string]domain.Priority),
	}
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	return len(q.index)
}

// MaxSize returns the configured capacity.
func (q *Queue) MaxSize() int {
	return q.maxSize
}

// Contains reports whether id is queued.
func (q *Queue) Contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

// Enqueue appends the entry to the tail of its priority bucket.
// Duplicates are ignored. When the queue is full the oldest entry of the
// lowest non-empty bucket is evicted if it ranks strictly below the new entry;
// otherwise the new entry is rejected. Returns whether the entry was added.
func (q *Queue) Enqueue(e *Entry) bool {
	id := e.ID()
	rank := e.Request.Priority.Rank()
	if rank < 0 {
		slog.Warn("queue: unknown priority, entry rejected", "id", id, "priority", e.Request.Priority)
		return false
	}
	if _, exists := q.index[id]; exists {
		slog.Debug("queue: duplicate entry ignored", "id", id)
		return false
	}

	if len(q.index) >= q.maxSize {
		lowest := q.lowestNonEmpty()
		if lowest <= rank {
			slog.Warn("queue: full, entry rejected",
				"id", id,
				"priority", e.Request.Priority,
				"size", len(q.index),
			)
			recordRejected()
			return false
		}
		evicted := q.buckets[lowest][0]
		q.buckets[lowest] = q.buckets[lowest][1:]
		delete(q.index, evicted.ID())
		slog.Info("queue: evicted entry to make room",
			"evicted_id", evicted.ID(),
			"evicted_priority", evicted.Request.Priority,
			"id", id,
		)
		recordEvicted()
	}

	q.buckets[rank] = append(q.buckets[rank], e)
	q.index[id] = e.Request.Priority
	return true
}

// Dequeue removes and returns the head of the most urgent non-empty bucket.
func (q *Queue) Dequeue() *Entry {
	for rank := 0; rank < bucketCount; rank++ {
		if len(q.buckets[rank]) == 0 {
			continue
		}
		e := q.buckets[rank][0]
		q.buckets[rank][0] = nil
		q.buckets[rank] = q.buckets[rank][1:]
		delete(q.index, e.ID())
		return e
	}
	return nil
}

// Peek returns the entry Dequeue would return without removing it.
func (q *Queue) Peek() *Entry {
	for rank := 0; rank < bucketCount; rank++ {
		if len(q.buckets[rank]) > 0 {
			return q.buckets[rank][0]
		}
	}
	return nil
}

// Get returns the entry with the given id.
func (q *Queue) Get(id string) (*Entry, bool) {
	p, ok := q.index[id]
	if !ok {
		return nil, false
	}
	_, e := q.find(p.Rank(), id)
	return e, e != nil
}

// Remove deletes the entry with the given id. Returns false if absent.
func (q *Queue) Remove(id string) bool {
	p, ok := q.index[id]
	if !ok {
		return false
	}
	rank := p.Rank()
	pos, _ := q.find(rank, id)
	if pos >= 0 {
		q.buckets[rank] = append(q.buckets[rank][:pos], q.buckets[rank][pos+1:]...)
	}
	delete(q.index, id)
	return true
}

// UpdatePriority moves the entry to the tail of another bucket.
// Returns false if the id is unknown or the priority is invalid.
func (q *Queue) UpdatePriority(id string, priority domain.Priority) bool {
	if !priority.IsValid() {
		return false
	}
	current, ok := q.index[id]
	if !ok {
		return false
	}
	if current == priority {
		return true
	}
	rank := current.Rank()
	pos, e := q.find(rank, id)
	if e == nil {
		delete(q.index, id)
		return false
	}
	q.buckets[rank] = append(q.buckets[rank][:pos], q.buckets[rank][pos+1:]...)

	e.Request.Priority = priority
	newRank := priority.Rank()
	q.buckets[newRank] = append(q.buckets[newRank], e)
	q.index[id] = priority
	return true
}

// Reschedule changes when the entry becomes ready.
func (q *Queue) Reschedule(id string, at time.Time) bool {
	e, ok := q.Get(id)
	if !ok {
		return false
	}
	e.ScheduledFor = at
	return true
}

// MarkSent flags the entry as delivered.
func (q *Queue) MarkSent(id string) bool {
	e, ok := q.Get(id)
	if !ok {
		return false
	}
	e.Sent = true
	return true
}

// GetReady returns unsent entries scheduled at or before now, in delivery order.
func (q *Queue) GetReady(now time.Time) []*Entry {
	var ready []*Entry
	q.each(func(e *Entry) {
		if e.IsReady(now) {
			ready = append(ready, e)
		}
	})
	return ready
}

// Expired returns unsent entries whose expiry has passed.
func (q *Queue) Expired(now time.Time) []*Entry {
	var expired []*Entry
	q.each(func(e *Entry) {
		if e.IsExpired(now) {
			expired = append(expired, e)
		}
	})
	return expired
}

// Entries returns all entries in delivery order.
func (q *Queue) Entries() []*Entry {
	out := make([]*Entry, 0, len(q.index))
	q.each(func(e *Entry) { out = append(out, e) })
	return out
}

func (q *Queue) each(fn func(*Entry)) {
	for rank := 0; rank < bucketCount; rank++ {
		for _, e := range q.buckets[rank] {
			fn(e)
		}
	}
}

func (q *Queue) find(rank int, id string) (int, *Entry) {
	if rank < 0 {
		return -1, nil
	}
	for i, e := range q.buckets[rank] {
		if e.ID() == id {
			return i, e
		}
	}
	return -1, nil
}

func (q *Queue) lowestNonEmpty() int {
	for rank := bucketCount - 1; rank >= 0; rank-- {
		if len(q.buckets[rank]) > 0 {
			return rank
		}
	}
	return -1
}
