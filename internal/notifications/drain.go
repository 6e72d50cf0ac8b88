package notifications

import (
	"context"
	"log/slog"

	"github.com/bissquit/nudge/internal/ratelimit"
	"github.com/bissquit/nudge/internal/store"
)

// DrainResult counts what one drain pass did.
type DrainResult struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Expired  int `json:"expired"`
	Deferred int `json:"deferred"`
	Dropped  int `json:"dropped"`
}

// Add accumulates another result.
func (r *DrainResult) Add(other DrainResult) {
	r.Sent += other.Sent
	r.Failed += other.Failed
	r.Expired += other.Expired
	r.Deferred += other.Deferred
	r.Dropped += other.Dropped
}

// Drain removes expired entries and delivers up to BatchSize due entries in
// priority order. Entries that are now inside quiet hours or throttled are
// rescheduled; entries whose type was switched off are dropped. Failed
// deliveries stay queued for the next pass unless the error is permanent.
func (o *Orchestrator) Drain(ctx context.Context) DrainResult {
	now := o.Now()
	var res DrainResult

	for _, e := range o.queue.Expired(now) {
		if o.queue.Remove(e.ID()) {
			res.Expired++
		}
	}

	ready := o.queue.GetReady(now)
	if len(ready) == 0 {
		if res.Expired > 0 {
			o.markDirty(store.NamespaceQueue)
			o.persist(ctx)
		}
		recordDrain(res)
		return res
	}

	settings := o.settings(ctx)
	window := ratelimit.NewQuietWindow(settings)

	for _, e := range ready {
		if res.Sent+res.Failed >= o.cfg.BatchSize || ctx.Err() != nil {
			break
		}
		req := &e.Request
		id := e.ID()

		if !settings.Enabled || !settings.TypeEnabled(req.Type) {
			o.queue.Remove(id)
			res.Dropped++
			continue
		}
		if !req.IsCritical() && window.Contains(now) {
			o.queue.Reschedule(id, window.NextEnd(now))
			res.Deferred++
			continue
		}
		if d := o.limiter.Check(req, settings, now); !d.Allowed && d.RetryAt != nil {
			o.queue.Reschedule(id, *d.RetryAt)
			res.Deferred++
			continue
		}

		if _, err := o.deliver(ctx, req, settings, now); err != nil {
			res.Failed++
			if !IsRetryable(err) {
				o.queue.Remove(id)
			}
			continue
		}
		o.queue.MarkSent(id)
		o.queue.Remove(id)
		res.Sent++
	}

	o.markDirty(store.NamespaceQueue)
	o.persist(ctx)
	recordDrain(res)

	if res.Sent+res.Failed+res.Expired+res.Dropped > 0 {
		slog.Debug("queue drained",
			"user_id", o.userID,
			"sent", res.Sent,
			"failed", res.Failed,
			"expired", res.Expired,
			"deferred", res.Deferred,
			"dropped", res.Dropped,
		)
	}
	return res
}
