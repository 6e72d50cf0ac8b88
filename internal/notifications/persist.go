package notifications

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bissquit/nudge/internal/burnout"
	"github.com/bissquit/nudge/internal/collector"
	"github.com/bissquit/nudge/internal/peaktime"
	"github.com/bissquit/nudge/internal/predictor"
	"github.com/bissquit/nudge/internal/queue"
	"github.com/bissquit/nudge/internal/ratelimit"
	"github.com/bissquit/nudge/internal/store"
)

func (o *Orchestrator) markDirty(namespaces ...store.Namespace) {
	for _, ns := range namespaces {
		o.dirty[ns] = struct{}{}
	}
}

// persist writes every dirty namespace. Failed writes stay dirty and are
// retried on the next call.
func (o *Orchestrator) persist(ctx context.Context) {
	if o.deps.Store == nil {
		clear(o.dirty)
		return
	}
	for ns := range o.dirty {
		if err := store.SaveJSON(ctx, o.deps.Store, ns, o.userID, o.snapshot(ns)); err != nil {
			slog.Warn("failed to persist state", "user_id", o.userID, "namespace", ns, "error", err)
			recordPersistFailure(string(ns))
			continue
		}
		delete(o.dirty, ns)
	}
}

// Flush writes all state regardless of what changed.
func (o *Orchestrator) Flush(ctx context.Context) {
	o.markDirty(store.Namespaces...)
	o.persist(ctx)
}

func (o *Orchestrator) snapshot(ns store.Namespace) any {
	switch ns {
	case store.NamespaceQueue:
		return o.queue.Snapshot()
	case store.NamespaceRateLimit:
		return o.limiter.Snapshot()
	case store.NamespaceHourlyStats:
		return o.predictor.Matrix().Snapshot()
	case store.NamespaceModel:
		return o.predictor.Model()
	case store.NamespaceTraining:
		return o.collector.Snapshot()
	case store.NamespaceBurnout:
		return o.burnout
	case store.NamespacePeakTime:
		return o.peak
	}
	return nil
}

// Load restores persisted state. Missing namespaces start empty; unreadable
// ones are logged and start empty. A corrupt model is discarded.
func (o *Orchestrator) Load(ctx context.Context) {
	if o.deps.Store == nil {
		return
	}

	var qs queue.Snapshot
	if o.load(ctx, store.NamespaceQueue, &qs) {
		o.queue.Restore(qs)
	}

	var records []ratelimit.Record
	if o.load(ctx, store.NamespaceRateLimit, &records) {
		o.limiter.Restore(records)
	}

	var hourly []predictor.HourlySuccessRate
	if o.load(ctx, store.NamespaceHourlyStats, &hourly) {
		o.predictor.Matrix().Restore(hourly)
	}

	var model *predictor.Model
	if o.load(ctx, store.NamespaceModel, &model) && model != nil {
		if err := o.predictor.SetModel(model); err != nil {
			slog.Warn("discarding stored model", "user_id", o.userID, "error", err)
			o.markDirty(store.NamespaceModel)
		}
	}

	var cs collector.Snapshot
	if o.load(ctx, store.NamespaceTraining, &cs) {
		o.collector.Restore(cs)
	}

	var ba *burnout.Analysis
	if o.load(ctx, store.NamespaceBurnout, &ba) {
		o.burnout = ba
	}

	var pa *peaktime.Analysis
	if o.load(ctx, store.NamespacePeakTime, &pa) {
		o.peak = pa
	}

	o.persist(ctx)
}

func (o *Orchestrator) load(ctx context.Context, ns store.Namespace, v any) bool {
	err := store.LoadJSON(ctx, o.deps.Store, ns, o.userID, v)
	if err == nil {
		return true
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("failed to restore state", "user_id", o.userID, "namespace", ns, "error", err)
	}
	return false
}
