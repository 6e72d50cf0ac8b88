// Package notifications decides when and whether a student's notifications
// are delivered and hands them to the push transport.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/nudge/internal/burnout"
	"github.com/bissquit/nudge/internal/collector"
	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/peaktime"
	"github.com/bissquit/nudge/internal/predictor"
	"github.com/bissquit/nudge/internal/queue"
	"github.com/bissquit/nudge/internal/ratelimit"
	"github.com/bissquit/nudge/internal/store"
	"github.com/google/uuid"
)

// SettingsProvider returns a user's notification settings.
type SettingsProvider interface {
	Settings(ctx context.Context, userID string) (domain.NotificationSettings, error)
}

// HistoryReader reads study history from the document store.
type HistoryReader interface {
	ListSessions(ctx context.Context, userID string, since time.Time) ([]domain.StudySession, error)
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
}

// Config tunes an orchestrator.
type Config struct {
	QueueSize            int                     `koanf:"queue_size"`
	BatchSize            int                     `koanf:"batch_size"`
	BufferSize           int                     `koanf:"buffer_size"`
	DefaultMaxDelayHours int                     `koanf:"default_max_delay_hours"`
	Trainer              predictor.TrainerConfig `koanf:"trainer"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:            queue.DefaultMaxSize,
		BatchSize:            10,
		BufferSize:           collector.DefaultBufferSize,
		DefaultMaxDelayHours: int(predictor.DefaultMaxDelay / time.Hour),
		Trainer:              predictor.DefaultTrainerConfig(),
	}
}

// Deps are the collaborators of an orchestrator. Store and History may be nil.
type Deps struct {
	Dispatcher Dispatcher
	Settings   SettingsProvider
	History    HistoryReader
	Store      store.Store
}

// Status is the outcome of a submission.
type Status string

// Submission outcomes.
const (
	StatusSent       Status = "sent"
	StatusQueued     Status = "queued"
	StatusDeferred   Status = "deferred"
	StatusThrottled  Status = "throttled"
	StatusSuppressed Status = "suppressed"
	StatusDuplicate  Status = "duplicate"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "failed"
)

// Result describes what happened to a submitted notification.
type Result struct {
	NotificationID string                `json:"notification_id"`
	Status         Status                `json:"status"`
	Reason         string                `json:"reason,omitempty"`
	DeliveryID     string                `json:"delivery_id,omitempty"`
	ScheduledFor   *time.Time            `json:"scheduled_for,omitempty"`
	RetryAt        *time.Time            `json:"retry_at,omitempty"`
	Prediction     *predictor.Prediction `json:"prediction,omitempty"`
}

// SubmitOptions control scheduling of a single submission.
type SubmitOptions struct {
	CanDelay       bool `json:"can_delay"`
	MaxDelayHours  int  `json:"max_delay_hours" validate:"min=0,max=48"`
	ForceImmediate bool `json:"force_immediate"`
}

// Orchestrator owns all engine state of one user. It is not safe for
// concurrent use; the owning session serializes access.
type Orchestrator struct {
	userID string
	cfg    Config
	deps   Deps

	// Now returns the current time.
	Now func() time.Time

	queue     *queue.Queue
	limiter   *ratelimit.Limiter
	predictor *predictor.Predictor
	collector *collector.Collector
	burnout   *burnout.Analysis
	peak      *peaktime.Analysis

	dirty map[store.Namespace]struct{}
}

// NewOrchestrator creates an orchestrator with empty state. Call Load to
// restore persisted state.
func NewOrchestrator(userID string, cfg Config, deps Deps) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.DefaultMaxDelayHours <= 0 {
		cfg.DefaultMaxDelayHours = DefaultConfig().DefaultMaxDelayHours
	}
	p := predictor.New(cfg.Trainer)
	return &Orchestrator{
		userID:    userID,
		cfg:       cfg,
		deps:      deps,
		Now:       time.Now,
		queue:     queue.New(cfg.QueueSize),
		limiter:   ratelimit.New(userID),
		predictor: p,
		collector: collector.New(cfg.BufferSize, p.Matrix()),
		dirty:     make(map[store.Namespace]struct{}),
	}
}

// UserID returns the user the orchestrator serves.
func (o *Orchestrator) UserID() string {
	return o.userID
}

// Submit validates a request and sends, queues, defers or drops it.
func (o *Orchestrator) Submit(ctx context.Context, req domain.NotificationRequest, opts SubmitOptions) (Result, error) {
	now := o.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.UserID == "" {
		req.UserID = o.userID
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UserID != o.userID {
		return Result{}, fmt.Errorf("%w: request for user %s submitted to %s", ErrInvalidRequest, req.UserID, o.userID)
	}
	if err := ValidateRequest(&req); err != nil {
		return Result{}, err
	}
	defer o.persist(ctx)

	res := Result{NotificationID: req.ID}
	settings := o.settings(ctx)

	if !settings.Enabled {
		return o.decide(res, StatusSuppressed, "notifications_disabled"), nil
	}
	if !settings.TypeEnabled(req.Type) {
		return o.decide(res, StatusSuppressed, "type_disabled"), nil
	}
	if o.queue.Contains(req.ID) {
		return o.decide(res, StatusDuplicate, "already_queued"), nil
	}

	if d := o.limiter.Check(&req, settings, now); !d.Allowed {
		res.RetryAt = d.RetryAt
		return o.decide(res, StatusThrottled, string(d.Reason)), nil
	}

	window := ratelimit.NewQuietWindow(settings)
	if !req.IsCritical() && window.Contains(now) {
		at := window.NextEnd(now)
		if !o.enqueue(&req, opts, at, nil) {
			return o.decide(res, StatusRejected, "queue_full"), nil
		}
		res.ScheduledFor = &at
		return o.decide(res, StatusDeferred, "quiet_hours"), nil
	}

	if req.IsCritical() || !opts.CanDelay || opts.ForceImmediate {
		return o.sendNow(ctx, &req, opts, settings, now, res), nil
	}

	local := now.In(settings.Location())
	pred, err := o.predictor.OptimalTime(o.collector.Features(&req, local), local)
	if err != nil {
		if errors.Is(err, predictor.ErrModelCorrupt) {
			o.markDirty(store.NamespaceModel)
		}
		slog.Warn("prediction failed, sending immediately", "user_id", o.userID, "notification_id", req.ID, "error", err)
		return o.sendNow(ctx, &req, opts, settings, now, res), nil
	}
	res.Prediction = &pred

	hour := pred.Hour
	if req.Hints != nil && req.Hints.PreferredHour != nil {
		hour = *req.Hints.PreferredHour
	}

	maxDelay := o.maxDelay(&req, opts, now)
	if maxDelay <= 0 {
		return o.sendNow(ctx, &req, opts, settings, now, res), nil
	}
	at, ok := scheduleSlot(local, append([]int{hour}, pred.Alternatives...), maxDelay, window)
	if !ok || !at.After(now) {
		return o.sendNow(ctx, &req, opts, settings, now, res), nil
	}

	if !o.enqueue(&req, opts, at, &pred) {
		return o.decide(res, StatusRejected, "queue_full"), nil
	}
	res.ScheduledFor = &at
	return o.decide(res, StatusQueued, "optimal_time"), nil
}

// scheduleSlot returns the first candidate hour whose send time, moved out
// of quiet hours, still falls within maxDelay of now. It reports false when
// no candidate fits.
func scheduleSlot(now time.Time, hours []int, maxDelay time.Duration, window ratelimit.QuietWindow) (time.Time, bool) {
	limit := now.Add(maxDelay)
	for _, h := range hours {
		at := predictor.ScheduleTime(now, h, maxDelay)
		if window.Contains(at) {
			at = window.NextEnd(at)
		}
		if !at.After(limit) {
			return at, true
		}
	}
	return time.Time{}, false
}

// maxDelay caps how far a request may be pushed back. A deadline hint leaves
// at least an hour of slack before the deadline.
func (o *Orchestrator) maxDelay(req *domain.NotificationRequest, opts SubmitOptions, now time.Time) time.Duration {
	hours := opts.MaxDelayHours
	if hours <= 0 {
		hours = o.cfg.DefaultMaxDelayHours
	}
	limit := time.Duration(hours) * time.Hour
	if req.Hints != nil && req.Hints.Deadline != nil {
		if untilDeadline := req.Hints.Deadline.Sub(now) - time.Hour; untilDeadline < limit {
			limit = untilDeadline
		}
	}
	return limit
}

func (o *Orchestrator) sendNow(ctx context.Context, req *domain.NotificationRequest, opts SubmitOptions, settings domain.NotificationSettings, now time.Time, res Result) Result {
	deliveryID, err := o.deliver(ctx, req, settings, now)
	if err == nil {
		res.DeliveryID = deliveryID
		return o.decide(res, StatusSent, "")
	}
	if !IsRetryable(err) {
		return o.decide(res, StatusFailed, err.Error())
	}
	if !o.enqueue(req, opts, now, res.Prediction) {
		return o.decide(res, StatusRejected, "queue_full")
	}
	res.ScheduledFor = &now
	return o.decide(res, StatusQueued, "dispatch_failed")
}

// deliver hands the request to the dispatcher and records the send with the
// limiter, the hourly matrix and the collector.
func (o *Orchestrator) deliver(ctx context.Context, req *domain.NotificationRequest, settings domain.NotificationSettings, now time.Time) (string, error) {
	if o.deps.Dispatcher == nil {
		return "", NewNonRetryableError(ErrDispatcherNotDefined)
	}

	msg := BuildMessage(req)
	start := time.Now()
	deliveryID, err := o.deps.Dispatcher.Send(ctx, msg)
	duration := time.Since(start)
	if err != nil {
		recordDispatch(msg, "failed", duration)
		slog.Warn("dispatch failed",
			"user_id", o.userID,
			"notification_id", req.ID,
			"retryable", IsRetryable(err),
			"error", err,
		)
		return "", err
	}
	recordDispatch(msg, "success", duration)

	local := now.In(settings.Location())
	o.predictor.Matrix().RecordSent(local.Hour(), now)
	o.collector.RecordSent(req, local)
	o.limiter.Record(req, settings, now)
	o.markDirty(store.NamespaceHourlyStats, store.NamespaceTraining, store.NamespaceRateLimit)

	slog.Debug("notification sent",
		"user_id", o.userID,
		"notification_id", req.ID,
		"type", req.Type,
		"priority", req.Priority,
		"delivery_id", deliveryID,
		"duration", duration,
	)
	return deliveryID, nil
}

func (o *Orchestrator) enqueue(req *domain.NotificationRequest, opts SubmitOptions, at time.Time, pred *predictor.Prediction) bool {
	e := &queue.Entry{
		Request:       *req,
		ScheduledFor:  at,
		CanDelay:      opts.CanDelay,
		MaxDelayHours: opts.MaxDelayHours,
		EnqueuedAt:    o.Now(),
	}
	if pred != nil {
		e.PredictedOptimalHour = pred.Hour
		e.PredictedSuccessRate = pred.SuccessRate
		e.AlternativeHours = pred.Alternatives
	} else {
		e.PredictedOptimalHour = at.Hour()
	}
	if req.Hints != nil && req.Hints.Deadline != nil {
		deadline := *req.Hints.Deadline
		e.ExpiresAt = &deadline
	}
	if !o.queue.Enqueue(e) {
		return false
	}
	o.markDirty(store.NamespaceQueue)
	return true
}

func (o *Orchestrator) decide(res Result, status Status, reason string) Result {
	res.Status = status
	res.Reason = reason
	recordDecision(status)
	slog.Debug("notification decision",
		"user_id", o.userID,
		"notification_id", res.NotificationID,
		"status", status,
		"reason", reason,
	)
	return res
}

// settings returns the user's settings, falling back to defaults when the
// provider is missing or fails.
func (o *Orchestrator) settings(ctx context.Context) domain.NotificationSettings {
	if o.deps.Settings == nil {
		return domain.DefaultNotificationSettings()
	}
	s, err := o.deps.Settings.Settings(ctx, o.userID)
	if err != nil {
		slog.Warn("using default notification settings", "user_id", o.userID, "error", err)
		return domain.DefaultNotificationSettings()
	}
	return s
}

// RecordResponse feeds a user's reaction to a sent notification into the
// training data and retrains the model when due.
func (o *Orchestrator) RecordResponse(ctx context.Context, notificationID string, opened, actionTaken bool, latencySeconds float64) (ResponseOutcome, error) {
	now := o.Now()
	res, err := o.collector.RecordResponse(notificationID, opened, actionTaken, latencySeconds, now)
	if err != nil {
		if errors.Is(err, collector.ErrUnknownNotification) {
			return ResponseOutcome{}, fmt.Errorf("%w: %s", ErrNotificationNotFound, notificationID)
		}
		return ResponseOutcome{}, err
	}
	o.markDirty(store.NamespaceTraining, store.NamespaceHourlyStats)
	defer o.persist(ctx)

	out := ResponseOutcome{Sample: res.Sample}
	if o.predictor.Model() == nil || res.RetrainDue {
		out.Retrained = o.retrainIfDue(ctx, now)
	}
	return out, nil
}

// ResponseOutcome is the result of recording a response.
type ResponseOutcome struct {
	Sample    domain.TrainingDataPoint `json:"sample"`
	Retrained bool                     `json:"retrained"`
}

func (o *Orchestrator) retrainIfDue(ctx context.Context, now time.Time) bool {
	if !o.predictor.ShouldRetrain(o.collector.SampleCount(), o.collector.SinceTraining(), now) {
		return false
	}
	if _, err := o.predictor.Retrain(ctx, o.collector.Samples(), now); err != nil {
		slog.Warn("model training failed", "user_id", o.userID, "error", err)
		return false
	}
	o.collector.MarkTrained()
	o.markDirty(store.NamespaceModel, store.NamespaceTraining)
	return true
}

// RecordActivity notes that the user interacted with the app.
func (o *Orchestrator) RecordActivity(ctx context.Context) {
	o.collector.RecordActivity(o.Now())
	o.markDirty(store.NamespaceTraining)
	o.persist(ctx)
}

// SetStudySession marks the start or end of a study session.
func (o *Orchestrator) SetStudySession(ctx context.Context, active bool) {
	o.collector.SetStudySession(active, o.Now())
	o.markDirty(store.NamespaceTraining)
	o.persist(ctx)
}

// RemoveQueued drops a queued notification. It returns false if the id is
// not queued.
func (o *Orchestrator) RemoveQueued(ctx context.Context, notificationID string) bool {
	if !o.queue.Remove(notificationID) {
		return false
	}
	o.markDirty(store.NamespaceQueue)
	o.persist(ctx)
	return true
}

// QueueStats summarizes the user's queue.
func (o *Orchestrator) QueueStats() queue.Stats {
	return o.queue.Stats(o.Now())
}

// ModelStats describes the predictor and its training data.
type ModelStats struct {
	predictor.Stats
	BufferedSamples int `json:"buffered_samples"`
	PendingSends    int `json:"pending_sends"`
	SinceTraining   int `json:"samples_since_training"`
}

// ModelStats returns predictor and collector statistics.
func (o *Orchestrator) ModelStats() ModelStats {
	return ModelStats{
		Stats:           o.predictor.Stats(),
		BufferedSamples: o.collector.SampleCount(),
		PendingSends:    o.collector.Pending(),
		SinceTraining:   o.collector.SinceTraining(),
	}
}

// MaintenanceResult reports the work done by Maintain.
type MaintenanceResult struct {
	Reconciled int  `json:"reconciled"`
	Retrained  bool `json:"retrained"`
	Pruned     int  `json:"pruned"`
}

// Maintain expires stale pending sends, retrains the model when due and
// prunes stale rate limit records.
func (o *Orchestrator) Maintain(ctx context.Context) MaintenanceResult {
	now := o.Now()
	defer o.persist(ctx)

	var res MaintenanceResult
	if n, _ := o.collector.Reconcile(now); n > 0 {
		res.Reconciled = n
		o.markDirty(store.NamespaceTraining, store.NamespaceHourlyStats)
	}
	res.Retrained = o.retrainIfDue(ctx, now)
	if n := o.limiter.Prune(now); n > 0 {
		res.Pruned = n
		o.markDirty(store.NamespaceRateLimit)
	}
	return res
}
