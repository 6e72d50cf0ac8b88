package notifications

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Drainer drains the queues of all active users.
type Drainer interface {
	DrainAll(ctx context.Context) DrainResult
}

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{PollInterval: time.Minute}
}

// Worker periodically drains queued notifications.
type Worker struct {
	config  WorkerConfig
	drainer Drainer

	running  atomic.Bool
	inFlight atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a new drain worker.
func NewWorker(config WorkerConfig, drainer Drainer) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWorkerConfig().PollInterval
	}
	return &Worker{
		config:  config,
		drainer: drainer,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the drain loop.
func (w *Worker) Start(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	slog.Info("starting notification worker", "poll_interval", w.config.PollInterval)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the loop and waits for an in-flight drain. Safe to call twice.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.running.Store(false)
		slog.Info("notification worker stopped")
	})
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one drain pass. It returns false without draining when a pass
// is already in progress.
func (w *Worker) Tick(ctx context.Context) bool {
	if !w.inFlight.CompareAndSwap(false, true) {
		slog.Debug("drain already in progress, skipping tick")
		return false
	}
	defer w.inFlight.Store(false)

	res := w.drainer.DrainAll(ctx)
	if res.Sent+res.Failed+res.Expired > 0 {
		slog.Info("drained notification queues",
			"sent", res.Sent,
			"failed", res.Failed,
			"expired", res.Expired,
			"deferred", res.Deferred,
			"dropped", res.Dropped,
		)
	}
	return true
}
