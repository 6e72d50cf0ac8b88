package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nudge"

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "decisions_total",
			Help:      "Submitted notifications by scheduling outcome",
		},
		[]string{"status"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by notification type and result",
		},
		[]string{"type", "result"},
	)

	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_duration_seconds",
			Help:      "Time to hand a message to the push transport",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	drainedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "drained_total",
			Help:      "Queue entries handled by the drain loop by outcome",
		},
		[]string{"outcome"},
	)

	persistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "persist_failures_total",
			Help:      "Failed state writes by namespace",
		},
		[]string{"namespace"},
	)
)

func recordDecision(status Status) {
	decisionsTotal.WithLabelValues(string(status)).Inc()
}

func recordDispatch(msg Message, result string, duration time.Duration) {
	dispatchTotal.WithLabelValues(string(msg.Type), result).Inc()
	dispatchDuration.Observe(duration.Seconds())
}

func recordDrain(r DrainResult) {
	drainedTotal.WithLabelValues("sent").Add(float64(r.Sent))
	drainedTotal.WithLabelValues("failed").Add(float64(r.Failed))
	drainedTotal.WithLabelValues("expired").Add(float64(r.Expired))
	drainedTotal.WithLabelValues("deferred").Add(float64(r.Deferred))
	drainedTotal.WithLabelValues("dropped").Add(float64(r.Dropped))
}

func recordPersistFailure(ns string) {
	persistFailures.WithLabelValues(ns).Inc()
}
