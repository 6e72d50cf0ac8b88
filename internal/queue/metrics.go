package queue

import (
	"github.com/bissquit/nudge/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nudge"

var (
	queueEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "entries",
			Help:      "Queued notifications by priority across all loaded sessions",
		},
		[]string{"priority"},
	)

	queueEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "evictions_total",
			Help:      "Entries evicted because the queue was full",
		},
	)

	queueRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "rejections_total",
			Help:      "Entries rejected because the queue was full",
		},
	)
)

func recordEvicted() {
	queueEvictions.Inc()
}

func recordRejected() {
	queueRejections.Inc()
}

// RecordSizes updates the queue size gauges with totals across sessions.
func RecordSizes(byPriority map[domain.Priority]int) {
	for _, p := range domain.Priorities {
		queueEntries.WithLabelValues(string(p)).Set(float64(byPriority[p]))
	}
}
