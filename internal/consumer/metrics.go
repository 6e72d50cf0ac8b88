package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nudge"

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "events_total",
			Help:      "Consumed events by type and result",
		},
		[]string{"type", "result"},
	)

	reconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "reconnects_total",
			Help:      "Broker reconnections after a lost connection",
		},
	)
)

func recordEvent(t EventType, result string) {
	switch t {
	case EventActivity, EventStudySession, EventResponse, EventNotification:
	default:
		t = "unknown"
	}
	eventsTotal.WithLabelValues(string(t), result).Inc()
}
