package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var responsesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nudge",
		Subsystem: "collector",
		Name:      "responses_total",
		Help:      "Labelled notification outcomes",
	},
	[]string{"outcome"},
)

func recordResponse(outcome string) {
	responsesTotal.WithLabelValues(outcome).Inc()
}
