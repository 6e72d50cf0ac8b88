package peaktime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var analysesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nudge",
		Subsystem: "peaktime",
		Name:      "analyses_total",
		Help:      "Peak time analyses by confidence",
	},
	[]string{"confidence"},
)

func recordAnalysis(c Confidence) {
	analysesTotal.WithLabelValues(string(c)).Inc()
}
