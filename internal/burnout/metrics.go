package burnout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var analysesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nudge",
		Subsystem: "burnout",
		Name:      "analyses_total",
		Help:      "Burnout analyses by resulting risk level",
	},
	[]string{"level"},
)

func recordAnalysis(level Level) {
	analysesTotal.WithLabelValues(string(level)).Inc()
}
