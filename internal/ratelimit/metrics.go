package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nudge"

var checksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "checks_total",
		Help:      "Rate limit checks by result",
	},
	[]string{"result"},
)

func recordDecision(reason Reason) {
	result := string(reason)
	if reason == ReasonNone {
		result = "allowed"
	}
	checksTotal.WithLabelValues(result).Inc()
}
