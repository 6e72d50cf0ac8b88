package predictor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nudge"

var (
	trainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predictor",
			Name:      "trainings_total",
			Help:      "Model trainings by result",
		},
		[]string{"result"},
	)

	trainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "predictor",
			Name:      "training_duration_seconds",
			Help:      "Model training duration",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	trainingLoss = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "predictor",
			Name:      "training_loss",
			Help:      "Final cross-entropy loss of trained models",
			Buckets:   []float64{.05, .1, .2, .3, .4, .5, .6, .7},
		},
	)

	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predictor",
			Name:      "predictions_total",
			Help:      "Optimal time predictions by source",
		},
		[]string{"source"},
	)

	corruptModels = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predictor",
			Name:      "corrupt_models_total",
			Help:      "Models discarded as corrupt",
		},
	)
)

func recordTraining(result string, loss float64, duration time.Duration) {
	trainingsTotal.WithLabelValues(result).Inc()
	trainingDuration.Observe(duration.Seconds())
	if result == "success" {
		trainingLoss.Observe(loss)
	}
}

func recordPrediction(source Source) {
	predictionsTotal.WithLabelValues(string(source)).Inc()
}

func recordCorruptModel() {
	corruptModels.Inc()
}
