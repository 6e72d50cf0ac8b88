package predictor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// MinTrainingSamples is the smallest batch a model is trained on.
const MinTrainingSamples = 30

// TrainerConfig controls gradient descent.
type TrainerConfig struct {
	LearningRate  float64 `koanf:"learning_rate"`
	L2            float64 `koanf:"l2"`
	MaxIterations int     `koanf:"max_iterations"`
	Tolerance     float64 `koanf:"tolerance"`
}

// DefaultTrainerConfig returns the default training parameters.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		LearningRate:  0.5,
		L2:            0.001,
		MaxIterations: 500,
		Tolerance:     1e-6,
	}
}

// Train fits a model to the samples with full-batch gradient descent on the
// mean binary cross-entropy. Gradients of categorical weights are averaged
// over the samples carrying that category, so rare hours learn as fast as
// common ones. The context is checked between iterations.
func Train(ctx context.Context, cfg TrainerConfig, samples []domain.TrainingDataPoint, now time.Time) (*Model, error) {
	n := len(samples)
	if n < MinTrainingSamples {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, n, MinTrainingSamples)
	}

	m := newModel()
	m.ActivityMean, m.ActivityStd = meanStd(samples)

	labels := make([]float64, n)
	activity := make([]float64, n)
	for i, s := range samples {
		if s.RespondedWithinHour {
			labels[i] = 1
		}
		activity[i] = m.normalize(s.Features.RecentActivityMinutes)
	}

	var (
		hourCount    [HoursPerDay]int
		weekdayCount [daysPerWeek]int
		typeCount    = make(map[domain.NotificationType]int)
		stateCount   = make(map[domain.ActivityState]int)
	)
	for _, s := range samples {
		if validHour(s.Features.HourOfDay) {
			hourCount[s.Features.HourOfDay]++
		}
		if s.Features.DayOfWeek >= 0 && s.Features.DayOfWeek < daysPerWeek {
			weekdayCount[s.Features.DayOfWeek]++
		}
		typeCount[s.Features.NotificationType]++
		stateCount[s.Features.UserActiveState]++
	}
	for t := range typeCount {
		m.TypeWeights[t] = 0
	}
	for st := range stateCount {
		m.StateWeights[st] = 0
	}

	probs := make([]float64, n)
	prevLoss := math.Inf(1)
	iterations := 0

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("train: %w", err)
		}
		iterations = iter + 1

		loss := 0.0
		for i, s := range samples {
			p := m.Predict(s.Features)
			probs[i] = p
			loss -= labels[i]*math.Log(clampProb(p)) + (1-labels[i])*math.Log(clampProb(1-p))
		}
		loss = loss/float64(n) + cfg.L2/2*m.squaredNorm()

		var (
			hourGrad    [HoursPerDay]float64
			weekdayGrad [daysPerWeek]float64
			typeGrad    = make(map[domain.NotificationType]float64, len(typeCount))
			stateGrad   = make(map[domain.ActivityState]float64, len(stateCount))
			actGrad     float64
			biasGrad    float64
		)
		for i, s := range samples {
			residual := probs[i] - labels[i]
			if validHour(s.Features.HourOfDay) {
				hourGrad[s.Features.HourOfDay] += residual
			}
			if s.Features.DayOfWeek >= 0 && s.Features.DayOfWeek < daysPerWeek {
				weekdayGrad[s.Features.DayOfWeek] += residual
			}
			typeGrad[s.Features.NotificationType] += residual
			stateGrad[s.Features.UserActiveState] += residual
			actGrad += residual * activity[i]
			biasGrad += residual
		}

		lr := cfg.LearningRate
		for h := range m.HourWeights {
			if hourCount[h] > 0 {
				m.HourWeights[h] -= lr * (hourGrad[h]/float64(hourCount[h]) + cfg.L2*m.HourWeights[h])
			}
		}
		for d := range m.WeekdayWeights {
			if weekdayCount[d] > 0 {
				m.WeekdayWeights[d] -= lr * (weekdayGrad[d]/float64(weekdayCount[d]) + cfg.L2*m.WeekdayWeights[d])
			}
		}
		for t, g := range typeGrad {
			m.TypeWeights[t] -= lr * (g/float64(typeCount[t]) + cfg.L2*m.TypeWeights[t])
		}
		for st, g := range stateGrad {
			m.StateWeights[st] -= lr * (g/float64(stateCount[st]) + cfg.L2*m.StateWeights[st])
		}
		m.ActivityWeight -= lr * (actGrad/float64(n) + cfg.L2*m.ActivityWeight)
		m.Intercept -= lr * biasGrad / float64(n)

		m.Loss = loss
		if math.Abs(prevLoss-loss) < cfg.Tolerance {
			break
		}
		prevLoss = loss
	}

	m.TrainedAt = now
	m.SampleCount = n
	m.Iterations = iterations
	m.Accuracy = accuracy(m, samples, labels)

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingDiverged, err)
	}
	return m, nil
}

func (m *Model) squaredNorm() float64 {
	sum := m.ActivityWeight * m.ActivityWeight
	for _, w := range m.HourWeights {
		sum += w * w
	}
	for _, w := range m.WeekdayWeights {
		sum += w * w
	}
	for _, w := range m.TypeWeights {
		sum += w * w
	}
	for _, w := range m.StateWeights {
		sum += w * w
	}
	return sum
}

func meanStd(samples []domain.TrainingDataPoint) (float64, float64) {
	n := float64(len(samples))
	mean := 0.0
	for _, s := range samples {
		mean += s.Features.RecentActivityMinutes
	}
	mean /= n

	variance := 0.0
	for _, s := range samples {
		d := s.Features.RecentActivityMinutes - mean
		variance += d * d
	}
	std := math.Sqrt(variance / n)
	if std < 1e-9 {
		std = 1
	}
	return mean, std
}

func accuracy(m *Model, samples []domain.TrainingDataPoint, labels []float64) float64 {
	correct := 0
	for i, s := range samples {
		predicted := 0.0
		if m.Predict(s.Features) >= 0.5 {
			predicted = 1
		}
		if predicted == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}

func clampProb(p float64) float64 {
	const eps = 1e-12
	return math.Min(math.Max(p, eps), 1-eps)
}
