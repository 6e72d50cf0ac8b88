package predictor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// ModelVersion is the persisted layout version of Model.
const ModelVersion = 1

const (
	daysPerWeek     = 7
	maxAlternatives = 3
)

// Model is a per-user logistic regression over categorical send context.
// It is replaced wholesale on retraining and never mutated afterwards.
type Model struct {
	Version        int                                  `json:"version"`
	HourWeights    []float64                            `json:"hour_weights"`
	WeekdayWeights []float64                            `json:"weekday_weights"`
	TypeWeights    map[domain.NotificationType]float64 `json:"type_weights"`
	StateWeights   map[domain.ActivityState]float64    `json:"state_weights"`
	ActivityWeight float64                              `json:"activity_weight"`
	Intercept      float64                              `json:"intercept"`
	ActivityMean   float64                              `json:"activity_mean"`
	ActivityStd    float64                              `json:"activity_std"`

	TrainedAt   time.Time `json:"trained_at"`
	SampleCount int       `json:"sample_count"`
	Loss        float64   `json:"loss"`
	Iterations  int       `json:"iterations"`
	Accuracy    float64   `json:"accuracy"`
}

func newModel() *Model {
	return &Model{
		Version:        ModelVersion,
		HourWeights:    make([]float64, HoursPerDay),
		WeekdayWeights: make([]float64, daysPerWeek),
		TypeWeights:    make(map[domain.NotificationType]float64, len(domain.AllNotificationTypes)),
		StateWeights:   make(map[domain.ActivityState]float64, len(domain.ActivityStates)),
		ActivityStd:    1,
	}
}

// Validate reports ErrModelCorrupt when the model cannot be used for scoring.
func (m *Model) Validate() error {
	if m == nil {
		return ErrModelNotAvailable
	}
	if len(m.HourWeights) != HoursPerDay {
		return fmt.Errorf("%w: %d hour weights", ErrModelCorrupt, len(m.HourWeights))
	}
	if len(m.WeekdayWeights) != daysPerWeek {
		return fmt.Errorf("%w: %d weekday weights", ErrModelCorrupt, len(m.WeekdayWeights))
	}
	if m.ActivityStd <= 0 || !finite(m.ActivityStd) {
		return fmt.Errorf("%w: activity std %v", ErrModelCorrupt, m.ActivityStd)
	}
	scalars := []float64{m.ActivityWeight, m.Intercept, m.ActivityMean}
	for _, group := range [][]float64{scalars, m.HourWeights, m.WeekdayWeights} {
		for _, w := range group {
			if !finite(w) {
				return fmt.Errorf("%w: non-finite weight", ErrModelCorrupt)
			}
		}
	}
	for _, w := range m.TypeWeights {
		if !finite(w) {
			return fmt.Errorf("%w: non-finite type weight", ErrModelCorrupt)
		}
	}
	for _, w := range m.StateWeights {
		if !finite(w) {
			return fmt.Errorf("%w: non-finite state weight", ErrModelCorrupt)
		}
	}
	return nil
}

// Predict returns the probability that the user responds within an hour to a
// notification sent in the given context.
func (m *Model) Predict(f domain.Features) float64 {
	return sigmoid(m.logit(f))
}

func (m *Model) logit(f domain.Features) float64 {
	z := m.Intercept
	if validHour(f.HourOfDay) {
		z += m.HourWeights[f.HourOfDay]
	}
	if f.DayOfWeek >= 0 && f.DayOfWeek < daysPerWeek {
		z += m.WeekdayWeights[f.DayOfWeek]
	}
	z += m.TypeWeights[f.NotificationType]
	z += m.StateWeights[f.UserActiveState]
	z += m.ActivityWeight * m.normalize(f.RecentActivityMinutes)
	return z
}

func (m *Model) normalize(recentActivityMinutes float64) float64 {
	return (recentActivityMinutes - m.ActivityMean) / m.ActivityStd
}

// HourScore is a predicted response probability for one hour.
type HourScore struct {
	Hour        int     `json:"hour"`
	Probability float64 `json:"probability"`
}

// ScoreHours scores every hour of the day for the given context. Hours
// earlier than the current hour are scored with the next day's weekday, as
// that is when they would be used. Results are sorted by descending
// probability; ties keep hour order.
func (m *Model) ScoreHours(f domain.Features) []HourScore {
	scores := make([]HourScore, 0, HoursPerDay)
	for h := 0; h < HoursPerDay; h++ {
		candidate := f
		candidate.HourOfDay = h
		if h < f.HourOfDay {
			candidate.DayOfWeek = (f.DayOfWeek + 1) % daysPerWeek
		}
		scores = append(scores, HourScore{Hour: h, Probability: m.Predict(candidate)})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Probability > scores[j].Probability
	})
	return scores
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
