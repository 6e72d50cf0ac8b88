// Package predictor chooses the hour a user is most likely to respond to a
// notification, using a trained logistic model when one exists and an hourly
// success matrix otherwise.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// Default scheduling and retraining parameters.
const (
	DefaultMaxDelay      = 6 * time.Hour
	RetrainInterval      = 7 * 24 * time.Hour
	MinNewSamplesToTrain = MinTrainingSamples
)

// Source names the strategy behind a prediction.
type Source string

// Prediction sources.
const (
	SourceModel     Source = "model"
	SourceHeuristic Source = "heuristic"
)

// Prediction is the chosen send hour with its expected success rate.
type Prediction struct {
	Hour         int     `json:"hour"`
	SuccessRate  float64 `json:"success_rate"`
	Alternatives []int   `json:"alternatives,omitempty"`
	Source       Source  `json:"source"`
}

// Predictor holds the matrix and current model of one user.
// It is not safe for concurrent use; the owning session serializes access.
type Predictor struct {
	cfg    TrainerConfig
	matrix *HourlyMatrix
	model  *Model
}

// New creates a predictor with an empty matrix and no model.
func New(cfg TrainerConfig) *Predictor {
	return &Predictor{
		cfg:    cfg,
		matrix: NewHourlyMatrix(),
	}
}

// Matrix exposes the heuristic matrix for analytics updates.
func (p *Predictor) Matrix() *HourlyMatrix {
	return p.matrix
}

// Model returns the current model, or nil.
func (p *Predictor) Model() *Model {
	return p.model
}

// SetModel installs a model after validating it. A corrupt model is dropped
// and the error returned.
func (p *Predictor) SetModel(m *Model) error {
	if m == nil {
		p.model = nil
		return nil
	}
	if err := m.Validate(); err != nil {
		p.model = nil
		recordCorruptModel()
		return err
	}
	p.model = m
	return nil
}

// OptimalTime predicts the best hour for a notification in context f, which
// describes the current moment. Without a usable model the hourly matrix is
// consulted. A corrupt model is discarded and ErrModelCorrupt returned; the
// caller is expected to send immediately.
func (p *Predictor) OptimalTime(f domain.Features, now time.Time) (Prediction, error) {
	if p.model != nil && p.model.SampleCount >= MinTrainingSamples {
		if err := p.model.Validate(); err != nil {
			slog.Warn("discarding corrupt optimal time model", "error", err)
			p.model = nil
			recordCorruptModel()
			return Prediction{}, fmt.Errorf("optimal time: %w", ErrModelCorrupt)
		}

		scores := p.model.ScoreHours(f)
		best := scores[0]
		if !finite(best.Probability) {
			p.model = nil
			recordCorruptModel()
			return Prediction{}, fmt.Errorf("optimal time: %w", ErrModelCorrupt)
		}
		alternatives := make([]int, 0, maxAlternatives)
		for _, s := range scores[1:] {
			if len(alternatives) == maxAlternatives {
				break
			}
			alternatives = append(alternatives, s.Hour)
		}
		recordPrediction(SourceModel)
		return Prediction{
			Hour:         best.Hour,
			SuccessRate:  best.Probability,
			Alternatives: alternatives,
			Source:       SourceModel,
		}, nil
	}

	recordPrediction(SourceHeuristic)
	best, alternatives, ok := p.matrix.Best()
	if !ok {
		return Prediction{Hour: now.Hour(), SuccessRate: NeutralSuccessRate, Source: SourceHeuristic}, nil
	}
	return Prediction{
		Hour:         best.Hour,
		SuccessRate:  best.SuccessRate,
		Alternatives: alternatives,
		Source:       SourceHeuristic,
	}, nil
}

// ScheduleTime converts a target hour into an absolute time in now's
// location: later today when the hour has not passed, otherwise tomorrow.
// The result never precedes now and never exceeds now+maxDelay. A
// non-positive maxDelay selects DefaultMaxDelay.
func ScheduleTime(now time.Time, hour int, maxDelay time.Duration) time.Time {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	y, m, d := now.Date()
	target := time.Date(y, m, d, hour, 0, 0, 0, now.Location())
	if hour < now.Hour() {
		target = time.Date(y, m, d+1, hour, 0, 0, 0, now.Location())
	}
	if target.Before(now) {
		target = now
	}
	if limit := now.Add(maxDelay); target.After(limit) {
		target = limit
	}
	return target
}

// ShouldRetrain reports whether a new model should be trained given the
// number of samples available and added since the last training.
func (p *Predictor) ShouldRetrain(available, sinceLastTraining int, now time.Time) bool {
	if p.model == nil {
		return available >= MinTrainingSamples
	}
	return now.Sub(p.model.TrainedAt) > RetrainInterval && sinceLastTraining >= MinNewSamplesToTrain
}

// Retrain fits a new model on samples and swaps it in on success. On
// failure the previous model stays in place.
func (p *Predictor) Retrain(ctx context.Context, samples []domain.TrainingDataPoint, now time.Time) (*Model, error) {
	start := time.Now()
	m, err := Train(ctx, p.cfg, samples, now)
	if err != nil {
		result := "failed"
		if errors.Is(err, ErrInsufficientData) {
			result = "insufficient_data"
		}
		recordTraining(result, 0, time.Since(start))
		return nil, err
	}
	p.model = m
	recordTraining("success", m.Loss, time.Since(start))

	slog.Info("optimal time model trained",
		"samples", m.SampleCount,
		"iterations", m.Iterations,
		"loss", m.Loss,
		"accuracy", m.Accuracy,
	)
	return m, nil
}

// Stats describes the predictor state.
type Stats struct {
	Source      Source        `json:"source"`
	HasModel    bool          `json:"has_model"`
	SampleCount int           `json:"sample_count"`
	TrainedAt   *time.Time    `json:"trained_at,omitempty"`
	Loss        float64       `json:"loss"`
	Iterations  int           `json:"iterations"`
	Accuracy    float64       `json:"accuracy"`
	Matrix      MatrixSummary `json:"matrix"`
}

// Stats returns the current model metadata and matrix summary.
func (p *Predictor) Stats() Stats {
	s := Stats{Source: SourceHeuristic, Matrix: p.matrix.Summary()}
	if p.model != nil {
		trainedAt := p.model.TrainedAt
		s.Source = SourceModel
		s.HasModel = true
		s.SampleCount = p.model.SampleCount
		s.TrainedAt = &trainedAt
		s.Loss = p.model.Loss
		s.Iterations = p.model.Iterations
		s.Accuracy = p.model.Accuracy
	}
	return s
}
