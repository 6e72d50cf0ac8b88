// Package peaktime finds the hours of day when a user studies best.
package peaktime

import (
	"math"
	"sort"
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// Analysis parameters.
const (
	MinSessions = 5
	Window      = 30 * 24 * time.Hour
	CacheTTL    = 7 * 24 * time.Hour

	hoursPerDay         = 24
	peakHourCount       = 3
	idealSessionMinutes = 90
)

// Confidence grades how much history backs an analysis.
type Confidence string

// Confidence levels.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// HourProductivity is the productivity score of one hour of day.
type HourProductivity struct {
	Hour               int     `json:"hour"`
	Sessions           int     `json:"sessions"`
	AvgEffectiveness   float64 `json:"avg_effectiveness"`
	AvgDurationMinutes float64 `json:"avg_duration_minutes"`
	Score              float64 `json:"score"`
}

// Analysis is the peak-time assessment of one user.
type Analysis struct {
	PeakHours            []int              `json:"peak_hours"`
	HourlyProductivity   []HourProductivity `json:"hourly_productivity"`
	TotalSessions        int                `json:"total_sessions"`
	RatedSessions        int                `json:"rated_sessions"`
	AverageEffectiveness float64            `json:"average_effectiveness"`
	Confidence           Confidence         `json:"confidence"`
	LastAnalyzed         time.Time          `json:"last_analyzed"`
	LastSuggested        *time.Time         `json:"last_suggested,omitempty"`
}

// IsFresh reports whether the analysis is still within CacheTTL at now.
func (a *Analysis) IsFresh(now time.Time) bool {
	return a != nil && !a.LastAnalyzed.IsZero() && now.Sub(a.LastAnalyzed) < CacheTTL
}

// SuggestedRecently reports whether a study suggestion went out within
// CacheTTL of now.
func (a *Analysis) SuggestedRecently(now time.Time) bool {
	return a != nil && a.LastSuggested != nil && now.Sub(*a.LastSuggested) < CacheTTL
}

// Analyze buckets the sessions of the trailing Window by start hour in now's
// location and picks the most productive hours.
func Analyze(sessions []domain.StudySession, now time.Time) Analysis {
	a := Analysis{
		PeakHours:          []int{},
		HourlyProductivity: make([]HourProductivity, hoursPerDay),
		Confidence:         ConfidenceLow,
		LastAnalyzed:       now,
	}
	for h := range a.HourlyProductivity {
		a.HourlyProductivity[h].Hour = h
	}

	from := now.Add(-Window)
	var (
		durationSum [hoursPerDay]int
		ratingSum   [hoursPerDay]int
		ratedCount  [hoursPerDay]int
		totalRating int
	)
	for _, s := range sessions {
		if s.StartedAt.Before(from) || s.StartedAt.After(now) {
			continue
		}
		h := s.StartedAt.In(now.Location()).Hour()
		a.TotalSessions++
		a.HourlyProductivity[h].Sessions++
		durationSum[h] += s.DurationMinutes
		if s.IsRated() {
			a.RatedSessions++
			totalRating += s.Effectiveness
			ratingSum[h] += s.Effectiveness
			ratedCount[h]++
		}
	}
	if a.RatedSessions > 0 {
		a.AverageEffectiveness = float64(totalRating) / float64(a.RatedSessions)
	}

	if a.TotalSessions < MinSessions {
		recordAnalysis(a.Confidence)
		return a
	}

	for h := range a.HourlyProductivity {
		hp := &a.HourlyProductivity[h]
		if hp.Sessions == 0 {
			continue
		}
		hp.AvgDurationMinutes = float64(durationSum[h]) / float64(hp.Sessions)
		if ratedCount[h] > 0 {
			hp.AvgEffectiveness = float64(ratingSum[h]) / float64(ratedCount[h])
		}
		share := float64(hp.Sessions) / float64(a.TotalSessions)
		hp.Score = 0.6*(hp.AvgEffectiveness/5*100) +
			0.25*math.Min(100, share*400) +
			0.15*math.Min(100, hp.AvgDurationMinutes/idealSessionMinutes*100)
	}

	ranked := make([]HourProductivity, 0, hoursPerDay)
	for _, hp := range a.HourlyProductivity {
		if hp.Sessions > 0 {
			ranked = append(ranked, hp)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	for i := 0; i < len(ranked) && i < peakHourCount; i++ {
		a.PeakHours = append(a.PeakHours, ranked[i].Hour)
	}

	a.Confidence = confidenceFor(a.TotalSessions, a.RatedSessions)
	recordAnalysis(a.Confidence)
	return a
}

func confidenceFor(total, rated int) Confidence {
	switch {
	case total >= 20 && rated >= 15:
		return ConfidenceHigh
	case total >= 10 && rated >= 8:
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// IsPeak reports whether hour is one of the peak hours.
func (a *Analysis) IsPeak(hour int) bool {
	for _, h := range a.PeakHours {
		if h == hour {
			return true
		}
	}
	return false
}

// ShouldRemindNow reports whether a study reminder fits now: the analysis is
// at least medium confidence, work is pending and now is a peak hour.
func ShouldRemindNow(a *Analysis, pendingWork bool, now time.Time) bool {
	if a == nil || a.Confidence == ConfidenceLow || !pendingWork {
		return false
	}
	return a.IsPeak(now.Hour())
}

// NextPeak returns the start of the next peak hour at or after now, in now's
// location. It returns false when there are no peak hours.
func (a *Analysis) NextPeak(now time.Time) (time.Time, bool) {
	if a == nil || len(a.PeakHours) == 0 {
		return time.Time{}, false
	}
	y, m, d := now.Date()
	var best time.Time
	for _, h := range a.PeakHours {
		at := time.Date(y, m, d, h, 0, 0, 0, now.Location())
		if h < now.Hour() {
			at = time.Date(y, m, d+1, h, 0, 0, 0, now.Location())
		}
		if at.Before(now) {
			at = now
		}
		if best.IsZero() || at.Before(best) {
			best = at
		}
	}
	return best, true
}
