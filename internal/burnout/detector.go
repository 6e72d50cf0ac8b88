// Package burnout scores study history for signs of overwork.
package burnout

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

// Analysis horizons.
const (
	CacheTTL     = 24 * time.Hour
	RecentWindow = 3 * 24 * time.Hour
	WeekWindow   = 7 * 24 * time.Hour

	longSessionMinutes = 120
	maxScore           = 100
)

// Level is the aggregate burnout risk.
type Level string

// Risk levels, lowest first.
const (
	LevelNone     Level = "none"
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Severity grades one indicator.
type Severity string

// Indicator severities.
const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

func (s Severity) multiplier() float64 {
	switch s {
	case SeverityLow:
		return 0.5
	case SeverityModerate:
		return 1.0
	case SeverityHigh:
		return 1.5
	}
	return 0
}

func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityModerate:
		return 1
	}
	return 2
}

// IndicatorType names a burnout signal.
type IndicatorType string

// Indicator types.
const (
	IndicatorEffectivenessDrop   IndicatorType = "effectiveness_drop"
	IndicatorExcessiveHours      IndicatorType = "excessive_hours"
	IndicatorDecliningCompletion IndicatorType = "declining_completion"
	IndicatorInsufficientBreaks  IndicatorType = "insufficient_breaks"
	IndicatorOverdueAccumulation IndicatorType = "overdue_accumulation"
)

var indicatorWeights = map[IndicatorType]float64{
	IndicatorEffectivenessDrop:   30,
	IndicatorExcessiveHours:      25,
	IndicatorDecliningCompletion: 20,
	IndicatorInsufficientBreaks:  15,
	IndicatorOverdueAccumulation: 10,
}

var recommendations = map[IndicatorType]string{
	IndicatorEffectivenessDrop:   "Your sessions are less effective than last week. Try shorter, focused blocks with rest in between.",
	IndicatorExcessiveHours:      "You have been studying very long days. Plan a lighter day to recover.",
	IndicatorDecliningCompletion: "Many hours are going in but fewer tasks are getting done. Review priorities and drop what can wait.",
	IndicatorInsufficientBreaks:  "Several sessions ran over two hours. Take a 10 minute break every hour.",
	IndicatorOverdueAccumulation: "Overdue tasks are piling up. Pick the smallest one and finish it first.",
}

// Indicator is one detected signal.
type Indicator struct {
	Type        IndicatorType `json:"type"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	Value       float64       `json:"value"`
	Threshold   float64       `json:"threshold"`
}

// Window aggregates study sessions over a trailing period.
type Window struct {
	TotalHours       float64 `json:"total_hours"`
	AvgEffectiveness float64 `json:"avg_effectiveness"`
	SessionCount     int     `json:"session_count"`
	RatedCount       int     `json:"rated_count"`
}

// Analysis is the burnout assessment of one user.
type Analysis struct {
	RiskLevel         Level       `json:"risk_level"`
	RiskScore         float64     `json:"risk_score"`
	Indicators        []Indicator `json:"indicators"`
	Recommendations   []string    `json:"recommendations"`
	Today             Window      `json:"today"`
	Recent            Window      `json:"recent"`
	Week              Window      `json:"week"`
	LastAnalyzed      time.Time   `json:"last_analyzed"`
	NeedsIntervention bool        `json:"needs_intervention"`
}

// IsFresh reports whether the analysis is still within CacheTTL at now.
func (a *Analysis) IsFresh(now time.Time) bool {
	return a != nil && !a.LastAnalyzed.IsZero() && now.Sub(a.LastAnalyzed) < CacheTTL
}

// Analyze scores the sessions and tasks of one user as of now.
func Analyze(sessions []domain.StudySession, tasks []domain.Task, now time.Time) Analysis {
	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	a := Analysis{
		Today:        window(sessions, startOfDay, now),
		Recent:       window(sessions, now.Add(-RecentWindow), now),
		Week:         window(sessions, now.Add(-WeekWindow), now),
		LastAnalyzed: now,
		Indicators:   []Indicator{},
	}

	for _, ind := range []*Indicator{
		effectivenessDrop(a.Week, a.Recent),
		excessiveHours(a.Recent),
		decliningCompletion(tasks, a.Week, now),
		insufficientBreaks(sessions, now),
		overdueAccumulation(tasks, now),
	} {
		if ind != nil {
			a.Indicators = append(a.Indicators, *ind)
		}
	}

	sort.SliceStable(a.Indicators, func(i, j int) bool {
		return a.Indicators[i].Severity.rank() < a.Indicators[j].Severity.rank()
	})

	for _, ind := range a.Indicators {
		a.RiskScore += indicatorWeights[ind.Type] * ind.Severity.multiplier()
	}
	a.RiskScore = math.Min(a.RiskScore, maxScore)
	a.RiskLevel = levelFor(a.RiskScore)
	a.NeedsIntervention = a.RiskLevel == LevelHigh || a.RiskLevel == LevelCritical
	a.Recommendations = recommend(a.Indicators)

	recordAnalysis(a.RiskLevel)
	return a
}

func window(sessions []domain.StudySession, from, to time.Time) Window {
	var w Window
	ratingSum := 0
	for _, s := range sessions {
		if s.StartedAt.Before(from) || s.StartedAt.After(to) {
			continue
		}
		w.SessionCount++
		w.TotalHours += s.Hours()
		if s.IsRated() {
			w.RatedCount++
			ratingSum += s.Effectiveness
		}
	}
	if w.RatedCount > 0 {
		w.AvgEffectiveness = float64(ratingSum) / float64(w.RatedCount)
	}
	return w
}

func effectivenessDrop(baseline, recent Window) *Indicator {
	if baseline.RatedCount == 0 || recent.RatedCount == 0 || baseline.AvgEffectiveness == 0 {
		return nil
	}
	drop := (baseline.AvgEffectiveness - recent.AvgEffectiveness) / baseline.AvgEffectiveness * 100
	var severity Severity
	threshold := 20.0
	switch {
	case drop >= 30:
		severity, threshold = SeverityHigh, 30
	case drop >= 20:
		severity = SeverityModerate
	default:
		return nil
	}
	return &Indicator{
		Type:        IndicatorEffectivenessDrop,
		Severity:    severity,
		Description: fmt.Sprintf("Session effectiveness dropped %.0f%% compared to the weekly average", drop),
		Value:       drop,
		Threshold:   threshold,
	}
}

func excessiveHours(recent Window) *Indicator {
	daily := recent.TotalHours / (RecentWindow.Hours() / 24)
	var severity Severity
	threshold := 10.0
	switch {
	case daily > 12:
		severity, threshold = SeverityHigh, 12
	case daily > 10:
		severity = SeverityModerate
	default:
		return nil
	}
	return &Indicator{
		Type:        IndicatorExcessiveHours,
		Severity:    severity,
		Description: fmt.Sprintf("Averaging %.1f study hours per day over the last 3 days", daily),
		Value:       daily,
		Threshold:   threshold,
	}
}

func decliningCompletion(tasks []domain.Task, week Window, now time.Time) *Indicator {
	from := now.Add(-WeekWindow)
	due, done := 0, 0
	for _, t := range tasks {
		if t.DueAt.Before(from) || t.DueAt.After(now) {
			continue
		}
		due++
		if t.Completed {
			done++
		}
	}
	if due == 0 {
		return nil
	}
	rate := float64(done) / float64(due) * 100

	var severity Severity
	threshold := 50.0
	switch {
	case rate < 40 && week.TotalHours > 20:
		severity, threshold = SeverityHigh, 40
	case rate < 50 && week.TotalHours > 15:
		severity = SeverityModerate
	default:
		return nil
	}
	return &Indicator{
		Type:        IndicatorDecliningCompletion,
		Severity:    severity,
		Description: fmt.Sprintf("Only %.0f%% of tasks due this week were completed despite %.1f study hours", rate, week.TotalHours),
		Value:       rate,
		Threshold:   threshold,
	}
}

func insufficientBreaks(sessions []domain.StudySession, now time.Time) *Indicator {
	from := now.Add(-RecentWindow)
	long := 0
	for _, s := range sessions {
		if s.StartedAt.Before(from) || s.StartedAt.After(now) {
			continue
		}
		if s.DurationMinutes >= longSessionMinutes {
			long++
		}
	}
	if long < 3 {
		return nil
	}
	return &Indicator{
		Type:        IndicatorInsufficientBreaks,
		Severity:    SeverityModerate,
		Description: fmt.Sprintf("%d sessions of two hours or more in the last 3 days", long),
		Value:       float64(long),
		Threshold:   3,
	}
}

func overdueAccumulation(tasks []domain.Task, now time.Time) *Indicator {
	overdue := 0
	for _, t := range tasks {
		if t.IsOverdue(now) {
			overdue++
		}
	}
	var severity Severity
	threshold := 3.0
	switch {
	case overdue >= 5:
		severity, threshold = SeverityHigh, 5
	case overdue >= 3:
		severity = SeverityModerate
	default:
		return nil
	}
	return &Indicator{
		Type:        IndicatorOverdueAccumulation,
		Severity:    severity,
		Description: fmt.Sprintf("%d overdue tasks", overdue),
		Value:       float64(overdue),
		Threshold:   threshold,
	}
}

func levelFor(score float64) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelModerate
	case score >= 20:
		return LevelLow
	}
	return LevelNone
}

// recommend expects indicators already ordered by severity.
func recommend(indicators []Indicator) []string {
	seen := make(map[string]struct{}, len(indicators))
	out := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		text := recommendations[ind.Type]
		if _, dup := seen[text]; dup || text == "" {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out
}
