package burnout

import (
	"fmt"
	"testing"
	"time"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)

// hourlySessions returns one-hour sessions: perDay of them on each of the
// given days back from now, starting at 06:00.
func hourlySessions(daysBack []int, perDay int, effectiveness int) []domain.StudySession {
	var out []domain.StudySession
	for _, back := range daysBack {
		day := now.AddDate(0, 0, -back)
		y, m, d := day.Date()
		for i := 0; i < perDay; i++ {
			out = append(out, domain.StudySession{
				ID:              fmt.Sprintf("s-%d-%d", back, i),
				UserID:          "user-1",
				StartedAt:       time.Date(y, m, d, 6+i, 0, 0, 0, time.UTC),
				DurationMinutes: 60,
				Effectiveness:   effectiveness,
			})
		}
	}
	return out
}

func TestAnalyze_ExcessiveHoursDominates(t *testing.T) {
	// 13 hours on each of the last three days, started after now-72h.
	sessions := hourlySessions([]int{0, 1, 2}, 13, 0)

	a := Analyze(sessions, nil, now)

	require.Len(t, a.Indicators, 1)
	assert.Equal(t, IndicatorExcessiveHours, a.Indicators[0].Type)
	assert.Equal(t, SeverityHigh, a.Indicators[0].Severity)
	assert.InDelta(t, 13.0, a.Indicators[0].Value, 1e-9)
	assert.InDelta(t, 37.5, a.RiskScore, 1e-9)
	assert.Equal(t, LevelLow, a.RiskLevel)
	assert.False(t, a.NeedsIntervention)
	assert.Len(t, a.Recommendations, 1)
}

func TestAnalyze_NoSignals(t *testing.T) {
	a := Analyze(hourlySessions([]int{0, 1}, 2, 4), nil, now)

	assert.Empty(t, a.Indicators)
	assert.Equal(t, 0.0, a.RiskScore)
	assert.Equal(t, LevelNone, a.RiskLevel)
	assert.Empty(t, a.Recommendations)
	assert.Equal(t, 2, a.Today.SessionCount)
	assert.Equal(t, 4, a.Recent.SessionCount)
}

func TestAnalyze_EffectivenessDrop(t *testing.T) {
	tests := []struct {
		name     string
		ratings  [2]int
		severity Severity
	}{
		// Week average 74/16 = 4.625, recent 3.5: 24% drop.
		{name: "moderate", ratings: [2]int{4, 3}, severity: SeverityModerate},
		// Week average 72/16 = 4.5, recent 3: 33% drop.
		{name: "high", ratings: [2]int{3, 3}, severity: SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Older week sessions rated 5, recent ones lower.
			sessions := hourlySessions([]int{4, 5, 6}, 4, 5)
			for _, back := range []int{0, 1} {
				recent := hourlySessions([]int{back}, 2, 0)
				recent[0].Effectiveness = tt.ratings[0]
				recent[1].Effectiveness = tt.ratings[1]
				sessions = append(sessions, recent...)
			}

			a := Analyze(sessions, nil, now)
			require.Len(t, a.Indicators, 1)
			assert.Equal(t, IndicatorEffectivenessDrop, a.Indicators[0].Type)
			assert.Equal(t, tt.severity, a.Indicators[0].Severity)
		})
	}
}

func TestAnalyze_OverdueAndCompletion(t *testing.T) {
	var tasks []domain.Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, domain.Task{
			ID:    fmt.Sprintf("t-%d", i),
			DueAt: now.Add(-time.Duration(i+1) * 24 * time.Hour),
		})
	}
	done := now.Add(-time.Hour)
	tasks = append(tasks, domain.Task{ID: "t-done", DueAt: now.Add(-2 * time.Hour), Completed: true, CompletedAt: &done})

	// 22 hours over the week with healthy daily totals.
	sessions := hourlySessions([]int{0, 1, 2, 3, 4, 5}, 4, 0)[:22]

	a := Analyze(sessions, tasks, now)

	require.Len(t, a.Indicators, 2)
	byType := map[IndicatorType]Indicator{}
	for _, ind := range a.Indicators {
		byType[ind.Type] = ind
	}
	assert.Equal(t, SeverityHigh, byType[IndicatorOverdueAccumulation].Severity)
	assert.Equal(t, SeverityHigh, byType[IndicatorDecliningCompletion].Severity)
	assert.InDelta(t, 100.0/6, byType[IndicatorDecliningCompletion].Value, 1e-9)

	// 20*1.5 + 10*1.5
	assert.InDelta(t, 45.0, a.RiskScore, 1e-9)
	assert.Equal(t, LevelModerate, a.RiskLevel)
}

func TestAnalyze_InsufficientBreaksAndCap(t *testing.T) {
	var sessions []domain.StudySession
	for i := 0; i < 3; i++ {
		day := now.AddDate(0, 0, -i)
		y, m, d := day.Date()
		// Early rated sessions form the weekly baseline.
		sessions = append(sessions, domain.StudySession{
			ID:              fmt.Sprintf("base-%d", i),
			StartedAt:       time.Date(y, m, d-4, 9, 0, 0, 0, time.UTC),
			DurationMinutes: 60,
			Effectiveness:   5,
		})
		sessions = append(sessions, domain.StudySession{
			ID:              fmt.Sprintf("long-%d", i),
			StartedAt:       time.Date(y, m, d, 6, 0, 0, 0, time.UTC),
			DurationMinutes: 13 * 60,
			Effectiveness:   1,
		})
	}
	var tasks []domain.Task
	for i := 0; i < 6; i++ {
		tasks = append(tasks, domain.Task{ID: fmt.Sprintf("t-%d", i), DueAt: now.Add(-time.Hour)})
	}

	a := Analyze(sessions, tasks, now)

	// 30*1.5 + 25*1.5 + 20*1.5 + 15*1 + 10*1.5 = 142.5, capped.
	assert.Equal(t, 100.0, a.RiskScore)
	assert.Equal(t, LevelCritical, a.RiskLevel)
	assert.True(t, a.NeedsIntervention)
	require.Len(t, a.Indicators, 5)
	assert.Equal(t, SeverityModerate, a.Indicators[4].Severity, "ordered by severity")
	assert.Len(t, a.Recommendations, 5)
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelNone},
		{19.9, LevelNone},
		{20, LevelLow},
		{40, LevelModerate},
		{60, LevelHigh},
		{79.9, LevelHigh},
		{80, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levelFor(tt.score), "score %v", tt.score)
	}
}

func TestAnalysis_IsFresh(t *testing.T) {
	a := &Analysis{LastAnalyzed: now}
	assert.True(t, a.IsFresh(now.Add(23*time.Hour)))
	assert.False(t, a.IsFresh(now.Add(24*time.Hour)))

	var missing *Analysis
	assert.False(t, missing.IsFresh(now))
}
