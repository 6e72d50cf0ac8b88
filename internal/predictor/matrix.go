package predictor

import (
	"sort"
	"time"
)

// HoursPerDay is the number of matrix slots.
const HoursPerDay = 24

// MinSendsPerHour is the number of sends an hour needs before the heuristic
// trusts its success rate.
const MinSendsPerHour = 3

// NeutralSuccessRate is reported when nothing is known about the user.
const NeutralSuccessRate = 0.5

// HourlySuccessRate tracks how a user responds to notifications sent in one
// hour of the day.
type HourlySuccessRate struct {
	Hour                   int       `json:"hour"`
	TotalSent              int       `json:"total_sent"`
	TotalResponded         int       `json:"total_responded"`
	SuccessRate            float64   `json:"success_rate"`
	AvgResponseTimeSeconds float64   `json:"avg_response_time_seconds"`
	LastUpdated            time.Time `json:"last_updated"`
}

// HourlyMatrix is the heuristic predictor: 24 incrementally updated slots.
type HourlyMatrix struct {
	slots [HoursPerDay]HourlySuccessRate
}

// NewHourlyMatrix returns a matrix with all 24 slots present and empty.
func NewHourlyMatrix() *HourlyMatrix {
	m := &HourlyMatrix{}
	for h := range m.slots {
		m.slots[h].Hour = h
	}
	return m
}

// RecordSent counts a delivery in the given hour.
func (m *HourlyMatrix) RecordSent(hour int, at time.Time) {
	if !validHour(hour) {
		return
	}
	s := &m.slots[hour]
	s.TotalSent++
	s.SuccessRate = rate(s.TotalResponded, s.TotalSent)
	s.LastUpdated = at
}

// RecordResponse folds a response to a notification sent in hour into the
// slot. Only responses within the hour count as successes.
func (m *HourlyMatrix) RecordResponse(hour int, respondedWithinHour bool, latencySeconds float64, at time.Time) {
	if !validHour(hour) {
		return
	}
	s := &m.slots[hour]
	if respondedWithinHour {
		s.TotalResponded++
		if s.TotalResponded > s.TotalSent {
			s.TotalSent = s.TotalResponded
		}
		s.AvgResponseTimeSeconds += (latencySeconds - s.AvgResponseTimeSeconds) / float64(s.TotalResponded)
	}
	s.SuccessRate = rate(s.TotalResponded, s.TotalSent)
	s.LastUpdated = at
}

// Slot returns a copy of one hour's statistics.
func (m *HourlyMatrix) Slot(hour int) HourlySuccessRate {
	if !validHour(hour) {
		return HourlySuccessRate{Hour: hour}
	}
	return m.slots[hour]
}

// Best returns the hour with the highest success rate among hours with at
// least MinSendsPerHour sends, up to three runner-up hours, and whether any
// hour qualified. Ties go to the earlier hour.
func (m *HourlyMatrix) Best() (best HourlySuccessRate, alternatives []int, ok bool) {
	qualified := make([]HourlySuccessRate, 0, HoursPerDay)
	for _, s := range m.slots {
		if s.TotalSent >= MinSendsPerHour {
			qualified = append(qualified, s)
		}
	}
	if len(qualified) == 0 {
		return HourlySuccessRate{}, nil, false
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		return qualified[i].SuccessRate > qualified[j].SuccessRate
	})
	for i := 1; i < len(qualified) && len(alternatives) < maxAlternatives; i++ {
		alternatives = append(alternatives, qualified[i].Hour)
	}
	return qualified[0], alternatives, true
}

// MatrixSummary aggregates the matrix for stats output.
type MatrixSummary struct {
	TotalSent      int     `json:"total_sent"`
	TotalResponded int     `json:"total_responded"`
	QualifiedHours int     `json:"qualified_hours"`
	BestHour       *int    `json:"best_hour,omitempty"`
	BestRate       float64 `json:"best_rate"`
}

// Summary aggregates all slots.
func (m *HourlyMatrix) Summary() MatrixSummary {
	var sum MatrixSummary
	for _, s := range m.slots {
		sum.TotalSent += s.TotalSent
		sum.TotalResponded += s.TotalResponded
		if s.TotalSent >= MinSendsPerHour {
			sum.QualifiedHours++
		}
	}
	if best, _, ok := m.Best(); ok {
		hour := best.Hour
		sum.BestHour = &hour
		sum.BestRate = best.SuccessRate
	}
	return sum
}

// Snapshot returns the 24 slots in hour order.
func (m *HourlyMatrix) Snapshot() []HourlySuccessRate {
	out := make([]HourlySuccessRate, HoursPerDay)
	copy(out, m.slots[:])
	return out
}

// Restore loads slots from a snapshot. Missing or out-of-range hours are
// left empty so that all 24 slots always exist.
func (m *HourlyMatrix) Restore(slots []HourlySuccessRate) {
	fresh := NewHourlyMatrix()
	for _, s := range slots {
		if !validHour(s.Hour) || s.TotalSent < 0 || s.TotalResponded < 0 {
			continue
		}
		s.SuccessRate = rate(s.TotalResponded, s.TotalSent)
		fresh.slots[s.Hour] = s
	}
	m.slots = fresh.slots
}

func rate(responded, sent int) float64 {
	if sent == 0 {
		return 0
	}
	return float64(responded) / float64(sent)
}

func validHour(hour int) bool {
	return hour >= 0 && hour < HoursPerDay
}
