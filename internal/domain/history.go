package domain

import "time"

// StudySession is a historical study block read from the document store.
type StudySession struct {
	ID              string    `json:"id" bson:"_id"`
	UserID          string    `json:"user_id" bson:"user_id"`
	StartedAt       time.Time `json:"started_at" bson:"started_at"`
	DurationMinutes int       `json:"duration_minutes" bson:"duration_minutes"`
	// Effectiveness is the user's 1-5 rating; 0 means unrated.
	Effectiveness int `json:"effectiveness" bson:"effectiveness"`
}

// Hours returns the session length in hours.
func (s StudySession) Hours() float64 {
	return float64(s.DurationMinutes) / 60
}

// IsRated reports whether the user rated the session.
func (s StudySession) IsRated() bool {
	return s.Effectiveness > 0
}

// Task is a unit of coursework with a due date.
type Task struct {
	ID          string     `json:"id" bson:"_id"`
	UserID      string     `json:"user_id" bson:"user_id"`
	Title       string     `json:"title" bson:"title"`
	DueAt       time.Time  `json:"due_at" bson:"due_at"`
	Completed   bool       `json:"completed" bson:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// IsOverdue reports whether the task is unfinished past its due date.
func (t Task) IsOverdue(now time.Time) bool {
	return !t.Completed && t.DueAt.Before(now)
}
