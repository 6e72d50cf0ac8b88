package ratelimit

import (
	"log/slog"
	"time"

	"github.com/bissquit/nudge/internal/domain"
)

const minutesPerDay = 24 * 60

// QuietWindow is a parsed quiet-hours window in the user's timezone.
// The window is [Start, End) in minutes after midnight and wraps past
// midnight when Start > End. Start == End is empty.
type QuietWindow struct {
	Enabled bool
	Start   int
	End     int
	Loc     *time.Location
}

// NewQuietWindow parses the quiet-hours part of settings. Unparseable bounds
// disable the window.
func NewQuietWindow(settings domain.NotificationSettings) QuietWindow {
	w := QuietWindow{Loc: settings.Location()}
	if !settings.QuietHours.Enabled {
		return w
	}

	start, err := domain.ParseClock(settings.QuietHours.Start)
	if err != nil {
		slog.Warn("invalid quiet hours start, window disabled", "value", settings.QuietHours.Start, "error", err)
		return w
	}
	end, err := domain.ParseClock(settings.QuietHours.End)
	if err != nil {
		slog.Warn("invalid quiet hours end, window disabled", "value", settings.QuietHours.End, "error", err)
		return w
	}

	w.Enabled = true
	w.Start = start
	w.End = end
	return w
}

// Contains reports whether t falls inside the window.
func (w QuietWindow) Contains(t time.Time) bool {
	if !w.Enabled || w.Start == w.End {
		return false
	}
	local := t.In(w.location())
	minute := local.Hour()*60 + local.Minute()
	if w.Start < w.End {
		return minute >= w.Start && minute < w.End
	}
	return minute >= w.Start || minute < w.End
}

// NextEnd returns the first moment at or after t where the window closes.
// If t is outside the window, t is returned unchanged.
func (w QuietWindow) NextEnd(t time.Time) time.Time {
	if !w.Contains(t) {
		return t
	}
	loc := w.location()
	local := t.In(loc)
	y, m, d := local.Date()
	end := time.Date(y, m, d, w.End/60, w.End%60, 0, 0, loc)
	if !end.After(local) {
		end = time.Date(y, m, d+1, w.End/60, w.End%60, 0, 0, loc)
	}
	return end
}

// Duration returns the length of the window.
func (w QuietWindow) Duration() time.Duration {
	if !w.Enabled || w.Start == w.End {
		return 0
	}
	minutes := (w.End - w.Start + minutesPerDay) % minutesPerDay
	return time.Duration(minutes) * time.Minute
}

func (w QuietWindow) location() *time.Location {
	if w.Loc == nil {
		return time.Local
	}
	return w.Loc
}
