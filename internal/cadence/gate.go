package cadence

import (
	"time"
)

// Marker remembers the last recurring period the teacher was prompted in.
// It lives in session storage so a reload within the session cannot cause a
// second prompt for the same period.
type Marker struct {
	LastPromptedPeriod string `json:"last_prompted_period,omitempty"`
}

// Gate decides whether to show a recurring prompt: only inside the
// designated weekdays, and at most once per period.
type Gate struct {
	days map[time.Weekday]bool
}

// New builds a gate firing on the given weekdays. With no days it defaults
// to the weekend, matching the weekly feedback prompt.
func New(days ...time.Weekday) *Gate {
	if len(days) == 0 {
		days = []time.Weekday{time.Saturday, time.Sunday}
	}
	g := &Gate{days: make(map[time.Weekday]bool, len(days))}
	for _, d := range days {
		g.days[d] = true
	}
	return g
}

// PeriodKey derives the recurring period for a moment: the date of that
// week's Sunday.
func PeriodKey(now time.Time) string {
	weekStart := now.AddDate(0, 0, -int(now.Weekday()))
	return weekStart.Format("2006-01-02")
}

// ShouldPrompt reports whether the prompt is due: now falls on one of the
// gate's weekdays and this period has not been recorded yet.
func (g *Gate) ShouldPrompt(now time.Time, m Marker) bool {
	if !g.days[now.Weekday()] {
		return false
	}
	return m.LastPromptedPeriod != PeriodKey(now)
}

// Record marks the current period as prompted. Called once per user
// response, whether the prompt was accepted or declined.
func (g *Gate) Record(now time.Time, m Marker) Marker {
	m.LastPromptedPeriod = PeriodKey(now)
	return m
}
