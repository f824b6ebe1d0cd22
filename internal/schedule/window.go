// Package schedule decides when the relay should hold a feed subscription.
package schedule

import (
	"fmt"
	"time"
)

const (
	// Margin is added to every boundary sleep so a check never lands exactly on the boundary.
	Margin = 10 * time.Second
	// CoarseInterval bounds how long the scheduler sleeps while far from the window.
	CoarseInterval = 2 * time.Hour
)

// Decision is the outcome of one evaluation.
type Decision int

const (
	NoChange Decision = iota
	EnterWindow
	ExitWindow
)

func (d Decision) String() string {
	switch d {
	case EnterWindow:
		return "enter"
	case ExitWindow:
		return "exit"
	default:
		return "no-change"
	}
}

// Result is a decision plus the delay until the next evaluation.
type Result struct {
	Decision  Decision
	NextCheck time.Duration
}

// TimeOfDay is a daily boundary without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay reads "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

// on anchors t to the calendar date of ref.
func (t TimeOfDay) on(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, ref.Location())
}

// Window is the daily [Start, End) range in which new alerts are accepted.
type Window struct {
	Start    TimeOfDay
	End      TimeOfDay
	Location *time.Location
}

// NewWindow validates the boundaries; windows crossing midnight are not supported.
func NewWindow(start, end TimeOfDay, loc *time.Location) (Window, error) {
	if start.minutes() >= end.minutes() {
		return Window{}, fmt.Errorf("window start %s must be before end %s", start, end)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Window{Start: start, End: end, Location: loc}, nil
}

// Bounds returns both boundaries anchored to now's date in the window's location.
func (w Window) Bounds(now time.Time) (start, end time.Time) {
	local := now.In(w.location())
	return w.Start.on(local), w.End.on(local)
}

// Contains reports whether now falls inside today's window.
func (w Window) Contains(now time.Time) bool {
	start, end := w.Bounds(now)
	return !now.Before(start) && now.Before(end)
}

// LastEnd returns the most recent end boundary at or before now.
func (w Window) LastEnd(now time.Time) time.Time {
	_, end := w.Bounds(now)
	if end.After(now) {
		local := now.In(w.location()).AddDate(0, 0, -1)
		end = w.End.on(local)
	}
	return end
}

// Evaluate computes the decision for now given the current tracking state.
func (w Window) Evaluate(now time.Time, tracking bool) Result {
	start, end := w.Bounds(now)

	if !now.Before(start) && now.Before(end) {
		res := Result{Decision: NoChange, NextCheck: end.Sub(now) + Margin}
		if !tracking {
			res.Decision = EnterWindow
		}
		return res
	}

	res := Result{Decision: NoChange}
	if tracking {
		res.Decision = ExitWindow
	}

	untilStart := start.Sub(now)
	if untilStart < 0 || untilStart > CoarseInterval {
		res.NextCheck = CoarseInterval
	} else {
		res.NextCheck = untilStart + Margin
	}
	return res
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s %s", w.Start, w.End, w.location())
}
