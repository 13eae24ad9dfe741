// Package quota enforces the monthly quota and per-minute burst ceiling of
// each credential.
package quota

import (
	"fmt"
	"time"
)

// Window identifies a fixed, calendar-aligned counting window.
type Window string

const (
	WindowMonthly Window = "monthly"
	WindowMinute  Window = "minute"
)

// Bounds returns the window containing now. Windows are aligned to UTC: the
// monthly window starts on the first of the month, the minute window on the
// wall-clock minute.
func (w Window) Bounds(now time.Time) (start, end time.Time) {
	now = now.UTC()
	switch w {
	case WindowMonthly:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	case WindowMinute:
		start = now.Truncate(time.Minute)
		end = start.Add(time.Minute)
	default:
		panic(fmt.Sprintf("quota: unknown window %q", string(w)))
	}
	return start, end
}

// Limit is the admission ceiling for one window.
type Limit struct {
	Window Window
	Max    int64
}

// WindowState is the mutable counter for one credential and window.
type WindowState struct {
	Usage       int64
	WindowStart time.Time
}

// WindowUsage describes a window after an admission attempt.
type WindowUsage struct {
	Window  Window
	Limit   int64
	Used    int64
	ResetAt time.Time
}

func (u WindowUsage) Remaining() int64 {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Outcome is what a CounterStore reports for one call. Rejected is empty
// when the call was admitted.
type Outcome struct {
	Admitted bool
	Rejected Window
	Windows  []WindowUsage
}

// Evaluate is the single-credential state transition shared by the stores.
// states is aligned with limits. Expired windows are reset to the current
// window before any limit is checked. Windows are checked in order and the
// first exhausted one rejects; when consume is set and every window has
// room, each window is incremented. A rejected call increments nothing.
func Evaluate(states []WindowState, limits []Limit, now time.Time, consume bool) ([]WindowState, Outcome) {
	next := make([]WindowState, len(limits))
	out := Outcome{Admitted: true, Windows: make([]WindowUsage, len(limits))}

	for i, l := range limits {
		start, end := l.Window.Bounds(now)
		s := states[i]
		if s.WindowStart.Before(start) {
			s = WindowState{Usage: 0, WindowStart: start}
		}
		next[i] = s
		out.Windows[i] = WindowUsage{Window: l.Window, Limit: l.Max, Used: s.Usage, ResetAt: end}
	}

	for i, l := range limits {
		if next[i].Usage >= l.Max {
			out.Admitted = false
			out.Rejected = l.Window
			return next, out
		}
	}

	if consume {
		for i := range next {
			next[i].Usage++
			out.Windows[i].Used = next[i].Usage
		}
	}
	return next, out
}
