// Package timewindow gates "only act now" and "catch up if missed" logic
// on tolerance-bounded local-time intervals.
package timewindow

import "time"

// Window is a local-time interval: [Hour:00, Hour:00+Tolerance).
type Window struct {
	Name      string
	Hour      int
	Tolerance time.Duration
}

type Result struct {
	Valid bool
	Name  string
}

// Check reports whether now falls inside one of the windows, evaluated in
// the given location. The location is always explicit; the ambient system
// timezone is never consulted.
func Check(now time.Time, loc *time.Location, windows []Window) Result {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	for _, w := range windows {
		start := time.Date(local.Year(), local.Month(), local.Day(), w.Hour, 0, 0, 0, loc)
		if !local.Before(start) && local.Before(start.Add(w.Tolerance)) {
			return Result{Valid: true, Name: w.Name}
		}
	}
	return Result{}
}
