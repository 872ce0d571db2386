package hub

import "time"

// WorkHours is the weekday window [Start, End) in Location during which
// routine notifications are posted. The zero value is disabled.
type WorkHours struct {
	Start    int
	End      int
	Location *time.Location
}

func (w WorkHours) enabled() bool {
	return w.Location != nil && w.Start < w.End
}

func weekday(t time.Time) bool {
	d := t.Weekday()
	return d != time.Saturday && d != time.Sunday
}

// NextStart returns the start of the next work period after t, or false
// when t already falls inside work hours or the window is disabled.
func (w WorkHours) NextStart(t time.Time) (time.Time, bool) {
	if !w.enabled() {
		return time.Time{}, false
	}
	local := t.In(w.Location)
	if weekday(local) && local.Hour() >= w.Start && local.Hour() < w.End {
		return time.Time{}, false
	}

	next := time.Date(local.Year(), local.Month(), local.Day(), w.Start, 0, 0, 0, w.Location)
	if !local.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for !weekday(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next, true
}
