package schedule

import "time"

// Entry is one parsed crontab line.
//
// The five membership arrays are conjunctive: the entry runs in a given
// minute iff every array contains the corresponding component of the
// current time. Day and month are stored 0-based (index = value - 1).
type Entry struct {
	Command string
	Stdin   []byte // command stdin payload; nil when the line had no unescaped '%'

	Minute  [60]bool
	Hour    [24]bool
	Day     [31]bool // index 0 = day 1
	Month   [12]bool // index 0 = January
	Weekday [7]bool  // index 0 = Sunday
}

// Matches reports whether the entry should run at t.
func (e *Entry) Matches(t time.Time) bool {
	return e.Weekday[t.Weekday()] &&
		e.Month[int(t.Month())-1] &&
		e.Day[t.Day()-1] &&
		e.Hour[t.Hour()] &&
		e.Minute[t.Minute()]
}
