package analytics

import "time"

const isoDay = "2006-01-02"

// Window is an inclusive time range covering whole local calendar days.
type Window struct {
	Start time.Time
	End   time.Time
}

// DayWindow spans from the start of from's day to the last instant of to's
// day, both in from's location.
func DayWindow(from time.Time, to time.Time) Window {
	loc := from.Location()
	to = to.In(loc)
	if to.Before(from) {
		from, to = to, from
	}
	return Window{Start: startOfDay(from), End: endOfDay(to)}
}

// TrailingDays returns the window of n calendar days ending with now's day.
func TrailingDays(now time.Time, n int) Window {
	if n < 1 {
		n = 1
	}
	return DayWindow(now.AddDate(0, 0, -(n - 1)), now)
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ClampDays keeps at most the last n calendar days of w.
func (w Window) ClampDays(n int) Window {
	if n < 1 {
		n = 1
	}
	earliest := startOfDay(w.End.AddDate(0, 0, -(n - 1)))
	if w.Start.Before(earliest) {
		w.Start = earliest
	}
	return w
}

// LastDay is the window covering only the final calendar day of w.
func (w Window) LastDay() Window {
	return Window{Start: startOfDay(w.End), End: w.End}
}

// Days lists every calendar day in the window as ISO dates, oldest first.
func (w Window) Days() []string {
	days := make([]string, 0, 32)
	last := w.End.Format(isoDay)
	day := startOfDay(w.Start)
	for {
		key := day.Format(isoDay)
		days = append(days, key)
		if key >= last {
			return days
		}
		day = day.AddDate(0, 0, 1)
	}
}

func (w Window) FromDay() string {
	return w.Start.Format(isoDay)
}

func (w Window) ToDay() string {
	return w.End.Format(isoDay)
}

// DayKey is the ISO calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(isoDay)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// ParseDay accepts a YYYY-MM-DD date or an RFC3339 timestamp, interpreted in
// loc when no offset is given.
func ParseDay(raw string, loc *time.Location) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(isoDay, raw, loc); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc), true
	}
	return time.Time{}, false
}
