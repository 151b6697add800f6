package availability

import "time"

// Window is a half-open [Start, End) span of bookable time.
type Window struct {
	Start time.Time
	End   time.Time
}

// SelectableSlots returns the start times within the window where a meeting of
// the given length fits without overlapping any busy interval. Slots whose
// start has already passed are skipped.
func SelectableSlots(window Window, duration, step time.Duration, busy []Window, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !window.End.After(window.Start) {
		return nil
	}
	if window.Start.Add(duration).After(window.End) {
		return nil
	}

	var slots []time.Time
	for t := window.Start; !t.Add(duration).After(window.End); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

// DayWindow builds the bookable window for a calendar day from wall-clock
// bounds like "09:00".."17:00", all in UTC.
func DayWindow(date string, startClock, endClock string) (Window, bool) {
	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return Window{}, false
	}
	start, err := time.Parse("15:04", startClock)
	if err != nil {
		return Window{}, false
	}
	end, err := time.Parse("15:04", endClock)
	if err != nil {
		return Window{}, false
	}
	w := Window{
		Start: time.Date(day.Year(), day.Month(), day.Day(), start.Hour(), start.Minute(), 0, 0, time.UTC),
		End:   time.Date(day.Year(), day.Month(), day.Day(), end.Hour(), end.Minute(), 0, 0, time.UTC),
	}
	if !w.End.After(w.Start) {
		return Window{}, false
	}
	return w, true
}

func overlapsAny(start, end time.Time, busy []Window) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
