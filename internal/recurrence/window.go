package recurrence

import "time"

// daysIn returns the number of days in t's month.
func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// firstOfMonth moves t to day 1 of its month, keeping the time of day.
func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// clampDay moves t to day-of-month day, or to the month's last day when the
// month is shorter.
func clampDay(t time.Time, day int) time.Time {
	if last := daysIn(t); day > last {
		day = last
	}
	return time.Date(t.Year(), t.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

// inRange reports whether t lies in [start, end].
func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// MonthRange returns the first and last instant of t's month.
func MonthRange(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	end := endOfDay(time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()))
	return start, end
}

// WeekRange returns the week containing t, beginning on weekStart.
func WeekRange(t time.Time, weekStart time.Weekday) (time.Time, time.Time) {
	offset := (int(t.Weekday()) - int(weekStart) + 7) % 7
	start := startOfDay(t).AddDate(0, 0, -offset)
	return start, endOfDay(start.AddDate(0, 0, 6))
}

// DayRange returns the first and last instant of t's day.
func DayRange(t time.Time) (time.Time, time.Time) {
	return startOfDay(t), endOfDay(t)
}
