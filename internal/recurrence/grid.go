package recurrence

import (
	"time"

	"calplanner/internal/model"
)

// Day is one cell of a month grid.
type Day struct {
	Date        time.Time          `json:"date"`
	Occurrences []model.Occurrence `json:"occurrences"`
}

// MonthGrid buckets the occurrences of templates by calendar day for every
// day of month's month. Expansion covers the month itself, so the cap applies
// per month and a daily series is never cut short inside it.
func MonthGrid(templates []model.EventTemplate, month time.Time, expand ExpandFunc) []Day {
	monthStart, monthEnd := MonthRange(month)
	all := ExpandAll(templates, monthStart, monthEnd, expand).Occurrences

	days := make([]Day, 0, daysIn(monthStart))
	for d := monthStart; !d.After(monthEnd); d = d.AddDate(0, 0, 1) {
		day := Day{Date: d, Occurrences: make([]model.Occurrence, 0)}
		for _, occ := range all {
			if sameDay(occ.Date.In(d.Location()), d) {
				day.Occurrences = append(day.Occurrences, occ)
			}
		}
		days = append(days, day)
	}
	return days
}
