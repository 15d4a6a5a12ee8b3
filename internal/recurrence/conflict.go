package recurrence

import (
	"time"

	"calplanner/internal/model"
)

// OccurrenceDuration is the length every occurrence is given when checking
// for conflicts.
const OccurrenceDuration = time.Hour

// Lookahead returns the end of the conflict window that starts at t.
func Lookahead(t time.Time) time.Time {
	return t.AddDate(1, 0, 0)
}

// Conflict names the first clashing pair found by FindConflict.
type Conflict struct {
	Candidate model.Occurrence
	Existing  model.Occurrence
}

// Detector checks candidates against existing templates. The zero value
// expands without caching.
type Detector struct {
	Cache *Cache
}

// Conflicts reports whether any occurrence of candidate overlaps any
// occurrence of existing within a year of the candidate's start.
func Conflicts(candidate model.EventTemplate, existing []model.EventTemplate) bool {
	return Detector{}.Conflicts(candidate, existing)
}

// FindConflict is Conflicts, returning the clashing pair.
func FindConflict(candidate model.EventTemplate, existing []model.EventTemplate) (Conflict, bool) {
	return Detector{}.FindConflict(candidate, existing)
}

func (d Detector) Conflicts(candidate model.EventTemplate, existing []model.EventTemplate) bool {
	_, ok := d.FindConflict(candidate, existing)
	return ok
}

func (d Detector) FindConflict(candidate model.EventTemplate, existing []model.EventTemplate) (Conflict, bool) {
	if len(existing) == 0 {
		return Conflict{}, false
	}

	windowStart := candidate.Date
	windowEnd := Lookahead(windowStart)

	candidates := d.expand(candidate, windowStart, windowEnd).Occurrences
	if len(candidates) == 0 {
		return Conflict{}, false
	}

	others := ExpandAll(existing, windowStart, windowEnd, d.expand).Occurrences

	for _, c := range candidates {
		cStart, cEnd := c.Date, c.Date.Add(OccurrenceDuration)
		for _, o := range others {
			if overlaps(cStart, cEnd, o.Date, o.Date.Add(OccurrenceDuration)) {
				return Conflict{Candidate: c, Existing: o}, true
			}
		}
	}
	return Conflict{}, false
}

func (d Detector) expand(tpl model.EventTemplate, rangeStart, rangeEnd time.Time) ExpandResult {
	if d.Cache != nil {
		return d.Cache.Expand(tpl, rangeStart, rangeEnd)
	}
	return Expand(tpl, rangeStart, rangeEnd)
}

// overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Intervals that only touch do not overlap.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
