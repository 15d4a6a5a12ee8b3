package recurrence

import (
	"sort"
	"time"

	appLog "calplanner/internal/log"
	"calplanner/internal/model"
)

// MaxOccurrences bounds a single Expand call.
const MaxOccurrences = 100

// ExpandResult wraps the occurrences of one template and how the walk ended.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// Truncated is set when more in-range occurrences existed past the cap.
	Truncated bool
	// Unknown is set when the rule could not be interpreted; Occurrences
	// holds whatever was produced before that point.
	Unknown bool
}

// Expand turns tpl into its concrete occurrences within [rangeStart,
// rangeEnd], in ascending order and capped at MaxOccurrences.
//
// A template without a repeat rule yields itself, regardless of the range.
func Expand(tpl model.EventTemplate, rangeStart, rangeEnd time.Time) ExpandResult {
	if rangeStart.After(rangeEnd) {
		return ExpandResult{Occurrences: []model.Occurrence{}}
	}

	if tpl.Kind() == model.RecurrenceNone {
		return ExpandResult{Occurrences: []model.Occurrence{{EventTemplate: tpl}}}
	}

	w := walker{
		tpl:        tpl,
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
		out:        make([]model.Occurrence, 0),
	}
	w.run()

	if w.truncated {
		appLog.Warn("recurrence: maximum number of occurrences reached",
			"id", tpl.ID,
			"cap", MaxOccurrences,
			"range_start", rangeStart.Format(time.RFC3339),
			"range_end", rangeEnd.Format(time.RFC3339),
		)
	}
	if w.unknown {
		appLog.Debug("recurrence: unrecognized rule, returning partial expansion",
			"id", tpl.ID,
			"recurrence", string(tpl.Recurrence),
			"emitted", len(w.out),
		)
	}

	return ExpandResult{
		Occurrences: w.out,
		Truncated:   w.truncated,
		Unknown:     w.unknown,
	}
}

// walker holds the state of one expansion. The emitted counter lives here
// rather than in any shared place, so concurrent Expand calls never interact.
type walker struct {
	tpl        model.EventTemplate
	rangeStart time.Time
	rangeEnd   time.Time

	out       []model.Occurrence
	truncated bool
	unknown   bool
}

func (w *walker) done() bool {
	return w.truncated || w.unknown
}

// emit appends an occurrence at date when it lies in range. A 101st in-range
// date marks the walk truncated instead.
func (w *walker) emit(date time.Time) {
	if !inRange(date, w.rangeStart, w.rangeEnd) {
		return
	}
	if len(w.out) >= MaxOccurrences {
		w.truncated = true
		return
	}

	occ := model.Occurrence{
		EventTemplate:   w.tpl,
		IsRecurring:     true,
		OriginalEventID: w.tpl.ID,
	}
	occ.ID = model.InstanceID(w.tpl.ID, date)
	occ.Date = date
	w.out = append(w.out, occ)
}

func (w *walker) run() {
	anchor := w.tpl.Date
	anchorDay := anchor.Day()
	weekdays := weekdaySet(w.tpl.Weekdays(), anchor.Weekday())

	cursor := anchor
	for !cursor.After(w.rangeEnd) && !w.done() {
		switch w.tpl.Kind() {
		case model.RecurrenceDaily:
			w.emit(cursor)
			cursor = cursor.AddDate(0, 0, 1)

		case model.RecurrenceWeekly:
			if weekdays[cursor.Weekday()] {
				w.emit(cursor)
			}
			cursor = cursor.AddDate(0, 0, 1)

		case model.RecurrenceMonthly:
			cursor = w.monthStep(cursor, anchorDay, 1)

		case model.RecurrenceCustom:
			cr := w.tpl.CustomRecurrence
			if cr == nil {
				w.unknown = true
				continue
			}
			interval := cr.Interval
			if interval < 1 {
				interval = 1
			}

			switch cr.Frequency {
			case model.FrequencyWeekly:
				if weekdays[cursor.Weekday()] {
					w.emit(cursor)
				}
				// End of week: jump over the weeks the interval leaves out.
				if cursor.Weekday() == time.Saturday {
					cursor = cursor.AddDate(0, 0, 7*(interval-1))
				}
				cursor = cursor.AddDate(0, 0, 1)
			case model.FrequencyMonthly:
				cursor = w.monthStep(cursor, anchorDay, interval)
			default:
				w.unknown = true
			}

		default:
			w.unknown = true
		}
	}
}

// monthStep emits the clamped target day of cursor's month and returns the
// first day of the month step months later.
func (w *walker) monthStep(cursor time.Time, anchorDay, step int) time.Time {
	target := clampDay(cursor, anchorDay)
	if sameMonth(cursor, target) {
		w.emit(target)
	}
	return firstOfMonth(cursor).AddDate(0, step, 0)
}

// weekdaySet returns the days a weekly walk includes. An empty explicit set
// falls back to the anchor's weekday; out-of-range values are ignored.
func weekdaySet(days []int, anchor time.Weekday) [7]bool {
	var set [7]bool
	found := false
	for _, d := range days {
		if d >= 0 && d <= 6 {
			set[d] = true
			found = true
		}
	}
	if !found {
		set[anchor] = true
	}
	return set
}

// ExpandAllResult is the merged expansion of several templates.
type ExpandAllResult struct {
	Occurrences []model.Occurrence
	// TruncatedIDs records templates that hit the per-call cap.
	TruncatedIDs []string
}

// ExpandAll expands every template over the same range using expand (Expand
// when nil) and returns the occurrences sorted by date.
func ExpandAll(templates []model.EventTemplate, rangeStart, rangeEnd time.Time, expand ExpandFunc) ExpandAllResult {
	if expand == nil {
		expand = Expand
	}

	result := ExpandAllResult{Occurrences: make([]model.Occurrence, 0)}
	for _, tpl := range templates {
		res := expand(tpl, rangeStart, rangeEnd)
		if res.Truncated {
			result.TruncatedIDs = append(result.TruncatedIDs, tpl.ID)
		}
		result.Occurrences = append(result.Occurrences, res.Occurrences...)
	}

	sort.SliceStable(result.Occurrences, func(i, j int) bool {
		return result.Occurrences[i].Date.Before(result.Occurrences[j].Date)
	})
	return result
}

// ExpandFunc matches Expand; Cache.Expand satisfies it too.
type ExpandFunc func(tpl model.EventTemplate, rangeStart, rangeEnd time.Time) ExpandResult
