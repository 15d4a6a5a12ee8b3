package recurrence

import (
	"fmt"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	"calplanner/internal/model"
)

// rruleWeekdays maps time.Weekday numbering (Sunday = 0) onto rrule-go days.
var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ROption describes tpl's repeat rule as rrule-go options anchored at
// tpl.Date. ok is false for templates without a representable rule.
func ROption(tpl model.EventTemplate) (opt rrule.ROption, ok bool) {
	opt = rrule.ROption{Dtstart: tpl.Date}

	switch tpl.Kind() {
	case model.RecurrenceDaily:
		opt.Freq = rrule.DAILY
	case model.RecurrenceWeekly:
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = byWeekday(tpl)
	case model.RecurrenceMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday, opt.Bysetpos = byMonthday(tpl.Date.Day())
	case model.RecurrenceCustom:
		cr := tpl.CustomRecurrence
		if cr == nil {
			return opt, false
		}
		opt.Interval = cr.Interval
		if opt.Interval < 1 {
			opt.Interval = 1
		}
		switch cr.Frequency {
		case model.FrequencyWeekly:
			opt.Freq = rrule.WEEKLY
			opt.Wkst = rrule.SU
			opt.Byweekday = byWeekday(tpl)
		case model.FrequencyMonthly:
			opt.Freq = rrule.MONTHLY
			opt.Bymonthday, opt.Bysetpos = byMonthday(tpl.Date.Day())
		default:
			return opt, false
		}
	default:
		return opt, false
	}
	return opt, true
}

// ToRRule renders tpl's rule as an RFC 5545 RRULE value (without DTSTART).
func ToRRule(tpl model.EventTemplate) (string, bool) {
	opt, ok := ROption(tpl)
	if !ok {
		return "", false
	}
	return opt.RRuleString(), true
}

// FromRRule maps an RRULE value anchored at anchor (the event's DTSTART) back
// onto a recurrence kind. Rules whose dates would differ from what Expand
// produces for the result (yearly, every N days, bounded, extra BY* parts,
// a day of month other than the anchor's, ...) return an error.
func FromRRule(value string, anchor time.Time) (model.RecurrenceKind, *model.CustomRecurrence, error) {
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return "", nil, fmt.Errorf("parse RRULE %q: %w", value, err)
	}
	unsupported := func(why string) error {
		return fmt.Errorf("unsupported RRULE %q: %s", value, why)
	}

	if opt.Count != 0 || !opt.Until.IsZero() {
		return "", nil, unsupported("bounded by COUNT or UNTIL")
	}
	if len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 ||
		len(opt.Bymonth) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 ||
		len(opt.Byeaster) > 0 {
		return "", nil, unsupported("BY* part not supported")
	}

	interval := opt.Interval
	if interval < 1 {
		interval = 1
	}

	switch opt.Freq {
	case rrule.DAILY:
		if interval != 1 {
			return "", nil, unsupported("daily interval")
		}
		if len(opt.Byweekday) > 0 || len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 {
			return "", nil, unsupported("BY* part on a daily rule")
		}
		return model.RecurrenceDaily, nil, nil

	case rrule.WEEKLY:
		if len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 {
			return "", nil, unsupported("BYMONTHDAY or BYSETPOS on a weekly rule")
		}
		var weekdays []int
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return "", nil, unsupported("ordinal BYDAY on a weekly rule")
			}
			// rrule-go counts from Monday = 0.
			weekdays = append(weekdays, (wd.Day()+1)%7)
		}
		if interval == 1 {
			if len(weekdays) == 0 {
				return model.RecurrenceWeekly, nil, nil
			}
			return model.RecurrenceWeekly, &model.CustomRecurrence{
				Frequency: model.FrequencyWeekly,
				Interval:  1,
				Weekdays:  weekdays,
			}, nil
		}
		// Expand counts weeks from Sunday. Another week start only gives the
		// same dates when the rule fires on the anchor's weekday alone.
		if opt.Wkst != rrule.SU && !onlyWeekday(weekdays, anchor.Weekday()) {
			return "", nil, unsupported("week start other than SU")
		}
		return model.RecurrenceCustom, &model.CustomRecurrence{
			Frequency: model.FrequencyWeekly,
			Interval:  interval,
			Weekdays:  weekdays,
		}, nil

	case rrule.MONTHLY:
		if len(opt.Byweekday) > 0 {
			return "", nil, unsupported("BYDAY on a monthly rule")
		}
		if !isAnchorMonthday(opt.Bymonthday, opt.Bysetpos, anchor.Day()) {
			return "", nil, unsupported("day of month differs from DTSTART")
		}
		if interval == 1 {
			return model.RecurrenceMonthly, nil, nil
		}
		return model.RecurrenceCustom, &model.CustomRecurrence{
			Frequency: model.FrequencyMonthly,
			Interval:  interval,
		}, nil
	}
	return "", nil, unsupported("frequency")
}

// onlyWeekday reports whether days is empty or names only wd.
func onlyWeekday(days []int, wd time.Weekday) bool {
	for _, d := range days {
		if d != int(wd) {
			return false
		}
	}
	return true
}

// isAnchorMonthday reports whether the BYMONTHDAY/BYSETPOS pair picks the
// anchor day clamped to the month's end, the way Expand does. An empty
// BYMONTHDAY means the anchor day, which every month only has up to the 28th.
func isAnchorMonthday(monthdays, setpos []int, day int) bool {
	if len(monthdays) == 0 {
		return len(setpos) == 0 && day <= 28
	}
	wantDays, wantPos := byMonthday(day)
	return slices.Equal(monthdays, wantDays) && slices.Equal(setpos, wantPos)
}

func byWeekday(tpl model.EventTemplate) []rrule.Weekday {
	set := weekdaySet(tpl.Weekdays(), tpl.Date.Weekday())
	out := make([]rrule.Weekday, 0, 7)
	for d, on := range set {
		if on {
			out = append(out, rruleWeekdays[d])
		}
	}
	return out
}

// byMonthday expresses "day d, or the month's last day when shorter". Days
// up to 28 exist in every month; later days pick the last of 28..d that the
// month has.
func byMonthday(d int) ([]int, []int) {
	if d <= 28 {
		return []int{d}, nil
	}
	days := make([]int, 0, d-27)
	for i := 28; i <= d; i++ {
		days = append(days, i)
	}
	return days, []int{-1}
}
