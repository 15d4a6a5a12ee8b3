package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calplanner/internal/log"
	"calplanner/internal/model"
	"calplanner/internal/recurrence"
)

const productID = "-//calplanner//calplanner//EN"

// Non-standard properties for payload fields iCalendar has no slot for.
const (
	propPriority = ical.ComponentProperty("X-CALPLANNER-PRIORITY")
	propReminder = ical.ComponentProperty("X-CALPLANNER-REMINDER")
)

// Build renders templates as one VCALENDAR. Each template becomes a VEVENT
// lasting recurrence.OccurrenceDuration; recurring templates carry an RRULE.
// stamp is written as DTSTAMP.
func Build(templates []model.EventTemplate, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName("calplanner")

	for _, tpl := range templates {
		ev := cal.AddEvent(tpl.ID)
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(tpl.Date)
		ev.SetEndAt(tpl.Date.Add(recurrence.OccurrenceDuration))
		ev.SetSummary(tpl.Title)
		if tpl.Description != "" {
			ev.SetDescription(tpl.Description)
		}
		if tpl.Location != "" {
			ev.SetLocation(tpl.Location)
		}
		if tpl.Color != "" {
			ev.SetColor(tpl.Color)
		}
		if tpl.Priority != "" {
			ev.SetProperty(propPriority, tpl.Priority)
		}
		if tpl.Reminder != "" {
			ev.SetProperty(propReminder, tpl.Reminder)
		}

		if tpl.Kind() == model.RecurrenceNone {
			continue
		}
		rule, ok := recurrence.ToRRule(tpl)
		if !ok {
			appLog.Warn("ics export: recurrence not representable, exporting first occurrence only",
				"id", tpl.ID, "recurrence", tpl.Recurrence)
			continue
		}
		ev.AddRrule(rule)
	}
	return cal
}

// Export writes the calendar for templates to w.
func Export(w io.Writer, templates []model.EventTemplate, stamp time.Time) error {
	return Build(templates, stamp).SerializeTo(w)
}
