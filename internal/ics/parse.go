package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "calplanner/internal/log"
	"calplanner/internal/model"
	"calplanner/internal/recurrence"
)

// Source identifies where an ICS payload came from, for logging.
type Source struct {
	// ID is a short label, e.g. "upload" or "url".
	ID string
	// URL is the ICS endpoint, empty for uploaded bodies.
	URL string
}

// Skipped records a VEVENT that could not be turned into a template.
type Skipped struct {
	UID    string `json:"uid"`
	Title  string `json:"title,omitempty"`
	Reason string `json:"reason"`
}

// ParseResult is the outcome of Parse.
type ParseResult struct {
	Templates []model.EventTemplate
	Skipped   []Skipped
}

// Parse turns an ICS payload into event templates.
//
//   - DTSTART drives the template date. Floating and all-day values are read
//     as wall-clock times in loc.
//   - RRULE is mapped back onto the supported recurrence kinds. Rules with no
//     equivalent (yearly, every N days, COUNT-limited series...) are skipped.
//   - RECURRENCE-ID overrides are skipped; templates carry no exceptions.
//   - Events without a UID get a fresh one.
func Parse(src Source, body []byte, loc *time.Location) (ParseResult, error) {
	var out ParseResult
	if len(body) == 0 {
		return out, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "source", src.ID, "url", redactURL(src.URL))
		return out, err
	}

	for _, ve := range cal.Events() {
		tpl, reason := parseVEvent(ve, loc)
		if reason != "" {
			out.Skipped = append(out.Skipped, Skipped{UID: tpl.ID, Title: tpl.Title, Reason: reason})
			appLog.Debug("ics vevent skipped", "source", src.ID, "uid", tpl.ID, "reason", reason)
			continue
		}
		out.Templates = append(out.Templates, tpl)
	}

	appLog.Info("ics parse completed", "source", src.ID, "url", redactURL(src.URL),
		"event_count", len(out.Templates), "skipped", len(out.Skipped))
	return out, nil
}

// parseVEvent returns the template and, when it cannot be imported, a reason.
func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.EventTemplate, string) {
	var tpl model.EventTemplate

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil && p.Value != "" {
		tpl.ID = p.Value
	} else {
		tpl.ID = uuid.NewString()
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		tpl.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		tpl.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		tpl.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyColor); p != nil {
		tpl.Color = p.Value
	}
	if p := ve.GetProperty(propPriority); p != nil {
		tpl.Priority = p.Value
	}
	if p := ve.GetProperty(propReminder); p != nil {
		tpl.Reminder = p.Value
	}

	if ve.GetProperty(ical.ComponentPropertyRecurrenceId) != nil {
		return tpl, "recurrence override"
	}

	start, err := startTime(ve, loc)
	if err != nil {
		return tpl, "invalid DTSTART: " + err.Error()
	}
	tpl.Date = start

	tpl.Recurrence = model.RecurrenceNone
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		if hasBound(p.Value) {
			return tpl, "bounded RRULE not supported"
		}
		kind, custom, err := recurrence.FromRRule(p.Value, start)
		if err != nil {
			return tpl, err.Error()
		}
		tpl.Recurrence = kind
		tpl.CustomRecurrence = custom
	}

	if strings.TrimSpace(tpl.Title) == "" {
		tpl.Title = "(untitled)"
	}
	return tpl, ""
}

// startTime reads DTSTART. Values carrying Z or a TZID are absolute; anything
// else is a wall-clock time placed in loc.
func startTime(ve *ical.VEvent, loc *time.Location) (time.Time, error) {
	prop := ve.GetProperty(ical.ComponentPropertyDtStart)
	if prop == nil {
		return time.Time{}, errors.New("missing DTSTART")
	}

	t, err := ve.GetStartAt()
	if err != nil {
		return time.Time{}, err
	}

	_, hasTZ := prop.ICalParameters["TZID"]
	if hasTZ || strings.HasSuffix(prop.Value, "Z") {
		return t, nil
	}
	// Floating or all-day: keep the wall clock, move it into loc.
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}

// hasBound reports whether an RRULE ends by COUNT or UNTIL. Templates repeat
// forever, so importing those would invent occurrences.
func hasBound(rule string) bool {
	upper := strings.ToUpper(rule)
	return strings.Contains(upper, "COUNT=") || strings.Contains(upper, "UNTIL=")
}
