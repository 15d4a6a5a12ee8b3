package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RecurrenceKind names the repeat rule of an EventTemplate.
type RecurrenceKind string

const (
	RecurrenceNone    RecurrenceKind = "none"
	RecurrenceDaily   RecurrenceKind = "daily"
	RecurrenceWeekly  RecurrenceKind = "weekly"
	RecurrenceMonthly RecurrenceKind = "monthly"
	RecurrenceCustom  RecurrenceKind = "custom"
)

// Frequency is the base unit of a custom recurrence.
type Frequency string

const (
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// CustomRecurrence refines a "custom" rule: every Interval weeks or months.
// Weekdays use time.Weekday numbering (Sunday = 0) and may be empty, in which
// case the anchor's weekday is used.
type CustomRecurrence struct {
	Frequency Frequency `json:"frequency" yaml:"frequency"`
	Interval  int       `json:"interval" yaml:"interval"`
	Weekdays  []int     `json:"weekdays" yaml:"weekdays"`
}

// EventTemplate is the stored, non-expanded event definition.
//
// Date anchors the rule: it is the first occurrence and supplies the
// reference weekday / day-of-month. Everything below Recurrence is opaque
// payload copied onto each occurrence.
type EventTemplate struct {
	ID               string            `json:"id"`
	Date             time.Time         `json:"date"`
	Recurrence       RecurrenceKind    `json:"recurrence"`
	CustomRecurrence *CustomRecurrence `json:"customRecurrence,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Color       string `json:"color,omitempty"`
	Reminder    string `json:"reminder,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// Occurrence represents a single concrete instance of a template
// (after recurrence expansion).
type Occurrence struct {
	EventTemplate

	// IsRecurring is false only for templates without a repeat rule.
	IsRecurring bool `json:"isRecurring"`
	// OriginalEventID references the template this instance was expanded from.
	OriginalEventID string `json:"originalEventId,omitempty"`
}

// Kind returns the template's rule, reading an empty value as none.
func (t EventTemplate) Kind() RecurrenceKind {
	if t.Recurrence == "" {
		return RecurrenceNone
	}
	return t.Recurrence
}

// Weekdays returns the explicit weekday set, or nil.
func (t EventTemplate) Weekdays() []int {
	if t.CustomRecurrence == nil {
		return nil
	}
	return t.CustomRecurrence.Weekdays
}

// Clone returns a copy that shares no slices or pointers with t.
func (t EventTemplate) Clone() EventTemplate {
	out := t
	if t.CustomRecurrence != nil {
		cr := *t.CustomRecurrence
		cr.Weekdays = append([]int(nil), t.CustomRecurrence.Weekdays...)
		out.CustomRecurrence = &cr
	}
	return out
}

// InstanceID builds the id of the occurrence of templateID at date.
func InstanceID(templateID string, date time.Time) string {
	return fmt.Sprintf("%s-%d", templateID, date.UnixMilli())
}

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrDateRequired    = errors.New("date is required")
	ErrUnknownKind     = errors.New("unknown recurrence")
	ErrInvalidInterval = errors.New("interval must be at least 1")
	ErrInvalidWeekday  = errors.New("weekday must be between 0 and 6")
	ErrInvalidFreq     = errors.New("custom frequency must be weekly or monthly")
)

// Validate performs the checks the event form applies before submitting.
// The recurrence engine never calls it.
func (t EventTemplate) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrTitleRequired
	}
	if t.Date.IsZero() {
		return ErrDateRequired
	}

	switch t.Kind() {
	case RecurrenceNone, RecurrenceDaily, RecurrenceMonthly:
	case RecurrenceWeekly:
		return validateWeekdays(t.Weekdays())
	case RecurrenceCustom:
		cr := t.CustomRecurrence
		if cr == nil {
			return ErrInvalidFreq
		}
		if cr.Frequency != FrequencyWeekly && cr.Frequency != FrequencyMonthly {
			return fmt.Errorf("%w: %q", ErrInvalidFreq, cr.Frequency)
		}
		if cr.Interval < 1 {
			return ErrInvalidInterval
		}
		return validateWeekdays(cr.Weekdays)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, t.Recurrence)
	}
	return nil
}

func validateWeekdays(days []int) error {
	for _, d := range days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, d)
		}
	}
	return nil
}
