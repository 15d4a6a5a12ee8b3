// Package natural turns quick-add text such as "Dentist tomorrow at 2:25 pm"
// or "Standup every day at 9:30 am" into an event template.
package natural

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	appLog "calplanner/internal/log"
	"calplanner/internal/model"
)

// ErrNoDate is returned when the text names no recognisable date or time.
var ErrNoDate = errors.New("no date found in text")

// ErrEmpty is returned for blank input.
var ErrEmpty = errors.New("text is empty")

// Parser wraps a when.Parser configured with the English and common rules.
type Parser struct {
	w   *when.Parser
	loc *time.Location
}

// New returns a Parser that resolves relative expressions in loc.
func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w, loc: loc}
}

var repeatPatterns = []struct {
	re    *regexp.Regexp
	apply func(m []string, tpl *model.EventTemplate)
}{
	{
		re: regexp.MustCompile(`(?i)\bevery\s+other\s+(week|month)\b`),
		apply: func(m []string, tpl *model.EventTemplate) {
			setCustom(tpl, m[1], 2)
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bevery\s+(\d+)\s+(weeks|months)\b`),
		apply: func(m []string, tpl *model.EventTemplate) {
			n, _ := strconv.Atoi(m[1])
			setCustom(tpl, strings.TrimSuffix(m[2], "s"), n)
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(every\s+day|daily)\b`),
		apply: func(_ []string, tpl *model.EventTemplate) {
			tpl.Recurrence = model.RecurrenceDaily
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(every\s+week|weekly)\b`),
		apply: func(_ []string, tpl *model.EventTemplate) {
			tpl.Recurrence = model.RecurrenceWeekly
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(every\s+month|monthly)\b`),
		apply: func(_ []string, tpl *model.EventTemplate) {
			tpl.Recurrence = model.RecurrenceMonthly
		},
	},
}

func setCustom(tpl *model.EventTemplate, unit string, interval int) {
	freq := model.FrequencyWeekly
	if strings.EqualFold(unit, "month") {
		freq = model.FrequencyMonthly
	}
	if interval == 1 {
		if freq == model.FrequencyWeekly {
			tpl.Recurrence = model.RecurrenceWeekly
		} else {
			tpl.Recurrence = model.RecurrenceMonthly
		}
		return
	}
	tpl.Recurrence = model.RecurrenceCustom
	tpl.CustomRecurrence = &model.CustomRecurrence{Frequency: freq, Interval: interval}
}

// connectors are dropped from the edges of the remaining title.
var connectors = map[string]bool{"at": true, "on": true, "in": true, "by": true, "for": true, "from": true}

// Parse extracts the date, an optional repeat phrase and the title from
// text. now is the reference for relative expressions. The returned
// template has no ID.
func (p *Parser) Parse(text string, now time.Time) (model.EventTemplate, error) {
	var tpl model.EventTemplate
	text = strings.TrimSpace(text)
	if text == "" {
		return tpl, ErrEmpty
	}

	tpl.Recurrence = model.RecurrenceNone
	for _, rp := range repeatPatterns {
		m := rp.re.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		groups := make([]string, 0, len(m)/2)
		for i := 0; i < len(m); i += 2 {
			if m[i] < 0 {
				groups = append(groups, "")
				continue
			}
			groups = append(groups, text[m[i]:m[i+1]])
		}
		rp.apply(groups, &tpl)
		text = text[:m[0]] + " " + text[m[1]:]
		break
	}

	res, err := p.w.Parse(text, now.In(p.loc))
	if err != nil {
		return tpl, err
	}
	if res == nil {
		return tpl, ErrNoDate
	}

	tpl.Date = res.Time.In(p.loc)
	rest := text
	if end := res.Index + len(res.Text); res.Index >= 0 && end <= len(text) {
		rest = text[:res.Index] + " " + text[end:]
	}
	tpl.Title = cleanTitle(rest)
	if tpl.Title == "" {
		tpl.Title = "(untitled)"
	}

	appLog.Debug("quick add parsed", "matched", res.Text, "date", tpl.Date, "recurrence", tpl.Recurrence)
	return tpl, nil
}

func cleanTitle(s string) string {
	words := strings.Fields(s)
	for len(words) > 0 && connectors[strings.ToLower(words[len(words)-1])] {
		words = words[:len(words)-1]
	}
	for len(words) > 0 && connectors[strings.ToLower(words[0])] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}
