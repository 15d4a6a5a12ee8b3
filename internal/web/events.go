package web

import (
	"net/http"
	"time"

	appLog "calplanner/internal/log"
	"calplanner/internal/model"
	"calplanner/internal/recurrence"
)

// eventsResponse is the JSON response shape for the range views.
type eventsResponse struct {
	Occurrences  []model.Occurrence `json:"occurrences"`
	TruncatedIDs []string           `json:"truncated_ids,omitempty"`
	RangeStart   time.Time          `json:"range_start"`
	RangeEnd     time.Time          `json:"range_end"`
	TimeZone     string             `json:"timezone"`
}

// monthResponse is the JSON response shape for /api/events/month.
type monthResponse struct {
	Month     string           `json:"month"`
	WeekStart string           `json:"week_start"`
	Days      []recurrence.Day `json:"days"`
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.load(r.Context())
	if err != nil {
		appLog.Error("load templates failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleEvents expands every template over [start, end].
//
// GET /api/events?start=2024-01-01&end=2024-01-31
//   - start/end: RFC 3339 or YYYY-MM-DD; a bare end date covers the whole day.
//   - both default to the current month.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := recurrence.MonthRange(s.now().In(s.loc))

	if v := q.Get("start"); v != "" {
		t, err := parseTime(v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := parseTime(v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(v) == len("2006-01-02") {
			_, t = recurrence.DayRange(t)
		}
		end = t
	}
	s.writeRange(w, r, start, end)
}

// handleWeek returns the week containing ?date= (default today), starting on
// the configured week_start.
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	anchor, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	start, end := recurrence.WeekRange(anchor, s.cfg.WeekStartDay())
	s.writeRange(w, r, start, end)
}

// handleDay returns the day ?date= (default today).
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	anchor, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	start, end := recurrence.DayRange(anchor)
	s.writeRange(w, r, start, end)
}

// handleMonth returns one entry per day of the month ?date=YYYY-MM.
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	anchor, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	list, err := s.load(r.Context())
	if err != nil {
		appLog.Error("load templates failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	days := recurrence.MonthGrid(list, anchor, s.expandFunc())
	writeJSON(w, http.StatusOK, monthResponse{
		Month:     anchor.Format("2006-01"),
		WeekStart: s.cfg.WeekStart,
		Days:      days,
	})
}

func (s *Server) dateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return s.now().In(s.loc), true
	}
	t, err := parseTime(v, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return time.Time{}, false
	}
	return t, true
}

func (s *Server) writeRange(w http.ResponseWriter, r *http.Request, start, end time.Time) {
	list, err := s.load(r.Context())
	if err != nil {
		appLog.Error("load templates failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	res := recurrence.ExpandAll(list, start, end, s.expandFunc())
	res.Occurrences = within(res.Occurrences, start, end)
	s.metrics.ObserveExpansion(len(list), res)

	appLog.Debug("api events request",
		"range_start", start.Format(time.RFC3339),
		"range_end", end.Format(time.RFC3339),
		"templates", len(list),
		"occurrences", len(res.Occurrences),
	)
	writeJSON(w, http.StatusOK, eventsResponse{
		Occurrences:  res.Occurrences,
		TruncatedIDs: res.TruncatedIDs,
		RangeStart:   start,
		RangeEnd:     end,
		TimeZone:     s.loc.String(),
	})
}

// within keeps the occurrences dated in [start, end]. Expand returns a
// single event whatever the range, so views filter here.
func within(occs []model.Occurrence, start, end time.Time) []model.Occurrence {
	out := occs[:0]
	for _, occ := range occs {
		if occ.Date.Before(start) || occ.Date.After(end) {
			continue
		}
		out = append(out, occ)
	}
	return out
}
