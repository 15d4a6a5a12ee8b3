package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "calplanner/internal/log"
	"calplanner/internal/model"
	"calplanner/internal/recurrence"
	"calplanner/internal/store"
)

var errDuplicateID = errors.New("event id already exists")

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	list, err := s.load(r.Context())
	if err != nil {
		writeMutationError(w, "load event", err)
		return
	}
	tpl, _, ok := store.Find(list, id)
	if !ok {
		writeMutationError(w, "load event", fmt.Errorf("%w: %s", store.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// handleCreate stores a new template unless it clashes with an existing one.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var tpl model.EventTemplate
	if err := decodeJSON(r, &tpl); err != nil {
		writeMutationError(w, "create event", err)
		return
	}
	created, err := s.create(r.Context(), tpl)
	if err != nil {
		writeMutationError(w, "create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) create(ctx context.Context, tpl model.EventTemplate) (model.EventTemplate, error) {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.Recurrence == "" {
		tpl.Recurrence = model.RecurrenceNone
	}
	if err := tpl.Validate(); err != nil {
		return tpl, err
	}

	err := s.mutate(ctx, func(list []model.EventTemplate) ([]model.EventTemplate, error) {
		if _, _, ok := store.Find(list, tpl.ID); ok {
			return nil, fmt.Errorf("%w: %s", errDuplicateID, tpl.ID)
		}
		if err := s.checkConflict(tpl, list); err != nil {
			return nil, err
		}
		return append(list, tpl), nil
	})
	if err != nil {
		return tpl, err
	}
	appLog.Info("event created", "id", tpl.ID, "recurrence", tpl.Recurrence)
	return tpl, nil
}

// handleUpdate replaces the template {id}. The template is not checked
// against itself.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var tpl model.EventTemplate
	if err := decodeJSON(r, &tpl); err != nil {
		writeMutationError(w, "update event", err)
		return
	}
	tpl.ID = id
	if tpl.Recurrence == "" {
		tpl.Recurrence = model.RecurrenceNone
	}
	if err := tpl.Validate(); err != nil {
		writeMutationError(w, "update event", err)
		return
	}

	err := s.mutate(r.Context(), func(list []model.EventTemplate) ([]model.EventTemplate, error) {
		_, idx, ok := store.Find(list, id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		if err := s.checkConflict(tpl, without(list, id)); err != nil {
			return nil, err
		}
		list[idx] = tpl
		return list, nil
	})
	if err != nil {
		writeMutationError(w, "update event", err)
		return
	}
	appLog.Info("event updated", "id", id)
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.mutate(r.Context(), func(list []model.EventTemplate) ([]model.EventTemplate, error) {
		if _, _, ok := store.Find(list, id); !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return without(list, id), nil
	})
	if err != nil {
		writeMutationError(w, "delete event", err)
		return
	}
	appLog.Info("event deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// checkResponse is the JSON response shape for /api/events/check.
type checkResponse struct {
	Conflict bool         `json:"conflict"`
	Details  *conflictDTO `json:"details,omitempty"`
}

// handleCheck runs the conflict check for a template without saving it. A
// template with an id is not checked against its stored version.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var tpl model.EventTemplate
	if err := decodeJSON(r, &tpl); err != nil {
		writeMutationError(w, "check event", err)
		return
	}
	if tpl.Date.IsZero() {
		writeMutationError(w, "check event", model.ErrDateRequired)
		return
	}

	list, err := s.load(r.Context())
	if err != nil {
		writeMutationError(w, "check event", err)
		return
	}
	if tpl.ID != "" {
		list = without(list, tpl.ID)
	}

	var resp checkResponse
	var ce *conflictError
	if err := s.checkConflict(tpl, list); errors.As(err, &ce) {
		resp.Conflict = true
		resp.Details = &conflictDTO{Candidate: ce.conflict.Candidate, Existing: ce.conflict.Existing}
	}
	writeJSON(w, http.StatusOK, resp)
}

// quickRequest is the body of /api/events/quick.
type quickRequest struct {
	Text string `json:"text"`
}

// handleQuick creates a template from free text such as
// "Dentist tomorrow at 2:25 pm".
func (s *Server) handleQuick(w http.ResponseWriter, r *http.Request) {
	var req quickRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMutationError(w, "quick add", err)
		return
	}
	tpl, err := s.parser.Parse(req.Text, s.now())
	if err != nil {
		writeMutationError(w, "quick add", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	created, err := s.create(r.Context(), tpl)
	if err != nil {
		writeMutationError(w, "quick add", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// moveRequest is the body of /api/events/{id}/move.
type moveRequest struct {
	// OccurrenceID picks the dragged instance of a recurring template.
	OccurrenceID string `json:"occurrenceId,omitempty"`
	// Date is the target day; only its date part is used.
	Date string `json:"date"`
}

// handleMove drops an event on another day. A single event keeps its time
// of day and takes the new date. For a recurring template the series is
// left alone and a new single event is created for the dragged instance.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMutationError(w, "move event", err)
		return
	}
	target, err := parseTime(req.Date, s.loc)
	if err != nil {
		writeMutationError(w, "move event", err)
		return
	}

	var (
		result  model.EventTemplate
		created bool
	)
	err = s.mutate(r.Context(), func(list []model.EventTemplate) ([]model.EventTemplate, error) {
		tpl, idx, ok := store.Find(list, id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}

		if tpl.Kind() == model.RecurrenceNone {
			moved := tpl.Clone()
			moved.Date = onDay(target, tpl.Date, s.loc)
			if err := s.checkConflict(moved, without(list, id)); err != nil {
				return nil, err
			}
			list[idx] = moved
			result = moved
			return list, nil
		}

		clock := tpl.Date
		if req.OccurrenceID != "" {
			at, err := occurrenceTime(id, req.OccurrenceID)
			if err != nil {
				return nil, err
			}
			if !occursAt(tpl, at) {
				return nil, fmt.Errorf("%w: %q is not an occurrence of %q", errBadRequest, req.OccurrenceID, id)
			}
			clock = at
		}
		single := tpl.Clone()
		single.ID = uuid.NewString()
		single.Date = onDay(target, clock, s.loc)
		single.Recurrence = model.RecurrenceNone
		single.CustomRecurrence = nil
		if err := s.checkConflict(single, without(list, id)); err != nil {
			return nil, err
		}
		result, created = single, true
		return append(list, single), nil
	})
	if err != nil {
		writeMutationError(w, "move event", err)
		return
	}

	appLog.Info("event moved", "id", id, "result_id", result.ID, "date", result.Date)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// onDay returns day's calendar date with clock's time of day, both read in
// loc.
func onDay(day, clock time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	c := clock.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), c.Nanosecond(), loc)
}

// occursAt reports whether tpl has an occurrence at exactly t.
func occursAt(tpl model.EventTemplate, t time.Time) bool {
	for _, occ := range recurrence.Expand(tpl, t, t).Occurrences {
		if occ.Date.Equal(t) {
			return true
		}
	}
	return false
}

// occurrenceTime recovers the instant encoded in an occurrence id of the
// template templateID.
func occurrenceTime(templateID, occurrenceID string) (time.Time, error) {
	prefix := templateID + "-"
	if !strings.HasPrefix(occurrenceID, prefix) {
		return time.Time{}, fmt.Errorf("%w: occurrence %q does not belong to %q", errBadRequest, occurrenceID, templateID)
	}
	ms, err := strconv.ParseInt(strings.TrimPrefix(occurrenceID, prefix), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid occurrence id %q", errBadRequest, occurrenceID)
	}
	return time.UnixMilli(ms), nil
}
