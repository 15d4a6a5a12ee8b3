package web

import (
	"bytes"
	"io"
	"net/http"

	"calplanner/internal/ics"
	appLog "calplanner/internal/log"
	"calplanner/internal/model"
	"calplanner/internal/store"
)

// handleExport serves every template as an iCalendar file.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	list, err := s.load(r.Context())
	if err != nil {
		appLog.Error("load templates failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	var buf bytes.Buffer
	if err := ics.Export(&buf, list, s.now()); err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export events")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// importResponse is the JSON response shape for /api/import.
type importResponse struct {
	Imported []model.EventTemplate `json:"imported"`
	Skipped  []ics.Skipped         `json:"skipped"`
	Cached   bool                  `json:"cached,omitempty"`
}

// handleImport adds the events of an ICS payload. The payload is the request
// body, or the calendar at ?url=. Events that are already stored, invalid,
// or that clash with the calendar are skipped and reported.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		body []byte
		src  = ics.Source{ID: "upload"}
		resp = importResponse{Imported: []model.EventTemplate{}, Skipped: []ics.Skipped{}}
	)
	if u := r.URL.Query().Get("url"); u != "" {
		res, err := s.fetcher.Fetch(ctx, u)
		if err != nil {
			appLog.Error("ics import fetch failed", err)
			writeError(w, http.StatusBadGateway, "failed to fetch calendar: "+err.Error())
			return
		}
		body, src, resp.Cached = res.Body, res.Source, res.FromCache
	} else {
		data, err := io.ReadAll(io.LimitReader(r.Body, ics.MaxBodySize+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if len(data) > ics.MaxBodySize {
			writeError(w, http.StatusRequestEntityTooLarge, "calendar too large")
			return
		}
		body = data
	}

	parsed, err := ics.Parse(src, body, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid calendar: "+err.Error())
		return
	}
	resp.Skipped = append(resp.Skipped, parsed.Skipped...)

	err = s.mutate(ctx, func(list []model.EventTemplate) ([]model.EventTemplate, error) {
		for _, tpl := range parsed.Templates {
			skip := func(reason string) {
				resp.Skipped = append(resp.Skipped, ics.Skipped{UID: tpl.ID, Title: tpl.Title, Reason: reason})
			}
			if _, _, ok := store.Find(list, tpl.ID); ok {
				skip("already exists")
				continue
			}
			if err := tpl.Validate(); err != nil {
				skip(err.Error())
				continue
			}
			if err := s.checkConflict(tpl, list); err != nil {
				skip(err.Error())
				continue
			}
			list = append(list, tpl)
			resp.Imported = append(resp.Imported, tpl)
		}
		return list, nil
	})
	if err != nil {
		writeMutationError(w, "import events", err)
		return
	}

	appLog.Info("ics import completed", "source", src.ID,
		"imported", len(resp.Imported), "skipped", len(resp.Skipped))
	writeJSON(w, http.StatusOK, resp)
}
