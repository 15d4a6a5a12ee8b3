package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calplanner/internal/config"
	"calplanner/internal/metrics"
	"calplanner/internal/model"
	"calplanner/internal/recurrence"
	"calplanner/internal/store"
)

var fixedNow = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

type testEnv struct {
	srv   *Server
	h     http.Handler
	store store.Gateway
}

func newTestEnv(t *testing.T, cfg *config.Config, seed ...model.EventTemplate) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.ICSCacheDir = t.TempDir()

	st := store.NewFileStore(filepath.Join(t.TempDir(), "events.json"))
	if len(seed) > 0 {
		require.NoError(t, st.Save(context.Background(), seed))
	}
	cache := recurrence.NewCache(recurrence.DefaultCacheConfig)
	t.Cleanup(cache.Close)

	srv := NewServer(Options{
		Config:  cfg,
		Store:   st,
		Cache:   cache,
		Metrics: metrics.New(),
		Now:     func() time.Time { return fixedNow },
	})
	return &testEnv{srv: srv, h: srv.Handler(), store: st}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func (e *testEnv) stored(t *testing.T) []model.EventTemplate {
	t.Helper()
	list, err := e.store.Load(context.Background())
	require.NoError(t, err)
	return list
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func single(id, title string, at time.Time) model.EventTemplate {
	return model.EventTemplate{ID: id, Title: title, Date: at, Recurrence: model.RecurrenceNone}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCreate(t *testing.T) {
	env := newTestEnv(t, nil, single("a", "Standup", utc(2024, 1, 10, 10, 0)))

	t.Run("assigns id", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/events", `{"title":"Lunch","date":"2024-01-10T12:00:00Z"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		got := decode[model.EventTemplate](t, rec)
		assert.Len(t, got.ID, 36)
		assert.Equal(t, model.RecurrenceNone, got.Recurrence)
		assert.Len(t, env.stored(t), 2)
	})

	t.Run("touching is allowed", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/events", `{"id":"b","title":"Review","date":"2024-01-10T11:00:00Z"}`)
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("overlap is rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/events", `{"title":"Clash","date":"2024-01-10T10:30:00Z"}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		body := decode[map[string]any](t, rec)
		conflict := body["conflict"].(map[string]any)
		existing := conflict["existing"].(map[string]any)
		assert.Equal(t, "Standup", existing["title"])
	})

	t.Run("recurring candidate clashes later", func(t *testing.T) {
		body := `{"title":"Daily","date":"2024-01-08T10:15:00Z","recurrence":"daily"}`
		rec := env.do(t, http.MethodPost, "/api/events", body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/events", `{"title":" ","date":"2024-01-10T15:00:00Z"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/events",
			`{"title":"x","date":"2024-01-10T15:00:00Z","recurrence":"custom","customRecurrence":{"frequency":"weekly","interval":0}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/events", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate id", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/events", `{"id":"a","title":"Again","date":"2024-03-01T10:00:00Z"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t, nil,
		single("a", "Standup", utc(2024, 1, 10, 10, 0)),
		single("b", "Review", utc(2024, 1, 10, 14, 0)),
	)

	rec := env.do(t, http.MethodPut, "/api/events/a", `{"title":"Standup","date":"2024-01-10T10:30:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tpl, _, ok := store.Find(env.stored(t), "a")
	require.True(t, ok)
	assert.True(t, utc(2024, 1, 10, 10, 30).Equal(tpl.Date))

	rec = env.do(t, http.MethodPut, "/api/events/a", `{"title":"Standup","date":"2024-01-10T13:30:00Z"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/events/missing", `{"title":"x","date":"2024-05-10T13:30:00Z"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAndDelete(t *testing.T) {
	env := newTestEnv(t, nil, single("a", "Standup", utc(2024, 1, 10, 10, 0)))

	rec := env.do(t, http.MethodGet, "/api/events/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Standup", decode[model.EventTemplate](t, rec).Title)

	rec = env.do(t, http.MethodDelete, "/api/events/a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, env.stored(t))

	rec = env.do(t, http.MethodDelete, "/api/events/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/events/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEvents(t *testing.T) {
	daily := model.EventTemplate{ID: "d", Title: "Walk", Date: utc(2024, 1, 1, 7, 0), Recurrence: model.RecurrenceDaily}
	env := newTestEnv(t, nil, daily, single("s", "Dentist", utc(2024, 1, 3, 9, 0)))

	rec := env.do(t, http.MethodGet, "/api/events?start=2024-01-01&end=2024-01-07", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[eventsResponse](t, rec)
	require.Len(t, resp.Occurrences, 8)
	assert.Empty(t, resp.TruncatedIDs)
	for i := 1; i < len(resp.Occurrences); i++ {
		assert.False(t, resp.Occurrences[i].Date.Before(resp.Occurrences[i-1].Date))
	}
	assert.Equal(t, "d", resp.Occurrences[0].OriginalEventID)
	assert.Equal(t, model.InstanceID("d", utc(2024, 1, 1, 7, 0)), resp.Occurrences[0].ID)
	assert.True(t, resp.Occurrences[0].IsRecurring)

	rec = env.do(t, http.MethodGet, "/api/events?start=2024-01-01&end=2024-12-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[eventsResponse](t, rec)
	assert.Equal(t, []string{"d"}, resp.TruncatedIDs)
	assert.Len(t, resp.Occurrences, recurrence.MaxOccurrences+1)

	rec = env.do(t, http.MethodGet, "/api/events?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRangeViews_ExcludeSingleEventsOutsideRange(t *testing.T) {
	env := newTestEnv(t, nil,
		single("s", "Dentist", utc(2024, 3, 20, 9, 0)),
		single("in", "Standup", utc(2024, 1, 8, 10, 0)),
	)

	rec := env.do(t, http.MethodGet, "/api/events/day?date=2024-01-08", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[eventsResponse](t, rec)
	require.Len(t, resp.Occurrences, 1)
	assert.Equal(t, "in", resp.Occurrences[0].ID)

	rec = env.do(t, http.MethodGet, "/api/events/week?date=2024-03-05", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[eventsResponse](t, rec).Occurrences)

	rec = env.do(t, http.MethodGet, "/api/events?start=2025-06-01&end=2025-06-07", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[eventsResponse](t, rec).Occurrences)

	rec = env.do(t, http.MethodGet, "/api/events?start=2024-03-01&end=2024-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[eventsResponse](t, rec)
	require.Len(t, resp.Occurrences, 1)
	assert.Equal(t, "s", resp.Occurrences[0].ID)
}

func TestViews(t *testing.T) {
	weekly := model.EventTemplate{ID: "w", Title: "Gym", Date: utc(2024, 1, 1, 18, 0), Recurrence: model.RecurrenceWeekly}
	env := newTestEnv(t, nil, weekly)

	rec := env.do(t, http.MethodGet, "/api/events/month?date=2024-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	month := decode[monthResponse](t, rec)
	assert.Equal(t, "2024-02", month.Month)
	require.Len(t, month.Days, 29)
	var mondays int
	for _, d := range month.Days {
		mondays += len(d.Occurrences)
	}
	assert.Equal(t, 4, mondays)

	rec = env.do(t, http.MethodGet, "/api/events/week?date=2024-01-03", "")
	require.Equal(t, http.StatusOK, rec.Code)
	week := decode[eventsResponse](t, rec)
	assert.True(t, utc(2023, 12, 31, 0, 0).Equal(week.RangeStart))
	assert.Len(t, week.Occurrences, 1)

	rec = env.do(t, http.MethodGet, "/api/events/day?date=2024-01-08", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[eventsResponse](t, rec).Occurrences, 1)

	rec = env.do(t, http.MethodGet, "/api/events/day?date=2024-01-09", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[eventsResponse](t, rec).Occurrences)

	rec = env.do(t, http.MethodGet, "/api/events/day?date=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWeekView_MondayStart(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WeekStart = "monday"
	env := newTestEnv(t, cfg)

	rec := env.do(t, http.MethodGet, "/api/events/week?date=2024-01-07", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, utc(2024, 1, 1, 0, 0).Equal(decode[eventsResponse](t, rec).RangeStart))
}

func TestMove_Single(t *testing.T) {
	env := newTestEnv(t, nil, single("a", "Dentist", utc(2024, 1, 10, 9, 15)))

	rec := env.do(t, http.MethodPost, "/api/events/a/move", `{"date":"2024-01-12"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[model.EventTemplate](t, rec)
	assert.Equal(t, "a", moved.ID)
	assert.True(t, utc(2024, 1, 12, 9, 15).Equal(moved.Date))

	list := env.stored(t)
	require.Len(t, list, 1)
	assert.True(t, utc(2024, 1, 12, 9, 15).Equal(list[0].Date))
}

func TestMove_RecurringCreatesSingle(t *testing.T) {
	series := model.EventTemplate{ID: "gym", Title: "Gym", Date: utc(2024, 1, 1, 9, 0), Recurrence: model.RecurrenceWeekly}
	env := newTestEnv(t, nil, series)

	occ := model.InstanceID("gym", utc(2024, 1, 8, 9, 0))
	rec := env.do(t, http.MethodPost, "/api/events/gym/move", fmt.Sprintf(`{"occurrenceId":%q,"date":"2024-01-10"}`, occ))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.EventTemplate](t, rec)
	assert.NotEqual(t, "gym", created.ID)
	assert.Equal(t, model.RecurrenceNone, created.Recurrence)
	assert.Nil(t, created.CustomRecurrence)
	assert.True(t, utc(2024, 1, 10, 9, 0).Equal(created.Date))

	list := env.stored(t)
	require.Len(t, list, 2)
	tpl, _, ok := store.Find(list, "gym")
	require.True(t, ok)
	assert.Equal(t, series.Recurrence, tpl.Recurrence)

	rec = env.do(t, http.MethodPost, "/api/events/gym/move", `{"occurrenceId":"other-1","date":"2024-01-11"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Tuesday 09:00 is not an instant the Monday series fires at.
	notOcc := model.InstanceID("gym", utc(2024, 1, 9, 9, 0))
	rec = env.do(t, http.MethodPost, "/api/events/gym/move", fmt.Sprintf(`{"occurrenceId":%q,"date":"2024-01-11"}`, notOcc))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Onto the single created by the first move.
	rec = env.do(t, http.MethodPost, "/api/events/gym/move", `{"date":"2024-01-10"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, env.stored(t), 2)

	rec = env.do(t, http.MethodPost, "/api/events/nope/move", `{"date":"2024-01-15"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMove_DailySeriesInstance(t *testing.T) {
	walk := model.EventTemplate{ID: "d", Title: "Walk", Date: utc(2024, 1, 1, 7, 0), Recurrence: model.RecurrenceDaily}
	env := newTestEnv(t, nil, walk)

	occ := model.InstanceID("d", utc(2024, 1, 3, 7, 0))
	rec := env.do(t, http.MethodPost, "/api/events/d/move", fmt.Sprintf(`{"occurrenceId":%q,"date":"2024-01-05"}`, occ))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.EventTemplate](t, rec)
	assert.Equal(t, model.RecurrenceNone, created.Recurrence)
	assert.True(t, utc(2024, 1, 5, 7, 0).Equal(created.Date))
	assert.Len(t, env.stored(t), 2)
}

func TestCheck(t *testing.T) {
	env := newTestEnv(t, nil, single("a", "Standup", utc(2024, 1, 10, 10, 0)))

	rec := env.do(t, http.MethodPost, "/api/events/check", `{"title":"x","date":"2024-01-10T10:30:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[checkResponse](t, rec)
	assert.True(t, resp.Conflict)
	require.NotNil(t, resp.Details)
	assert.Equal(t, "Standup", resp.Details.Existing.Title)

	rec = env.do(t, http.MethodPost, "/api/events/check", `{"id":"a","title":"x","date":"2024-01-10T10:30:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[checkResponse](t, rec).Conflict)

	rec = env.do(t, http.MethodPost, "/api/events/check", `{"title":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, env.stored(t), 1)
}

func TestQuickAdd(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/events/quick", `{"text":"Dentist tomorrow at 2:25 pm"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tpl := decode[model.EventTemplate](t, rec)
	assert.Equal(t, "Dentist", tpl.Title)
	assert.True(t, utc(2024, 1, 11, 14, 25).Equal(tpl.Date), tpl.Date.String())
	assert.Len(t, env.stored(t), 1)

	rec = env.do(t, http.MethodPost, "/api/events/quick", `{"text":"Buy milk"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const importBody = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:ok
DTSTART:20240115T090000Z
SUMMARY:Planning
END:VEVENT
BEGIN:VEVENT
UID:clash
DTSTART:20240110T103000Z
SUMMARY:Clash
END:VEVENT
BEGIN:VEVENT
UID:a
DTSTART:20240301T103000Z
SUMMARY:Same id
END:VEVENT
END:VCALENDAR
`

func TestImportBody(t *testing.T) {
	env := newTestEnv(t, nil, single("a", "Standup", utc(2024, 1, 10, 10, 0)))

	rec := env.do(t, http.MethodPost, "/api/import", importBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[importResponse](t, rec)
	require.Len(t, resp.Imported, 1)
	assert.Equal(t, "ok", resp.Imported[0].ID)
	require.Len(t, resp.Skipped, 2)
	assert.Equal(t, "clash", resp.Skipped[0].UID)
	assert.Contains(t, resp.Skipped[0].Reason, "Standup")
	assert.Equal(t, "already exists", resp.Skipped[1].Reason)
	assert.Len(t, env.stored(t), 2)

	rec = env.do(t, http.MethodPost, "/api/import", "garbage")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportURL(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cal.ics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = io.WriteString(w, importBody)
	}))
	defer remote.Close()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/import?url="+remote.URL+"/cal.ics", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[importResponse](t, rec).Imported, 3)

	rec = env.do(t, http.MethodPost, "/api/import?url="+remote.URL+"/missing.ics", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestExport(t *testing.T) {
	daily := model.EventTemplate{ID: "d", Title: "Walk", Date: utc(2024, 1, 1, 7, 0), Recurrence: model.RecurrenceDaily}
	env := newTestEnv(t, nil, daily, single("s", "Dentist", utc(2024, 1, 3, 9, 0)))

	rec := env.do(t, http.MethodGet, "/api/export.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Equal(t, 2, strings.Count(body, "BEGIN:VEVENT"))
	assert.Contains(t, body, "RRULE:FREQ=DAILY")

	// What was exported imports cleanly into an empty calendar.
	other := newTestEnv(t, nil)
	rec = other.do(t, http.MethodPost, "/api/import", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[importResponse](t, rec).Imported, 2)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	env := newTestEnv(t, cfg)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code)

	rec := env.do(t, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	env.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	env.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/events", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `calplanner_http_requests_total{code="200",route="GET /api/events"} 1`)
}

func TestParseTime(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got, err := parseTime("2024-01-10", loc)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 1, 10, 0, 0, 0, 0, loc).Equal(got))

	got, err = parseTime("2024-01-10T09:30", loc)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 1, 10, 9, 30, 0, 0, loc).Equal(got))

	got, err = parseTime("2024-01-10T09:30:00Z", loc)
	require.NoError(t, err)
	assert.True(t, utc(2024, 1, 10, 9, 30).Equal(got))

	_, err = parseTime("10/01/2024", loc)
	assert.ErrorIs(t, err, errBadRequest)
}
