package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"calplanner/internal/config"
	"calplanner/internal/ics"
	appLog "calplanner/internal/log"
	"calplanner/internal/metrics"
	"calplanner/internal/model"
	"calplanner/internal/natural"
	"calplanner/internal/recurrence"
	"calplanner/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Options wires a Server. Store and Config are required; the rest may be nil.
type Options struct {
	Config  *config.Config
	Store   store.Gateway
	Cache   *recurrence.Cache
	Metrics *metrics.Metrics
	Fetcher *ics.Fetcher
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Server exposes the calendar over HTTP.
type Server struct {
	cfg     *config.Config
	store   store.Gateway
	cache   *recurrence.Cache
	metrics *metrics.Metrics
	fetcher *ics.Fetcher
	parser  *natural.Parser
	loc     *time.Location
	now     func() time.Time

	// mu serialises load, conflict check and save so two writers cannot both
	// pass the check against the same snapshot.
	mu sync.Mutex

	mux *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	loc := cfg.Location()

	s := &Server{
		cfg:     cfg,
		store:   opts.Store,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		fetcher: opts.Fetcher,
		parser:  natural.New(loc),
		loc:     loc,
		now:     opts.Now,
		mux:     http.NewServeMux(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.fetcher == nil {
		s.fetcher = ics.NewFetcher(cfg.ICSCacheDir, nil)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := s.instrument(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calplanner", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records per-route request counts and latency.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.ObserveRequest(route, rec.status, elapsed)
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", elapsed)
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.HandleFunc("GET /api/templates", s.handleTemplates)

	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/events/month", s.handleMonth)
	s.mux.HandleFunc("GET /api/events/week", s.handleWeek)
	s.mux.HandleFunc("GET /api/events/day", s.handleDay)

	s.mux.HandleFunc("POST /api/events", s.handleCreate)
	s.mux.HandleFunc("POST /api/events/check", s.handleCheck)
	s.mux.HandleFunc("POST /api/events/quick", s.handleQuick)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGet)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDelete)
	s.mux.HandleFunc("POST /api/events/{id}/move", s.handleMove)

	s.mux.HandleFunc("GET /api/export.ics", s.handleExport)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// expandFunc returns the cache-backed expansion when a cache is configured.
func (s *Server) expandFunc() recurrence.ExpandFunc {
	if s.cache != nil {
		return s.cache.Expand
	}
	return nil
}

func (s *Server) detector() recurrence.Detector {
	return recurrence.Detector{Cache: s.cache}
}

// conflictError carries the clashing pair of a rejected mutation.
type conflictError struct {
	conflict recurrence.Conflict
}

func (e *conflictError) Error() string {
	return fmt.Sprintf("conflicts with %q at %s",
		e.conflict.Existing.Title, e.conflict.Existing.Date.Format(time.RFC3339))
}

// conflictDTO is the JSON view of a conflict.
type conflictDTO struct {
	Candidate model.Occurrence `json:"candidate"`
	Existing  model.Occurrence `json:"existing"`
}

// checkConflict records the check and returns a *conflictError on a clash.
func (s *Server) checkConflict(candidate model.EventTemplate, existing []model.EventTemplate) error {
	c, found := s.detector().FindConflict(candidate, existing)
	s.metrics.ObserveConflictCheck(found)
	if found {
		return &conflictError{conflict: c}
	}
	return nil
}

// load returns the stored templates and updates the gauge.
func (s *Server) load(ctx context.Context) ([]model.EventTemplate, error) {
	list, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetTemplates(len(list))
	return list, nil
}

// mutate runs fn on the stored list under the write lock and saves the
// result.
func (s *Server) mutate(ctx context.Context, fn func([]model.EventTemplate) ([]model.EventTemplate, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(list)
	if err != nil {
		return err
	}
	if err := s.store.Save(ctx, next); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate()
	}
	s.metrics.SetTemplates(len(next))
	return nil
}

// without returns list minus the template with id.
func without(list []model.EventTemplate, id string) []model.EventTemplate {
	out := make([]model.EventTemplate, 0, len(list))
	for _, tpl := range list {
		if tpl.ID != id {
			out = append(out, tpl)
		}
	}
	return out
}

var validationErrors = []error{
	model.ErrTitleRequired,
	model.ErrDateRequired,
	model.ErrUnknownKind,
	model.ErrInvalidInterval,
	model.ErrInvalidWeekday,
	model.ErrInvalidFreq,
	errBadRequest,
}

var errBadRequest = errors.New("bad request")

// writeMutationError maps a mutation error onto a status code.
func writeMutationError(w http.ResponseWriter, op string, err error) {
	var ce *conflictError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, struct {
			Error    string      `json:"error"`
			Conflict conflictDTO `json:"conflict"`
		}{
			Error:    ce.Error(),
			Conflict: conflictDTO{Candidate: ce.conflict.Candidate, Existing: ce.conflict.Existing},
		})
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, errDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	appLog.Error(op+" failed", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// parseTime accepts RFC 3339, "2006-01-02T15:04" or a bare date, reading
// zone-less values in loc.
func parseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02", "2006-01"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q", errBadRequest, value)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
