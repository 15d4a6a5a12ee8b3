// Package snapshot periodically writes the stored events to an .ics file.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"calplanner/internal/config"
	"calplanner/internal/ics"
	appLog "calplanner/internal/log"
	"calplanner/internal/metrics"
	"calplanner/internal/model"
)

// Loader is the read side of store.Gateway.
type Loader interface {
	Load(ctx context.Context) ([]model.EventTemplate, error)
}

// Scheduler runs Write on a cron schedule.
type Scheduler struct {
	schedule string
	path     string
	src      Loader
	metrics  *metrics.Metrics
	now      func() time.Time

	cron *cron.Cron
}

// New validates cfg and returns a Scheduler. cfg.Cron must be a standard
// five-field expression or a descriptor such as "@daily".
func New(cfg config.SnapshotConfig, src Loader, m *metrics.Metrics, loc *time.Location) (*Scheduler, error) {
	if cfg.Cron == "" {
		return nil, errors.New("snapshot: cron schedule is empty")
	}
	if cfg.Path == "" {
		return nil, errors.New("snapshot: path is empty")
	}
	if _, err := cron.ParseStandard(cfg.Cron); err != nil {
		return nil, fmt.Errorf("snapshot: invalid cron %q: %w", cfg.Cron, err)
	}
	if loc == nil {
		loc = time.UTC
	}

	logger := cronLogger{}
	s := &Scheduler{
		schedule: cfg.Cron,
		path:     cfg.Path,
		src:      src,
		metrics:  m,
		now:      time.Now,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
	return s, nil
}

// Write exports the current event list to the snapshot path.
func (s *Scheduler) Write(ctx context.Context) error {
	templates, err := s.src.Load(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: load events: %w", err)
	}

	var buf bytes.Buffer
	if err := ics.Export(&buf, templates, s.now()); err != nil {
		return fmt.Errorf("snapshot: export: %w", err)
	}
	if err := config.WriteFileAtomic(s.path, buf.Bytes(), ".calplanner-snapshot-*.tmp"); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", s.path, err)
	}

	appLog.Info("snapshot written", "path", s.path, "events", len(templates), "bytes", buf.Len())
	return nil
}

// Start schedules Write and returns immediately. The scheduler stops when
// ctx is canceled; the returned channel closes once running jobs finish.
func (s *Scheduler) Start(ctx context.Context) (<-chan struct{}, error) {
	_, err := s.cron.AddFunc(s.schedule, func() {
		err := s.Write(ctx)
		s.metrics.ObserveSnapshot(err)
		if err != nil {
			appLog.Error("snapshot failed", err, "path", s.path)
		}
	})
	if err != nil {
		return nil, err
	}

	s.cron.Start()
	appLog.Info("snapshot scheduler started", "cron", s.schedule, "path", s.path)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		<-s.cron.Stop().Done()
		appLog.Info("snapshot scheduler stopped")
	}()
	return done, nil
}

// cronLogger routes cron's diagnostics to the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
