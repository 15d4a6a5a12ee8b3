package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"calplanner/internal/config"
	appLog "calplanner/internal/log"
	"calplanner/internal/model"
)

// FileStore keeps the template list as a JSON document on disk.
type FileStore struct {
	path string

	mu     sync.Mutex
	closed bool
}

// NewFileStore returns a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// document is the on-disk layout.
type document struct {
	CalendarEvents []model.EventTemplate `json:"calendarEvents"`
}

func (s *FileStore) Load(ctx context.Context) ([]model.EventTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Debug("store file missing, starting empty", "path", s.path)
			return []model.EventTemplate{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if doc.CalendarEvents == nil {
		doc.CalendarEvents = []model.EventTemplate{}
	}
	return doc.CalendarEvents, nil
}

func (s *FileStore) Save(ctx context.Context, templates []model.EventTemplate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if templates == nil {
		templates = []model.EventTemplate{}
	}
	data, err := json.MarshalIndent(document{CalendarEvents: templates}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := config.WriteFileAtomic(s.path, data, ".calplanner-events-*.tmp"); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	appLog.Debug("events saved", "path", s.path, "count", len(templates))
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
