// Package store persists the list of event templates. The whole list is
// stored as a single JSON document under one key, either in a plain file or
// in a SQLite key-value table.
package store

import (
	"context"
	"errors"
	"fmt"

	"calplanner/internal/config"
	"calplanner/internal/model"
)

// Key is the name the event list is stored under.
const Key = "calendarEvents"

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
	// ErrNotFound reports a missing template id.
	ErrNotFound = errors.New("event not found")
)

// Gateway loads and saves the full template list. Implementations must be
// safe for concurrent use.
type Gateway interface {
	// Load returns the stored templates. A store that has never been written
	// yields an empty list and no error.
	Load(ctx context.Context) ([]model.EventTemplate, error)
	// Save replaces the stored list.
	Save(ctx context.Context, templates []model.EventTemplate) error
	Close() error
}

// Open returns the backend selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Gateway, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// Find returns the template with the given id.
func Find(templates []model.EventTemplate, id string) (model.EventTemplate, int, bool) {
	for i := range templates {
		if templates[i].ID == id {
			return templates[i], i, true
		}
	}
	return model.EventTemplate{}, -1, false
}
