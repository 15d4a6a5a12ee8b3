package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	appLog "calplanner/internal/log"
	"calplanner/internal/model"
)

// kvEntry is one row of the key-value table.
type kvEntry struct {
	bun.BaseModel `bun:"table:kv"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// SQLiteStore keeps the template list as a JSON value in a SQLite table.
type SQLiteStore struct {
	db *bun.DB
}

// OpenSQLite opens (creating if needed) the database at path and makes sure
// the kv table exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := "file::memory:?cache=shared"
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		dsn = "file:" + path + "?mode=rwc"
	}

	raw, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	raw.SetMaxOpenConns(1)

	db := bun.NewDB(raw, sqlitedialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithVerbose(true),
		bundebug.FromEnv("BUNDEBUG"),
	))

	s := &SQLiteStore{db: db}
	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	appLog.Info("sqlite store ready", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*kvEntry)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create kv table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]model.EventTemplate, error) {
	var row kvEntry
	err := s.db.NewSelect().
		Model(&row).
		Where("key = ?", Key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []model.EventTemplate{}, nil
		}
		return nil, fmt.Errorf("select %s: %w", Key, err)
	}

	var templates []model.EventTemplate
	if err := json.Unmarshal([]byte(row.Value), &templates); err != nil {
		return nil, fmt.Errorf("decode %s: %w", Key, err)
	}
	if templates == nil {
		templates = []model.EventTemplate{}
	}
	return templates, nil
}

func (s *SQLiteStore) Save(ctx context.Context, templates []model.EventTemplate) error {
	if templates == nil {
		templates = []model.EventTemplate{}
	}
	data, err := json.Marshal(templates)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	row := &kvEntry{Key: Key, Value: string(data)}
	if _, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx); err != nil {
		return fmt.Errorf("upsert %s: %w", Key, err)
	}
	appLog.Debug("events saved", "driver", "sqlite", "count", len(templates))
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
