/*
Copyright 2025 Pacewatch Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package storage persists marathons, participants, splits and assets
// in a single sqlite file. Splits and assets are written in idempotent
// batches with conflict upserts; schema changes are idempotent
// column-adds guarded by introspection so old database files keep
// working.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pacewatch/pacewatch/lib/defaults"
)

// Config holds storage parameters.
type Config struct {
	// Path is the sqlite database file.
	Path string
	// BusyTimeout bounds waits on a locked database; the engine and
	// the image workers share the file.
	BusyTimeout time.Duration
	// Clock is the time source for seen_at stamps.
	Clock clockwork.Clock
	// Logger is the storage logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("missing database path")
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaults.DBBusyTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "storage")
	}
	return nil
}

// Storage is a handle on the crawler database. Safe for concurrent
// use; sqlite serializes writers via the busy timeout.
type Storage struct {
	cfg Config
	db  *sql.DB
}

// New opens (and creates if absent) the database file with WAL
// journaling and foreign keys enforced.
func New(cfg Config) (*Storage, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_fk=1&_journal_mode=WAL",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, trace.ConvertSystemError(err)
	}
	return &Storage{cfg: cfg, db: db}, nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return trace.Wrap(s.db.Close())
}

// Init creates all tables and indexes. Idempotent.
func (s *Storage) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Migrate adds columns introduced after the initial schema to old
// database files. Each add is guarded by introspection so re-running
// is harmless.
func (s *Storage) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		ok, err := s.columnExists(ctx, m.table, m.column)
		if err != nil {
			return trace.Wrap(err)
		}
		if ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.ddl); err != nil {
			return trace.Wrap(err, "adding %v.%v", m.table, m.column)
		}
		s.cfg.Logger.InfoContext(ctx, "schema migrated",
			"table", m.table, "column", m.column)
	}
	_, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_marathons_join_code ON marathons(join_code)")
	return trace.Wrap(err)
}

func (s *Storage) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return false, trace.Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return false, trace.Wrap(err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, trace.Wrap(rows.Err())
}

// now returns the seen_at stamp for this instant.
func (s *Storage) now() string {
	return s.cfg.Clock.Now().UTC().Format(time.RFC3339Nano)
}

// nullString maps "" to NULL.
func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// nullFloat maps 0 to NULL.
func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
