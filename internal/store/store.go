// Package store persists templates and generated PRPs in SQLite.
package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'general',
			tags TEXT NOT NULL DEFAULT '[]',
			word_count INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			is_prp_template INTEGER NOT NULL DEFAULT 0,
			created_at_utc TEXT NOT NULL,
			updated_at_utc TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS product_requirement_prompts (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at_utc TEXT NOT NULL,
			updated_at_utc TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS prp_versions (
			id TEXT PRIMARY KEY,
			prp_id TEXT NOT NULL,
			version_number INTEGER NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_utc TEXT NOT NULL,
			FOREIGN KEY (prp_id) REFERENCES product_requirement_prompts(id) ON DELETE CASCADE
		);`,
		"CREATE INDEX IF NOT EXISTS idx_prp_versions_prp ON prp_versions(prp_id, version_number);",
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) timestamp() (time.Time, string) {
	now := s.now().UTC().Truncate(time.Second)
	return now, now.Format(time.RFC3339)
}

func parseTimestamp(value string) time.Time {
	t, _ := time.Parse(time.RFC3339, value)
	return t
}

func checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
