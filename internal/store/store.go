// Package store persists per-file scan results in SQLite so a restart only
// rescans files whose content changed.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for the scan cache.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// A file row is one scan of a path under a given language and marker
// prefix; the same path scanned by two implementations gets two rows.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL,
  language        TEXT NOT NULL,
  prefix          TEXT NOT NULL,
  hash            TEXT NOT NULL,
  line_count      INTEGER NOT NULL,
  last_indexed    TIMESTAMP,
  UNIQUE (path, language, prefix)
);

CREATE TABLE IF NOT EXISTS references_ (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  verb            TEXT NOT NULL,
  rule_id         TEXT NOT NULL,
  byte_offset     INTEGER NOT NULL,
  byte_length     INTEGER NOT NULL,
  line            INTEGER NOT NULL,
  col             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS code_units (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  kind            TEXT NOT NULL,
  name            TEXT,
  start_line      INTEGER NOT NULL,
  end_line        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS warnings (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  kind            TEXT NOT NULL,
  message         TEXT NOT NULL,
  token           TEXT,
  byte_offset     INTEGER NOT NULL,
  byte_length     INTEGER NOT NULL,
  line            INTEGER NOT NULL,
  col             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
CREATE INDEX IF NOT EXISTS idx_references_file ON references_(file_id);
CREATE INDEX IF NOT EXISTS idx_references_rule ON references_(rule_id);
CREATE INDEX IF NOT EXISTS idx_code_units_file ON code_units(file_id);
CREATE INDEX IF NOT EXISTS idx_warnings_file ON warnings(file_id);
`

// DeleteFileData transactionally removes every cached scan of path.
func (s *Store) DeleteFileData(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := deleteFileTx(tx, "path = ?", path); err != nil {
		return err
	}
	return tx.Commit()
}

// PruneMissing removes cached scans of every path not in keep.
func (s *Store) PruneMissing(keep []string) (int, error) {
	paths, err := s.Paths()
	if err != nil {
		return 0, err
	}
	live := make(map[string]bool, len(keep))
	for _, p := range keep {
		live[p] = true
	}
	var gone []any
	for _, p := range paths {
		if !live[p] {
			gone = append(gone, p)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("prune: begin: %w", err)
	}
	defer tx.Rollback()
	for _, batch := range chunk(gone, 500) {
		if err := deleteFileTx(tx, "path IN ("+placeholderList(len(batch))+")", batch...); err != nil {
			return 0, fmt.Errorf("prune: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune: commit: %w", err)
	}
	return len(gone), nil
}

// deleteFileTx removes file rows matching where along with their children.
// Children are deleted explicitly so the cache stays consistent even when
// foreign keys are disabled on the connection.
func deleteFileTx(tx *sql.Tx, where string, args ...any) error {
	sub := "SELECT id FROM files WHERE " + where
	for _, q := range []string{
		"DELETE FROM references_ WHERE file_id IN (" + sub + ")",
		"DELETE FROM code_units WHERE file_id IN (" + sub + ")",
		"DELETE FROM warnings WHERE file_id IN (" + sub + ")",
		"DELETE FROM files WHERE " + where,
	} {
		if _, err := tx.Exec(q, args...); err != nil {
			return fmt.Errorf("delete file data: %w", err)
		}
	}
	return nil
}

// Paths returns every distinct cached path.
func (s *Store) Paths() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT path FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("paths: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("paths: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Meta returns a metadata value, or "" when unset.
func (s *Store) Meta(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("meta %s: %w", key, err)
	}
	return v, nil
}

// SetMeta stores a metadata value.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}
