package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jward/ruletrace/internal/scanner"
)

// FileByKey returns the cached file row for key, or nil.
func (s *Store) FileByKey(key Key) (*File, error) {
	f := &File{}
	var last sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, path, language, prefix, hash, line_count, last_indexed
		 FROM files WHERE path = ? AND language = ? AND prefix = ?`,
		key.Path, key.Language, key.prefix(),
	).Scan(&f.ID, &f.Path, &f.Language, &f.Prefix, &f.Hash, &f.LineCount, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by key: %w", err)
	}
	f.LastIndexed = last.Time
	return f, nil
}

// Lookup returns the cached scan for key when its hash matches.
func (s *Store) Lookup(key Key, hash string) (*scanner.FileResult, bool, error) {
	f, err := s.FileByKey(key)
	if err != nil {
		return nil, false, err
	}
	if f == nil || f.Hash != hash {
		return nil, false, nil
	}

	res := &scanner.FileResult{Path: f.Path, Language: f.Language, Hash: f.Hash, Lines: f.LineCount}
	if res.Refs, err = s.referencesByFile(f); err != nil {
		return nil, false, err
	}
	if res.Units, err = s.unitsByFile(f.ID); err != nil {
		return nil, false, err
	}
	if res.Warnings, err = s.warningsByFile(f); err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Put writes one scan result in its own transaction.
func (s *Store) Put(key Key, res *scanner.FileResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("put %s: begin: %w", key.Path, err)
	}
	defer tx.Rollback()
	if err := putTx(tx, key, res, time.Now()); err != nil {
		return fmt.Errorf("put %s: %w", key.Path, err)
	}
	return tx.Commit()
}

func putTx(tx *sql.Tx, key Key, res *scanner.FileResult, now time.Time) error {
	if err := deleteFileTx(tx, "path = ? AND language = ? AND prefix = ?", key.Path, key.Language, key.prefix()); err != nil {
		return err
	}
	r, err := tx.Exec(
		"INSERT INTO files (path, language, prefix, hash, line_count, last_indexed) VALUES (?, ?, ?, ?, ?, ?)",
		key.Path, key.Language, key.prefix(), res.Hash, res.Lines, now,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	fileID, err := r.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for _, ref := range res.Refs {
		if _, err := tx.Exec(
			`INSERT INTO references_ (file_id, verb, rule_id, byte_offset, byte_length, line, col)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fileID, string(ref.Verb), ref.RuleID, ref.ByteOffset, ref.ByteLength, ref.Line, ref.Column,
		); err != nil {
			return fmt.Errorf("insert reference %s: %w", ref.RuleID, err)
		}
	}
	for _, u := range res.Units {
		if _, err := tx.Exec(
			"INSERT INTO code_units (file_id, kind, name, start_line, end_line) VALUES (?, ?, ?, ?, ?)",
			fileID, u.Kind, u.Name, u.StartLine, u.EndLine,
		); err != nil {
			return fmt.Errorf("insert unit %s: %w", u.Name, err)
		}
	}
	for _, w := range res.Warnings {
		if _, err := tx.Exec(
			`INSERT INTO warnings (file_id, kind, message, token, byte_offset, byte_length, line, col)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			fileID, string(w.Kind), w.Message, w.Token, w.ByteOffset, w.ByteLength, w.Line, w.Column,
		); err != nil {
			return fmt.Errorf("insert warning: %w", err)
		}
	}
	return nil
}

func (s *Store) referencesByFile(f *File) ([]scanner.Reference, error) {
	rows, err := s.db.Query(
		`SELECT verb, rule_id, byte_offset, byte_length, line, col
		 FROM references_ WHERE file_id = ? ORDER BY byte_offset`, f.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("references by file: %w", err)
	}
	defer rows.Close()
	var out []scanner.Reference
	for rows.Next() {
		r := scanner.Reference{File: f.Path}
		var verb string
		if err := rows.Scan(&verb, &r.RuleID, &r.ByteOffset, &r.ByteLength, &r.Line, &r.Column); err != nil {
			return nil, fmt.Errorf("references by file: scan: %w", err)
		}
		r.Verb = scanner.Verb(verb)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) unitsByFile(fileID int64) ([]scanner.Unit, error) {
	rows, err := s.db.Query(
		"SELECT kind, name, start_line, end_line FROM code_units WHERE file_id = ? ORDER BY start_line, id", fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("units by file: %w", err)
	}
	defer rows.Close()
	var out []scanner.Unit
	for rows.Next() {
		var u scanner.Unit
		var name sql.NullString
		if err := rows.Scan(&u.Kind, &name, &u.StartLine, &u.EndLine); err != nil {
			return nil, fmt.Errorf("units by file: scan: %w", err)
		}
		u.Name = name.String
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) warningsByFile(f *File) ([]scanner.Warning, error) {
	rows, err := s.db.Query(
		`SELECT kind, message, token, byte_offset, byte_length, line, col
		 FROM warnings WHERE file_id = ? ORDER BY byte_offset, id`, f.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("warnings by file: %w", err)
	}
	defer rows.Close()
	var out []scanner.Warning
	for rows.Next() {
		w := scanner.Warning{File: f.Path}
		var kind string
		var token sql.NullString
		if err := rows.Scan(&kind, &w.Message, &token, &w.ByteOffset, &w.ByteLength, &w.Line, &w.Column); err != nil {
			return nil, fmt.Errorf("warnings by file: scan: %w", err)
		}
		w.Kind = scanner.WarningKind(kind)
		w.Token = token.String
		out = append(out, w)
	}
	return out, rows.Err()
}
