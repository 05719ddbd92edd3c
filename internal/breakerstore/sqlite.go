package breakerstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists breaker history to a SQLite file, creating the
// schema on first use the same way pkg/provider's SQLite backend does.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and, if needed, initializes) a SQLite-backed
// breaker history store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("breakerstore: sqlite backend requires a non-empty path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("breakerstore: open sqlite db at %s: %w", path, err)
	}

	const createTable = `
	CREATE TABLE IF NOT EXISTS breaker_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		branch_id TEXT NOT NULL,
		state TEXT NOT NULL,
		failures INTEGER NOT NULL,
		at DATETIME NOT NULL,
		next_retry DATETIME
	);`
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("breakerstore: create breaker_transitions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordTransition(r Record) error {
	_, err := s.db.Exec(
		`INSERT INTO breaker_transitions (branch_id, state, failures, at, next_retry) VALUES (?, ?, ?, ?, ?)`,
		r.BranchID, r.State, r.Failures, r.At, r.NextRetry,
	)
	if err != nil {
		return fmt.Errorf("breakerstore: insert transition: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(branchID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT branch_id, state, failures, at, next_retry FROM breaker_transitions
		 WHERE branch_id = ? ORDER BY id DESC LIMIT ?`,
		branchID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("breakerstore: query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.BranchID, &r.State, &r.Failures, &r.At, &r.NextRetry); err != nil {
			return nil, fmt.Errorf("breakerstore: scan transition: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
