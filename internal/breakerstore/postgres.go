package breakerstore

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists breaker history to Postgres, mirroring
// pkg/provider's Postgres backend's ping-then-create-table startup.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens (and, if needed, initializes) a
// Postgres-backed breaker history store.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("breakerstore: postgres backend requires a non-empty DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("breakerstore: open postgres db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("breakerstore: ping postgres db: %w", err)
	}

	const createTable = `
	CREATE TABLE IF NOT EXISTS breaker_transitions (
		id SERIAL PRIMARY KEY,
		branch_id TEXT NOT NULL,
		state TEXT NOT NULL,
		failures INTEGER NOT NULL,
		at TIMESTAMPTZ NOT NULL,
		next_retry TIMESTAMPTZ
	);`
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("breakerstore: create breaker_transitions table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RecordTransition(r Record) error {
	_, err := s.db.Exec(
		`INSERT INTO breaker_transitions (branch_id, state, failures, at, next_retry) VALUES ($1, $2, $3, $4, $5)`,
		r.BranchID, r.State, r.Failures, r.At, r.NextRetry,
	)
	if err != nil {
		return fmt.Errorf("breakerstore: insert transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(branchID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT branch_id, state, failures, at, next_retry FROM breaker_transitions
		 WHERE branch_id = $1 ORDER BY id DESC LIMIT $2`,
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

func (s *PostgresStore) Close() error { return s.db.Close() }
