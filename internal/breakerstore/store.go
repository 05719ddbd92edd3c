// Package breakerstore records circuit-breaker state transitions for
// operational visibility. It never stores patron or item identifiers,
// only branch ids, breaker states, failure counts, and timestamps.
package breakerstore

import (
	"os"
	"time"

	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/breaker"
)

// Record is one persisted breaker transition.
type Record struct {
	BranchID  string
	State     string
	Failures  int
	At        time.Time
	NextRetry time.Time
}

// Store records and retrieves breaker transition history. Three
// backends are provided; NewFromEnv selects one from BREAKER_STORE.
type Store interface {
	RecordTransition(r Record) error
	History(branchID string, limit int) ([]Record, error)
	Close() error
}

func transitionToRecord(t breaker.Transition) Record {
	return Record{
		BranchID:  t.BranchID,
		State:     t.To.String(),
		Failures:  t.Failures,
		At:        t.At,
		NextRetry: t.NextRetry,
	}
}

// NewFromEnv selects a Store implementation based on the BREAKER_STORE
// environment variable (memory|sqlite|postgres), mirroring the
// teacher's DB_PROVIDER switch. It defaults to an in-memory store.
func NewFromEnv() (Store, error) {
	switch os.Getenv("BREAKER_STORE") {
	case "sqlite":
		path := os.Getenv("BREAKER_STORE_SQLITE_PATH")
		if path == "" {
			path = "breaker_history.db"
		}
		return NewSQLiteStore(path)
	case "postgres":
		dsn := os.Getenv("BREAKER_STORE_POSTGRES_DSN")
		return NewPostgresStore(dsn)
	default:
		return NewMemoryStore(), nil
	}
}
