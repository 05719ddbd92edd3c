package breakerstore

import (
	"testing"
	"time"
)

func TestMemoryStoreRecordsAndFilters(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	s.RecordTransition(Record{BranchID: "main", State: "OPEN", Failures: 3, At: now})
	s.RecordTransition(Record{BranchID: "annex", State: "OPEN", Failures: 3, At: now})
	s.RecordTransition(Record{BranchID: "main", State: "CLOSED", Failures: 0, At: now.Add(time.Minute)})

	history, err := s.History("main", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].State != "OPEN" || history[1].State != "CLOSED" {
		t.Errorf("history order mismatch: %+v", history)
	}
}

func TestMemoryStoreHistoryLimit(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		s.RecordTransition(Record{BranchID: "main", State: "OPEN", At: now})
	}
	history, err := s.History("main", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
}
