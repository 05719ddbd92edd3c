package breaker

import (
	"testing"
	"time"
)

func TestGateClosedAllowsThrough(t *testing.T) {
	b := New("main")
	if err := b.Gate(time.Now()); err != nil {
		t.Fatalf("Gate: %v", err)
	}
}

func TestTripsOpenAfterThreshold(t *testing.T) {
	b := New("main", WithThreshold(3))
	now := time.Now()
	for i := 0; i < 3; i++ {
		b.RecordFailure(now)
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want OPEN", b.State())
	}
	if err := b.Gate(now); err != ErrCircuitOpen {
		t.Errorf("Gate = %v, want ErrCircuitOpen", err)
	}
}

func TestHalfOpenTransitionAfterBackoff(t *testing.T) {
	schedule := []time.Duration{10 * time.Millisecond}
	b := New("main", WithThreshold(1), WithSchedule(schedule))
	now := time.Now()
	b.RecordFailure(now)
	if b.State() != Open {
		t.Fatalf("state = %v, want OPEN", b.State())
	}

	past := now.Add(schedule[0] + time.Millisecond)
	if err := b.Gate(past); err != nil {
		t.Fatalf("Gate after backoff: %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN", b.State())
	}
}

func TestHalfOpenProbeInFlightRejectsSecondCaller(t *testing.T) {
	schedule := []time.Duration{10 * time.Millisecond}
	b := New("main", WithThreshold(1), WithSchedule(schedule))
	now := time.Now()
	b.RecordFailure(now)
	past := now.Add(schedule[0] + time.Millisecond)

	if err := b.Gate(past); err != nil {
		t.Fatalf("first Gate: %v", err)
	}
	if err := b.Gate(past); err != ErrProbeInFlight {
		t.Errorf("second Gate = %v, want ErrProbeInFlight", err)
	}
}

func TestHalfOpenSuccessClosesAndResets(t *testing.T) {
	schedule := []time.Duration{10 * time.Millisecond}
	b := New("main", WithThreshold(1), WithSchedule(schedule))
	now := time.Now()
	b.RecordFailure(now)
	past := now.Add(schedule[0] + time.Millisecond)
	b.Gate(past)

	b.RecordSuccess(past)
	if b.State() != Closed {
		t.Fatalf("state = %v, want CLOSED", b.State())
	}
	if b.Failures() != 0 {
		t.Errorf("failures = %d, want 0", b.Failures())
	}
}

func TestHalfOpenFailureReturnsToOpenAndAdvancesBackoff(t *testing.T) {
	schedule := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	b := New("main", WithThreshold(1), WithSchedule(schedule))
	now := time.Now()
	b.RecordFailure(now) // CLOSED -> OPEN, backoffIndex 0 -> 1, nextRetry = now+10ms

	past := now.Add(schedule[0] + time.Millisecond)
	b.Gate(past) // OPEN -> HALF_OPEN

	b.RecordFailure(past) // HALF_OPEN -> OPEN again, nextRetry = past + schedule[1]
	if b.State() != Open {
		t.Fatalf("state = %v, want OPEN", b.State())
	}
	wantRetry := past.Add(schedule[1])
	if !b.NextRetry().Equal(wantRetry) {
		t.Errorf("NextRetry = %v, want %v", b.NextRetry(), wantRetry)
	}
}

func TestBackoffIndexCapsAtLastSlot(t *testing.T) {
	schedule := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	b := New("main", WithThreshold(1), WithSchedule(schedule))
	now := time.Now()

	b.RecordFailure(now)
	past := now.Add(schedule[0] + time.Millisecond)
	b.Gate(past)
	b.RecordFailure(past) // index now at last slot (1)

	past2 := past.Add(schedule[1] + time.Millisecond)
	b.Gate(past2)
	b.RecordFailure(past2) // must not panic indexing past the schedule
	if b.State() != Open {
		t.Fatalf("state = %v, want OPEN", b.State())
	}
}

func TestGatedFailuresAreNotRecordedByCaller(t *testing.T) {
	// Gate itself never increments failures; this documents the
	// contract that CircuitOpen/ProbeInFlight rejections must be
	// handled by the caller without an additional RecordFailure call.
	b := New("main", WithThreshold(1))
	now := time.Now()
	b.RecordFailure(now)
	b.Gate(now) // rejected, ErrCircuitOpen
	if b.Failures() != 1 {
		t.Errorf("Failures = %d, want 1 (unchanged by Gate)", b.Failures())
	}
}

func TestOnTransitionFiresOncePerChange(t *testing.T) {
	var transitions []Transition
	b := New("main", WithThreshold(1), OnTransition(func(tr Transition) {
		transitions = append(transitions, tr)
	}))
	now := time.Now()
	b.RecordFailure(now)
	if len(transitions) != 1 || transitions[0].To != Open {
		t.Fatalf("transitions = %+v, want one CLOSED->OPEN", transitions)
	}
}
