// Package breaker implements the per-branch circuit breaker state
// machine used by the connection manager to fail fast against an LMS
// branch that is down, instead of piling up timeouts against it.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Gate when the breaker is OPEN and the
// earliest-next-retry time has not yet elapsed.
var ErrCircuitOpen = errors.New("breaker: circuit is open")

// ErrProbeInFlight is returned by Gate when the breaker is HALF_OPEN
// and another call already holds the probe.
var ErrProbeInFlight = errors.New("breaker: half-open probe already in flight")

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// DefaultBackoffSchedule is the fixed, ceiling-capped retry schedule
// applied on every OPEN transition. It is intentionally not built on
// an exponential-backoff library: the schedule is a fixed table
// indexed by a ceiling-capped counter, not a recomputed exponential
// curve, so an indexed slice expresses it more directly than a
// general-purpose backoff policy would.
var DefaultBackoffSchedule = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	40 * time.Second,
	60 * time.Second,
}

// DefaultThreshold is the number of consecutive failures that trips
// the breaker from CLOSED to OPEN.
const DefaultThreshold = 3

// Transition describes a single state change, suitable for recording
// to a breakerstore and for emitting as a dashboard event.
type Transition struct {
	BranchID  string
	From      State
	To        State
	Failures  int
	At        time.Time
	NextRetry time.Time
}

// Breaker is a single per-branch circuit breaker record. The zero
// value is not usable; construct with New.
type Breaker struct {
	branchID  string
	schedule  []time.Duration
	threshold int

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	nextRetry     time.Time
	backoffIndex  int
	probeInFlight bool

	onTransition func(Transition)
}

// Option configures a Breaker at construction time.
type Option func(*Breaker)

// WithSchedule overrides the default fixed backoff schedule, used by
// test profiles that want faster cycling.
func WithSchedule(schedule []time.Duration) Option {
	return func(b *Breaker) { b.schedule = schedule }
}

// WithThreshold overrides DefaultThreshold.
func WithThreshold(threshold int) Option {
	return func(b *Breaker) { b.threshold = threshold }
}

// OnTransition registers a callback invoked synchronously, under the
// breaker's lock, every time the state changes. Callers use this to
// persist history and fire ops notifications; the callback must not
// call back into the Breaker.
func OnTransition(fn func(Transition)) Option {
	return func(b *Breaker) { b.onTransition = fn }
}

// New constructs a Breaker for the given branch, starting CLOSED.
func New(branchID string, opts ...Option) *Breaker {
	b := &Breaker{
		branchID:  branchID,
		schedule:  DefaultBackoffSchedule,
		threshold: DefaultThreshold,
		state:     Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Gate evaluates the breaker ahead of a connection attempt, per the
// manager's getClient steps 1-3: it lazily transitions OPEN to
// HALF_OPEN once the retry time has passed, fails fast while OPEN,
// and claims the single HALF_OPEN probe slot, failing any call that
// finds the slot already claimed.
func (b *Breaker) Gate(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && !now.Before(b.nextRetry) {
		b.transitionLocked(HalfOpen, now)
		b.probeInFlight = false
	}

	switch b.state {
	case Open:
		return ErrCircuitOpen
	case HalfOpen:
		if b.probeInFlight {
			return ErrProbeInFlight
		}
		b.probeInFlight = true
	}
	return nil
}

// RecordSuccess transitions the breaker to CLOSED and resets all
// counters, per the manager's outcome-recording contract.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.backoffIndex = 0
	b.probeInFlight = false
	b.transitionLocked(Closed, now)
}

// RecordFailure increments the failure count and trips the breaker to
// OPEN once the threshold is reached or the failure occurred while
// HALF_OPEN. It reports whether the breaker just transitioned to
// OPEN, so the caller can destroy its cached client exactly once.
func (b *Breaker) RecordFailure(now time.Time) (openedJustNow bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probeInFlight = false
	b.lastFailure = now

	if b.failures >= b.threshold || b.state == HalfOpen {
		b.nextRetry = now.Add(b.schedule[b.backoffIndex])
		if b.backoffIndex < len(b.schedule)-1 {
			b.backoffIndex++
		}
		if b.state != Open {
			b.transitionLocked(Open, now)
			return true
		}
	}
	return false
}

// State returns the current state without mutating anything.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// NextRetry returns the earliest-next-retry timestamp recorded on the
// last OPEN transition.
func (b *Breaker) NextRetry() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextRetry
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// transitionLocked must be called with mu held.
func (b *Breaker) transitionLocked(to State, now time.Time) {
	from := b.state
	b.state = to
	if from == to {
		return
	}
	if b.onTransition != nil {
		b.onTransition(Transition{
			BranchID:  b.branchID,
			From:      from,
			To:        to,
			Failures:  b.failures,
			At:        now,
			NextRetry: b.nextRetry,
		})
	}
}
