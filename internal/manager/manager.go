// Package manager implements the per-branch connection manager: one
// SIP2 client per branch, one circuit breaker per branch, and a
// strictly serialized FIFO queue per branch so that concurrent callers
// never collide on a single branch socket's sequence numbers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/breaker"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/breakerstore"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/config"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/eventbus"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/mask"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/notify"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/pkg/sip2"
)

// ErrUnknownBranch is returned when a caller addresses a branch id the
// manager has no configuration for.
var ErrUnknownBranch = errors.New("manager: unknown branch")

// ErrLoginRejected is returned when the login handshake exhausts its
// retries without a successful Login response.
var ErrLoginRejected = errors.New("manager: login rejected")

// Manager owns every branch's client, breaker, and request queue for
// the lifetime of the process (until Reinitialize or Shutdown).
type Manager struct {
	masker   *mask.Service
	bus      *eventbus.Bus
	store    breakerstore.Store
	notifier notify.Notifier
	log      *slog.Logger

	mu           sync.RWMutex
	branches     map[string]*branchState
	locationCode string
}

type branchState struct {
	cfg config.Branch
	br  *breaker.Breaker

	queue chan job
	wg    sync.WaitGroup

	mu     sync.Mutex
	client *sip2.Client
}

type job struct {
	action   string
	request  any
	fn       func(*sip2.Client) (any, error)
	resultCh chan jobResult
}

type jobResult struct {
	value any
	err   error
}

// New constructs a Manager and starts one worker goroutine per
// configured branch.
func New(cfg *config.Manager, masker *mask.Service, bus *eventbus.Bus, store breakerstore.Store, notifier notify.Notifier, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		masker:       masker,
		bus:          bus,
		store:        store,
		notifier:     notifier,
		log:          log,
		branches:     make(map[string]*branchState),
		locationCode: cfg.LocationCode,
	}
	for _, b := range cfg.Branches {
		m.branches[b.ID] = m.newBranchState(b, cfg.BreakerThreshold, cfg.BackoffSchedule)
	}
	return m
}

func (m *Manager) newBranchState(cfg config.Branch, threshold int, schedule []time.Duration) *branchState {
	bs := &branchState{cfg: cfg, queue: make(chan job, 64)}

	opts := []breaker.Option{breaker.OnTransition(func(t breaker.Transition) {
		m.onBreakerTransition(t)
	})}
	if threshold > 0 {
		opts = append(opts, breaker.WithThreshold(threshold))
	}
	if len(schedule) > 0 {
		opts = append(opts, breaker.WithSchedule(schedule))
	}
	bs.br = breaker.New(cfg.ID, opts...)

	go m.runQueue(bs)
	return bs
}

func (m *Manager) onBreakerTransition(t breaker.Transition) {
	if m.store != nil {
		if err := m.store.RecordTransition(breakerstore.Record{
			BranchID:  t.BranchID,
			State:     t.To.String(),
			Failures:  t.Failures,
			At:        t.At,
			NextRetry: t.NextRetry,
		}); err != nil {
			m.log.Error("failed to record breaker transition", "error", err, "branchId", t.BranchID)
		}
	}
	if t.To == breaker.Open && m.notifier != nil {
		if err := m.notifier.NotifyCircuitOpen(t.BranchID, t.NextRetry); err != nil {
			m.log.Error("failed to send circuit-open notification", "error", err, "branchId", t.BranchID)
		}
	}
}

func (m *Manager) branch(branchID string) (*branchState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bs, ok := m.branches[branchID]
	return bs, ok
}

// BranchInstitutionID reports the configured institution id for
// branchID, so the HTTP layer can fill in AO on outbound requests
// without holding its own copy of the branch configuration.
func (m *Manager) BranchInstitutionID(branchID string) (string, bool) {
	bs, ok := m.branch(branchID)
	if !ok {
		return "", false
	}
	return bs.cfg.InstitutionID, true
}

// execute submits fn to branchID's FIFO queue and blocks for its
// result. request is the unmasked operation input, retained only so a
// masked copy can be included in the transaction event on success.
func (m *Manager) execute(branchID, action string, request any, fn func(*sip2.Client) (any, error)) (any, error) {
	bs, ok := m.branch(branchID)
	if !ok {
		return nil, ErrUnknownBranch
	}

	resultCh := make(chan jobResult, 1)
	bs.wg.Add(1)
	bs.queue <- job{action: action, request: request, fn: fn, resultCh: resultCh}

	res := <-resultCh
	return res.value, res.err
}

func (m *Manager) runQueue(bs *branchState) {
	for j := range bs.queue {
		m.runJob(bs, j)
	}
}

func (m *Manager) runJob(bs *branchState, j job) {
	defer bs.wg.Done()

	now := time.Now()
	if err := bs.br.Gate(now); err != nil {
		j.resultCh <- jobResult{nil, err}
		return
	}

	client, err := m.acquireClient(bs)
	if err != nil {
		if bs.br.RecordFailure(time.Now()) {
			m.destroyClient(bs)
		}
		j.resultCh <- jobResult{nil, err}
		return
	}

	value, err := j.fn(client)
	if err != nil {
		if bs.br.RecordFailure(time.Now()) {
			m.destroyClient(bs)
		}
		j.resultCh <- jobResult{nil, err}
		return
	}

	bs.br.RecordSuccess(time.Now())
	m.emitTransaction(bs.cfg.ID, j.action, j.request, value)
	j.resultCh <- jobResult{value, nil}
}

// acquireClient returns the branch's cached client, creating and
// logging one in if needed.
func (m *Manager) acquireClient(bs *branchState) (*sip2.Client, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.client != nil {
		return bs.client, nil
	}

	client := sip2.NewClient(sip2.Config{
		Host:               bs.cfg.Host,
		Port:               bs.cfg.Port,
		InstitutionID:      bs.cfg.InstitutionID,
		ConnectTimeout:     bs.cfg.ConnectTimeout,
		RequestTimeout:     bs.cfg.RequestTimeout,
		ChecksumRequired:   bs.cfg.ChecksumRequired,
		UseTLS:             bs.cfg.UseTLS,
		InsecureSkipVerify: bs.cfg.InsecureSkipVerify,
	}, m.bus)

	if bs.cfg.Credentials != nil {
		if err := m.performLogin(client, bs); err != nil {
			return nil, err
		}
	}

	bs.client = client
	return client, nil
}

// destroyClient disconnects and discards the branch's cached client, so
// the next acquireClient call dials and logs in fresh instead of reusing
// a socket behind a breaker that just tripped to OPEN.
func (m *Manager) destroyClient(bs *branchState) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.client != nil {
		bs.client.Disconnect()
		bs.client = nil
	}
}

// performLogin sends up to three Login attempts with an increasing
// delay between them, driven by cenkalti/backoff's retry loop; the
// circuit breaker's own fixed backoff schedule is unrelated and
// hand-rolled (see internal/breaker).
func (m *Manager) performLogin(client *sip2.Client, bs *branchState) error {
	location := bs.cfg.LocationCode
	if location == "" {
		location = m.locationCode
	}
	creds := bs.cfg.Credentials

	operation := func() (*sip2.LoginResult, error) {
		result, err := client.Login(sip2.LoginParams{
			User:     creds.User,
			Password: creds.Password,
			Location: location,
		})
		if err != nil {
			return nil, err
		}
		if !result.Ok {
			return nil, fmt.Errorf("login response rejected")
		}
		return result, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = time.Second

	_, err := backoff.Retry(context.Background(), operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginRejected, err)
	}

	if bs.cfg.VendorProfile != nil && bs.cfg.VendorProfile.RequirePostLoginStatus {
		if _, err := client.SCStatus(0, 80, "2.00"); err != nil {
			return fmt.Errorf("%w: post-login status check failed: %v", ErrLoginRejected, err)
		}
	}
	return nil
}

func (m *Manager) emitTransaction(branchID, action string, request, response any) {
	if m.bus == nil {
		return
	}
	var maskedRequest, maskedResponse any
	if m.masker != nil {
		maskedRequest = m.masker.MaskPayload(toPayload(request))
		maskedResponse = m.masker.MaskPayload(toPayload(response))
	} else {
		maskedRequest, maskedResponse = request, response
	}
	m.bus.EmitLog(eventbus.Transaction{
		Action:    action,
		BranchID:  branchID,
		Request:   maskedRequest,
		Response:  maskedResponse,
		Timestamp: time.Now().UTC(),
	})
}

// Reinitialize waits for every branch's queue to drain, disconnects
// every client, and rebuilds the branch set from newConfigs.
func (m *Manager) Reinitialize(newConfigs []config.Branch, newLocationCode *string, threshold int, schedule []time.Duration) {
	m.mu.Lock()
	old := m.branches
	m.mu.Unlock()

	for _, bs := range old {
		bs.wg.Wait()
		bs.mu.Lock()
		if bs.client != nil {
			bs.client.Disconnect()
			bs.client = nil
		}
		bs.mu.Unlock()
		close(bs.queue)
	}

	if newLocationCode != nil {
		m.locationCode = *newLocationCode
	}

	fresh := make(map[string]*branchState, len(newConfigs))
	for _, cfg := range newConfigs {
		fresh[cfg.ID] = m.newBranchState(cfg, threshold, schedule)
	}

	m.mu.Lock()
	m.branches = fresh
	m.mu.Unlock()
}

// Shutdown disconnects every client and stops every branch worker.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	branches := m.branches
	m.branches = make(map[string]*branchState)
	m.mu.Unlock()

	for _, bs := range branches {
		bs.wg.Wait()
		bs.mu.Lock()
		if bs.client != nil {
			bs.client.Disconnect()
			bs.client = nil
		}
		bs.mu.Unlock()
		close(bs.queue)
	}
}
