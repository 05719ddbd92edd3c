package manager

import (
	"bufio"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/breaker"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/breakerstore"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/config"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/eventbus"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/mask"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/notify"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/pkg/sip2"
)

type stubServer struct {
	ln        net.Listener
	connCount atomic.Int64
}

func newStubServer(t *testing.T, respond func(request string) string) *stubServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &stubServer{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.connCount.Add(1)
			go func() {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadString('\r')
					if err != nil {
						return
					}
					resp := respond(line)
					if resp == "" {
						continue
					}
					if _, err := conn.Write([]byte(resp)); err != nil {
						return
					}
				}
			}()
		}
	}()
	return s
}

func (s *stubServer) addr() (string, int) {
	tcpAddr := s.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", tcpAddr.Port
}

func (s *stubServer) close() { s.ln.Close() }

func newTestManager(t *testing.T, branches []config.Branch) *Manager {
	t.Helper()
	cfg := &config.Manager{LocationCode: "HQ", Branches: branches}
	return New(cfg, mask.New("test-master-key"), eventbus.New(nil, nil), breakerstore.NewMemoryStore(), notify.NewLogNotifier(nil), nil)
}

func TestCheckoutRoundTripWithoutCredentials(t *testing.T) {
	srv := newStubServer(t, mustCheckoutResponse)
	defer srv.close()

	host, port := srv.addr()
	m := newTestManager(t, []config.Branch{{
		ID: "main", Host: host, Port: port, InstitutionID: "BR1",
		ConnectTimeout: time.Second, RequestTimeout: 2 * time.Second,
	}})
	defer m.Shutdown()

	got, err := m.Checkout("main", sip2.CheckoutParams{InstitutionID: "BR1", PatronID: "patron1", ItemID: "item1"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !got.Ok {
		t.Errorf("Ok = false, want true")
	}
}

func TestUnknownBranchReturnsError(t *testing.T) {
	m := newTestManager(t, nil)
	defer m.Shutdown()

	if _, err := m.Checkout("ghost", sip2.CheckoutParams{}); err != ErrUnknownBranch {
		t.Errorf("err = %v, want ErrUnknownBranch", err)
	}
}

func TestCircuitOpensAfterThresholdFailures(t *testing.T) {
	srv := newStubServer(t, func(req string) string { return "" }) // never responds -> every call times out
	defer srv.close()

	host, port := srv.addr()
	cfg := &config.Manager{
		LocationCode:     "HQ",
		BreakerThreshold: 2,
		BackoffSchedule:  []time.Duration{time.Minute},
		Branches: []config.Branch{{
			ID: "main", Host: host, Port: port, InstitutionID: "BR1",
			ConnectTimeout: time.Second, RequestTimeout: 50 * time.Millisecond,
		}},
	}
	m := New(cfg, mask.New("test-master-key"), eventbus.New(nil, nil), breakerstore.NewMemoryStore(), notify.NewLogNotifier(nil), nil)
	defer m.Shutdown()

	for i := 0; i < 2; i++ {
		if _, err := m.Checkout("main", sip2.CheckoutParams{InstitutionID: "BR1", PatronID: "p", ItemID: "i"}); err == nil {
			t.Fatalf("call %d: expected a timeout error", i)
		}
	}

	start := time.Now()
	_, err := m.Checkout("main", sip2.CheckoutParams{InstitutionID: "BR1", PatronID: "p", ItemID: "i"})
	elapsed := time.Since(start)
	if err != breaker.ErrCircuitOpen {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("gated call took %v, want a fast fail", elapsed)
	}
}

func TestBreakerOpenDestroysCachedClient(t *testing.T) {
	srv := newStubServer(t, func(req string) string { return "" }) // never responds -> every call times out
	defer srv.close()

	host, port := srv.addr()
	cfg := &config.Manager{
		LocationCode:     "HQ",
		BreakerThreshold: 1,
		BackoffSchedule:  []time.Duration{20 * time.Millisecond},
		Branches: []config.Branch{{
			ID: "main", Host: host, Port: port, InstitutionID: "BR1",
			ConnectTimeout: time.Second, RequestTimeout: 50 * time.Millisecond,
		}},
	}
	m := New(cfg, mask.New("test-master-key"), eventbus.New(nil, nil), breakerstore.NewMemoryStore(), notify.NewLogNotifier(nil), nil)
	defer m.Shutdown()

	if _, err := m.Checkout("main", sip2.CheckoutParams{InstitutionID: "BR1", PatronID: "p", ItemID: "i"}); err == nil {
		t.Fatalf("expected a timeout error that trips the breaker")
	}
	if got := srv.connCount.Load(); got != 1 {
		t.Fatalf("connCount after first failure = %d, want 1", got)
	}

	time.Sleep(40 * time.Millisecond) // let the breaker's backoff elapse into HALF_OPEN

	if _, err := m.Checkout("main", sip2.CheckoutParams{InstitutionID: "BR1", PatronID: "p", ItemID: "i"}); err == nil {
		t.Fatalf("expected the probe attempt to time out too")
	}
	if got := srv.connCount.Load(); got != 2 {
		t.Fatalf("connCount after HALF_OPEN probe = %d, want 2 (stale client should have been destroyed)", got)
	}
}

func mustCheckoutResponse(req string) string {
	seq, ok := extractSeq(req)
	if !ok {
		seq = 0
	}
	timestamp := "20260801    120000"
	body := "12" + "1YNY" + timestamp + "AOBR1|AApatron1|ABitem1|"
	return appendTrailerForTest(body, seq)
}

// appendTrailerForTest and checksumForTest duplicate the wire-level
// checksum algorithm described in the protocol specification, so the
// stub server can build valid trailers without reaching into pkg/sip2
// internals.
func appendTrailerForTest(body string, seq int) string {
	withMarker := body + "AY" + string(rune('0'+seq)) + "AZ"
	return withMarker + checksumForTest(withMarker) + "\r"
}

func checksumForTest(data string) string {
	sum := 0
	for i := 0; i < len(data); i++ {
		sum += int(data[i])
	}
	check := (-sum) & 0xFFFF
	return fmt.Sprintf("%04X", check)
}

func extractSeq(req string) (int, bool) {
	idx := -1
	for i := 0; i+3 < len(req); i++ {
		if req[i] == 'A' && req[i+1] == 'Y' {
			idx = i
			break
		}
	}
	if idx == -1 || idx+2 >= len(req) {
		return 0, false
	}
	d := req[idx+2]
	if d < '0' || d > '9' {
		return 0, false
	}
	return int(d - '0'), true
}
