package sip2

import (
	"bufio"
	"net"
	"testing"
	"time"
)

// mockServer is a minimal single-connection SIP2 peer used to drive
// Client through real socket I/O. respond is invoked once per framed
// request and returns the exact bytes to write back, or "" to send
// nothing (simulating Block Patron's no-response contract).
type mockServer struct {
	ln net.Listener
}

func newMockServer(t *testing.T, respond func(request string) string) *mockServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &mockServer{ln: ln}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
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
	return s
}

func (s *mockServer) addr() (string, int) {
	tcpAddr := s.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", tcpAddr.Port
}

func (s *mockServer) close() { s.ln.Close() }

func testConfig(host string, port int) Config {
	return Config{
		Host:           host,
		Port:           port,
		InstitutionID:  "BR1",
		ConnectTimeout: time.Second,
		RequestTimeout: 2 * time.Second,
	}
}

func TestClientLoginRoundTrip(t *testing.T) {
	srv := newMockServer(t, func(req string) string {
		if req[:2] != cmdLoginRequest {
			t.Errorf("unexpected request code %q", req[:2])
		}
		frame, _ := appendTrailer(cmdLoginResponse+"1", 0)
		return frame
	})
	defer srv.close()

	host, port := srv.addr()
	c := NewClient(testConfig(host, port), nil)
	defer c.Disconnect()

	result, err := c.Login(LoginParams{User: "sipuser", Password: "sippass", Location: "MAIN"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.Ok {
		t.Errorf("Ok = false, want true")
	}
}

func TestClientEndSessionRoundTrip(t *testing.T) {
	srv := newMockServer(t, func(req string) string {
		seq, ok := extractSequenceDigit(req)
		if !ok {
			t.Fatalf("request missing sequence: %q", req)
		}
		frame, _ := appendTrailer(cmdEndSessionResponse+"Y20260801    120000AOBR1|AApatron"+string(rune('0'+seq))+"|", seq)
		return frame
	})
	defer srv.close()

	host, port := srv.addr()
	c := NewClient(testConfig(host, port), nil)
	defer c.Disconnect()

	got, err := c.EndSession(EndSessionParams{InstitutionID: "BR1", PatronID: "patron0"})
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if !got.EndSession {
		t.Errorf("EndSession = false, want true")
	}
}

func TestClientRequestTimeout(t *testing.T) {
	srv := newMockServer(t, func(req string) string { return "" }) // never responds
	defer srv.close()

	host, port := srv.addr()
	cfg := testConfig(host, port)
	cfg.RequestTimeout = 100 * time.Millisecond
	c := NewClient(cfg, nil)
	defer c.Disconnect()

	_, err := c.Login(LoginParams{User: "u", Password: "p", Location: "MAIN"})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestClientBlockPatronFireAndForget(t *testing.T) {
	received := make(chan string, 1)
	srv := newMockServer(t, func(req string) string {
		received <- req
		return ""
	})
	defer srv.close()

	host, port := srv.addr()
	c := NewClient(testConfig(host, port), nil)
	defer c.Disconnect()

	if err := c.BlockPatron(BlockPatronParams{InstitutionID: "BR1", PatronID: "999"}); err != nil {
		t.Fatalf("BlockPatron: %v", err)
	}

	select {
	case req := <-received:
		if req[:2] != cmdBlockPatronRequest {
			t.Errorf("request code = %q, want %q", req[:2], cmdBlockPatronRequest)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the block patron request")
	}
}

func TestClientConnectIsIdempotent(t *testing.T) {
	srv := newMockServer(t, func(req string) string {
		frame, _ := appendTrailer(cmdLoginResponse+"1", 0)
		return frame
	})
	defer srv.close()

	host, port := srv.addr()
	c := NewClient(testConfig(host, port), nil)
	defer c.Disconnect()

	if err := c.Connect(); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
}
