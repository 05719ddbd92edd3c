package sip2

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/encoding/charmap"
)

// EventSink receives dashboard-level notifications from a Client. The
// event bus implements this; tests may supply a no-op or recording
// stub instead of wiring the real bus.
type EventSink interface {
	Dashboard(level, message string, details map[string]any)
}

type noopSink struct{}

func (noopSink) Dashboard(string, string, map[string]any) {}

// Config configures one branch's SIP client socket.
type Config struct {
	Host             string
	Port             int
	InstitutionID    string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	ChecksumRequired bool

	UseTLS             bool
	InsecureSkipVerify bool // accept self-signed certs; opt-in only
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type pendingEntry struct {
	replyCh chan pendingResult
	timer   *time.Timer
	done    bool
}

type pendingResult struct {
	frame string
	err   error
}

// Client is one branch's SIP2 socket: a single TCP or TLS connection,
// a reassembly buffer, and a table of in-flight requests keyed by the
// SIP2 sequence digit. It is safe for concurrent use.
type Client struct {
	cfg  Config
	sink EventSink
	log  *slog.Logger
	once singleflight.Group

	mu      sync.Mutex
	conn    net.Conn
	buf     []byte
	pending map[int]*pendingEntry
	cursor  int
}

// NewClient constructs a Client for cfg. sink may be nil, in which
// case dashboard events are discarded.
func NewClient(cfg Config, sink EventSink) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Client{
		cfg:     cfg,
		sink:    sink,
		log:     slog.Default().With("component", "sip2.Client", "institution", cfg.InstitutionID),
		pending: make(map[int]*pendingEntry),
	}
}

// Connect is idempotent: an existing live socket or an in-flight
// connect attempt is reused.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err, _ := c.once.Do("connect", func() (interface{}, error) {
		return nil, c.dial()
	})
	return err
}

func (c *Client) dial() error {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	var conn net.Conn
	var err error
	if c.cfg.UseTLS {
		tlsCfg := &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify} //nolint:gosec // opt-in per branch config
		conn, err = tls.DialWithDialer(&dialer, "tcp", c.cfg.addr(), tlsCfg)
	} else {
		conn, err = dialer.Dial("tcp", c.cfg.addr())
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.buf = c.buf[:0]
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// readLoop owns the socket's read side for its lifetime; it is the
// data handler, error handler, and close handler described by the
// connect contract, expressed as one goroutine instead of three
// callbacks.
func (c *Client) readLoop(conn net.Conn) {
	decoder := charmap.ISO8859_1.NewDecoder()
	raw := make([]byte, 4096)
	for {
		n, err := conn.Read(raw)
		if n > 0 {
			decoded, decErr := decoder.Bytes(raw[:n])
			if decErr != nil {
				decoded = raw[:n]
			}
			c.mu.Lock()
			c.buf = append(c.buf, decoded...)
			c.drainBuffer()
			c.mu.Unlock()
		}
		if err != nil {
			c.handleClose(err)
			return
		}
	}
}

// drainBuffer must be called with mu held. It peels complete \r-framed
// messages off the front of the buffer and dispatches each.
func (c *Client) drainBuffer() {
	for {
		idx := indexByte(c.buf, '\r')
		if idx < 0 {
			return
		}
		msg := string(c.buf[:idx+1])
		c.buf = c.buf[idx+1:]
		msg = trimFrame(msg)
		c.mu.Unlock()
		c.handleMessage(msg)
		c.mu.Lock()
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func trimFrame(msg string) string {
	if len(msg) > 0 && msg[0] == '\n' {
		msg = msg[1:]
	}
	for len(msg) > 0 && (msg[0] == ' ' || msg[0] == '\t') {
		msg = msg[1:]
	}
	return msg
}

func (c *Client) handleClose(err error) {
	c.mu.Lock()
	c.conn = nil
	pending := c.pending
	c.pending = make(map[int]*pendingEntry)
	c.mu.Unlock()

	for _, entry := range pending {
		c.completeEntry(entry, pendingResult{err: fmt.Errorf("%w: %v", ErrNotConnected, err)})
	}
	c.log.Warn("sip2 connection closed", "error", err)
}

func (c *Client) handleMessage(msg string) {
	ok, verr := verifyChecksum(msg)
	if verr != nil || !ok {
		if c.cfg.ChecksumRequired {
			c.sink.Dashboard("error", "checksum verification failed", map[string]any{"raw": msg})
			if seq, found := extractSequenceDigit(msg); found {
				c.mu.Lock()
				entry, exists := c.pending[seq]
				if exists {
					delete(c.pending, seq)
				}
				c.mu.Unlock()
				if exists {
					c.completeEntry(entry, pendingResult{err: ErrChecksumMismatch})
				}
			}
			return
		}
		c.sink.Dashboard("warn", "checksum verification failed, continuing", map[string]any{"raw": msg})
	}

	seq, found := extractSequenceDigit(msg)
	c.mu.Lock()
	if found {
		entry, exists := c.pending[seq]
		if exists {
			delete(c.pending, seq)
			c.mu.Unlock()
			c.completeEntry(entry, pendingResult{frame: msg})
			return
		}
		c.mu.Unlock()
		c.log.Error("sip2 response sequence has no pending request", "sequence", seq)
		return
	}
	if len(c.pending) == 1 {
		var only int
		var entry *pendingEntry
		for k, v := range c.pending {
			only, entry = k, v
		}
		delete(c.pending, only)
		c.mu.Unlock()
		c.completeEntry(entry, pendingResult{frame: msg})
		return
	}
	n := len(c.pending)
	c.mu.Unlock()
	if n > 1 {
		c.log.Error("sip2 response has no sequence digit and multiple requests are pending, discarding")
		return
	}
	c.log.Warn("sip2 unsolicited message discarded", "raw", msg)
}

func (c *Client) completeEntry(entry *pendingEntry, result pendingResult) {
	entry.timer.Stop()
	entry.replyCh <- result
}

// allocateSequence must be called with mu held.
func (c *Client) allocateSequence() (int, error) {
	for i := 0; i < 10; i++ {
		candidate := (c.cursor + i) % 10
		if _, busy := c.pending[candidate]; !busy {
			c.cursor = (candidate + 1) % 10
			return candidate, nil
		}
	}
	return 0, ErrClientAtCapacity
}

// sendRaw writes frame, which must already carry a trailer for seq,
// and blocks until a matching response arrives, the request times
// out, or the connection fails.
func (c *Client) sendRaw(frame string, seq int) (string, error) {
	if err := c.Connect(); err != nil {
		return "", err
	}

	c.mu.Lock()
	if _, busy := c.pending[seq]; busy {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %d", ErrSequenceInUse, seq)
	}
	if c.conn == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	conn := c.conn
	entry := &pendingEntry{replyCh: make(chan pendingResult, 1)}
	entry.timer = time.AfterFunc(c.cfg.RequestTimeout, func() { c.timeoutEntry(seq, entry) })
	c.pending[seq] = entry
	c.mu.Unlock()

	ascii := Transliterate(frame)
	c.sink.Dashboard("info", "sip2 request", map[string]any{"raw": ascii})

	if _, err := conn.Write([]byte(ascii)); err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		entry.timer.Stop()
		return "", err
	}

	result := <-entry.replyCh
	return result.frame, result.err
}

func (c *Client) timeoutEntry(seq int, entry *pendingEntry) {
	c.mu.Lock()
	current, exists := c.pending[seq]
	if !exists || current != entry {
		c.mu.Unlock()
		return
	}
	delete(c.pending, seq)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	entry.replyCh <- pendingResult{err: ErrRequestTimeout}
}

// Disconnect closes the socket, if any. Pending requests are rejected
// by the resulting close notification, not here.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) nextFrame(build func(seq int) (string, error)) (string, int, error) {
	c.mu.Lock()
	seq, err := c.allocateSequence()
	c.mu.Unlock()
	if err != nil {
		return "", 0, err
	}
	frame, err := build(seq)
	if err != nil {
		return "", 0, err
	}
	return frame, seq, nil
}

// Login performs the Login (93/94) exchange.
func (c *Client) Login(p LoginParams) (*LoginResult, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatLogin(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseLogin(resp)
}

// PatronStatus performs the Patron Status (23/24) exchange.
func (c *Client) PatronStatus(p PatronStatusParams) (*PatronStatusRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatPatronStatus(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParsePatronStatus(resp)
}

// Checkout performs the Checkout (11/12) exchange.
func (c *Client) Checkout(p CheckoutParams) (*CheckoutRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatCheckout(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseCheckout(resp)
}

// Checkin performs the Checkin (09/10) exchange.
func (c *Client) Checkin(p CheckinParams) (*CheckinRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatCheckin(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseCheckin(resp)
}

// ItemInfo performs the Item Information (17/18) exchange.
func (c *Client) ItemInfo(p ItemInfoParams) (*ItemInfoRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatItemInfo(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseItemInfo(resp)
}

// Renew performs the Renew (29/30) exchange.
func (c *Client) Renew(p RenewParams) (*CheckoutRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatRenew(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseRenew(resp)
}

// FeePaid performs the Fee Paid (37/38) exchange.
func (c *Client) FeePaid(p FeePaidParams) (*FeePaidRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatFeePaid(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseFeePaid(resp)
}

// PatronInfo performs the Patron Information (63/64) exchange.
func (c *Client) PatronInfo(p PatronInfoParams) (*PatronInfoRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatPatronInfo(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParsePatronInfo(resp)
}

// Hold performs the Hold (15/16) exchange.
func (c *Client) Hold(p HoldParams) (*HoldRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatHold(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseHold(resp)
}

// RenewAll performs the Renew All (65/66) exchange.
func (c *Client) RenewAll(p RenewAllParams) (*RenewAllRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatRenewAll(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseRenewAll(resp)
}

// EndSession performs the End Session (35/36) exchange.
func (c *Client) EndSession(p EndSessionParams) (*EndSessionRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatEndSession(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseEndSession(resp)
}

// SCStatus performs the SC Status (99/98) exchange, advertising
// terminal capability to the LMS. The manager issues it after Login when
// the branch's vendor profile requires it, and on demand for a status
// query.
func (c *Client) SCStatus(statusCode, maxPrintWidth int, protocolVersion string) (*ACSStatusRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) {
		return FormatSCStatus(statusCode, maxPrintWidth, protocolVersion, seq)
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseACSStatus(resp)
}

// ItemStatusUpdate performs the Item Status Update (19/20) exchange.
func (c *Client) ItemStatusUpdate(p ItemStatusUpdateParams) (*ItemStatusUpdateRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatItemStatusUpdate(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParseItemStatusUpdate(resp)
}

// PatronEnable performs the Patron Enable (25/24) exchange. SIP2 gives
// Patron Enable the same response shape as Patron Status.
func (c *Client) PatronEnable(p PatronEnableParams) (*PatronStatusRecord, error) {
	frame, seq, err := c.nextFrame(func(seq int) (string, error) { return FormatPatronEnable(p, seq) })
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRaw(frame, seq)
	if err != nil {
		return nil, err
	}
	return ParsePatronStatus(resp)
}

// BlockPatron sends a Block Patron (01) request. SIP2 defines no
// response for this message, so it is written without a pending
// entry and the call returns as soon as the write completes.
func (c *Client) BlockPatron(p BlockPatronParams) error {
	if err := c.Connect(); err != nil {
		return err
	}
	c.mu.Lock()
	seq, err := c.allocateSequence()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	// Block Patron allocates a sequence digit only to satisfy the
	// trailer format; it is never registered in the pending table
	// since no response will ever arrive to consume it.
	frame, err := FormatBlockPatron(p, seq)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ascii := Transliterate(frame)
	c.sink.Dashboard("info", "sip2 request", map[string]any{"raw": ascii})
	_, err = conn.Write([]byte(ascii))
	return err
}
