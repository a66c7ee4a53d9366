// Package transport maintains the duplex websocket channel to the remote
// recognizer: bearer-authenticated connect with bounded exponential-backoff
// reconnection, session lifecycle with acknowledged start/stop, an ordered
// fire-and-forget audio chunk queue, and a single inbound event queue for
// transcripts, errors and state changes.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"vox/encoder"
	"vox/fault"
	"vox/log"
)

const (
	DefaultAckTimeout   = 5 * time.Second
	DefaultPingInterval = 15 * time.Second

	sendQueueSize  = 128
	eventQueueSize = 64
)

// DefaultBackoff is the reconnect delay table; its length is the attempt cap.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrNoSession      = errors.New("transport: no active session")
	ErrSessionOpen    = errors.New("transport: session already open")
	ErrSessionStopped = errors.New("transport: chunk rejected after session stop")
	ErrOutOfOrder     = errors.New("transport: chunk index out of order")
	ErrQueueFull      = errors.New("transport: send queue full, chunk dropped")
	ErrClosed         = errors.New("transport: client closed")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventError
	EventSessionStopped
	EventState
)

// Event is one entry on the inbound queue. Consumers drain Events() in
// arrival order instead of registering per-kind callbacks.
type Event struct {
	Kind       EventKind
	Transcript string
	Confidence float64
	Err        error
	State      State
}

// CredentialFunc supplies the bearer token at connect time. The transport
// never generates or refreshes credentials itself.
type CredentialFunc func(ctx context.Context) (string, error)

type Config struct {
	URL          string
	Credential   CredentialFunc
	AckTimeout   time.Duration   // session start/stop acknowledgment bound
	PingInterval time.Duration
	Backoff      []time.Duration // delay table; len is the attempt cap
}

type clientStats struct {
	connectDur   time.Duration
	sentChunks   int
	sentBytes    uint64
	recvMessages int
	recvFinal    int
	recvInterim  int
	reconnects   int
	startedAt    time.Time
}

type Client struct {
	cfg    Config
	events chan Event
	sendCh chan []byte // single ordered writer queue

	ackCh   chan string   // session:started carrying the session id
	stopAck chan struct{} // session:stopped
	online  chan struct{} // pulsed by NotifyOnline

	mu          sync.Mutex
	conn        *websocket.Conn
	connCancel  context.CancelFunc
	gen         int // connection generation; stale goroutines compare and bail
	state       State
	disarmed    bool // reconnect budget spent; Connect re-arms
	closed      bool
	sessionID   string
	sessionOpen bool
	stopping    bool
	nextIndex   uint64
	stats       clientStats

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Client{
		cfg:     cfg,
		events:  make(chan Event, eventQueueSize),
		sendCh:  make(chan []byte, sendQueueSize),
		ackCh:   make(chan string, 1),
		stopAck: make(chan struct{}, 1),
		online:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stats:   clientStats{startedAt: time.Now()},
	}
}

// Events is the inbound queue. It is never closed; consumers select against
// their own shutdown signal.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NotifyOnline skips the current backoff delay when host connectivity
// returns. No-op outside a reconnect wait.
func (c *Client) NotifyOnline() {
	select {
	case c.online <- struct{}{}:
	default:
	}
}

// Connect establishes the duplex channel, retrying retryable failures per
// the backoff table. A missing or rejected credential is terminal and is
// returned without retry. Exhausting the table disarms automatic
// reconnection until Connect is called again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.disarmed = false
	c.state = StateConnecting
	c.mu.Unlock()
	c.emit(Event{Kind: EventState, State: StateConnecting})

	if err := c.connectLoop(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.disarmed = true
		c.mu.Unlock()
		c.emit(Event{Kind: EventState, State: StateDisconnected})
		return err
	}
	return nil
}

// connectLoop runs the bounded dial sequence shared by Connect and the
// automatic reconnect path.
func (c *Client) connectLoop(ctx context.Context) error {
	if c.cfg.Credential == nil {
		return fault.New(fault.CodeAuth, "no credential available").
			WithSuggestion("Sign in before starting voice capture.")
	}
	token, err := c.cfg.Credential(ctx)
	if err != nil || token == "" {
		return fault.Wrap(fault.CodeAuth, "no credential available", err).
			WithSuggestion("Sign in before starting voice capture.")
	}

	var lastErr error
	for attempt := 0; attempt < len(c.cfg.Backoff); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.Backoff[attempt-1]):
			case <-c.online:
			case <-c.done:
				return ErrClosed
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		start := time.Now()
		conn, err := c.dial(ctx, token)
		if err == nil {
			return c.adopt(conn, time.Since(start))
		}
		if !fault.IsRecoverable(err) {
			return err
		}
		lastErr = err
		log.Warnf("connect attempt %d/%d failed: %v", attempt+1, len(c.cfg.Backoff), err)
	}

	return fault.Wrap(fault.CodeReconnectExhausted, "connection attempts exhausted", lastErr).
		WithSuggestion("Check your network connection and try again.")
}

func (c *Client) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: headers})
	if err == nil {
		return conn, nil
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			// Expired/invalid credential or an account not cleared to
			// stream. Reconnecting cannot fix either.
			return nil, fault.Wrap(fault.CodeAuth, "credential rejected by server", err).
				WithSuggestion("Sign in again to refresh your credentials.")
		}
	}
	return nil, fault.Wrap(fault.CodeNetwork, "connection failed", err)
}

// adopt installs a freshly dialed connection and starts its goroutines.
func (c *Client) adopt(conn *websocket.Conn, connectDur time.Duration) error {
	connCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return ErrClosed
	}
	prev, prevCancel := c.conn, c.connCancel
	c.conn = conn
	c.connCancel = cancel
	c.gen++
	gen := c.gen
	c.state = StateConnected
	c.stats.connectDur = connectDur
	c.mu.Unlock()

	// A dial racing the automatic reconnect loop can land while another
	// connection is still installed. The earlier one loses: closing it
	// unblocks its receiver, and its stale-generation loss report is
	// discarded.
	if prevCancel != nil {
		prevCancel()
	}
	if prev != nil {
		prev.Close(websocket.StatusNormalClosure, "superseded")
	}

	go c.runSender(connCtx, conn, gen)
	go c.runReceiver(connCtx, conn, gen)
	go c.runPinger(connCtx)

	c.emit(Event{Kind: EventState, State: StateConnected})
	return nil
}

// StartSession opens a recognition session and waits for the server to echo
// a session id. No audio may be sent until the acknowledgment arrives.
func (c *Client) StartSession(ctx context.Context, language string, sampleRate, channels int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.sessionOpen {
		c.mu.Unlock()
		return ErrSessionOpen
	}
	c.stopping = false
	c.nextIndex = 0
	c.mu.Unlock()

	// Drop a stale ack from a previous attempt.
	select {
	case <-c.ackCh:
	default:
	}

	msg, err := json.Marshal(sessionStartMsg{
		Type:       typeSessionStart,
		Language:   language,
		SampleRate: sampleRate,
		Channels:   channels,
	})
	if err != nil {
		return err
	}
	if err := c.enqueue(msg); err != nil {
		return err
	}

	select {
	case sid := <-c.ackCh:
		c.mu.Lock()
		c.sessionID = sid
		c.sessionOpen = true
		c.mu.Unlock()
		return nil
	case <-time.After(c.cfg.AckTimeout):
		return fault.New(fault.CodeSessionTimeout, "session start not acknowledged").
			WithSuggestion("Try starting the session again.")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendChunk queues one encoded frame, fire-and-forget. Chunks are rejected
// before the session acknowledgment, after StopSession, and when the frame
// index breaks the strictly increasing sequence.
func (c *Client) SendChunk(frame encoder.Frame) error {
	c.mu.Lock()
	if !c.sessionOpen {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.stopping {
		c.mu.Unlock()
		return ErrSessionStopped
	}
	if frame.Index != c.nextIndex {
		c.mu.Unlock()
		return ErrOutOfOrder
	}
	c.nextIndex++
	sid := c.sessionID
	c.stats.sentChunks++
	c.stats.sentBytes += uint64(len(frame.Data))
	c.mu.Unlock()

	msg, err := json.Marshal(audioChunkMsg{
		Type:       typeAudioChunk,
		SessionID:  sid,
		AudioData:  base64.StdEncoding.EncodeToString(frame.Data),
		ChunkIndex: frame.Index,
		Timestamp:  frame.Captured.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

// StopSession sends session:stop and waits, bounded, for the server's stop
// confirmation before releasing the session locally. Safe to call with no
// session open.
func (c *Client) StopSession(ctx context.Context) error {
	c.mu.Lock()
	if !c.sessionOpen || c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	sid := c.sessionID
	c.mu.Unlock()

	select {
	case <-c.stopAck:
	default:
	}

	msg, err := json.Marshal(sessionStopMsg{Type: typeSessionStop, SessionID: sid})
	if err == nil {
		err = c.enqueue(msg)
	}
	if err != nil {
		c.releaseSession()
		return err
	}

	select {
	case <-c.stopAck:
	case <-time.After(c.cfg.AckTimeout):
		log.Warn("session stop not acknowledged, releasing locally")
	case <-ctx.Done():
	}
	c.releaseSession()
	return nil
}

func (c *Client) releaseSession() {
	c.mu.Lock()
	c.sessionOpen = false
	c.sessionID = ""
	c.stopping = false
	c.mu.Unlock()
}

// Close tears down the connection and all goroutines. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.state = StateDisconnected
		cancel := c.connCancel
		conn := c.conn
		stats := c.stats
		c.mu.Unlock()

		close(c.done)
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "")
		}

		log.StreamMetrics(log.StreamMetricsData{
			ConnectMs:    float64(stats.connectDur.Milliseconds()),
			TotalMs:      float64(time.Since(stats.startedAt).Milliseconds()),
			AudioS:       float64(stats.sentBytes) / float64(encoder.SampleRate*encoder.Channels*(encoder.BitsPerSample/8)),
			SentChunks:   stats.sentChunks,
			SentKB:       float64(stats.sentBytes) / 1024,
			RecvMessages: stats.recvMessages,
			RecvFinal:    stats.recvFinal,
			RecvInterim:  stats.recvInterim,
			Reconnects:   stats.reconnects,
		})
	})
}

func (c *Client) enqueue(msg []byte) error {
	select {
	case c.sendCh <- msg:
		return nil
	default:
		log.Warn("transport send queue full")
		return ErrQueueFull
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Warn("transport event queue full, dropping event")
	}
}

func (c *Client) runSender(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.sendCh:
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				c.connLost(gen, err)
				return
			}
		}
	}
}

func (c *Client) runReceiver(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.connLost(gen, err)
			return
		}

		var msg serverMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warnf("undecodable server message: %v", err)
			continue
		}

		c.mu.Lock()
		c.stats.recvMessages++
		if msg.Type == typeTranscriptFinal {
			c.stats.recvFinal++
		} else if msg.Type == typeTranscriptInterim {
			c.stats.recvInterim++
		}
		c.mu.Unlock()

		switch msg.Type {
		case typeSessionStarted:
			select {
			case c.ackCh <- msg.SessionID:
			default:
			}
		case typeTranscriptInterim:
			c.emit(Event{Kind: EventInterim, Transcript: msg.Transcript})
		case typeTranscriptFinal:
			c.emit(Event{Kind: EventFinal, Transcript: msg.Transcript, Confidence: msg.Confidence})
		case typeSessionStopped:
			select {
			case c.stopAck <- struct{}{}:
			default:
			}
			c.emit(Event{Kind: EventSessionStopped})
		case typeError:
			code := fault.Code(msg.Code)
			if code == "" {
				code = fault.CodeNetwork
			}
			c.emit(Event{Kind: EventError, Err: fault.New(code, msg.Message)})
		case typePong:
			// Liveness only.
		default:
			log.Warnf("unknown server message type %q", msg.Type)
		}
	}
}

func (c *Client) runPinger(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg, err := json.Marshal(pingMsg{Type: typePing, Timestamp: time.Now().UnixMilli()})
			if err == nil {
				c.enqueue(msg)
			}
		}
	}
}

// connLost is called by the connection goroutines on a broken connection.
// The generation counter collapses the sender's and receiver's reports into
// one reconnect.
func (c *Client) connLost(gen int, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	if c.connCancel != nil {
		c.connCancel()
	}
	c.conn = nil
	disarmed := c.disarmed
	hadSession := c.sessionOpen
	c.sessionOpen = false
	c.sessionID = ""
	c.stopping = false
	c.state = StateConnecting
	c.stats.reconnects++
	c.mu.Unlock()

	c.emit(Event{Kind: EventError, Err: fault.Wrap(fault.CodeNetwork, "connection lost", err)})
	if hadSession {
		c.emit(Event{Kind: EventSessionStopped})
	}
	if disarmed {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.emit(Event{Kind: EventState, State: StateConnecting})

	go func() {
		if err := c.connectLoop(context.Background()); err != nil {
			c.mu.Lock()
			c.state = StateDisconnected
			c.disarmed = true
			c.mu.Unlock()
			c.emit(Event{Kind: EventError, Err: err})
			c.emit(Event{Kind: EventState, State: StateDisconnected})
		}
	}()
}
