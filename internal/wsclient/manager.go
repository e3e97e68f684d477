// Package wsclient maintains one logical channel per authenticated user
// session: connect/disconnect/reconnect, heartbeat, and typed dispatch
// of incoming envelopes to registered handlers.
//
// The heartbeat is send-only. A missed PONG does not force a transition;
// the transport's own close signal is the only liveness input, so a
// half-open connection is not detected by the heartbeat alone.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/campuslink/campuslink/internal/protocol"
	"github.com/campuslink/campuslink/internal/user"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

var (
	// ErrNotConnected means the caller tried to send with no active
	// session. Programmer-facing; the manager never retries it.
	ErrNotConnected = errors.New("no active session")
	// ErrAuthFailed is terminal: the manager will not reconnect after it.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrTransport wraps channel open/close failures. Reconnection is
	// attempted up to the configured budget, then surfaced as terminal.
	ErrTransport = errors.New("transport failure")
	// ErrConnectInProgress is returned when Connect is called while a
	// previous Connect or a reconnect attempt is still running.
	ErrConnectInProgress = errors.New("connect already in progress")
)

// Transport is the minimal channel surface the manager needs. The
// default implementation wraps a websocket connection; tests inject
// fakes.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type DialFunc func(ctx context.Context, url string) (Transport, error)

// Handler receives one envelope. Handlers for a session are invoked
// sequentially, in arrival order, from the session's read loop.
type Handler func(env protocol.Envelope)

type credentials struct {
	userID user.ID
	token  string
}

// Manager owns a single logical channel. It is instantiable per user
// session and safe for concurrent use.
type Manager struct {
	serverURL string
	dial      DialFunc

	heartbeatEvery time.Duration
	reconnectDelay time.Duration
	maxReconnects  int
	writeTimeout   time.Duration
	dialTimeout    time.Duration

	mu       sync.Mutex
	status   Status
	creds    *credentials
	conn     Transport
	handlers map[protocol.Type]Handler
	cancel   context.CancelFunc
	ctx      context.Context
	dialing  bool
}

func NewManager(serverURL string) *Manager {
	return &Manager{
		serverURL:      serverURL,
		dial:           dialWebsocket,
		heartbeatEvery: 30 * time.Second,
		reconnectDelay: 2 * time.Second,
		maxReconnects:  5,
		writeTimeout:   5 * time.Second,
		dialTimeout:    10 * time.Second,
		handlers:       make(map[protocol.Type]Handler),
	}
}

// Connect opens the channel and suspends the caller until it is open or
// has failed. Idempotent: calling it while already connected resolves
// immediately without opening a second channel.
func (m *Manager) Connect(ctx context.Context, userID user.ID, token string) error {
	if userID == "" || strings.TrimSpace(token) == "" {
		return ErrAuthFailed
	}

	m.mu.Lock()
	switch m.status {
	case StatusConnected:
		m.mu.Unlock()
		return nil
	case StatusConnecting, StatusReconnecting:
		m.mu.Unlock()
		return ErrConnectInProgress
	}
	m.status = StatusConnecting
	m.creds = &credentials{userID: userID, token: token}
	sessionCtx, cancel := context.WithCancel(context.Background())
	m.ctx = sessionCtx
	m.cancel = cancel
	m.dialing = true
	target := m.channelURL(userID, token)
	dial := m.dial
	m.mu.Unlock()

	conn, err := dial(ctx, target)

	m.mu.Lock()
	m.dialing = false
	if sessionCtx.Err() != nil {
		// Disconnect won the race while dialing.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrNotConnected
	}
	if err != nil {
		m.status = StatusDisconnected
		m.creds = nil
		m.cancel = nil
		m.mu.Unlock()
		cancel()
		if errors.Is(err, ErrAuthFailed) {
			return err
		}
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}
	m.conn = conn
	m.status = StatusConnected
	m.mu.Unlock()

	go m.readLoop(sessionCtx, conn)
	go m.heartbeat(sessionCtx)
	return nil
}

// Disconnect tears the session down from any state: heartbeat stopped,
// in-flight reconnects cancelled, credentials cleared. Safe to call
// repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	cancel := m.cancel
	m.conn = nil
	m.creds = nil
	m.cancel = nil
	m.ctx = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Send transmits one envelope, fire-and-forget: no delivery ack is
// awaited. If the session is down but credentials are held, one
// reconnect-then-send is attempted; past that the caller must retry.
func (m *Manager) Send(t protocol.Type, data any) error {
	env, err := protocol.NewEnvelope(t, data, time.Now())
	if err != nil {
		return err
	}
	raw, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.status == StatusConnected && m.conn != nil {
		conn := m.conn
		ctx := m.ctx
		m.mu.Unlock()
		return m.write(ctx, conn, raw)
	}
	if m.creds == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.dialing {
		// Another connect or reconnect attempt already holds the dial;
		// this send does not get its own.
		m.mu.Unlock()
		return fmt.Errorf("%w: reconnect in progress", ErrTransport)
	}
	m.dialing = true
	creds := *m.creds
	sessionCtx := m.ctx
	target := m.channelURL(creds.userID, creds.token)
	dial := m.dial
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	conn, dialErr := dial(dialCtx, target)
	cancel()

	m.mu.Lock()
	m.dialing = false
	if sessionCtx == nil || sessionCtx.Err() != nil || m.creds == nil {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrNotConnected
	}
	if dialErr != nil {
		m.mu.Unlock()
		if errors.Is(dialErr, ErrAuthFailed) {
			m.Disconnect()
			return dialErr
		}
		return fmt.Errorf("%w: %s", ErrTransport, dialErr)
	}
	if m.conn != nil {
		// The background reconnect beat us to it; use its channel.
		_ = conn.Close()
		conn = m.conn
	} else {
		m.conn = conn
		go m.readLoop(sessionCtx, conn)
	}
	m.status = StatusConnected
	ctx := m.ctx
	m.mu.Unlock()

	return m.write(ctx, conn, raw)
}

// On registers the handler for a message type. Exactly one handler per
// type; the last registration wins.
func (m *Manager) On(t protocol.Type, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.handlers, t)
		return
	}
	m.handlers[t] = h
}

// Off removes the handler for a message type.
func (m *Manager) Off(t protocol.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, t)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) IsConnected() bool {
	return m.Status() == StatusConnected
}

// CurrentUserID returns the session's user id, or empty when no
// credentials are held.
func (m *Manager) CurrentUserID() user.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return ""
	}
	return m.creds.userID
}

func (m *Manager) readLoop(ctx context.Context, conn Transport) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleConnectionLoss(ctx, conn)
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env protocol.Envelope) {
	m.mu.Lock()
	h := m.handlers[env.Type]
	m.mu.Unlock()
	if h != nil {
		h(env)
	}
}

// heartbeat emits PING at a fixed interval while the session is
// connected. Write errors are ignored here; the read loop observes the
// transport close.
func (m *Manager) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			conn := m.conn
			connected := m.status == StatusConnected
			m.mu.Unlock()
			if !connected || conn == nil {
				continue
			}
			env, err := protocol.NewEnvelope(protocol.TypePing, nil, time.Now())
			if err != nil {
				continue
			}
			raw, err := protocol.Encode(env)
			if err != nil {
				continue
			}
			_ = m.write(ctx, conn, raw)
		}
	}
}

// handleConnectionLoss reacts to a remotely closed channel: reconnect
// while credentials are held, otherwise settle in Disconnected.
func (m *Manager) handleConnectionLoss(ctx context.Context, conn Transport) {
	m.mu.Lock()
	if m.conn != conn {
		// A replacement channel is already up.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.creds == nil {
		m.status = StatusDisconnected
		m.mu.Unlock()
		return
	}
	m.status = StatusReconnecting
	m.mu.Unlock()
	_ = conn.Close()

	m.runReconnect(ctx)
}

// runReconnect drives the bounded retry loop: fixed delay between
// attempts, no backoff. Success resets the budget by construction (the
// next loss starts a fresh loop); exhaustion clears credentials so a new
// explicit Connect is required.
func (m *Manager) runReconnect(ctx context.Context) {
	for attempt := 1; attempt <= m.maxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.reconnectDelay):
		}

		m.mu.Lock()
		if m.status != StatusReconnecting || m.creds == nil {
			m.mu.Unlock()
			return
		}
		if m.dialing {
			m.mu.Unlock()
			continue
		}
		m.dialing = true
		creds := *m.creds
		target := m.channelURL(creds.userID, creds.token)
		dial := m.dial
		m.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
		conn, err := dial(dialCtx, target)
		cancel()

		m.mu.Lock()
		m.dialing = false
		if ctx.Err() != nil || m.creds == nil {
			m.mu.Unlock()
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			m.mu.Unlock()
			if errors.Is(err, ErrAuthFailed) {
				m.Disconnect()
				return
			}
			continue
		}
		m.conn = conn
		m.status = StatusConnected
		m.mu.Unlock()
		go m.readLoop(ctx, conn)
		return
	}

	m.Disconnect()
}

func (m *Manager) write(ctx context.Context, conn Transport, data []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	writeCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, data); err != nil {
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}
	return nil
}

func (m *Manager) channelURL(userID user.ID, token string) string {
	base := strings.Replace(m.serverURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	q := url.Values{}
	q.Set("userId", string(userID))
	q.Set("token", token)
	return base + "/ws?" + q.Encode()
}

func dialWebsocket(ctx context.Context, target string) (Transport, error) {
	conn, resp, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return nil, fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}
