package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/campuslink/campuslink/internal/auth"
	"github.com/campuslink/campuslink/internal/chat"
	"github.com/campuslink/campuslink/internal/message"
	"github.com/campuslink/campuslink/internal/protocol"
	"github.com/campuslink/campuslink/internal/relationship"
	"github.com/campuslink/campuslink/internal/securelog"
	"github.com/campuslink/campuslink/internal/user"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// Hub owns every live session. One session per user: a second accept for
// the same user closes the first. Incoming envelopes are handled on the
// single Run goroutine, so handler execution per hub is sequential and
// push order matches persistence order for messages handled here.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	incoming   chan incomingEnvelope
	chats      *chat.Service
	rels       *relationship.Service
	count      atomic.Int64

	mu       sync.RWMutex
	sessions map[user.ID]*Client

	now func() time.Time
}

func NewHub(chats *chat.Service, rels *relationship.Service) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan incomingEnvelope, 256),
		chats:      chats,
		rels:       rels,
		sessions:   make(map[user.ID]*Client),
		now:        time.Now,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, c := range h.sessions {
				c.close(websocket.StatusGoingAway, "server shutdown")
			}
			h.sessions = make(map[user.ID]*Client)
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			if prev, ok := h.sessions[c.userID]; ok {
				prev.close(websocket.StatusPolicyViolation, "session replaced")
				h.count.Add(-1)
			}
			h.sessions[c.userID] = c
			h.mu.Unlock()
			h.count.Add(1)
			c.sendEnvelope(protocol.TypeUserOnline, protocol.Presence{UserID: string(c.userID)}, h.now())
			h.broadcastPresence(ctx, c.userID, protocol.TypeUserOnline)
		case c := <-h.unregister:
			h.mu.Lock()
			current, ok := h.sessions[c.userID]
			if ok && current == c {
				delete(h.sessions, c.userID)
			}
			h.mu.Unlock()
			if !ok || current != c {
				continue
			}
			h.count.Add(-1)
			c.close(websocket.StatusNormalClosure, "bye")
			h.broadcastPresence(ctx, c.userID, protocol.TypeUserOffline)
		case env := <-h.incoming:
			h.handleIncoming(ctx, env)
		}
	}
}

func (h *Hub) ClientCount() int64 {
	return h.count.Load()
}

// IsOnline reports whether the user holds a live session.
func (h *Hub) IsOnline(userID user.ID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}

// PushMessage delivers a persisted message to the receiver's live
// session. Best-effort: false means the receiver is offline or its send
// buffer is full, and the message remains retrievable via history.
func (h *Hub) PushMessage(userID user.ID, msg message.Message) bool {
	h.mu.RLock()
	c, ok := h.sessions[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.sendEnvelope(protocol.TypeNewMessage, chatMessagePayload(msg), h.now())
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.chats == nil || h.rels == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	validator, ok := r.Context().Value(authValidatorKey{}).(tokenValidator)
	if !ok || validator == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	session, err := authenticateRequest(r, validator)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	client := &Client{
		conn:   conn,
		hub:    h,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBuffer),
		userID: session.UserID,
	}

	h.register <- client

	go client.writeLoop()
	client.readLoop()
}

type Client struct {
	conn      *websocket.Conn
	hub       *Hub
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan []byte
	closeOnce sync.Once
	userID    user.ID
}

func (c *Client) Send(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer c.requestUnregister()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.sendError(protocol.ErrCodeInvalidMessage, "malformed envelope")
			continue
		}
		c.hub.incoming <- incomingEnvelope{client: c, env: env}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.requestUnregister()
				return
			}
		}
	}
}

// requestUnregister hands the client back to the hub. After shutdown the
// hub no longer drains the channel, so the client's own context is the
// way out.
func (c *Client) requestUnregister() {
	select {
	case c.hub.unregister <- c:
	case <-c.ctx.Done():
	}
}

// close never closes c.send: PushMessage and the relay paths may hold a
// reference to this client while the hub tears the session down, and a
// send into a closed channel would panic them. Late frames sit in the
// abandoned buffer instead.
func (c *Client) close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close(status, reason)
	})
}

func (c *Client) sendEnvelope(t protocol.Type, data any, at time.Time) bool {
	env, err := protocol.NewEnvelope(t, data, at)
	if err != nil {
		return false
	}
	raw, err := protocol.Encode(env)
	if err != nil {
		return false
	}
	return c.Send(raw)
}

func (c *Client) sendError(code, msg string) {
	c.sendEnvelope(protocol.TypeMessageError, protocol.ErrorInfo{Code: code, Message: msg}, time.Now())
}

type incomingEnvelope struct {
	client *Client
	env    protocol.Envelope
}

func (h *Hub) handleIncoming(ctx context.Context, in incomingEnvelope) {
	c := in.client
	switch in.env.Type {
	case protocol.TypeNewMessage:
		h.handleSend(ctx, c, in.env)
	case protocol.TypeTypingStart, protocol.TypeTypingStop:
		h.relayTyping(c, in.env)
	case protocol.TypeMessageRead:
		h.relayReadReceipt(c, in.env)
	case protocol.TypePing:
		c.sendEnvelope(protocol.TypePong, nil, h.now())
	default:
		c.sendError(protocol.ErrCodeInvalidMessage, "type not accepted from clients")
	}
}

func (h *Hub) handleSend(ctx context.Context, sender *Client, env protocol.Envelope) {
	var req protocol.SendRequest
	if err := env.DecodeData(&req); err != nil {
		sender.sendError(protocol.ErrCodeInvalidMessage, "malformed send request")
		return
	}

	msg, err := h.chats.SendMessage(ctx, sender.userID, user.ID(req.ReceiverID), req.Content)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNotAuthorized):
			sender.sendError(protocol.ErrCodeNotAuthorized, "you are not connected with this user")
		case errors.Is(err, chat.ErrInvalidInput):
			sender.sendError(protocol.ErrCodeInvalidMessage, "receiver and content are required")
		default:
			securelog.Error("ws.send", err)
			sender.sendError(protocol.ErrCodeServerError, "failed to send message")
		}
		return
	}

	sender.sendEnvelope(protocol.TypeMessageSent, chatMessagePayload(msg), h.now())
}

// relayTyping forwards a typing signal to the addressed receiver. The
// sender id always comes from the session, never from the payload.
func (h *Hub) relayTyping(sender *Client, env protocol.Envelope) {
	var t protocol.Typing
	if err := env.DecodeData(&t); err != nil || t.ReceiverID == "" {
		return
	}
	t.SenderID = string(sender.userID)
	h.sendToUser(user.ID(t.ReceiverID), env.Type, t)
}

func (h *Hub) relayReadReceipt(sender *Client, env protocol.Envelope) {
	var r protocol.ReadReceipt
	if err := env.DecodeData(&r); err != nil || r.PeerID == "" {
		return
	}
	r.ReaderID = string(sender.userID)
	h.sendToUser(user.ID(r.PeerID), protocol.TypeMessageRead, r)
}

func (h *Hub) sendToUser(userID user.ID, t protocol.Type, data any) bool {
	h.mu.RLock()
	c, ok := h.sessions[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.sendEnvelope(t, data, h.now())
}

// broadcastPresence tells the user's accepted connections that the user
// came online or went offline.
func (h *Hub) broadcastPresence(ctx context.Context, userID user.ID, t protocol.Type) {
	peers, err := h.rels.Connections(ctx, userID)
	if err != nil {
		securelog.Error("ws.presence", err)
		return
	}
	for _, peer := range peers {
		h.sendToUser(peer, t, protocol.Presence{UserID: string(userID)})
	}
}

func chatMessagePayload(msg message.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:         string(msg.ID),
		SenderID:   string(msg.SenderID),
		ReceiverID: string(msg.ReceiverID),
		Content:    msg.Content,
		SentAt:     msg.SentAt.UTC(),
	}
}

type tokenValidator interface {
	ValidateToken(token string) (auth.Session, error)
}

type authValidatorKey struct{}

func WithAuthValidator(next http.Handler, validator tokenValidator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), authValidatorKey{}, validator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticateRequest validates the handshake token. When the client also
// names its user id in the query, it must match the token's session.
func authenticateRequest(r *http.Request, validator tokenValidator) (auth.Session, error) {
	if validator == nil {
		return auth.Session{}, auth.ErrUnauthorized
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
			return parseAuthHeader(header, validator)
		}
		return auth.Session{}, auth.ErrUnauthorized
	}
	session, err := validator.ValidateToken(token)
	if err != nil {
		return auth.Session{}, err
	}
	if claimed := strings.TrimSpace(r.URL.Query().Get("userId")); claimed != "" && user.ID(claimed) != session.UserID {
		return auth.Session{}, auth.ErrUnauthorized
	}
	return session, nil
}

func parseAuthHeader(header string, validator tokenValidator) (auth.Session, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return auth.Session{}, auth.ErrUnauthorized
	}
	return validator.ValidateToken(parts[1])
}
