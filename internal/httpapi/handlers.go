package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/campuslink/campuslink/internal/auth"
	"github.com/campuslink/campuslink/internal/chat"
	"github.com/campuslink/campuslink/internal/message"
	"github.com/campuslink/campuslink/internal/notification"
	"github.com/campuslink/campuslink/internal/relationship"
	"github.com/campuslink/campuslink/internal/securelog"
	"github.com/campuslink/campuslink/internal/user"
)

const (
	maxBodyBytes = 1 << 20
	timeLayout   = time.RFC3339Nano
)

type Handler struct {
	auth     *auth.Service
	rels     *relationship.Service
	chats    *chat.Service
	notifs   *notification.Service
	presence PresenceProvider
}

type PresenceProvider interface {
	IsOnline(userID user.ID) bool
}

func NewHandler(authSvc *auth.Service, rels *relationship.Service, chats *chat.Service, notifs *notification.Service, presence PresenceProvider) *Handler {
	return &Handler{
		auth:     authSvc,
		rels:     rels,
		chats:    chats,
		notifs:   notifs,
		presence: presence,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/connections", h.handleConnections)
	mux.HandleFunc("/connections/pending", h.handlePendingConnections)
	mux.HandleFunc("/connections/respond", h.handleRespondConnection)
	mux.HandleFunc("/connections/block", h.handleBlockConnection)
	mux.HandleFunc("/messages/send", h.handleSendMessage)
	mux.HandleFunc("/messages/conversation", h.handleConversation)
	mux.HandleFunc("/messages", h.handleRecentMessages)
	mux.HandleFunc("/conversations", h.handleConversationList)
	mux.HandleFunc("/notifications", h.handleNotifications)
	mux.HandleFunc("/notifications/read", h.handleNotificationRead)
	mux.HandleFunc("/presence", h.handlePresence)
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string  `json:"token"`
	UserID    user.ID `json:"user_id"`
	Username  string  `json:"username"`
	ExpiresAt string  `json:"expires_at"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req authRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, session, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, user.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Token:     session.Token,
		UserID:    created.ID,
		Username:  session.Username,
		ExpiresAt: session.ExpiresAt.UTC().Format(timeLayout),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req authRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	found, session, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, auth.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Token:     session.Token,
		UserID:    found.ID,
		Username:  session.Username,
		ExpiresAt: session.ExpiresAt.UTC().Format(timeLayout),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			h.auth.Revoke(parts[1])
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type connectionRequest struct {
	RecipientID user.ID `json:"recipient_id"`
}

type connectionResponse struct {
	ID          relationship.ID     `json:"id"`
	RequesterID user.ID             `json:"requester_id"`
	RecipientID user.ID             `json:"recipient_id"`
	Status      relationship.Status `json:"status"`
	CreatedAt   string              `json:"created_at"`
}

func toConnectionResponse(rel relationship.Relationship) connectionResponse {
	return connectionResponse{
		ID:          rel.ID,
		RequesterID: rel.RequesterID,
		RecipientID: rel.RecipientID,
		Status:      rel.Status,
		CreatedAt:   rel.CreatedAt.UTC().Format(timeLayout),
	}
}

func (h *Handler) handleConnections(w http.ResponseWriter, r *http.Request) {
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req connectionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rel, err := h.rels.Request(r.Context(), session.UserID, req.RecipientID)
		if err != nil {
			switch {
			case errors.Is(err, relationship.ErrInvalidInput):
				writeError(w, http.StatusBadRequest, err)
			case errors.Is(err, relationship.ErrAlreadyExists):
				writeError(w, http.StatusConflict, err)
			default:
				writeError(w, http.StatusInternalServerError, err)
			}
			return
		}
		writeJSON(w, http.StatusCreated, toConnectionResponse(rel))

	case http.MethodGet:
		peers, err := h.rels.Connections(r.Context(), session.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]user.ID{"connections": peers})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePendingConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	rels, err := h.rels.Pending(r.Context(), session.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := make([]connectionResponse, 0, len(rels))
	for _, rel := range rels {
		resp = append(resp, toConnectionResponse(rel))
	}
	writeJSON(w, http.StatusOK, map[string][]connectionResponse{"pending": resp})
}

type respondRequest struct {
	ID     relationship.ID `json:"id"`
	Accept bool            `json:"accept"`
}

func (h *Handler) handleRespondConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req respondRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rel, err := h.rels.Respond(r.Context(), req.ID, session.UserID, req.Accept)
	if err != nil {
		switch {
		case errors.Is(err, relationship.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, relationship.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, relationship.ErrNotRecipient):
			writeError(w, http.StatusForbidden, err)
		case errors.Is(err, relationship.ErrNotPending):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(rel))
}

type blockRequest struct {
	UserID user.ID `json:"user_id"`
}

func (h *Handler) handleBlockConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req blockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rel, err := h.rels.Block(r.Context(), session.UserID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, relationship.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(rel))
}

type sendMessageRequest struct {
	ReceiverID user.ID `json:"receiver_id"`
	Content    string  `json:"content"`
}

type messageResponse struct {
	ID         message.ID `json:"id"`
	SenderID   user.ID    `json:"sender_id"`
	ReceiverID user.ID    `json:"receiver_id"`
	Content    string     `json:"content"`
	SentAt     string     `json:"sent_at"`
}

func toMessageResponse(msg message.Message) messageResponse {
	return messageResponse{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		SentAt:     msg.SentAt.UTC().Format(timeLayout),
	}
}

// handleSendMessage is the REST fallback for clients without a live
// channel. Same authorization gate as the channel path.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := h.chats.SendMessage(r.Context(), session.UserID, req.ReceiverID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, chat.ErrNotAuthorized):
			writeError(w, http.StatusForbidden, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (h *Handler) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	limit := queryInt(r, "limit", 20)
	msgs, err := h.chats.RecentMessages(r.Context(), session.UserID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]messageResponse{"messages": toMessageResponses(msgs)})
}

func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	other := user.ID(strings.TrimSpace(r.URL.Query().Get("user_id")))
	skip := queryInt(r, "skip", 0)
	take := queryInt(r, "take", 20)

	msgs, err := h.chats.GetConversation(r.Context(), session.UserID, other, skip, take)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string][]messageResponse{"messages": toMessageResponses(msgs)})
}

func (h *Handler) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	partners, err := h.chats.GetAllConversations(r.Context(), session.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]user.ID{"conversations": partners})
}

type notificationResponse struct {
	ID        notification.ID `json:"id"`
	ActorID   user.ID         `json:"actor_id"`
	Kind      string          `json:"kind"`
	Body      string          `json:"body"`
	CreatedAt string          `json:"created_at"`
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	ns, err := h.notifs.Unread(r.Context(), session.UserID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := make([]notificationResponse, 0, len(ns))
	for _, n := range ns {
		resp = append(resp, notificationResponse{
			ID:        n.ID,
			ActorID:   n.ActorID,
			Kind:      n.Kind,
			Body:      n.Body,
			CreatedAt: n.CreatedAt.UTC().Format(timeLayout),
		})
	}
	writeJSON(w, http.StatusOK, map[string][]notificationResponse{"notifications": resp})
}

type markReadRequest struct {
	ID notification.ID `json:"id"`
}

func (h *Handler) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req markReadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.notifs.MarkRead(r.Context(), req.ID, session.UserID); err != nil {
		switch {
		case errors.Is(err, notification.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePresence reports online status for the caller's accepted
// connections.
func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if h.presence == nil {
		writeError(w, http.StatusInternalServerError, errors.New("presence not configured"))
		return
	}

	peers, err := h.rels.Connections(r.Context(), session.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	statuses := make(map[user.ID]bool, len(peers))
	for _, peer := range peers {
		statuses[peer] = h.presence.IsOnline(peer)
	}
	writeJSON(w, http.StatusOK, map[string]map[user.ID]bool{"statuses": statuses})
}

func (h *Handler) authenticate(r *http.Request) (auth.Session, error) {
	if h.auth == nil {
		return auth.Session{}, auth.ErrUnauthorized
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return h.auth.ValidateToken(parts[1])
		}
	}
	return auth.Session{}, auth.ErrUnauthorized
}

func toMessageResponses(msgs []message.Message) []messageResponse {
	resp := make([]messageResponse, 0, len(msgs))
	for _, msg := range msgs {
		resp = append(resp, toMessageResponse(msg))
	}
	return resp
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("multiple json objects are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	securelog.Error("httpapi", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
