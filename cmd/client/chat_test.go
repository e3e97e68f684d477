package main

import (
	"net/http"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/campuslink/campuslink/internal/protocol"
)

func newTestChatModel(t *testing.T) chatModel {
	t.Helper()
	api := &APIClient{serverURL: "http://server", httpClient: http.DefaultClient}
	auth := &AuthResponse{Token: "tok", UserID: "alice", Username: "alice"}
	return newChatModel(api, auth, 100, 30)
}

func mustEnvelope(t *testing.T, typ protocol.Type, data any) envelopeMsg {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, data, time.Now())
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	return envelopeMsg(env)
}

func TestChatModel_NewMessageAppends(t *testing.T) {
	m := newTestChatModel(t)
	m, _ = m.Update(mustEnvelope(t, protocol.TypeNewMessage, protocol.ChatMessage{
		ID: "m-1", SenderID: "bob", ReceiverID: "alice", Content: "hey", SentAt: time.Now(),
	}))

	msgs := m.msgs["bob"]
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if msgs[0].content != "hey" || msgs[0].isMine {
		t.Errorf("msg = %+v", msgs[0])
	}
}

func TestChatModel_NewMessageClearsTyping(t *testing.T) {
	m := newTestChatModel(t)
	m.typing["bob"] = true

	m, _ = m.Update(mustEnvelope(t, protocol.TypeNewMessage, protocol.ChatMessage{
		ID: "m-1", SenderID: "bob", ReceiverID: "alice", Content: "hey", SentAt: time.Now(),
	}))
	if m.typing["bob"] {
		t.Error("incoming message should clear the typing indicator")
	}
}

func TestChatModel_MessageSentAck(t *testing.T) {
	m := newTestChatModel(t)
	m, _ = m.Update(mustEnvelope(t, protocol.TypeMessageSent, protocol.ChatMessage{
		ID: "m-2", SenderID: "alice", ReceiverID: "bob", Content: "hello", SentAt: time.Now(),
	}))

	msgs := m.msgs["bob"]
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if !msgs[0].isMine {
		t.Error("ack should be recorded as own message")
	}
}

func TestChatModel_MessageErrorShown(t *testing.T) {
	m := newTestChatModel(t)
	m, _ = m.Update(mustEnvelope(t, protocol.TypeMessageError, protocol.ErrorInfo{
		Code: protocol.ErrCodeNotAuthorized, Message: "not connected with this user",
	}))
	if m.errMsg != "not connected with this user" {
		t.Errorf("errMsg = %q", m.errMsg)
	}
}

func TestChatModel_TypingToggle(t *testing.T) {
	m := newTestChatModel(t)
	m, _ = m.Update(mustEnvelope(t, protocol.TypeTypingStart, protocol.Typing{SenderID: "bob", ReceiverID: "alice"}))
	if !m.typing["bob"] {
		t.Fatal("TYPING_START should mark the peer typing")
	}
	m, _ = m.Update(mustEnvelope(t, protocol.TypeTypingStop, protocol.Typing{SenderID: "bob", ReceiverID: "alice"}))
	if m.typing["bob"] {
		t.Error("TYPING_STOP should clear the indicator")
	}
}

func TestChatModel_ReadReceiptMarksSeen(t *testing.T) {
	m := newTestChatModel(t)
	m, _ = m.Update(mustEnvelope(t, protocol.TypeMessageRead, protocol.ReadReceipt{ReaderID: "bob", PeerID: "alice"}))
	if !m.seen["bob"] {
		t.Fatal("read receipt should mark the peer's conversation seen")
	}

	m.activePeer = "bob"
	if !strings.Contains(m.View(), "seen") {
		t.Error("view should show the seen marker")
	}

	// A new own message is unseen again until the next receipt.
	m, _ = m.Update(mustEnvelope(t, protocol.TypeMessageSent, protocol.ChatMessage{
		ID: "m-4", SenderID: "alice", ReceiverID: "bob", Content: "more", SentAt: time.Now(),
	}))
	if m.seen["bob"] {
		t.Error("own message should clear the seen marker")
	}
}

func TestChatModel_PresenceIgnoresSelf(t *testing.T) {
	m := newTestChatModel(t)
	m, _ = m.Update(mustEnvelope(t, protocol.TypeUserOnline, protocol.Presence{UserID: "alice"}))
	if m.online["alice"] {
		t.Error("own presence echo should not be tracked")
	}

	m, _ = m.Update(mustEnvelope(t, protocol.TypeUserOnline, protocol.Presence{UserID: "bob"}))
	if !m.online["bob"] {
		t.Fatal("peer USER_ONLINE should mark them online")
	}
	m, _ = m.Update(mustEnvelope(t, protocol.TypeUserOffline, protocol.Presence{UserID: "bob"}))
	if m.online["bob"] {
		t.Error("peer USER_OFFLINE should mark them offline")
	}
}

func TestChatModel_MalformedPayloadIgnored(t *testing.T) {
	m := newTestChatModel(t)
	env := protocol.Envelope{Type: protocol.TypeNewMessage, Data: []byte(`{bad json`)}
	m, _ = m.Update(envelopeMsg(env))
	if len(m.msgs) != 0 {
		t.Error("malformed payload should not append a message")
	}
}

func TestChatModel_PeersLoadedSelectsFirst(t *testing.T) {
	m := newTestChatModel(t)
	m, cmd := m.Update(peersLoadedMsg{
		peers:    []string{"bob", "carol"},
		statuses: map[string]bool{"bob": true},
	})
	if m.activePeer != "bob" {
		t.Errorf("activePeer = %q, want bob", m.activePeer)
	}
	if !m.online["bob"] || m.online["carol"] {
		t.Errorf("online = %v", m.online)
	}
	if cmd == nil {
		t.Error("first peer selection should load its history")
	}
}

func TestChatModel_HistoryReversedToChronological(t *testing.T) {
	m := newTestChatModel(t)
	m.activePeer = "bob"
	m, _ = m.Update(historyLoadedMsg{
		peer: "bob",
		msgs: []MessageResponse{
			{ID: "m-2", SenderID: "alice", Content: "second"},
			{ID: "m-1", SenderID: "bob", Content: "first"},
		},
	})

	msgs := m.msgs["bob"]
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].content != "first" || msgs[1].content != "second" {
		t.Errorf("history out of order: %+v", msgs)
	}
	if !m.loaded["bob"] {
		t.Error("history load should mark the peer loaded")
	}
}

func TestChatModel_TabCyclesPeers(t *testing.T) {
	m := newTestChatModel(t)
	m.peers = []string{"bob", "carol"}
	m.activePeer = "bob"
	m.loaded["bob"] = true
	m.loaded["carol"] = true

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.activePeer != "carol" {
		t.Errorf("activePeer = %q, want carol", m.activePeer)
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.activePeer != "bob" {
		t.Errorf("activePeer = %q, want bob after wrap", m.activePeer)
	}
}

func TestChatModel_SendFallbackAppends(t *testing.T) {
	m := newTestChatModel(t)
	m, _ = m.Update(sendFallbackMsg{msg: &MessageResponse{
		ID: "m-3", SenderID: "alice", ReceiverID: "bob", Content: "offline send",
	}})

	msgs := m.msgs["bob"]
	if len(msgs) != 1 || !msgs[0].isMine {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestChatModel_ViewShowsPeers(t *testing.T) {
	m := newTestChatModel(t)
	m.peers = []string{"bob"}
	m.activePeer = "bob"
	if !strings.Contains(m.View(), "bob") {
		t.Error("view should list the peer")
	}
}

func TestJoinColumns(t *testing.T) {
	got := joinColumns("a\nb\nc", "x")
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if !strings.Contains(lines[0], "a") || !strings.Contains(lines[0], "x") {
		t.Errorf("first line = %q", lines[0])
	}
}

func TestClampMin(t *testing.T) {
	if got := clampMin(5, 10); got != 10 {
		t.Errorf("clampMin(5, 10) = %d", got)
	}
	if got := clampMin(15, 10); got != 15 {
		t.Errorf("clampMin(15, 10) = %d", got)
	}
}
