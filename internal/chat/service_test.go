package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campuslink/campuslink/internal/message"
	"github.com/campuslink/campuslink/internal/user"
)

type fakeRepo struct {
	saved   []message.Message
	saveErr error
}

func (r *fakeRepo) Save(_ context.Context, msg message.Message) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, msg)
	return nil
}

func (r *fakeRepo) ListConversation(_ context.Context, a, b user.ID, skip, take int) ([]message.Message, error) {
	var out []message.Message
	for i := len(r.saved) - 1; i >= 0; i-- {
		msg := r.saved[i]
		if (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a) {
			out = append(out, msg)
		}
	}
	if skip >= len(out) {
		return nil, nil
	}
	out = out[skip:]
	if take < len(out) {
		out = out[:take]
	}
	return out, nil
}

func (r *fakeRepo) ListPartners(_ context.Context, userID user.ID) ([]user.ID, error) {
	seen := make(map[user.ID]bool)
	var out []user.ID
	for _, msg := range r.saved {
		var other user.ID
		switch userID {
		case msg.SenderID:
			other = msg.ReceiverID
		case msg.ReceiverID:
			other = msg.SenderID
		default:
			continue
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListRecentForUser(_ context.Context, userID user.ID, limit int) ([]message.Message, error) {
	var out []message.Message
	for i := len(r.saved) - 1; i >= 0 && len(out) < limit; i-- {
		msg := r.saved[i]
		if msg.SenderID == userID || msg.ReceiverID == userID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type fakeAuthorizer struct {
	connected map[string]bool
	err       error
	calls     int
}

func pairKey(a, b user.ID) string {
	if a < b {
		return string(a) + "|" + string(b)
	}
	return string(b) + "|" + string(a)
}

func (a *fakeAuthorizer) IsConnected(_ context.Context, x, y user.ID) (bool, error) {
	a.calls++
	if a.err != nil {
		return false, a.err
	}
	return a.connected[pairKey(x, y)], nil
}

type fakeNotifier struct {
	delivered []message.Message
}

func (n *fakeNotifier) MessageDelivered(_ context.Context, msg message.Message) {
	n.delivered = append(n.delivered, msg)
}

type fakePusher struct {
	pushed []message.Message
	to     []user.ID
	online bool
}

func (p *fakePusher) PushMessage(userID user.ID, msg message.Message) bool {
	p.pushed = append(p.pushed, msg)
	p.to = append(p.to, userID)
	return p.online
}

func newTestService() (*Service, *fakeRepo, *fakeAuthorizer) {
	repo := &fakeRepo{}
	auth := &fakeAuthorizer{connected: make(map[string]bool)}
	svc := NewService(repo, auth)
	n := 0
	svc.idGen = func() message.ID {
		n++
		return message.ID(string(rune('a' + n - 1)))
	}
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo, auth
}

func TestSendMessage_Success(t *testing.T) {
	svc, repo, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true

	msg, err := svc.SendMessage(context.Background(), "alice", "bob", "hey")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.ID == "" {
		t.Error("ID should not be empty")
	}
	if msg.SentAt.IsZero() {
		t.Error("SentAt should not be zero")
	}
	if len(repo.saved) != 1 {
		t.Fatalf("saved %d messages, want 1", len(repo.saved))
	}
	if repo.saved[0].Content != "hey" {
		t.Errorf("Content = %q, want %q", repo.saved[0].Content, "hey")
	}
}

func TestSendMessage_NotConnected(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.SendMessage(context.Background(), "alice", "bob", "hey")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if len(repo.saved) != 0 {
		t.Errorf("unauthorized send persisted %d messages, want 0", len(repo.saved))
	}
}

func TestSendMessage_PendingIsNotConnected(t *testing.T) {
	// A pending or rejected relationship reads as not connected; only the
	// authorizer's true answer opens the send path.
	svc, _, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = false

	_, err := svc.SendMessage(context.Background(), "alice", "bob", "hey")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSendMessage_AuthorizerCheckedPerSend(t *testing.T) {
	svc, _, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true

	for i := 0; i < 3; i++ {
		if _, err := svc.SendMessage(context.Background(), "alice", "bob", "hey"); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
	}
	if auth.calls != 3 {
		t.Errorf("authorizer called %d times, want 3", auth.calls)
	}
}

func TestSendMessage_RevokedMidConversation(t *testing.T) {
	svc, _, auth := newTestService()
	key := pairKey("alice", "bob")
	auth.connected[key] = true

	if _, err := svc.SendMessage(context.Background(), "alice", "bob", "first"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	auth.connected[key] = false
	_, err := svc.SendMessage(context.Background(), "alice", "bob", "second")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized after revocation, got %v", err)
	}

	// History remains readable for both participants.
	msgs, err := svc.GetConversation(context.Background(), "bob", "alice", 0, 10)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "first" {
		t.Errorf("conversation after revocation = %v, want the first message", msgs)
	}
}

func TestSendMessage_AuthorizerError(t *testing.T) {
	svc, repo, auth := newTestService()
	auth.err = errors.New("db down")

	_, err := svc.SendMessage(context.Background(), "alice", "bob", "hey")
	if err == nil {
		t.Fatal("expected error when authorizer fails")
	}
	if errors.Is(err, ErrNotAuthorized) {
		t.Error("authorizer failure should not read as a denial")
	}
	if len(repo.saved) != 0 {
		t.Errorf("saved %d messages, want 0", len(repo.saved))
	}
}

func TestSendMessage_EmptyContent(t *testing.T) {
	svc, _, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := svc.SendMessage(context.Background(), "alice", "bob", content)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("SendMessage(%q) error = %v, want ErrInvalidInput", content, err)
		}
	}
}

func TestSendMessage_SelfSend(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.SendMessage(context.Background(), "alice", "alice", "hey")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSendMessage_TrimsContent(t *testing.T) {
	svc, repo, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true

	if _, err := svc.SendMessage(context.Background(), "alice", "bob", "  hey  "); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if repo.saved[0].Content != "hey" {
		t.Errorf("Content = %q, want trimmed", repo.saved[0].Content)
	}
}

func TestSendMessage_SaveError(t *testing.T) {
	svc, repo, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true
	repo.saveErr = errors.New("disk full")

	notifier := &fakeNotifier{}
	svc.SetNotifier(notifier)

	_, err := svc.SendMessage(context.Background(), "alice", "bob", "hey")
	if err == nil {
		t.Fatal("expected error when save fails")
	}
	if len(notifier.delivered) != 0 {
		t.Error("failed save must not emit a delivery event")
	}
}

func TestSendMessage_NotifierOnce(t *testing.T) {
	svc, _, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true
	notifier := &fakeNotifier{}
	svc.SetNotifier(notifier)

	msg, err := svc.SendMessage(context.Background(), "alice", "bob", "hey")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(notifier.delivered) != 1 {
		t.Fatalf("delivered %d events, want 1", len(notifier.delivered))
	}
	if notifier.delivered[0].ID != msg.ID {
		t.Errorf("delivered message %q, want %q", notifier.delivered[0].ID, msg.ID)
	}
}

func TestSendMessage_PushBestEffort(t *testing.T) {
	// An offline receiver (push returns false) never fails the send.
	svc, repo, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true
	pusher := &fakePusher{online: false}
	svc.SetPusher(pusher)

	msg, err := svc.SendMessage(context.Background(), "alice", "bob", "hey")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("saved %d messages, want 1", len(repo.saved))
	}
	if len(pusher.pushed) != 1 || pusher.to[0] != "bob" {
		t.Errorf("push targets = %v, want [bob]", pusher.to)
	}
	if pusher.pushed[0].ID != msg.ID {
		t.Errorf("pushed message %q, want %q", pusher.pushed[0].ID, msg.ID)
	}
}

func TestSendMessage_RetryDuplicates(t *testing.T) {
	// There is no dedup key: a retry after a transient failure produces a
	// second row.
	svc, repo, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true

	if _, err := svc.SendMessage(context.Background(), "alice", "bob", "hey"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if _, err := svc.SendMessage(context.Background(), "alice", "bob", "hey"); err != nil {
		t.Fatalf("SendMessage() retry error = %v", err)
	}
	if len(repo.saved) != 2 {
		t.Errorf("saved %d messages, want 2 duplicates", len(repo.saved))
	}
}

func TestGetConversation_NewestFirst(t *testing.T) {
	svc, _, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true

	for _, content := range []string{"one", "two", "three"} {
		if _, err := svc.SendMessage(context.Background(), "alice", "bob", content); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
	}

	msgs, err := svc.GetConversation(context.Background(), "alice", "bob", 0, 10)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "three" || msgs[2].Content != "one" {
		t.Errorf("order = [%s %s %s], want newest first", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
}

func TestGetConversation_Pagination(t *testing.T) {
	svc, _, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true

	for _, content := range []string{"one", "two", "three"} {
		if _, err := svc.SendMessage(context.Background(), "alice", "bob", content); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
	}

	msgs, err := svc.GetConversation(context.Background(), "alice", "bob", 1, 1)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "two" {
		t.Errorf("page = %v, want [two]", msgs)
	}
}

func TestGetConversation_ClampsBounds(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.GetConversation(context.Background(), "alice", "bob", -5, 0); err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if _, err := svc.GetConversation(context.Background(), "alice", "bob", 0, 10_000); err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
}

func TestGetConversation_EmptyIDs(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.GetConversation(context.Background(), "", "bob", 0, 10)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetAllConversations(t *testing.T) {
	svc, _, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true
	auth.connected[pairKey("alice", "carol")] = true

	if _, err := svc.SendMessage(context.Background(), "alice", "bob", "hey"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if _, err := svc.SendMessage(context.Background(), "carol", "alice", "yo"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	partners, err := svc.GetAllConversations(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetAllConversations() error = %v", err)
	}
	if len(partners) != 2 {
		t.Fatalf("got %d partners, want 2", len(partners))
	}
}

func TestRecentMessages(t *testing.T) {
	svc, _, auth := newTestService()
	auth.connected[pairKey("alice", "bob")] = true

	for _, content := range []string{"one", "two", "three"} {
		if _, err := svc.SendMessage(context.Background(), "alice", "bob", content); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
	}

	msgs, err := svc.RecentMessages(context.Background(), "bob", 2)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "three" {
		t.Errorf("recent = %v, want newest two", msgs)
	}
}

func TestSendMessage_NilRepo(t *testing.T) {
	svc := &Service{}

	_, err := svc.SendMessage(context.Background(), "alice", "bob", "hey")
	if err == nil {
		t.Fatal("expected error for nil repo")
	}
}
