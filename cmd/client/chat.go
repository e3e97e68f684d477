package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/campuslink/campuslink/internal/protocol"
	"github.com/campuslink/campuslink/internal/user"
	"github.com/campuslink/campuslink/internal/wsclient"
)

const (
	sidebarWidth = 26
	eventBuffer  = 64
)

type chatMessage struct {
	sender  string
	content string
	sentAt  string
	isMine  bool
}

type chatModel struct {
	api     *APIClient
	auth    *AuthResponse
	manager *wsclient.Manager
	events  chan protocol.Envelope

	peers      []string
	online     map[string]bool
	typing     map[string]bool
	seen       map[string]bool
	msgs       map[string][]chatMessage
	loaded     map[string]bool
	activePeer string
	peerIdx    int

	viewport   viewport.Model
	input      textinput.Model
	status     wsclient.Status
	errMsg     string
	width      int
	height     int
	sentTyping bool
}

type channelReadyMsg struct{}

type channelErrMsg struct{ err error }

type envelopeMsg protocol.Envelope

type peersLoadedMsg struct {
	peers    []string
	statuses map[string]bool
}

type historyLoadedMsg struct {
	peer string
	msgs []MessageResponse
}

type sendFallbackMsg struct{ msg *MessageResponse }

type sendErrMsg struct{ err error }

type statusTickMsg struct{}

func newChatModel(api *APIClient, auth *AuthResponse, width, height int) chatModel {
	input := textinput.New()
	input.Placeholder = "type a message..."
	input.CharLimit = 4096
	input.Width = clampMin(width-sidebarWidth-8, 20)
	input.Focus()

	vpHeight := clampMin(height-7, 1)
	vpWidth := clampMin(width-sidebarWidth-4, 10)
	vp := viewport.New(vpWidth, vpHeight)

	events := make(chan protocol.Envelope, eventBuffer)
	manager := wsclient.NewManager(api.serverURL)
	forward := func(env protocol.Envelope) {
		select {
		case events <- env:
		default:
		}
	}
	for _, t := range []protocol.Type{
		protocol.TypeNewMessage,
		protocol.TypeMessageSent,
		protocol.TypeMessageError,
		protocol.TypeTypingStart,
		protocol.TypeTypingStop,
		protocol.TypeMessageRead,
		protocol.TypeUserOnline,
		protocol.TypeUserOffline,
	} {
		manager.On(t, forward)
	}

	return chatModel{
		api:      api,
		auth:     auth,
		manager:  manager,
		events:   events,
		online:   make(map[string]bool),
		typing:   make(map[string]bool),
		seen:     make(map[string]bool),
		msgs:     make(map[string][]chatMessage),
		loaded:   make(map[string]bool),
		viewport: vp,
		input:    input,
		width:    width,
		height:   height,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.openChannel(),
		m.loadPeers(),
		waitForEnvelope(m.events),
		statusTick(),
	)
}

func (m chatModel) openChannel() tea.Cmd {
	manager := m.manager
	userID := user.ID(m.auth.UserID)
	token := m.auth.Token
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Connect(ctx, userID, token); err != nil {
			return channelErrMsg{err: err}
		}
		return channelReadyMsg{}
	}
}

func (m chatModel) loadPeers() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		peers, err := api.Connections(ctx)
		if err != nil {
			return channelErrMsg{err: err}
		}
		statuses, err := api.Presence(ctx)
		if err != nil {
			statuses = map[string]bool{}
		}
		sort.Strings(peers)
		return peersLoadedMsg{peers: peers, statuses: statuses}
	}
}

func (m chatModel) loadHistory(peer string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		msgs, err := api.Conversation(ctx, peer, 0, 50)
		if err != nil {
			return channelErrMsg{err: err}
		}
		return historyLoadedMsg{peer: peer, msgs: msgs}
	}
}

func waitForEnvelope(ch <-chan protocol.Envelope) tea.Cmd {
	return func() tea.Msg {
		return envelopeMsg(<-ch)
	}
}

func statusTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

func (m chatModel) Update(msg tea.Msg) (chatModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = clampMin(m.width-sidebarWidth-8, 20)
		m.viewport.Width = clampMin(m.width-sidebarWidth-4, 10)
		m.viewport.Height = clampMin(m.height-7, 1)
		m.refreshViewport()
		return m, nil

	case channelReadyMsg:
		m.status = m.manager.Status()
		return m, nil

	case channelErrMsg:
		m.errMsg = msg.err.Error()
		m.status = m.manager.Status()
		return m, nil

	case statusTickMsg:
		m.status = m.manager.Status()
		return m, statusTick()

	case peersLoadedMsg:
		m.peers = msg.peers
		for peer, online := range msg.statuses {
			m.online[peer] = online
		}
		if m.activePeer == "" && len(m.peers) > 0 {
			m.activePeer = m.peers[0]
			m.peerIdx = 0
			return m, m.loadHistory(m.activePeer)
		}
		return m, nil

	case historyLoadedMsg:
		m.loaded[msg.peer] = true
		history := make([]chatMessage, 0, len(msg.msgs))
		// History arrives newest first; display oldest first.
		for i := len(msg.msgs) - 1; i >= 0; i-- {
			rm := msg.msgs[i]
			history = append(history, chatMessage{
				sender:  rm.SenderID,
				content: rm.Content,
				sentAt:  rm.SentAt,
				isMine:  rm.SenderID == m.auth.UserID,
			})
		}
		m.msgs[msg.peer] = append(history, m.msgs[msg.peer]...)
		m.refreshViewport()
		return m, nil

	case envelopeMsg:
		cmd := m.handleEnvelope(protocol.Envelope(msg))
		return m, tea.Batch(cmd, waitForEnvelope(m.events))

	case sendFallbackMsg:
		m.appendMessage(msg.msg.ReceiverID, chatMessage{
			sender:  msg.msg.SenderID,
			content: msg.msg.Content,
			sentAt:  msg.msg.SentAt,
			isMine:  true,
		})
		return m, nil

	case sendErrMsg:
		m.errMsg = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) handleEnvelope(env protocol.Envelope) tea.Cmd {
	switch env.Type {
	case protocol.TypeNewMessage:
		var cm protocol.ChatMessage
		if err := env.DecodeData(&cm); err != nil {
			return nil
		}
		m.appendMessage(cm.SenderID, chatMessage{
			sender:  cm.SenderID,
			content: cm.Content,
			sentAt:  cm.SentAt.Format(time.RFC3339),
		})
		m.typing[cm.SenderID] = false
		if cm.SenderID == m.activePeer {
			return m.sendReadReceipt(cm.SenderID)
		}

	case protocol.TypeMessageSent:
		var cm protocol.ChatMessage
		if err := env.DecodeData(&cm); err != nil {
			return nil
		}
		m.appendMessage(cm.ReceiverID, chatMessage{
			sender:  cm.SenderID,
			content: cm.Content,
			sentAt:  cm.SentAt.Format(time.RFC3339),
			isMine:  true,
		})

	case protocol.TypeMessageError:
		var info protocol.ErrorInfo
		if err := env.DecodeData(&info); err != nil {
			return nil
		}
		m.errMsg = info.Message

	case protocol.TypeMessageRead:
		var r protocol.ReadReceipt
		if err := env.DecodeData(&r); err != nil {
			return nil
		}
		m.seen[r.ReaderID] = true

	case protocol.TypeTypingStart, protocol.TypeTypingStop:
		var t protocol.Typing
		if err := env.DecodeData(&t); err != nil {
			return nil
		}
		m.typing[t.SenderID] = env.Type == protocol.TypeTypingStart

	case protocol.TypeUserOnline, protocol.TypeUserOffline:
		var p protocol.Presence
		if err := env.DecodeData(&p); err != nil {
			return nil
		}
		if p.UserID != m.auth.UserID {
			m.online[p.UserID] = env.Type == protocol.TypeUserOnline
		}
	}
	return nil
}

func (m chatModel) handleKey(msg tea.KeyMsg) (chatModel, tea.Cmd) {
	switch msg.String() {
	case "tab":
		if len(m.peers) == 0 {
			return m, nil
		}
		m.peerIdx = (m.peerIdx + 1) % len(m.peers)
		m.activePeer = m.peers[m.peerIdx]
		m.refreshViewport()
		if !m.loaded[m.activePeer] {
			return m, m.loadHistory(m.activePeer)
		}
		return m, nil

	case "enter":
		content := strings.TrimSpace(m.input.Value())
		if content == "" || m.activePeer == "" {
			return m, nil
		}
		m.input.SetValue("")
		m.errMsg = ""
		m.sentTyping = false
		return m, m.sendMessage(m.activePeer, content)
	}

	wasEmpty := strings.TrimSpace(m.input.Value()) == ""
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)

	// Signal typing on the first keystroke of a draft.
	if wasEmpty && !m.sentTyping && strings.TrimSpace(m.input.Value()) != "" && m.activePeer != "" {
		m.sentTyping = true
		return m, tea.Batch(cmd, m.sendTyping(m.activePeer, true))
	}
	return m, cmd
}

// sendMessage prefers the live channel; if the channel send fails the
// REST fallback carries the message instead.
func (m chatModel) sendMessage(peer, content string) tea.Cmd {
	manager := m.manager
	api := m.api
	return func() tea.Msg {
		err := manager.Send(protocol.TypeNewMessage, protocol.SendRequest{
			ReceiverID: peer,
			Content:    content,
		})
		if err == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sent, restErr := api.SendMessage(ctx, peer, content)
		if restErr != nil {
			return sendErrMsg{err: fmt.Errorf("send failed: %s", restErr)}
		}
		return sendFallbackMsg{msg: sent}
	}
}

func (m chatModel) sendTyping(peer string, start bool) tea.Cmd {
	manager := m.manager
	return func() tea.Msg {
		t := protocol.TypeTypingStop
		if start {
			t = protocol.TypeTypingStart
		}
		_ = manager.Send(t, protocol.Typing{ReceiverID: peer})
		return nil
	}
}

func (m chatModel) sendReadReceipt(peer string) tea.Cmd {
	manager := m.manager
	return func() tea.Msg {
		_ = manager.Send(protocol.TypeMessageRead, protocol.ReadReceipt{PeerID: peer})
		return nil
	}
}

func (m *chatModel) appendMessage(peer string, cm chatMessage) {
	m.msgs[peer] = append(m.msgs[peer], cm)
	if cm.isMine {
		m.seen[peer] = false
	}
	if peer == m.activePeer {
		m.refreshViewport()
	}
}

func (m *chatModel) refreshViewport() {
	var b strings.Builder
	for _, cm := range m.msgs[m.activePeer] {
		style := recvMsgStyle
		label := cm.sender
		if cm.isMine {
			style = sentMsgStyle
			label = "you"
		}
		b.WriteString(style.Render(fmt.Sprintf("%s: %s", label, cm.content)))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	var b strings.Builder

	b.WriteString("  ")
	b.WriteString(appNameStyle.Render("campuslink"))
	b.WriteString("  ")
	b.WriteString(m.statusView())
	if m.activePeer != "" {
		b.WriteString(subtitleStyle.Render("  chatting with " + m.activePeer))
		if m.typing[m.activePeer] {
			b.WriteString(typingStyle.Render("  typing..."))
		} else if m.seen[m.activePeer] {
			b.WriteString(subtitleStyle.Render("  seen"))
		}
	}
	b.WriteString("\n")
	b.WriteString(separator(m.width))
	b.WriteString("\n")

	main := m.viewport.View()
	side := m.sidebarView()
	b.WriteString(joinColumns(main, sidebarBoxStyle.Render(side)))
	b.WriteString("\n")
	b.WriteString(separator(m.width))
	b.WriteString("\n")

	b.WriteString("  " + m.input.View() + "\n")
	if m.errMsg != "" {
		b.WriteString("  " + errorStyle.Render(m.errMsg) + "\n")
	}
	b.WriteString(helpStyle.Render("  enter: send - tab: next connection - ctrl+q: quit"))
	return b.String()
}

func (m chatModel) statusView() string {
	switch m.status {
	case wsclient.StatusConnected:
		return connectedStyle.Render("online")
	case wsclient.StatusReconnecting:
		return reconnectingStyle.Render("connection lost, retrying...")
	case wsclient.StatusConnecting:
		return reconnectingStyle.Render("connecting...")
	default:
		return disconnectedStyle.Render("offline")
	}
}

func (m chatModel) sidebarView() string {
	var b strings.Builder
	b.WriteString(sidebarTitleStyle.Render("connections"))
	b.WriteString("\n")
	for _, peer := range m.peers {
		marker := "  "
		if peer == m.activePeer {
			marker = "> "
		}
		style := sidebarOfflineStyle
		if m.online[peer] {
			style = sidebarOnlineStyle
		}
		b.WriteString(marker + style.Render(peer))
		b.WriteString("\n")
	}
	if len(m.peers) == 0 {
		b.WriteString(sidebarOfflineStyle.Render("no connections yet"))
		b.WriteString("\n")
	}
	return b.String()
}

func joinColumns(left, right string) string {
	leftLines := strings.Split(left, "\n")
	rightLines := strings.Split(right, "\n")
	n := len(leftLines)
	if len(rightLines) > n {
		n = len(rightLines)
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		var l, r string
		if i < len(leftLines) {
			l = leftLines[i]
		}
		if i < len(rightLines) {
			r = rightLines[i]
		}
		b.WriteString(l)
		b.WriteString("  ")
		b.WriteString(r)
		if i < n-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func clampMin(v, minimum int) int {
	if v < minimum {
		return minimum
	}
	return v
}
