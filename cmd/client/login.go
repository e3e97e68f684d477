package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type loginModel struct {
	usernameInput textinput.Model
	passwordInput textinput.Model
	focusIdx      int
	isRegister    bool
	submitting    bool
	loading       bool
	errMsg        string
	width         int
	height        int
}

const (
	minUsernameLen = 2
	maxUsernameLen = 20
)

func newLoginModel() loginModel {
	username := textinput.New()
	username.Placeholder = "username (2-20 chars)"
	username.CharLimit = maxUsernameLen
	username.Width = 40
	username.Focus()

	password := textinput.New()
	password.Placeholder = "password (min 8 chars)"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '*'
	password.CharLimit = 128
	password.Width = 40

	return loginModel{
		usernameInput: username,
		passwordInput: password,
	}
}

func (m loginModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m loginModel) username() string { return m.usernameInput.Value() }
func (m loginModel) password() string { return m.passwordInput.Value() }

func (m loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case authErrorMsg:
		m.loading = false
		m.errMsg = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		m.errMsg = ""
		switch msg.String() {
		case "tab", "shift+tab", "down", "up":
			m.focusIdx = (m.focusIdx + 1) % 2
			if m.focusIdx == 0 {
				m.usernameInput.Focus()
				m.passwordInput.Blur()
			} else {
				m.usernameInput.Blur()
				m.passwordInput.Focus()
			}
			return m, nil
		case "ctrl+r":
			m.isRegister = !m.isRegister
			return m, nil
		case "enter":
			if err := m.validate(); err != "" {
				m.errMsg = err
				return m, nil
			}
			m.submitting = true
			return m, nil
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.usernameInput, cmd = m.usernameInput.Update(msg)
	cmds = append(cmds, cmd)
	m.passwordInput, cmd = m.passwordInput.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m loginModel) validate() string {
	name := strings.TrimSpace(m.username())
	if len(name) < minUsernameLen || len(name) > maxUsernameLen {
		return "username must be 2-20 characters"
	}
	if len(m.password()) < 8 {
		return "password must be at least 8 characters"
	}
	return ""
}

func (m loginModel) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(centerText(appNameStyle.Render("campuslink"), m.width))
	b.WriteString("\n\n")

	mode := "login"
	if m.isRegister {
		mode = "register"
	}
	b.WriteString(centerText(subtitleStyle.Render(mode), m.width))
	b.WriteString("\n\n")

	b.WriteString("  " + labelStyle.Render("username") + "\n")
	b.WriteString("  " + m.usernameInput.View() + "\n\n")
	b.WriteString("  " + labelStyle.Render("password") + "\n")
	b.WriteString("  " + m.passwordInput.View() + "\n\n")

	if m.loading {
		b.WriteString("  " + subtitleStyle.Render("signing in...") + "\n")
	}
	if m.errMsg != "" {
		b.WriteString("  " + errorStyle.Render(m.errMsg) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("  enter: submit - tab: next field - ctrl+r: toggle register - ctrl+q: quit"))
	b.WriteString("\n")
	return b.String()
}
