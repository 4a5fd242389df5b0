package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/moviesquad/messenger/internal/transport"
)

const sidebarWidth = 28

// resize recomputes the pane dimensions from the terminal size.
func (m *Model) resize() {
	threadWidth := m.width - sidebarWidth - 6
	if threadWidth < 20 {
		threadWidth = 20
	}
	threadHeight := m.height - 8
	if threadHeight < 5 {
		threadHeight = 5
	}
	m.thread.Width = threadWidth
	m.thread.Height = threadHeight
	m.composer.Width = threadWidth - 4
}

// renderThread rebuilds the viewport content from the store's message list
// and scrolls to the bottom.
func (m *Model) renderThread() {
	msgs := m.store.Messages()
	peer := m.store.ActivePeer()

	var b strings.Builder
	for _, msg := range msgs {
		ts := mutedStyle.Render(formatTime(msg.CreatedAt))
		if msg.Sender.ID == m.self.ID {
			mark := ""
			if st, ok := m.receipts.Status(msg.ID); ok && st.Read {
				mark = mutedStyle.Render(" ✓✓")
			}
			b.WriteString(fmt.Sprintf("%s %s%s\n  %s\n",
				ownMessageStyle.Render("you"), ts, mark, msg.Content))
		} else {
			name := msg.Sender.Username
			if name == "" {
				name = peer.Username
			}
			b.WriteString(fmt.Sprintf("%s %s\n  %s\n",
				otherMessageStyle.Render(name), ts, msg.Content))
		}
	}

	m.thread.SetContent(b.String())
	m.thread.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	// Render from the live connection state, not the last delivered event.
	m.state = m.conn.State()

	var top string
	if m.state != transport.StateConnected {
		top = bannerStyle.Render("disconnected - messages cannot be sent") + "\n"
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), m.chatView())

	status := ""
	if m.lastError != "" {
		status = errorStyle.Render(m.lastError)
	} else {
		status = mutedStyle.Render("n: new chat  enter: open  esc: back  q: quit")
	}

	return top + body + "\n" + status
}

func (m Model) sidebarView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Conversations") + "\n\n")

	convos := m.store.Conversations()
	active := m.store.ActiveChat()
	for i, c := range convos {
		name := c.OtherParticipant.Username
		if name == "" {
			name = c.OtherParticipant.ID
		}
		line := fitString(name, sidebarWidth-8)

		if c.UnreadCount > 0 {
			line += " " + unreadBadgeStyle.Render(fmt.Sprintf("%d", c.UnreadCount))
		}
		if c.LastMessage != nil {
			line += "\n  " + mutedStyle.Render(fitString(c.LastMessage.Content, sidebarWidth-6))
		}

		switch {
		case i == m.selected && m.focused == paneSidebar:
			b.WriteString(selectedItemStyle.Render("> "+line) + "\n")
		case c.ChatIdentifier == active:
			b.WriteString(selectedItemStyle.Render("  "+line) + "\n")
		default:
			b.WriteString(unselectedItemStyle.Render("  "+line) + "\n")
		}
	}
	if len(convos) == 0 {
		b.WriteString(mutedStyle.Render("no conversations yet\npress n to start one"))
	}

	if m.showNewConv {
		b.WriteString("\n" + m.newConvIn.View())
	}

	style := sidebarStyle
	if m.focused == paneSidebar {
		style = sidebarFocusStyle
	}
	return style.Width(sidebarWidth).Height(m.height - 4).Render(b.String())
}

func (m Model) chatView() string {
	peer := m.store.ActivePeer()
	if peer.ID == "" {
		return chatStyle.
			Width(m.thread.Width + 2).
			Height(m.height - 4).
			Render(mutedStyle.Render("select a conversation"))
	}

	name := peer.Username
	if name == "" {
		name = peer.ID
	}
	header := headerStyle.Width(m.thread.Width).Render(name + "  " + mutedStyle.Render(m.state.String()))

	typingLine := " "
	if m.typing.OtherTyping() {
		typingLine = typingStyle.Render(name + " is typing...")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.thread.View(),
		typingLine,
		m.composer.View(),
	)

	style := chatStyle
	if m.focused == paneComposer {
		style = chatFocusStyle
	}
	return style.Width(m.thread.Width + 2).Height(m.height - 4).Render(content)
}

// formatTime renders a unix-millisecond timestamp as a short clock time, or
// with the date when the message is older than a day.
func formatTime(unixMillis int64) string {
	t := time.UnixMilli(unixMillis).Local()
	if time.Since(t) > 24*time.Hour {
		return t.Format("Jan 2 15:04")
	}
	return t.Format("15:04")
}

// fitString truncates s to width runes, appending an ellipsis when truncated.
func fitString(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}
