// Package ui is the terminal presentation shell for the MovieSquad chat
// client. It renders the conversation sidebar, the active message thread, the
// peer typing line, and the composer, and translates key input into intents
// on the core components. All chat semantics live in the core packages; the
// shell only draws their state and forwards events.
package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/moviesquad/messenger/internal/chat"
	"github.com/moviesquad/messenger/internal/protocol"
	"github.com/moviesquad/messenger/internal/receipts"
	"github.com/moviesquad/messenger/internal/transport"
	"github.com/moviesquad/messenger/internal/typing"
)

// pane identifies which part of the layout has keyboard focus.
type pane int

const (
	paneSidebar pane = iota
	paneComposer
)

// Messages delivered into the Update loop from the transport read goroutine.
type (
	refreshMsg struct{}
	connState  struct{ state transport.State }
	serverErr  struct{ code, message string }
)

// Config wires the shell to the core components. All fields are required.
type Config struct {
	Self     protocol.User
	Conn     *transport.Conn
	Store    *chat.Store
	Typing   *typing.Coordinator
	Receipts *receipts.Tracker
}

// Model is the bubbletea model for the chat shell.
type Model struct {
	self     protocol.User
	conn     *transport.Conn
	store    *chat.Store
	typing   *typing.Coordinator
	receipts *receipts.Tracker

	events chan tea.Msg

	width, height int
	focused       pane
	selected      int // sidebar cursor
	state         transport.State
	lastError     string

	showNewConv bool
	newConvIn   textinput.Model

	composer textinput.Model
	thread   viewport.Model
}

// New builds the shell model and registers the event handlers that feed
// server pushes into the core components. Handlers run on the transport read
// goroutine; they only mutate the goroutine-safe cores and nudge the Update
// loop through the event channel.
func New(cfg Config) Model {
	composer := textinput.New()
	composer.Placeholder = "Type a message..."
	composer.CharLimit = chat.MaxTextChars
	composer.Prompt = "> "

	newConvIn := textinput.New()
	newConvIn.Placeholder = "User ID to chat with..."
	newConvIn.Prompt = "@ "

	m := Model{
		self:      cfg.Self,
		conn:      cfg.Conn,
		store:     cfg.Store,
		typing:    cfg.Typing,
		receipts:  cfg.Receipts,
		events:    make(chan tea.Msg, 64),
		state:     cfg.Conn.State(),
		composer:  composer,
		newConvIn: newConvIn,
		thread:    viewport.New(80, 20),
	}

	push := func(msg tea.Msg) {
		select {
		case m.events <- msg:
			return
		default:
		}
		if _, ok := msg.(refreshMsg); ok {
			// A full queue means a repaint is already on the way.
			return
		}
		// State and error events still need to land: evict the oldest
		// queued event to make room.
		select {
		case <-m.events:
		default:
		}
		select {
		case m.events <- msg:
		default:
		}
	}

	cfg.Conn.OnStateChange(func(s transport.State) {
		push(connState{state: s})
	})

	cfg.Conn.On(protocol.TypeConversationList, func(msg interface{}) {
		if ev, ok := msg.(protocol.ConversationListMsg); ok {
			cfg.Store.ApplyConversationList(ev.Conversations)
			push(refreshMsg{})
		}
	})
	cfg.Conn.On(protocol.TypeChatHistory, func(msg interface{}) {
		if ev, ok := msg.(protocol.ChatHistoryMsg); ok {
			cfg.Store.ApplyHistory(ev.ChatIdentifier, ev.Messages)
			cfg.Receipts.Observe(cfg.Store.Messages())
			push(refreshMsg{})
		}
	})
	cfg.Conn.On(protocol.TypeNewMessage, func(msg interface{}) {
		if ev, ok := msg.(protocol.NewMessageMsg); ok {
			cfg.Store.ApplyNewMessage(ev.Message)
			cfg.Receipts.Observe(cfg.Store.Messages())
			push(refreshMsg{})
		}
	})
	typingHandler := func(msg interface{}) {
		if ev, ok := msg.(protocol.TypingEvent); ok {
			cfg.Typing.HandleTypingEvent(ev)
		}
	}
	cfg.Conn.On(protocol.TypeTypingStart, typingHandler)
	cfg.Conn.On(protocol.TypeTypingStop, typingHandler)
	cfg.Conn.On(protocol.TypeMessageRead, func(msg interface{}) {
		if ev, ok := msg.(protocol.MessageReadMsg); ok {
			cfg.Receipts.ApplyConfirmation(ev)
		}
	})
	cfg.Conn.On(protocol.TypeError, func(msg interface{}) {
		if ev, ok := msg.(protocol.ErrorMsg); ok {
			push(serverErr{code: ev.Code, message: ev.Message})
		}
	})

	cfg.Typing.SetNotify(func(bool) { push(refreshMsg{}) })
	cfg.Receipts.SetNotify(func() { push(refreshMsg{}) })

	return m
}

// waitForEvent delivers the next queued core event into the Update loop.
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForEvent())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderThread()

	case tea.FocusMsg:
		// The terminal regained focus: the user is confirmed to be looking
		// at the thread, so run the read pass immediately.
		m.receipts.FlushNow()

	case refreshMsg:
		m.renderThread()
		cmds = append(cmds, m.waitForEvent())

	case connState:
		m.state = msg.state
		if msg.state == transport.StateConnected {
			m.lastError = ""
		}
		cmds = append(cmds, m.waitForEvent())

	case serverErr:
		m.lastError = fmt.Sprintf("%s: %s", msg.code, msg.message)
		cmds = append(cmds, m.waitForEvent())
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.showNewConv {
			m.showNewConv = false
			m.newConvIn.Blur()
			return m, nil
		}
		if m.focused == paneComposer {
			m.focused = paneSidebar
			m.composer.Blur()
			return m, nil
		}
	case "q":
		if m.focused == paneSidebar && !m.showNewConv {
			return m, tea.Quit
		}
	}

	if m.showNewConv {
		return m.handleNewConvKey(msg)
	}

	switch m.focused {
	case paneSidebar:
		return m.handleSidebarKey(msg)
	case paneComposer:
		return m.handleComposerKey(msg)
	}
	return m, nil
}

func (m Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	convos := m.store.Conversations()

	switch msg.String() {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(convos)-1 {
			m.selected++
		}
	case "n":
		m.showNewConv = true
		m.newConvIn.SetValue("")
		m.newConvIn.Focus()
		return m, textinput.Blink
	case "enter", "tab":
		if m.selected < len(convos) {
			m.openConversation(convos[m.selected].OtherParticipant)
			m.focused = paneComposer
			m.composer.Focus()
			return m, textinput.Blink
		}
	}
	return m, nil
}

func (m Model) handleComposerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "enter" {
		content := m.composer.Value()
		if err := m.store.SendMessage(content); err != nil {
			m.lastError = err.Error()
			return m, nil
		}
		m.typing.MessageSent()
		m.composer.SetValue("")
		m.lastError = ""
		return m, nil
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	m.typing.InputChanged(m.composer.Value())
	return m, cmd
}

func (m Model) handleNewConvKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "enter" {
		peerID := m.newConvIn.Value()
		m.showNewConv = false
		m.newConvIn.Blur()
		if peerID == "" || peerID == m.self.ID {
			return m, nil
		}
		peer := protocol.User{ID: peerID, Username: peerID}
		if err := m.store.Create(peer); err != nil {
			m.lastError = err.Error()
			return m, nil
		}
		m.afterSelect(peer)
		m.selected = 0
		m.focused = paneComposer
		m.composer.Focus()
		return m, textinput.Blink
	}

	var cmd tea.Cmd
	m.newConvIn, cmd = m.newConvIn.Update(msg)
	return m, cmd
}

// openConversation selects the conversation with peer and resets the
// per-conversation derived state alongside it.
func (m *Model) openConversation(peer protocol.User) {
	if err := m.store.Select(peer); err != nil {
		m.lastError = err.Error()
		return
	}
	m.afterSelect(peer)
}

// afterSelect scopes the typing coordinator and read tracker to the newly
// active conversation and clears the composer. Select/Create already reset
// the store's message list.
func (m *Model) afterSelect(peer protocol.User) {
	chatID := chat.DeriveChatIdentifier(m.self.ID, peer.ID)
	m.typing.SetActive(chatID, peer.ID)
	m.receipts.SetActive(chatID)
	m.composer.SetValue("")
	m.lastError = ""
	m.renderThread()
}
