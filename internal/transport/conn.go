// Package transport owns the client side of the WebSocket event channel: one
// live connection per authenticated identity, connect/disconnect lifecycle
// surfaced as state values, and typed dispatch of inbound events. It connects
// using gobwas/ws, the same library the reference server is built on.
package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/moviesquad/messenger/internal/protocol"
)

// State describes the connection lifecycle. Connection failures are reported
// as a state value, not thrown; a failed or dropped connection stays in its
// terminal state until the owner dials again.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the lowercase state name for logs and UI badges.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handler receives a parsed server event. The argument is the concrete
// struct returned by protocol.ParseServerMessage (e.g. protocol.NewMessageMsg).
// Handlers are invoked serially from the read loop goroutine and should not
// block; a handler must not register other handlers on the same connection.
type Handler func(msg interface{})

// pendingEvent is an inbound event that arrived before a handler for its type
// was registered. The server pushes conversation_list right after the
// upgrade, before the caller has had a chance to call On.
type pendingEvent struct {
	msgType string
	msg     interface{}
}

// maxPendingEvents bounds the per-connection buffer of unhandled events.
const maxPendingEvents = 64

// Conn is a single live WebSocket connection to the transport server. It
// parses inbound frames at the boundary and dispatches the typed events to
// registered handlers. Writes are serialized by a mutex so concurrent
// senders do not interleave frame bytes.
type Conn struct {
	conn net.Conn

	writeMu sync.Mutex

	handlerMu sync.Mutex
	handlers  map[string]Handler
	pending   []pendingEvent

	stateMu sync.Mutex
	state   State
	onState func(State)

	done      chan struct{}
	closeOnce sync.Once
}

// On registers a handler for a specific server event type. Only one handler
// per event type is supported; registering a second handler for the same
// type replaces the first. Events of that type that arrived before
// registration are replayed to the handler, in arrival order, before On
// returns.
func (c *Conn) On(msgType string, handler Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[msgType] = handler

	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.msgType == msgType {
			handler(p.msg)
		} else {
			kept = append(kept, p)
		}
	}
	c.pending = kept
}

// OnStateChange registers a callback invoked on every state transition,
// including the transitions that happen during dialing. Must be set before
// events of interest can fire; the Manager wires it prior to dialing.
func (c *Conn) OnStateChange(fn func(State)) {
	c.stateMu.Lock()
	c.onState = fn
	c.stateMu.Unlock()
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.stateMu.Lock()
	changed := c.state != s
	c.state = s
	fn := c.onState
	c.stateMu.Unlock()

	if changed && fn != nil {
		fn(s)
	}
}

// Send marshals the payload with the given event type injected and writes it
// as a single text frame. It is goroutine-safe.
func (c *Conn) Send(msgType string, payload interface{}) error {
	data, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", msgType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("transport: write %s: %w", msgType, err)
	}
	return nil
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times; the state lands on disconnected.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		c.setState(StateDisconnected)
	})
	return err
}

// readLoop continuously reads frames from the server, parses them into
// discriminated event structs, and dispatches to registered handlers. It
// runs until the connection is closed or a read error occurs; a read error
// on a live connection transitions the state to disconnected.
func (c *Conn) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Intentional close; Close already set the state.
				return
			default:
			}
			log.Printf("[transport] read error: %v", err)
			c.setState(StateDisconnected)
			return
		}

		msgType, msg, err := c.parse(data)
		if err != nil {
			// Malformed or unknown events are a filtering concern at the
			// boundary, not a failure of the connection.
			log.Printf("[transport] dropping frame: %v", err)
			continue
		}

		c.handlerMu.Lock()
		handler := c.handlers[msgType]
		if handler == nil {
			// No handler yet. Hold the event so a snapshot pushed right
			// after the upgrade is not lost to registration timing.
			if len(c.pending) < maxPendingEvents {
				c.pending = append(c.pending, pendingEvent{msgType: msgType, msg: msg})
			} else {
				log.Printf("[transport] dropping %s: pending buffer full", msgType)
			}
			c.handlerMu.Unlock()
			continue
		}
		// Dispatched under the lock so a replay inside On and the live
		// stream cannot reorder events of the same type.
		handler(msg)
		c.handlerMu.Unlock()
	}
}

func (c *Conn) parse(data []byte) (string, interface{}, error) {
	return protocol.ParseServerMessage(data)
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Identity is the (user, credential) pair a connection is opened for. UserID
// and Token must be non-empty to attempt a connection; Username is the
// optional display name the server relays in typing events.
type Identity struct {
	UserID   string
	Username string
	Token    string
}

// Manager guarantees at most one underlying connection per identity at a
// time. Repeated Connect calls with the same identity return the existing
// live connection; an identity change closes the old connection before a new
// one is permitted, so connections never leak across identity switches.
type Manager struct {
	baseURL string

	mu       sync.Mutex
	identity Identity
	conn     *Conn
}

// NewManager creates a Manager dialing against the given WebSocket base URL
// (e.g. "ws://localhost:8080/ws").
func NewManager(baseURL string) *Manager {
	return &Manager{baseURL: baseURL}
}

// Connect opens (or returns) the connection for the given identity. The
// onState callback, when non-nil, observes every lifecycle transition of the
// returned connection starting from connecting.
func (m *Manager) Connect(ctx context.Context, id Identity, onState func(State)) (*Conn, error) {
	if id.UserID == "" || id.Token == "" {
		return nil, fmt.Errorf("transport: user and token are required to connect")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Guarded open: while a live connection exists for this identity, no
	// second connection may be opened.
	if m.conn != nil {
		if m.identity == id && m.conn.State() != StateDisconnected && m.conn.State() != StateFailed {
			return m.conn, nil
		}
		// Identity changed or the connection is dead: tear down and clear
		// the reference before permitting a new dial.
		_ = m.conn.Close()
		m.conn = nil
	}

	c := &Conn{
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
		state:    StateDisconnected,
	}
	if onState != nil {
		c.OnStateChange(onState)
	}
	c.setState(StateConnecting)

	dialURL, err := m.dialURL(id)
	if err != nil {
		c.setState(StateFailed)
		return nil, err
	}

	netConn, _, _, err := ws.Dial(ctx, dialURL)
	if err != nil {
		c.setState(StateFailed)
		return nil, fmt.Errorf("transport: dial: %w", err)
	}

	c.conn = netConn
	c.setState(StateConnected)
	log.Printf("[transport] connected user=%s", id.UserID)

	go c.readLoop()

	m.identity = id
	m.conn = c
	return c, nil
}

// Disconnect closes the current connection, if any, and clears the internal
// reference. Used on logout and component teardown.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
		m.identity = Identity{}
	}
}

// Current returns the live connection, or nil if none is open.
func (m *Manager) Current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) dialURL(id Identity) (string, error) {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return "", fmt.Errorf("transport: bad base url %q: %w", m.baseURL, err)
	}
	q := u.Query()
	q.Set("user", id.UserID)
	q.Set("token", id.Token)
	if id.Username != "" {
		q.Set("name", id.Username)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
