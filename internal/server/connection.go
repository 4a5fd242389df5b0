package server

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single authenticated WebSocket client with its
// identity and a write mutex for serializing outbound frames.
type Connection struct {
	UserID    string    // authenticated user ID
	Username  string    // display name
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established
	LastPing  time.Time // last activity observed from the client

	writeMu sync.Mutex // serializes writes to this connection
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Registry is a thread-safe map of user IDs to their live connections. Each
// user holds at most one connection: registering a user who is already
// connected displaces the previous connection.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Connection
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]*Connection)}
}

// Add registers a connection under its user ID. If the user already has a
// live connection, the old one is closed and returned so the caller can run
// its disconnect cleanup.
func (r *Registry) Add(conn *Connection) *Connection {
	r.mu.Lock()
	old := r.byUser[conn.UserID]
	r.byUser[conn.UserID] = conn
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return old
}

// Remove removes a connection by user ID and closes it. It only removes the
// entry if it still points at the given connection, so a displaced connection
// cannot evict its replacement. Returns true if the entry was removed.
func (r *Registry) Remove(conn *Connection) bool {
	r.mu.Lock()
	cur, ok := r.byUser[conn.UserID]
	if ok && cur == conn {
		delete(r.byUser, conn.UserID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given user ID, or nil if not connected.
func (r *Registry) Get(userID string) *Connection {
	r.mu.RLock()
	conn := r.byUser[userID]
	r.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byUser))
	for _, conn := range r.byUser {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}
