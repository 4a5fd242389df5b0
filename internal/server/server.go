// Package server implements the reference chat transport server. It upgrades
// HTTP connections to WebSocket, authenticates the user from query
// parameters, runs a read loop per connection, and dispatches parsed messages
// to the handlers registered by the application.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/moviesquad/messenger/internal/metrics"
)

// Config holds tunable parameters for the WebSocket server.
type Config struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		MaxConnections: 10000,
		WriteTimeout:   10 * time.Second,
	}
}

// Server is the WebSocket transport server. Each accepted connection gets its
// own read goroutine; writes are serialized by the per-connection mutex.
type Server struct {
	config       Config
	conns        *Registry
	onMessage    func(conn *Connection, data []byte)
	authorize    func(ctx context.Context, userID, token string) error
	onConnect    func(conn *Connection)
	onDisconnect func(conn *Connection)
	httpServer   *http.Server
	mux          *http.ServeMux
	done         chan struct{}
	startedAt    time.Time
}

// New creates a Server with the given configuration and message callback. The
// onMessage function is called from the connection's read goroutine whenever
// a complete WebSocket text frame is received.
func New(config Config, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:    config,
		conns:     NewRegistry(),
		onMessage: onMessage,
		mux:       http.NewServeMux(),
		done:      make(chan struct{}),
	}
}

// SetAuthorize registers the credential check run before a connection is
// upgraded. A nil authorize accepts any non-empty user and token.
func (s *Server) SetAuthorize(fn func(ctx context.Context, userID, token string) error) {
	s.authorize = fn
}

// SetOnConnect registers a callback invoked after a connection is
// authenticated and registered.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (read error, heartbeat timeout, or displacement by a newer connection for
// the same user).
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Handle mounts an additional HTTP handler on the server's mux. Must be
// called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start configures the HTTP server and begins accepting WebSocket
// connections. It blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	s.mux.HandleFunc("/ws", s.handleUpgrade)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.mux,
	}

	startHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("[server] listening on %s (max_conns=%d)",
		s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the user from query parameters and upgrades the
// HTTP request to a WebSocket connection. On success it registers the
// connection (displacing any previous connection for the same user) and
// starts the read loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	userID := q.Get("user")
	token := q.Get("token")
	username := q.Get("name")
	if userID == "" || token == "" {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	if username == "" {
		username = userID
	}

	if s.authorize != nil {
		if err := s.authorize(r.Context(), userID, token); err != nil {
			log.Printf("[server] authorize rejected user=%s: %v", userID, err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[server] upgrade failed: %v", err)
		return
	}

	c := &Connection{
		UserID:    userID,
		Username:  username,
		Conn:      conn,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}

	if old := s.conns.Add(c); old != nil {
		log.Printf("[server] user=%s reconnected, displacing previous connection", userID)
		if s.onDisconnect != nil {
			s.onDisconnect(old)
		}
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.onConnect != nil {
		s.onConnect(c)
	}

	log.Printf("[server] new connection user=%s (total=%d)", userID, s.conns.Count())

	go s.readLoop(c)
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// readLoop reads WebSocket frames from the connection until it fails or
// closes. Control frames (ping, pong, close) are handled here; data frames
// are passed to the onMessage callback.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}

		// Any frame proves the connection is alive.
		c.LastPing = time.Now()

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				return
			}
			if header.OpCode == ws.OpPing {
				// Drain the ping payload, then answer.
				payload := make([]byte, header.Length)
				if header.Length > 0 {
					if _, err := io.ReadFull(reader, payload); err != nil {
						return
					}
				}
				c.writeMu.Lock()
				err := ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
			// Pong: nothing else to do.
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		if s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

// RemoveConnection removes a connection from the registry, runs the
// disconnect callback, and closes the underlying network connection. Safe to
// call multiple times; only the first removal runs the callback.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	log.Printf("[server] connection closed user=%s (total=%d)", c.UserID, s.conns.Count())
}

// SendToUser writes a WebSocket text frame to the given user's connection, if
// the user is connected to this instance.
func (s *Server) SendToUser(userID string, data []byte) error {
	c := s.conns.Get(userID)
	if c == nil {
		return fmt.Errorf("server: user %s not connected", userID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	err := c.WriteMessage(data)
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// Connections returns the connection Registry for external access (e.g., by
// the heartbeat monitor).
func (s *Server) Connections() *Registry {
	return s.conns
}

// Shutdown performs a graceful shutdown: stops the HTTP listener, signals the
// read loops and heartbeat to exit, and closes all active connections.
func (s *Server) Shutdown() error {
	log.Println("[server] shutting down...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("[server] http shutdown error: %v", err)
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	log.Printf("[server] stopped, all connections closed")
	return nil
}
