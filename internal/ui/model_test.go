package ui

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gobwas/ws"

	"github.com/moviesquad/messenger/internal/chat"
	"github.com/moviesquad/messenger/internal/protocol"
	"github.com/moviesquad/messenger/internal/receipts"
	"github.com/moviesquad/messenger/internal/transport"
	"github.com/moviesquad/messenger/internal/typing"
)

// dialTestConn connects a transport client to an in-process WebSocket server
// and returns the client connection plus the server side of the socket.
func dialTestConn(t *testing.T) (*transport.Conn, net.Conn) {
	t.Helper()

	serverSide := make(chan net.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(ts.Close)

	mgr := transport.NewManager("ws" + strings.TrimPrefix(ts.URL, "http") + "/ws")
	conn, err := mgr.Connect(context.Background(), transport.Identity{
		UserID:   "u1",
		Username: "mia",
		Token:    "tok",
	}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	srv := <-serverSide
	t.Cleanup(func() { srv.Close() })
	return conn, srv
}

func newTestModel(t *testing.T, conn *transport.Conn) Model {
	t.Helper()
	self := protocol.User{ID: "u1", Username: "mia"}
	m := New(Config{
		Self:     self,
		Conn:     conn,
		Store:    chat.NewStore(self, conn),
		Typing:   typing.New(conn, typing.DefaultIdleAfter),
		Receipts: receipts.New(self.ID, conn, receipts.DefaultBatchDelay),
	})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(Model)
}

// ---------------------------------------------------------------------------
// Test: the disconnected banner tracks the live connection even when no
// state event has been delivered through the queue
// ---------------------------------------------------------------------------

func TestView_BannerTracksLiveConnectionState(t *testing.T) {
	conn, srv := dialTestConn(t)
	m := newTestModel(t, conn)

	if strings.Contains(m.View(), "disconnected") {
		t.Fatal("banner shown while connected")
	}

	srv.Close()
	deadline := time.Now().Add(2 * time.Second)
	for conn.State() != transport.StateDisconnected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.State() != transport.StateDisconnected {
		t.Fatalf("connection never dropped, state %s", conn.State())
	}

	// No queued event is consumed before rendering.
	if !strings.Contains(m.View(), "disconnected") {
		t.Fatal("banner missing after the connection dropped")
	}
}
