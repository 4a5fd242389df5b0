package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/moviesquad/messenger/internal/protocol"
)

// testServer is an in-process WebSocket endpoint. It records upgrade query
// parameters and received frames, and hands out the server side of each
// accepted connection so tests can push frames to the client.
type testServer struct {
	*httptest.Server

	mu       sync.Mutex
	queries  []map[string]string
	received [][]byte
	lastConn chan net.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{lastConn: make(chan net.Conn, 4)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := map[string]string{}
		for k, v := range r.URL.Query() {
			q[k] = v[0]
		}
		ts.mu.Lock()
		ts.queries = append(ts.queries, q)
		ts.mu.Unlock()

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ts.lastConn <- conn

		go func() {
			for {
				data, err := wsutil.ReadClientText(conn)
				if err != nil {
					return
				}
				ts.mu.Lock()
				ts.received = append(ts.received, data)
				ts.mu.Unlock()
			}
		}()
	}))
	t.Cleanup(ts.Server.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func (ts *testServer) frames() [][]byte {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append(ts.received[:0:0], ts.received...)
}

func (ts *testServer) lastQuery() map[string]string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.queries) == 0 {
		return nil
	}
	return ts.queries[len(ts.queries)-1]
}

// ---------------------------------------------------------------------------
// Test: connect requires a full identity
// ---------------------------------------------------------------------------

func TestConnect_RequiresCredentials(t *testing.T) {
	m := NewManager("ws://localhost:0/ws")

	if _, err := m.Connect(context.Background(), Identity{UserID: "u1"}, nil); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := m.Connect(context.Background(), Identity{Token: "tok"}, nil); err == nil {
		t.Error("expected error for missing user")
	}
}

// ---------------------------------------------------------------------------
// Test: identity lands in the dial query
// ---------------------------------------------------------------------------

func TestConnect_DialQuery(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(ts.wsURL())

	conn, err := m.Connect(context.Background(), Identity{UserID: "u1", Username: "mia", Token: "tok"}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	q := ts.lastQuery()
	if q["user"] != "u1" || q["token"] != "tok" || q["name"] != "mia" {
		t.Errorf("unexpected dial query: %v", q)
	}
	if conn.State() != StateConnected {
		t.Errorf("expected connected state, got %s", conn.State())
	}
}

// ---------------------------------------------------------------------------
// Test: one live connection per identity (guarded open)
// ---------------------------------------------------------------------------

func TestConnect_SingleConnectionPerIdentity(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(ts.wsURL())
	id := Identity{UserID: "u1", Token: "tok"}

	c1, err := m.Connect(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	c2, err := m.Connect(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected the existing live connection to be returned")
	}
	m.Disconnect()
}

// ---------------------------------------------------------------------------
// Test: an identity change tears down the old connection first
// ---------------------------------------------------------------------------

func TestConnect_IdentitySwitch(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(ts.wsURL())

	c1, err := m.Connect(context.Background(), Identity{UserID: "u1", Token: "tok"}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	c2, err := m.Connect(context.Background(), Identity{UserID: "u2", Token: "tok"}, nil)
	if err != nil {
		t.Fatalf("switch connect: %v", err)
	}
	defer m.Disconnect()

	if c1 == c2 {
		t.Fatal("expected a new connection for the new identity")
	}
	if c1.State() != StateDisconnected {
		t.Errorf("expected old connection disconnected, got %s", c1.State())
	}
	if c2.State() != StateConnected {
		t.Errorf("expected new connection connected, got %s", c2.State())
	}
}

// ---------------------------------------------------------------------------
// Test: state transitions are observable
// ---------------------------------------------------------------------------

func TestConnect_StateTransitions(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(ts.wsURL())

	var mu sync.Mutex
	var states []State
	conn, err := m.Connect(context.Background(), Identity{UserID: "u1", Token: "tok"}, func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn.Close()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, states)
		}
	}
}

func TestConnect_DialFailure(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws")

	var mu sync.Mutex
	var last State
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.Connect(ctx, Identity{UserID: "u1", Token: "tok"}, func(s State) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	if err == nil {
		t.Fatal("expected dial error")
	}
	mu.Lock()
	defer mu.Unlock()
	if last != StateFailed {
		t.Errorf("expected final state failed, got %s", last)
	}
}

// ---------------------------------------------------------------------------
// Test: Send frames carry the injected event type
// ---------------------------------------------------------------------------

func TestSend(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(ts.wsURL())

	conn, err := m.Connect(context.Background(), Identity{UserID: "u1", Token: "tok"}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(protocol.TypeJoinChat, protocol.JoinChatMsg{PeerID: "u2"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(ts.frames()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	frames := ts.frames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame on the server, got %d", len(frames))
	}

	msgType, msg, err := protocol.ParseClientMessage(frames[0])
	if err != nil {
		t.Fatalf("server could not parse frame: %v", err)
	}
	if msgType != protocol.TypeJoinChat {
		t.Errorf("expected join_chat, got %s", msgType)
	}
	if msg.(protocol.JoinChatMsg).PeerID != "u2" {
		t.Errorf("unexpected payload: %+v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: inbound events reach the registered handler; malformed frames are
// dropped without killing the connection
// ---------------------------------------------------------------------------

func TestReadLoop_DispatchAndDrop(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(ts.wsURL())

	conn, err := m.Connect(context.Background(), Identity{UserID: "u1", Token: "tok"}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	got := make(chan protocol.NewMessageMsg, 1)
	conn.On(protocol.TypeNewMessage, func(msg interface{}) {
		if ev, ok := msg.(protocol.NewMessageMsg); ok {
			got <- ev
		}
	})

	serverSide := <-ts.lastConn

	// A malformed frame first: it must be dropped, not fatal.
	if err := wsutil.WriteServerText(serverSide, []byte(`{"nope"`)); err != nil {
		t.Fatalf("write malformed: %v", err)
	}

	frame, err := protocol.NewMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		Message: protocol.Message{ID: "m1", ChatIdentifier: "u1_u2"},
	})
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	if err := wsutil.WriteServerText(serverSide, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	select {
	case ev := <-got:
		if ev.Message.ID != "m1" {
			t.Errorf("expected message m1, got %s", ev.Message.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the event")
	}

	if conn.State() != StateConnected {
		t.Errorf("malformed frame killed the connection: %s", conn.State())
	}
}

// ---------------------------------------------------------------------------
// Test: events arriving before a handler is registered are buffered and
// replayed in arrival order (the server pushes conversation_list at upgrade)
// ---------------------------------------------------------------------------

func TestReadLoop_ReplaysEventsBufferedBeforeRegistration(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(ts.wsURL())

	conn, err := m.Connect(context.Background(), Identity{UserID: "u1", Token: "tok"}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	serverSide := <-ts.lastConn
	for _, id := range []string{"m1", "m2"} {
		frame, err := protocol.NewMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
			Message: protocol.Message{ID: id, ChatIdentifier: "u1_u2"},
		})
		if err != nil {
			t.Fatalf("build frame: %v", err)
		}
		if err := wsutil.WriteServerText(serverSide, frame); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	// Give the read loop time to consume both frames with no handler in place.
	time.Sleep(100 * time.Millisecond)

	got := make(chan string, 2)
	conn.On(protocol.TypeNewMessage, func(msg interface{}) {
		if ev, ok := msg.(protocol.NewMessageMsg); ok {
			got <- ev.Message.ID
		}
	})

	for _, want := range []string{"m1", "m2"} {
		select {
		case id := <-got:
			if id != want {
				t.Fatalf("expected replayed message %s, got %s", want, id)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %s was never replayed after registration", want)
		}
	}
}
