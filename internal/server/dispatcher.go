package server

import (
	"log"
	"time"

	"github.com/moviesquad/messenger/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client
// message. The msg parameter is the concrete struct returned by
// protocol.ParseClientMessage (e.g., protocol.SendMessageMsg).
type MessageHandler func(conn *Connection, msg interface{})

// Dispatcher routes incoming WebSocket messages to registered handlers based
// on the message type. It handles the ping/pong keepalive internally and
// sends structured error responses for malformed or unsupported messages.
type Dispatcher struct {
	handlers map[string]MessageHandler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]MessageHandler)}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *Dispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses the raw bytes into a typed message, handles ping
// internally, and routes all other types to the registered handler. Parse
// errors and unregistered types result in an error message sent back to the
// client; the connection stays up.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("[server] dispatch parse error user=%s: %v", conn.UserID, err)
		d.SendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("[server] unsupported message type=%q user=%s", msgType, conn.UserID)
		d.SendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

// SendError sends a structured error message back to the client. Errors
// during message construction or transmission are logged but not propagated.
func (d *Dispatcher) SendError(conn *Connection, code string, message string) {
	data, err := protocol.NewMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("[server] failed to build error message user=%s: %v", conn.UserID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[server] failed to send error message user=%s: %v", conn.UserID, err)
	}
}

// sendPong responds to a client ping with a pong message and refreshes the
// connection's LastPing timestamp.
func (d *Dispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()

	data, err := protocol.NewMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("[server] failed to build pong message user=%s: %v", conn.UserID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[server] failed to send pong message user=%s: %v", conn.UserID, err)
	}
}
