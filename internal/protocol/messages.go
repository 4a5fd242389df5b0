// Package protocol defines the WebSocket event types and structures exchanged
// between the MovieSquad chat client and the transport server. All events are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator, so that payloads can be validated at the transport boundary
// before any core logic sees them.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeJoinChat    = "join_chat"
	TypeSendMessage = "send_message"
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
	TypeMarkRead    = "mark_read"
	TypePing        = "ping"
)

// Server -> Client event types. typing_start and typing_stop are relayed
// server -> client under the same names they arrive with; see TypingEvent.
const (
	TypeChatHistory      = "chat_history"
	TypeConversationList = "conversation_list"
	TypeNewMessage       = "new_message"
	TypeMessageRead      = "message_read"
	TypeError            = "error"
	TypePong             = "pong"
)

// ---------------------------------------------------------------------------
// Data shapes shared by several events
// ---------------------------------------------------------------------------

// User identifies a chat participant with the display fields the shell needs.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is a single chat message as assigned and timestamped by the server.
// The ID is the server-side identity; within one conversation it is unique
// and re-delivery of the same ID must be treated as a no-op by consumers.
type Message struct {
	ID             string `json:"_id"`
	ChatIdentifier string `json:"chatIdentifier"`
	Sender         User   `json:"sender"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"createdAt"` // unix milliseconds
}

// Conversation is one entry of the conversation list: the peer relative to
// the local user, the latest message for list previews, and the
// server-computed unread count.
type Conversation struct {
	ChatIdentifier   string   `json:"chatIdentifier"`
	OtherParticipant User     `json:"otherParticipant"`
	LastMessage      *Message `json:"lastMessage,omitempty"`
	UnreadCount      int      `json:"unreadCount"`
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// JoinChatMsg subscribes the sender to the conversation with the given peer.
// The server answers with a ChatHistoryMsg for the derived chatIdentifier.
type JoinChatMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

// SendMessageMsg carries a message send intent. The sender does not render
// the message locally; it appears only once the server echoes it back as a
// NewMessageMsg.
type SendMessageMsg struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// TypingSignalMsg signals that the sender started or stopped typing to the
// given recipient. Sent for both typing_start and typing_stop.
type TypingSignalMsg struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId"`
}

// MarkReadMsg asks the server to record that the sender has read a message.
type MarkReadMsg struct {
	Type           string `json:"type"`
	MessageID      string `json:"messageId"`
	ChatIdentifier string `json:"chatIdentifier"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// ChatHistoryMsg is the message snapshot for a conversation, sent after a
// join_chat. It replaces the active message list wholesale on the client.
type ChatHistoryMsg struct {
	Type           string    `json:"type"`
	ChatIdentifier string    `json:"chatIdentifier"`
	Messages       []Message `json:"messages"`
}

// ConversationListMsg is the full conversation list snapshot.
type ConversationListMsg struct {
	Type          string         `json:"type"`
	Conversations []Conversation `json:"conversations"`
}

// NewMessageMsg is a live message push, delivered to both participants.
type NewMessageMsg struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// TypingEvent relays a peer's typing state change. The chatIdentifier scopes
// the event; clients must ignore events for conversations other than the
// active one.
type TypingEvent struct {
	Type           string `json:"type"` // typing_start or typing_stop
	ChatIdentifier string `json:"chatIdentifier"`
	Username       string `json:"username"`
}

// MessageReadMsg confirms that a message has been read, either echoing the
// local user's own mark_read or reporting the peer reading one of ours.
type MessageReadMsg struct {
	Type           string `json:"type"`
	MessageID      string `json:"messageId"`
	ChatIdentifier string `json:"chatIdentifier"`
	ReadAt         int64  `json:"readAt"` // unix milliseconds
	ReadBy         string `json:"readBy"` // reader's user ID
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only event types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart, TypeTypingStop:
		var m TypingSignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ParseServerMessage parses raw WebSocket bytes into a typed server event.
// The client transport calls this at the boundary so the core components
// only ever see validated, discriminated structs.
func ParseServerMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeChatHistory:
		var m ChatHistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeConversationList:
		var m ConversationListMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNewMessage:
		var m NewMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart, TypeTypingStop:
		var m TypingEvent
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageRead:
		var m MessageReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeError:
		var m ErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePong:
		var m PongMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewMessage creates a JSON-encoded byte slice for an event. The msgType is
// injected into the payload under the "type" key so callers don't have to
// fill the Type field on every struct.
func NewMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal event: %w", err)
	}
	return out, nil
}
