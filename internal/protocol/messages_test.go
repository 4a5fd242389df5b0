package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","recipientId":"u2","content":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.RecipientID != "u2" {
		t.Errorf("expected recipientId %q, got %q", "u2", sm.RecipientID)
	}
	if sm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", sm.Content)
	}
}

// ---------------------------------------------------------------------------
// Test: typing_start and typing_stop decode into the same struct
// ---------------------------------------------------------------------------

func TestParseClientMessage_TypingSignals(t *testing.T) {
	for _, typ := range []string{TypeTypingStart, TypeTypingStop} {
		input := []byte(`{"type":"` + typ + `","recipientId":"u9"}`)

		msgType, msg, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if msgType != typ {
			t.Fatalf("expected type %q, got %q", typ, msgType)
		}

		ts, ok := msg.(TypingSignalMsg)
		if !ok {
			t.Fatalf("%s: expected TypingSignalMsg, got %T", typ, msg)
		}
		if ts.RecipientID != "u9" {
			t.Errorf("%s: expected recipientId %q, got %q", typ, "u9", ts.RecipientID)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Missing type field is rejected
// ---------------------------------------------------------------------------

func TestParseClientMessage_MissingType(t *testing.T) {
	input := []byte(`{"recipientId":"u2","content":"hi"}`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown client type is rejected but the type is still reported
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"self_destruct"}`)

	msgType, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for unknown type, got nil")
	}
	if msgType != "self_destruct" {
		t.Errorf("expected reported type %q, got %q", "self_destruct", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Server-only types are not valid client messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"new_message"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for server-only type, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a new_message server event
// ---------------------------------------------------------------------------

func TestParseServerMessage_NewMessage(t *testing.T) {
	input := []byte(`{
		"type": "new_message",
		"message": {
			"_id": "m1",
			"chatIdentifier": "u1_u2",
			"sender": {"id": "u2", "username": "ravi"},
			"content": "seen the trailer?",
			"createdAt": 1700000000000
		}
	}`)

	msgType, msg, err := ParseServerMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeNewMessage {
		t.Fatalf("expected type %q, got %q", TypeNewMessage, msgType)
	}

	nm, ok := msg.(NewMessageMsg)
	if !ok {
		t.Fatalf("expected NewMessageMsg, got %T", msg)
	}
	if nm.Message.ID != "m1" {
		t.Errorf("expected _id %q, got %q", "m1", nm.Message.ID)
	}
	if nm.Message.ChatIdentifier != "u1_u2" {
		t.Errorf("expected chatIdentifier %q, got %q", "u1_u2", nm.Message.ChatIdentifier)
	}
	if nm.Message.Sender.Username != "ravi" {
		t.Errorf("expected sender username %q, got %q", "ravi", nm.Message.Sender.Username)
	}
	if nm.Message.CreatedAt != 1700000000000 {
		t.Errorf("expected createdAt 1700000000000, got %d", nm.Message.CreatedAt)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a message_read server event
// ---------------------------------------------------------------------------

func TestParseServerMessage_MessageRead(t *testing.T) {
	input := []byte(`{"type":"message_read","messageId":"m1","chatIdentifier":"u1_u2","readAt":1700000001000,"readBy":"u2"}`)

	msgType, msg, err := ParseServerMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessageRead {
		t.Fatalf("expected type %q, got %q", TypeMessageRead, msgType)
	}

	mr, ok := msg.(MessageReadMsg)
	if !ok {
		t.Fatalf("expected MessageReadMsg, got %T", msg)
	}
	if mr.MessageID != "m1" || mr.ReadBy != "u2" || mr.ReadAt != 1700000001000 {
		t.Errorf("unexpected payload: %+v", mr)
	}
}

// ---------------------------------------------------------------------------
// Test: NewMessage injects the type discriminator
// ---------------------------------------------------------------------------

func TestNewMessage_InjectsType(t *testing.T) {
	data, err := NewMessage(TypeJoinChat, JoinChatMsg{PeerID: "u7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeJoinChat {
		t.Errorf("expected type %q, got %v", TypeJoinChat, decoded["type"])
	}
	if decoded["peerId"] != "u7" {
		t.Errorf("expected peerId %q, got %v", "u7", decoded["peerId"])
	}

	// The injected frame must round-trip through the client parser.
	msgType, _, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if msgType != TypeJoinChat {
		t.Errorf("round trip type: expected %q, got %q", TypeJoinChat, msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed JSON is rejected
// ---------------------------------------------------------------------------

func TestParseServerMessage_MalformedJSON(t *testing.T) {
	if _, _, err := ParseServerMessage([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}
