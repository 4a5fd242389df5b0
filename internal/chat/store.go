// Package chat maintains the client-side view of conversations and messages.
// The Store reconciles three inbound event streams (conversation snapshot,
// history snapshot, live message push) with three user intents (select, send,
// create) while guaranteeing identity-based dedup and arrival-order append.
package chat

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/moviesquad/messenger/internal/protocol"
)

// Signaler emits a typed event to the transport server. It is satisfied by
// *transport.Conn; the store writes intents through it but never owns the
// connection lifecycle.
type Signaler interface {
	Send(msgType string, payload interface{}) error
}

// Store owns the canonical in-memory conversation list and the active
// conversation's message history for the session. It is goroutine-safe; all
// mutation happens under one mutex since events and user intents may arrive
// from different goroutines.
type Store struct {
	mu sync.Mutex

	self       protocol.User
	signaler   Signaler
	convos     []protocol.Conversation
	activeChat string        // chatIdentifier of the selected conversation, "" if none
	activePeer protocol.User // peer of the selected conversation
	messages   []protocol.Message
	seen       map[string]struct{} // message IDs present in the active list
}

// NewStore creates a Store for the given local user. Outbound intents
// (join, send) go through the signaler.
func NewStore(self protocol.User, signaler Signaler) *Store {
	return &Store{
		self:     self,
		signaler: signaler,
		seen:     make(map[string]struct{}),
	}
}

// ---------------------------------------------------------------------------
// Inbound merges
// ---------------------------------------------------------------------------

// ApplyConversationList replaces the conversation list wholesale with the
// server snapshot. Used on initial load and whenever the server re-sends the
// full list.
func (s *Store) ApplyConversationList(convos []protocol.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convos = append(s.convos[:0:0], convos...)
}

// ApplyHistory replaces the active message list with the server's history
// snapshot. Snapshots for conversations other than the active one are stale
// (the user already switched away) and are dropped.
func (s *Store) ApplyHistory(chatIdentifier string, msgs []protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chatIdentifier != s.activeChat {
		log.Printf("[store] dropping history for %s (active=%s)", chatIdentifier, s.activeChat)
		return
	}

	s.messages = append(s.messages[:0:0], msgs...)
	s.seen = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		s.seen[m.ID] = struct{}{}
	}
}

// ApplyNewMessage merges a live message push. If the message targets the
// active conversation it is appended unless a message with the same ID is
// already present (double-delivery guard). Regardless of target, the owning
// conversation's lastMessage preview is updated when a list entry exists; a
// push for an unknown conversation never fabricates a new entry.
func (s *Store) ApplyNewMessage(m protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ChatIdentifier == s.activeChat {
		if _, dup := s.seen[m.ID]; !dup {
			s.messages = append(s.messages, m)
			s.seen[m.ID] = struct{}{}
		}
	}

	for i := range s.convos {
		if s.convos[i].ChatIdentifier == m.ChatIdentifier {
			msg := m
			s.convos[i].LastMessage = &msg
			if m.ChatIdentifier != s.activeChat && m.Sender.ID != s.self.ID {
				s.convos[i].UnreadCount++
			}
			break
		}
	}
}

// ---------------------------------------------------------------------------
// User intents
// ---------------------------------------------------------------------------

// Select makes the conversation with peer the active one. The message list
// and dedup set are reset; the server is asked to replay history via a
// join_chat intent. Callers must reset their per-conversation derived state
// (typing, read receipts) alongside this call.
func (s *Store) Select(peer protocol.User) error {
	s.mu.Lock()
	s.activeChat = DeriveChatIdentifier(s.self.ID, peer.ID)
	s.activePeer = peer
	s.messages = nil
	s.seen = make(map[string]struct{})
	for i := range s.convos {
		if s.convos[i].ChatIdentifier == s.activeChat {
			s.convos[i].UnreadCount = 0
			break
		}
	}
	s.mu.Unlock()

	if err := s.signaler.Send(protocol.TypeJoinChat, protocol.JoinChatMsg{PeerID: peer.ID}); err != nil {
		return fmt.Errorf("chat: join signal: %w", err)
	}
	return nil
}

// SendMessage emits a send intent for the active conversation. The content
// must be non-empty after trimming. The message is not appended locally; it
// appears only via the server's new_message echo, so the rendered list
// always reflects server-confirmed order.
func (s *Store) SendMessage(content string) error {
	s.mu.Lock()
	peer := s.activePeer
	active := s.activeChat
	s.mu.Unlock()

	if active == "" {
		return fmt.Errorf("chat: no conversation selected")
	}
	if err := ValidateContent(content); err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	err := s.signaler.Send(protocol.TypeSendMessage, protocol.SendMessageMsg{
		RecipientID: peer.ID,
		Content:     strings.TrimSpace(content),
	})
	if err != nil {
		return fmt.Errorf("chat: send signal: %w", err)
	}
	return nil
}

// Create synthesizes a conversation with peer before any message exists.
// The chatIdentifier is derived deterministically so both participants
// compute the same key. The insert is idempotent: an existing entry with the
// same key is left untouched. The new conversation becomes active.
func (s *Store) Create(peer protocol.User) error {
	chatID := DeriveChatIdentifier(s.self.ID, peer.ID)

	s.mu.Lock()
	exists := false
	for i := range s.convos {
		if s.convos[i].ChatIdentifier == chatID {
			exists = true
			break
		}
	}
	if !exists {
		s.convos = append([]protocol.Conversation{{
			ChatIdentifier:   chatID,
			OtherParticipant: peer,
		}}, s.convos...)
	}
	s.mu.Unlock()

	return s.Select(peer)
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// Conversations returns a copy of the current conversation list.
func (s *Store) Conversations() []protocol.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(s.convos[:0:0], s.convos...)
}

// Messages returns a copy of the active conversation's message list in
// arrival order.
func (s *Store) Messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(s.messages[:0:0], s.messages...)
}

// ActiveChat returns the chatIdentifier of the selected conversation, or ""
// if none is selected.
func (s *Store) ActiveChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChat
}

// ActivePeer returns the peer of the selected conversation. The zero User
// means no conversation is selected.
func (s *Store) ActivePeer() protocol.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePeer
}

// Self returns the local user identity the store was created with.
func (s *Store) Self() protocol.User {
	return s.self
}
