// Package typing converts raw keystroke activity into a minimal pair of
// typing_start/typing_stop signals and mirrors the peer's typing state for
// the active conversation only.
package typing

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/moviesquad/messenger/internal/protocol"
)

// DefaultIdleAfter is the debounce window: if no further keystrokes arrive
// within this duration the coordinator emits typing_stop on its own, so the
// peer's UI can never show "typing" forever past the window.
const DefaultIdleAfter = 1 * time.Second

// Signaler emits a typed event to the transport server.
type Signaler interface {
	Send(msgType string, payload interface{}) error
}

// Coordinator tracks the local user's typing edge state for the active
// conversation and the peer's remote state. The timer handle is owned by the
// instance, never shared globally, so its lifecycle ends with the
// coordinator's.
type Coordinator struct {
	signaler  Signaler
	idleAfter time.Duration

	mu          sync.Mutex
	activeChat  string
	recipientID string
	isTyping    bool
	otherTyping bool
	timer       *time.Timer
	timerSeq    int // invalidates callbacks from cancelled timers
	notify      func(otherTyping bool)
}

// New creates a Coordinator with the given debounce window. A zero or
// negative idleAfter falls back to DefaultIdleAfter.
func New(signaler Signaler, idleAfter time.Duration) *Coordinator {
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	return &Coordinator{signaler: signaler, idleAfter: idleAfter}
}

// SetNotify registers a callback invoked whenever the peer's typing state
// changes. Used by the shell to trigger a re-render.
func (c *Coordinator) SetNotify(fn func(otherTyping bool)) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

// SetActive scopes the coordinator to a conversation. Stale typing state
// from the previous conversation must never be shown: the remote flag resets
// unconditionally, the debounce timer is cancelled, and if the local user
// was mid-typing a stop signal is sent to the old recipient.
func (c *Coordinator) SetActive(chatIdentifier, recipientID string) {
	c.mu.Lock()
	oldRecipient := c.recipientID
	wasTyping := c.isTyping

	c.cancelTimerLocked()
	c.activeChat = chatIdentifier
	c.recipientID = recipientID
	c.isTyping = false
	changed := c.otherTyping
	c.otherTyping = false
	fn := c.notify
	c.mu.Unlock()

	if wasTyping && oldRecipient != "" {
		c.emitStop(oldRecipient)
	}
	if changed && fn != nil {
		fn(false)
	}
}

// InputChanged reports the current composer content. The first transition to
// non-empty emits typing_start once and arms the debounce timer; subsequent
// keystrokes only re-arm the timer. Input becoming empty emits typing_stop.
func (c *Coordinator) InputChanged(content string) {
	c.mu.Lock()
	recipient := c.recipientID
	if recipient == "" {
		c.mu.Unlock()
		return
	}

	if strings.TrimSpace(content) == "" {
		if !c.isTyping {
			c.mu.Unlock()
			return
		}
		c.isTyping = false
		c.cancelTimerLocked()
		c.mu.Unlock()
		c.emitStop(recipient)
		return
	}

	if c.isTyping {
		// Already signalled: just extend the window.
		c.armTimerLocked(recipient)
		c.mu.Unlock()
		return
	}

	c.isTyping = true
	c.armTimerLocked(recipient)
	c.mu.Unlock()

	if err := c.signaler.Send(protocol.TypeTypingStart, protocol.TypingSignalMsg{RecipientID: recipient}); err != nil {
		log.Printf("[typing] start signal: %v", err)
	}
}

// MessageSent clears local typing state immediately: sending the message is
// the strongest possible "stopped typing" signal.
func (c *Coordinator) MessageSent() {
	c.mu.Lock()
	recipient := c.recipientID
	wasTyping := c.isTyping
	c.isTyping = false
	c.cancelTimerLocked()
	c.mu.Unlock()

	if wasTyping && recipient != "" {
		c.emitStop(recipient)
	}
}

// HandleTypingEvent applies a peer typing event. Events scoped to a
// conversation other than the active one are silently ignored so they can
// never bleed into the active view.
func (c *Coordinator) HandleTypingEvent(ev protocol.TypingEvent) {
	c.mu.Lock()
	if ev.ChatIdentifier != c.activeChat {
		c.mu.Unlock()
		return
	}

	next := ev.Type == protocol.TypeTypingStart
	changed := c.otherTyping != next
	c.otherTyping = next
	fn := c.notify
	c.mu.Unlock()

	if changed && fn != nil {
		fn(next)
	}
}

// OtherTyping reports whether the peer of the active conversation is
// currently typing.
func (c *Coordinator) OtherTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.otherTyping
}

// armTimerLocked (re)schedules the idle timeout. The sequence number guards
// against a cancelled timer's callback firing after a reset: by the time it
// runs, the sequence no longer matches and the callback is inert.
func (c *Coordinator) armTimerLocked(recipient string) {
	c.timerSeq++
	seq := c.timerSeq
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.idleAfter, func() {
		c.mu.Lock()
		if seq != c.timerSeq || !c.isTyping {
			c.mu.Unlock()
			return
		}
		c.isTyping = false
		c.mu.Unlock()
		c.emitStop(recipient)
	})
}

func (c *Coordinator) cancelTimerLocked() {
	c.timerSeq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) emitStop(recipient string) {
	if err := c.signaler.Send(protocol.TypeTypingStop, protocol.TypingSignalMsg{RecipientID: recipient}); err != nil {
		log.Printf("[typing] stop signal: %v", err)
	}
}
