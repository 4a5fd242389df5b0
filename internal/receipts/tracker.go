// Package receipts guarantees that every peer message in the active
// conversation is marked read exactly once from this client's perspective,
// reconciled monotonically with authoritative server confirmations.
package receipts

import (
	"log"
	"sync"
	"time"

	"github.com/moviesquad/messenger/internal/protocol"
)

// DefaultBatchDelay is the debounce window for the mark-as-read pass: rapid
// successive message arrivals are coalesced into one batch of read signals
// instead of one round trip per message.
const DefaultBatchDelay = 500 * time.Millisecond

// Signaler emits a typed event to the transport server.
type Signaler interface {
	Send(msgType string, payload interface{}) error
}

// Status is the derived read state for a single message, keyed by its server
// ID. Transitions are monotonic: once Read is true no event may revoke it;
// confirmations only add or overwrite ReadAt/ReadBy with authoritative
// values.
type Status struct {
	Read   bool
	ReadAt int64 // unix milliseconds
	ReadBy string
}

// Tracker holds the per-conversation-session read state. The processed set
// makes read signalling idempotent even when the same message is observed
// many times; it never evicts within a session, so a message that the server
// somehow re-marks unread will not be re-signalled until the conversation is
// reselected (documented limitation).
type Tracker struct {
	signaler Signaler
	delay    time.Duration
	selfID   string
	now      func() int64

	mu         sync.Mutex
	activeChat string
	processed  map[string]struct{} // signal sent
	pending    map[string]struct{} // decided, awaiting the batch flush
	pendingIDs []string            // pending in observation order
	status     map[string]Status
	timer      *time.Timer
	timerSeq   int
	notify     func()
}

// New creates a Tracker for the given local user. A zero or negative delay
// falls back to DefaultBatchDelay.
func New(selfID string, signaler Signaler, delay time.Duration) *Tracker {
	if delay <= 0 {
		delay = DefaultBatchDelay
	}
	return &Tracker{
		signaler:  signaler,
		delay:     delay,
		selfID:    selfID,
		now:       func() int64 { return time.Now().UnixMilli() },
		processed: make(map[string]struct{}),
		pending:   make(map[string]struct{}),
		status:    make(map[string]Status),
	}
}

// SetNotify registers a callback invoked whenever read statuses change.
func (t *Tracker) SetNotify(fn func()) {
	t.mu.Lock()
	t.notify = fn
	t.mu.Unlock()
}

// SetClock overrides the timestamp source. Tests use this for deterministic
// readAt values.
func (t *Tracker) SetClock(now func() int64) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// SetActive scopes the tracker to a conversation. The processed set and
// status map are both cleared; read state is scoped to the conversation
// session, never cached across switches.
func (t *Tracker) SetActive(chatIdentifier string) {
	t.mu.Lock()
	t.activeChat = chatIdentifier
	t.processed = make(map[string]struct{})
	t.pending = make(map[string]struct{})
	t.pendingIDs = nil
	t.status = make(map[string]Status)
	t.cancelTimerLocked()
	t.mu.Unlock()
}

// Observe scans the currently loaded message list for unread peer messages
// that have not been signalled yet, and (re)schedules the debounced batch
// flush. Observing the same messages repeatedly before the flush fires adds
// nothing: each ID is queued at most once per session.
func (t *Tracker) Observe(msgs []protocol.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queued := false
	for _, m := range msgs {
		if m.ChatIdentifier != t.activeChat || m.Sender.ID == t.selfID {
			continue
		}
		if _, done := t.processed[m.ID]; done {
			continue
		}
		if _, waiting := t.pending[m.ID]; waiting {
			continue
		}
		t.pending[m.ID] = struct{}{}
		t.pendingIDs = append(t.pendingIDs, m.ID)
		queued = true
	}

	if queued || len(t.pendingIDs) > 0 {
		t.armTimerLocked()
	}
}

// FlushNow runs the mark-as-read pass immediately, bypassing the debounce.
// Called when the application regains foreground focus: once the user is
// confirmed to be looking, recency matters more than batching.
func (t *Tracker) FlushNow() {
	t.mu.Lock()
	t.cancelTimerLocked()
	batch := t.takeBatchLocked()
	chat := t.activeChat
	fn := t.notify
	t.mu.Unlock()

	t.emit(batch, chat)
	if len(batch) > 0 && fn != nil {
		fn()
	}
}

// ApplyConfirmation merges a server read confirmation. Confirmations for a
// conversation other than the active one are dropped. The merge is
// monotonic: Read never regresses from true, and the authoritative
// ReadAt/ReadBy replace any optimistic values.
func (t *Tracker) ApplyConfirmation(ev protocol.MessageReadMsg) {
	t.mu.Lock()
	if ev.ChatIdentifier != t.activeChat {
		t.mu.Unlock()
		return
	}

	st := t.status[ev.MessageID]
	st.Read = true
	if ev.ReadAt != 0 {
		st.ReadAt = ev.ReadAt
	}
	if ev.ReadBy != "" {
		st.ReadBy = ev.ReadBy
	}
	t.status[ev.MessageID] = st
	fn := t.notify
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Status returns the read state for a message ID, if any is tracked.
func (t *Tracker) Status(messageID string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.status[messageID]
	return st, ok
}

// takeBatchLocked moves all pending IDs to the processed set, applies the
// optimistic local mark, and returns the batch for emission.
func (t *Tracker) takeBatchLocked() []string {
	if len(t.pendingIDs) == 0 {
		return nil
	}
	batch := t.pendingIDs
	t.pendingIDs = nil
	now := t.now()
	for _, id := range batch {
		delete(t.pending, id)
		t.processed[id] = struct{}{}
		// Optimistic: read locally before the server confirms, so the UI
		// does not wait on a round trip. The confirmation later overwrites
		// ReadAt/ReadBy with authoritative values.
		st := t.status[id]
		st.Read = true
		if st.ReadAt == 0 {
			st.ReadAt = now
		}
		t.status[id] = st
	}
	return batch
}

func (t *Tracker) emit(batch []string, chat string) {
	for _, id := range batch {
		err := t.signaler.Send(protocol.TypeMarkRead, protocol.MarkReadMsg{
			MessageID:      id,
			ChatIdentifier: chat,
		})
		if err != nil {
			log.Printf("[receipts] mark_read %s: %v", id, err)
		}
	}
}

func (t *Tracker) armTimerLocked() {
	t.timerSeq++
	seq := t.timerSeq
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.delay, func() {
		t.mu.Lock()
		if seq != t.timerSeq {
			// A conversation switch or explicit flush superseded this pass;
			// the state it would have touched is gone.
			t.mu.Unlock()
			return
		}
		batch := t.takeBatchLocked()
		chat := t.activeChat
		fn := t.notify
		t.mu.Unlock()

		t.emit(batch, chat)
		if len(batch) > 0 && fn != nil {
			fn()
		}
	})
}

func (t *Tracker) cancelTimerLocked() {
	t.timerSeq++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
