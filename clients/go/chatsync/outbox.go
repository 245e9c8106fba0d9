package chatsync

import (
	"sync"
	"time"
)

// MessageState is the reconciliation state of one optimistic message.
type MessageState string

const (
	StatePending   MessageState = "pending"
	StateSent      MessageState = "sent"
	StateDelivered MessageState = "delivered"
	StateRead      MessageState = "read"
	StateFailed    MessageState = "failed"
)

// Entry is one optimistic message keyed by its client message id. Identity
// and timestamp are local guesses until the ack replaces them with the
// server-authoritative values.
type Entry struct {
	ClientMessageID string
	ConversationID  string
	SenderID        string
	Content         string
	State           MessageState
	MessageID       string    // server id, set on ack
	CreatedAt       time.Time // local until ack, then server timestamp
}

// Outbox is the per-message reconciliation state machine. One transition
// table lives here; nothing else flips message status flags.
//
// pending → sent (ack), pending → failed (timer), failed → pending (retry);
// delivered and read are reserved for a future receipt protocol.
type Outbox struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string // insertion order; reconciliation never reorders
	timers  map[string]*time.Timer
	timeout time.Duration

	// OnStateChange, when set, fires after every transition with a copy of
	// the entry. Called without the outbox lock held.
	OnStateChange func(Entry)
}

// NewOutbox creates an outbox with the given ack failure window.
func NewOutbox(timeout time.Duration) *Outbox {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Outbox{
		entries: make(map[string]*Entry),
		timers:  make(map[string]*time.Timer),
		timeout: timeout,
	}
}

// Add enqueues a new optimistic message as pending and starts its failure
// timer. Re-adding an existing id returns the existing entry unchanged.
func (o *Outbox) Add(conversationID, senderID, content, clientMessageID string) Entry {
	o.mu.Lock()

	if existing, ok := o.entries[clientMessageID]; ok {
		out := *existing
		o.mu.Unlock()
		return out
	}

	entry := &Entry{
		ClientMessageID: clientMessageID,
		ConversationID:  conversationID,
		SenderID:        senderID,
		Content:         content,
		State:           StatePending,
		CreatedAt:       time.Now(),
	}
	o.entries[clientMessageID] = entry
	o.order = append(o.order, clientMessageID)
	o.armTimerLocked(clientMessageID)

	out := *entry
	o.mu.Unlock()
	return out
}

// Ack reconciles an entry against the server-authoritative message: the
// failure timer is cancelled, identity and timestamp are replaced, the state
// becomes sent and the entry keeps its position in the list. Acks for
// unknown ids are ignored.
func (o *Outbox) Ack(clientMessageID string, msg *Message) bool {
	o.mu.Lock()
	entry, ok := o.entries[clientMessageID]
	if !ok {
		o.mu.Unlock()
		return false
	}

	o.stopTimerLocked(clientMessageID)
	entry.State = StateSent
	entry.MessageID = msg.ID
	entry.Content = msg.Content
	entry.CreatedAt = msg.CreatedAt

	out := *entry
	o.mu.Unlock()
	o.notify(out)
	return true
}

// Retry transitions a failed entry back to pending, restarts the failure
// timer and returns the entry so the caller re-issues the send with the
// same client message id. Minting a new id on retry would defeat the
// server-side dedup guarantee.
func (o *Outbox) Retry(clientMessageID string) (Entry, bool) {
	o.mu.Lock()
	entry, ok := o.entries[clientMessageID]
	if !ok || entry.State != StateFailed {
		o.mu.Unlock()
		return Entry{}, false
	}

	entry.State = StatePending
	o.armTimerLocked(clientMessageID)

	out := *entry
	o.mu.Unlock()
	o.notify(out)
	return out, true
}

// Get returns a copy of the entry for the given id.
func (o *Outbox) Get(clientMessageID string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[clientMessageID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Entries returns copies of all entries in their original send order.
func (o *Outbox) Entries() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Entry, 0, len(o.order))
	for _, id := range o.order {
		if entry, ok := o.entries[id]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

// Close stops all pending failure timers.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for id, timer := range o.timers {
		timer.Stop()
		delete(o.timers, id)
	}
}

func (o *Outbox) armTimerLocked(clientMessageID string) {
	if timer, ok := o.timers[clientMessageID]; ok {
		timer.Stop()
	}
	o.timers[clientMessageID] = time.AfterFunc(o.timeout, func() {
		o.fail(clientMessageID)
	})
}

func (o *Outbox) stopTimerLocked(clientMessageID string) {
	if timer, ok := o.timers[clientMessageID]; ok {
		timer.Stop()
		delete(o.timers, clientMessageID)
	}
}

// fail marks a still-pending entry failed once its window elapses. This is a
// local inference, not a server signal: the send may in fact have succeeded,
// which is why retry reuses the id.
func (o *Outbox) fail(clientMessageID string) {
	o.mu.Lock()
	entry, ok := o.entries[clientMessageID]
	if !ok || entry.State != StatePending {
		o.mu.Unlock()
		return
	}

	delete(o.timers, clientMessageID)
	entry.State = StateFailed

	out := *entry
	o.mu.Unlock()
	o.notify(out)
}

func (o *Outbox) notify(entry Entry) {
	if o.OnStateChange != nil {
		o.OnStateChange(entry)
	}
}
