package chatsync

import (
	"sort"
	"sync"
)

// Summary is the conversation-list view of one conversation: the most recent
// message and the local unread count.
type Summary struct {
	ConversationID string
	LastMessage    *Message
	UnreadCount    int
}

// SummaryProjection incrementally maintains conversation summaries from the
// event stream, without re-querying history on every update.
//
// The local unread counter and the server's last-read timestamp are
// intentionally decoupled: opening a conversation clears the badge
// immediately while the authoritative mark-read call travels separately, so
// the UI never blocks on a round trip.
type SummaryProjection struct {
	mu        sync.Mutex
	selfID    string
	summaries map[string]*Summary
	active    string // currently open conversation, if any
}

// NewSummaryProjection creates a projection for the given local user.
func NewSummaryProjection(selfID string) *SummaryProjection {
	return &SummaryProjection{
		selfID:    selfID,
		summaries: make(map[string]*Summary),
	}
}

// ApplyMessage folds one message (broadcast or own ack) into the projection.
// The last-message pointer is replaced; unread increments only when the
// message was authored by someone else and the conversation is not open.
func (p *SummaryProjection) ApplyMessage(msg *Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.summaryLocked(msg.ConversationID)
	s.LastMessage = msg

	if msg.SenderID != p.selfID && msg.ConversationID != p.active {
		s.UnreadCount++
	}
}

// Open marks a conversation as open and clears its unread count
// optimistically; persisting last-read is the caller's separate concern.
func (p *SummaryProjection) Open(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active = conversationID
	p.summaryLocked(conversationID).UnreadCount = 0
}

// CloseActive marks no conversation as open.
func (p *SummaryProjection) CloseActive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = ""
}

// Set replaces a summary with server-computed values, used on reload or
// reconnect when unread counts are recomputed from the last-read timestamp.
func (p *SummaryProjection) Set(conversationID string, last *Message, unread int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.summaryLocked(conversationID)
	s.LastMessage = last
	s.UnreadCount = unread
}

// Get returns a copy of one conversation's summary.
func (p *SummaryProjection) Get(conversationID string) (Summary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.summaries[conversationID]
	if !ok {
		return Summary{}, false
	}
	return *s, true
}

// List returns all summaries, most recently active first.
func (p *SummaryProjection) List() []Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Summary, 0, len(p.summaries))
	for _, s := range p.summaries {
		out = append(out, *s)
	}

	sort.Slice(out, func(i, j int) bool {
		var ti, tj int64
		if out[i].LastMessage != nil {
			ti = out[i].LastMessage.CreatedAt.UnixNano()
		}
		if out[j].LastMessage != nil {
			tj = out[j].LastMessage.CreatedAt.UnixNano()
		}
		return ti > tj
	})
	return out
}

func (p *SummaryProjection) summaryLocked(conversationID string) *Summary {
	s, ok := p.summaries[conversationID]
	if !ok {
		s = &Summary{ConversationID: conversationID}
		p.summaries[conversationID] = s
	}
	return s
}
