package service

import (
	"context"

	"github.com/weiawesome/chat-sync/internal/hub"
)

// SyncService owns the realtime event semantics: presence transitions, room
// authorization, the idempotent delivery pipeline and typing/read fan-out.
// Handlers decode frames; this layer decides what they mean.
type SyncService interface {
	// HandleConnect marks presence online; on the user's first active
	// connection it broadcasts a global online update.
	HandleConnect(ctx context.Context, c *hub.Client) error

	// HandleDisconnect marks the connection offline; when the user's last
	// connection closes it broadcasts a global offline update.
	HandleDisconnect(ctx context.Context, c *hub.Client) error

	// HandleJoin adds the connection to the conversation's broadcast group
	// after verifying participant membership.
	HandleJoin(ctx context.Context, c *hub.Client, conversationID string) error

	// HandleLeave removes the connection from the broadcast group. Never fails.
	HandleLeave(ctx context.Context, c *hub.Client, conversationID string) error

	// HandleSend runs the delivery pipeline: validate, authorize, persist
	// idempotently, ack the sender, broadcast to the rest of the room and
	// clear the sender's typing record. Every accepted send results in
	// exactly one ack or one error event.
	HandleSend(ctx context.Context, c *hub.Client, conversationID, content, clientMessageID string) error

	HandleTypingStart(ctx context.Context, c *hub.Client, conversationID string) error
	HandleTypingStop(ctx context.Context, c *hub.Client, conversationID string) error

	// HandleRead persists the caller's authoritative last-read timestamp and
	// broadcasts the read marker to the rest of the room.
	HandleRead(ctx context.Context, c *hub.Client, conversationID, timestamp string) error

	// Heartbeat re-arms the presence TTL for the connection's user.
	Heartbeat(ctx context.Context, c *hub.Client)
}
