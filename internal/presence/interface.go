package presence

import "context"

// Tracker holds the ephemeral online/typing state. Records are self-expiring:
// a crashed client converges to offline/not-typing within one TTL window with
// no sweep logic, and every gateway instance reads the same records, so the
// tracker is also the cross-instance synchronization point.
type Tracker interface {
	// SetOnline adds connectionID to the user's active-connection set and
	// re-arms its expiry. It reports whether this was the user's first
	// active connection (the offline → online transition).
	SetOnline(ctx context.Context, userID, connectionID string) (first bool, err error)

	// SetOffline removes connectionID; when the set drains to empty the
	// presence record is removed entirely and last is true.
	SetOffline(ctx context.Context, userID, connectionID string) (last bool, err error)

	// IsOnline is true iff a presence record exists.
	IsOnline(ctx context.Context, userID string) (bool, error)

	// Heartbeat re-arms the user's presence expiry.
	Heartbeat(ctx context.Context, userID string) error

	// SetTyping writes a typing record with a very short TTL; non-renewal
	// alone converges the flag to "not typing".
	SetTyping(ctx context.Context, conversationID, userID string) error

	ClearTyping(ctx context.Context, conversationID, userID string) error

	// GetTypingUsers returns users with a currently unexpired typing record.
	GetTypingUsers(ctx context.Context, conversationID string) ([]string, error)
}
