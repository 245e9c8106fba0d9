package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/chat-sync/internal/hub"
	"github.com/weiawesome/chat-sync/pkg/log"
)

// Envelope wraps an outbound event for cross-instance delivery. Origin lets
// the publishing instance skip its own echo; it already delivered locally.
type Envelope struct {
	Origin         string          `json:"origin_instance_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// Relay propagates broadcast events between horizontally scaled gateway
// instances over a Redis pub/sub channel. Acks never pass through here; they
// go only to the originating connection.
type Relay struct {
	client     *redis.Client
	channel    string
	hub        *hub.Hub
	instanceID string
	doneCh     chan struct{}
}

func NewRelay(client *redis.Client, channel string, h *hub.Hub, instanceID string) *Relay {
	if channel == "" {
		channel = "chatsync:events"
	}
	return &Relay{
		client:     client,
		channel:    channel,
		hub:        h,
		instanceID: instanceID,
		doneCh:     make(chan struct{}),
	}
}

// Publish sends an event to every other gateway instance. conversationID
// empty means a global broadcast (presence updates).
func (r *Relay) Publish(ctx context.Context, conversationID string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	env := Envelope{
		Origin:         r.instanceID,
		ConversationID: conversationID,
		Payload:        payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Done returns a channel that is closed when Run() exits.
func (r *Relay) Done() <-chan struct{} { return r.doneCh }

// Run subscribes and forwards remote events into the local hub until ctx is
// done. Reconnects on receive errors.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.doneCh)
	l := log.L()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := r.runSubscription(ctx); err != nil && ctx.Err() == nil {
				l.Warn().Err(err).Msg("event relay subscription error, reconnecting in 2s")
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
					continue
				}
			}
			return
		}
	}
}

func (r *Relay) runSubscription(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for subscription to be active
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handleMessage(msg.Payload)
		}
	}
}

func (r *Relay) handleMessage(payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.L().Warn().Err(err).Msg("event relay: invalid payload")
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	r.hub.ForwardRaw(env.ConversationID, env.Payload)
}
