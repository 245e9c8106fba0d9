package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds tracker TTLs.
type Config struct {
	OnlineTTL time.Duration
	TypingTTL time.Duration
}

// redisTracker implements Tracker using Redis.
//
// Key patterns:
// presence:{user_id}                STRING  - exists iff user is online
// presence:conns:{user_id}          SET     - active connection ids
// typing:{conversation_id}:{user_id} STRING - exists iff user is typing
type redisTracker struct {
	client *redis.Client
	cfg    Config
}

// NewRedisTracker creates a Redis-backed presence tracker.
func NewRedisTracker(client *redis.Client, cfg Config) Tracker {
	return &redisTracker{client: client, cfg: cfg}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

func connsKey(userID string) string {
	return fmt.Sprintf("presence:conns:%s", userID)
}

func typingKey(conversationID, userID string) string {
	return fmt.Sprintf("typing:%s:%s", conversationID, userID)
}

func typingPattern(conversationID string) string {
	return fmt.Sprintf("typing:%s:*", conversationID)
}

func (t *redisTracker) SetOnline(ctx context.Context, userID, connectionID string) (bool, error) {
	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, connsKey(userID), connectionID)
	card := pipe.SCard(ctx, connsKey(userID))
	// The connection set carries the same TTL as the presence record so a
	// crashed gateway cannot strand stale connection ids.
	pipe.Expire(ctx, connsKey(userID), t.cfg.OnlineTTL)
	pipe.Set(ctx, presenceKey(userID), connectionID, t.cfg.OnlineTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return card.Val() == 1, nil
}

func (t *redisTracker) SetOffline(ctx context.Context, userID, connectionID string) (bool, error) {
	pipe := t.client.TxPipeline()
	pipe.SRem(ctx, connsKey(userID), connectionID)
	card := pipe.SCard(ctx, connsKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if card.Val() > 0 {
		return false, nil
	}

	del := t.client.TxPipeline()
	del.Del(ctx, presenceKey(userID))
	del.Del(ctx, connsKey(userID))
	if _, err := del.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (t *redisTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	_, err := t.client.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *redisTracker) Heartbeat(ctx context.Context, userID string) error {
	pipe := t.client.TxPipeline()
	pipe.Expire(ctx, presenceKey(userID), t.cfg.OnlineTTL)
	pipe.Expire(ctx, connsKey(userID), t.cfg.OnlineTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *redisTracker) SetTyping(ctx context.Context, conversationID, userID string) error {
	return t.client.Set(ctx, typingKey(conversationID, userID), "1", t.cfg.TypingTTL).Err()
}

func (t *redisTracker) ClearTyping(ctx context.Context, conversationID, userID string) error {
	return t.client.Del(ctx, typingKey(conversationID, userID)).Err()
}

func (t *redisTracker) GetTypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	prefix := fmt.Sprintf("typing:%s:", conversationID)
	users := make([]string, 0, 4)

	var cursor uint64
	for {
		keys, next, err := t.client.Scan(ctx, cursor, typingPattern(conversationID), 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			users = append(users, strings.TrimPrefix(key, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return users, nil
}
