package realtime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 45 * time.Second

// RedisPresence implements PresenceHint on top of go-redis/v9, letting
// horizontally-scaled instances agree on IsOnline without a shared
// in-process map (§3 domain stack: go-redis wired for presence, not just
// rate limiting).
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func presenceKey(userID string) string {
	return "pvp:presence:" + userID
}

func (p *RedisPresence) MarkOnline(ctx context.Context, userID string) error {
	return p.client.Set(ctx, presenceKey(userID), "1", presenceTTL).Err()
}

func (p *RedisPresence) MarkOffline(ctx context.Context, userID string) error {
	return p.client.Del(ctx, presenceKey(userID)).Err()
}

func (p *RedisPresence) IsOnlineElsewhere(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
