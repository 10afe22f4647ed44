package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPresenceMirror keeps a set of online user ids per tenant so other
// services can read presence without talking to this process.
type RedisPresenceMirror struct {
	client *redis.Client
}

func NewRedisPresenceMirror(client *redis.Client) *RedisPresenceMirror {
	return &RedisPresenceMirror{client: client}
}

func presenceKey(tenantID int64) string {
	return fmt.Sprintf("desk:presence:%d", tenantID)
}

func (m *RedisPresenceMirror) SetOnline(ctx context.Context, tenantID, userID int64, online bool) error {
	if online {
		return m.client.SAdd(ctx, presenceKey(tenantID), userID).Err()
	}
	return m.client.SRem(ctx, presenceKey(tenantID), userID).Err()
}
