package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	commonlog "desk_server/server/common/log"
)

const inboundIdempotencyTTL = 24 * time.Hour

// Deduper remembers keys for a while. Claim reports false when the key was
// already claimed.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: inboundIdempotencyTTL}
}

func (r *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, key, "1", r.ttl).Result()
}

func (r *RedisDeduper) Release(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		commonlog.Warnf("event=desk_idempotency action=release status=failed key=%s error=%v", key, err)
	}
}

func inboundIdempotencyKey(tenantID, clientID int64, externalID string) string {
	return fmt.Sprintf("desk:inbound:idempotency:%d:%d:%s", tenantID, clientID, externalID)
}
