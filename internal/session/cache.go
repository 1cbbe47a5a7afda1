package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
)

const defaultTTL = time.Hour

// setIfNewer replaces the cached copy unless it holds a higher version.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisCache keeps JSON copies of sessions in a hash under <prefix>:session:<id>, next to
// their version.
type RedisCache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(r redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &RedisCache{
		redis:  r,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, id string) (*domain.Session, error) {
	b, err := c.redis.HGet(ctx, c.key(id), "data").Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var ss domain.Session
	if err := json.Unmarshal(b, &ss); err != nil {
		return nil, fmt.Errorf("unmarshal cached session %s: %w", id, err)
	}

	return &ss, nil
}

func (c *RedisCache) Set(ctx context.Context, ss *domain.Session) error {
	b, err := json.Marshal(ss)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", ss.SessionID, err)
	}

	err = setIfNewer.Run(ctx, c.redis, []string{c.key(ss.SessionID)}, ss.Version, b, c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	return c.redis.Del(ctx, c.key(id)).Err()
}

func (c *RedisCache) key(id string) string {
	return fmt.Sprintf("%s:session:%s", c.prefix, id)
}
