package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "docflow:lock:"

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager relies on key expiry for liveness, so a crashed holder frees
// the name after ttl.
type RedisManager struct {
	rdb redis.UniversalClient
}

func NewRedisManager(rdb redis.UniversalClient) *RedisManager {
	return &RedisManager{rdb: rdb}
}

func (m *RedisManager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	l := &Lock{Name: name, Token: uuid.NewString(), Created: time.Now(), TTL: ttl}
	ok, err := m.rdb.SetNX(ctx, redisKeyPrefix+name, l.Token, ttl).Result()
	if err != nil {
		return nil, backendErr("acquire lock "+name, err)
	}
	if !ok {
		return nil, unavailable(name)
	}
	return l, nil
}

func (m *RedisManager) Release(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	err := releaseScript.Run(ctx, m.rdb, []string{redisKeyPrefix + l.Name}, l.Token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return backendErr("release lock "+l.Name, err)
	}
	return nil
}

func (m *RedisManager) PurgeAll(ctx context.Context) error {
	iter := m.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	keys := make([]string, 0, 64)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return backendErr("scan locks", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := m.rdb.Del(ctx, keys...).Err(); err != nil {
		return backendErr("purge locks", err)
	}
	return nil
}
