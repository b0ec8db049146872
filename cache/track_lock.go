package cache

import (
	"context"
	"sync"
	"time"

	"MixStudio/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const unlockTimeout = 5 * time.Second

// RedisLocker is a per-key lock shared by every API instance using the same Redis.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock sets key with a random token if it is absent. The returned unlock
// deletes the key only while it still carries that token.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l.client == nil {
		return nil, false, errNoClient
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// 请求上下文可能已取消，释放锁使用独立上下文
			uctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			if err := releaseScript.Run(uctx, l.client, []string{key}, token).Err(); err != nil {
				logger.Warn("[Lock] Failed to release lock", logger.String("key", key), logger.ErrorField(err))
			}
		})
	}
	return unlock, true, nil
}
