package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Locker hands out per-key exclusion tokens. TryLock never waits: ok is false
// when another holder owns the key. unlock must be safe to call once.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// TrackLockKey is the exclusion key used for a track's processing job.
func TrackLockKey(trackID int64) string {
	return fmt.Sprintf("mixstudio:track:%d:lock", trackID)
}

// MemoryLocker 进程内的键级互斥，未配置 Redis 时使用
type MemoryLocker struct {
	mu     sync.Mutex
	seq    uint64
	leases map[string]lease
}

type lease struct {
	id     uint64
	expiry time.Time
}

// NewMemoryLocker creates an in-process Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]lease)}
}

// TryLock acquires key unless it is held and not yet expired.
func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expiry) {
		return nil, false, nil
	}

	l.seq++
	mine := lease{id: l.seq, expiry: now.Add(ttl)}
	l.leases[key] = mine

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			l.mu.Lock()
			// 只释放自己持有的锁，过期后被他人重新获取的不动
			if cur, ok := l.leases[key]; ok && cur.id == mine.id {
				delete(l.leases, key)
			}
			l.mu.Unlock()
		})
	}
	return unlock, true, nil
}
