package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// ErrNotObtained means another worker holds the lock.
var ErrNotObtained = errors.New("lock not obtained")

// Releaser gives a held lock back.
type Releaser interface {
	Release(ctx context.Context) error
}

// Locker hands out short-lived exclusive locks.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Releaser, error)
}

type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client redislock.RedisClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

// Obtain makes a single attempt; it does not wait for a busy lock.
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Releaser, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), clock: time.Now}
}

func (l *MemoryLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Releaser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.held[key]; ok && l.clock().Before(exp) {
		return nil, ErrNotObtained
	}
	l.held[key] = l.clock().Add(ttl)
	return &memoryLock{locker: l, key: key}, nil
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
}

func (m *memoryLock) Release(context.Context) error {
	m.locker.mu.Lock()
	delete(m.locker.held, m.key)
	m.locker.mu.Unlock()
	return nil
}
