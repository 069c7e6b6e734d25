package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/guidechat/pkg/utils"
	"github.com/redis/go-redis/v9"
)

// SessionLocker serializes chat requests that share a session.
type SessionLocker interface {
	// Lock blocks until key is free or ctx ends. The returned func releases it and is safe to call twice.
	Lock(ctx context.Context, key string) (func(), error)
}

// SessionKey is the lock key for a guide session.
func SessionKey(guideID, sessionID string) string {
	return guideID + ":" + sessionID
}

// NoopLocker never blocks; concurrent turns of a session interleave.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// MemoryLocker serializes sessions within this process.
type MemoryLocker struct {
	km *utils.KeyedMutex
}

// NewMemoryLocker returns an in-process session locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{km: utils.NewKeyedMutex()}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	return l.km.Lock(ctx, key)
}

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only if the key still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker serializes sessions across replicas with SET NX PX.
// The holder extends the TTL every ttl/3 until it unlocks; a holder that
// dies releases implicitly when the TTL lapses.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

// NewRedisLocker returns a locker over client. ttl bounds how long a crashed holder blocks the session.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 50 * time.Millisecond, prefix: "guidechat:session-lock:"}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.New().String()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.refresh(k, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			// The request context may already be gone; release on a fresh one.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = unlockScript.Run(rctx, l.client, []string{k}, token).Err()
		})
	}, nil
}

// refresh keeps the lock alive while held. It gives up once the key no longer holds token.
func (l *RedisLocker) refresh(key, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

// NewSessionLocker builds the locker named by kind: "none", "memory" or "redis".
func NewSessionLocker(kind string, client redis.UniversalClient, ttl time.Duration) (SessionLocker, error) {
	switch kind {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "none":
		return NoopLocker{}, nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis session lock requires a redis client")
		}
		return NewRedisLocker(client, ttl), nil
	default:
		return nil, fmt.Errorf("unknown session lock: %s (supported: none, memory, redis)", kind)
	}
}
