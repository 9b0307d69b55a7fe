package lock

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/bookingcore/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by Release when the lock was lost to expiry.
var ErrNotAcquired = errors.New("lock not held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

// RedisLock is a single named lease in Redis. Each holder owns a random token so
// only the holder can release it.
type RedisLock struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

func NewRedisLock(client redis.Cmdable, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Lease is a held RedisLock.
type Lease struct {
	lock  *RedisLock
	token string
}

// TryAcquire returns nil, nil when another holder owns the lock.
func (l *RedisLock) TryAcquire(ctx context.Context) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lease{lock: l, token: token}, nil
}

func (s *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, s.lock.client, []string{s.lock.key}, s.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotAcquired
	}
	return nil
}

func SweepLockKey(name string) string {
	return "lock:sweep:" + name
}
