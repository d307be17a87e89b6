package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/branchenv/internal/util/naming"
)

// DefaultTTL bounds how long a crashed holder blocks an environment.
const DefaultTTL = 2 * time.Minute

// Only the holder's token may release or extend a lock.
const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
	extendScript  = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`
)

// RedisLocker is a Locker backed by Redis SET NX PX. While held, the lock
// is extended every TTL/3 so long workflow runs keep ownership.
type RedisLocker struct {
	client  redis.Cmdable
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisLocker connects to addr and verifies the connection.
func NewRedisLocker(ctx context.Context, addr, password string, db int) (*RedisLocker, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisLockerWithClient(client, DefaultTTL), client, nil
}

// NewRedisLockerWithClient creates a locker on an existing client.
func NewRedisLockerWithClient(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl, timeout: 2 * time.Second}
}

// TryAcquire implements Locker.
func (r *RedisLocker) TryAcquire(ctx context.Context, id string) (func(), error) {
	key := naming.Lock(id)
	token := uuid.NewString()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	ok, err := r.client.SetNX(callCtx, key, token, r.ttl).Result()
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	logger := log.FromContext(ctx).WithValues("lock", key)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(key, token, stop, logger.Info)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			releaseCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			if err := r.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
				logger.Info("Failed to release lock, it expires on its own", "error", err.Error())
			}
		})
	}, nil
}

func (r *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, logf func(msg string, kv ...any)) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			extended, err := r.client.Eval(ctx, extendScript, []string{key}, token, r.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				logf("Failed to extend lock", "error", err.Error())
				continue
			}
			if extended == 0 {
				logf("Lock lost to another holder")
				return
			}
		}
	}
}
