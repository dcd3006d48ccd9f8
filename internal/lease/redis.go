package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "catalogsync:lease:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker stores leases as SET NX PX keys so several processes share the
// single-writer rule.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(redisURL string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisLocker{client: redis.NewClient(opts)}, nil
}

func NewRedisLockerFromClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	owner := uuid.NewString()
	start := time.Now()
	ok, err := l.client.SetNX(ctx, keyPrefix+name, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &redisLease{client: l.client, name: name, owner: owner, ttl: ttl, deadline: start.Add(ttl)}, nil
}

type redisLease struct {
	client *redis.Client
	name   string
	owner  string
	ttl    time.Duration

	mu       sync.Mutex
	deadline time.Time
}

func (ls *redisLease) Name() string  { return ls.name }
func (ls *redisLease) Owner() string { return ls.owner }

func (ls *redisLease) Valid(ctx context.Context) error {
	cur, err := ls.client.Get(ctx, keyPrefix+ls.name).Result()
	if errors.Is(err, redis.Nil) {
		return ErrLeaseLost
	}
	if err != nil {
		return fmt.Errorf("check lease %s: %w", ls.name, err)
	}
	if cur != ls.owner {
		return ErrLeaseLost
	}
	return nil
}

func (ls *redisLease) Deadline() time.Time {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.deadline
}

// Renew extends the key only while it still carries our owner. The local
// deadline is measured from before the call so it errs early.
func (ls *redisLease) Renew(ctx context.Context) error {
	start := time.Now()
	n, err := renewScript.Run(ctx, ls.client, []string{keyPrefix + ls.name}, ls.owner, ls.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", ls.name, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	ls.mu.Lock()
	ls.deadline = start.Add(ls.ttl)
	ls.mu.Unlock()
	return nil
}

func (ls *redisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, ls.client, []string{keyPrefix + ls.name}, ls.owner).Err()
}
