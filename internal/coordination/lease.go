package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotHolder = errors.New("lease not held by this instance")

// release and renew only touch the key while it still carries our instance id.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)
)

// TriggerLease keeps a named trigger from running on more than one replica at a
// time. A lease is a Redis key set with SETNX and a TTL, so a crashed holder
// frees the trigger once the TTL runs out.
type TriggerLease struct {
	redis      *redis.Client
	instanceID string
	ttl        time.Duration
	prefix     string
}

func NewTriggerLease(client *redis.Client, instanceID string, ttl time.Duration) *TriggerLease {
	return &TriggerLease{redis: client, instanceID: instanceID, ttl: ttl, prefix: "bulknotif:trigger:"}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *TriggerLease) key(name string) string { return l.prefix + name }

// Acquire reports whether this instance now holds the lease for name.
func (l *TriggerLease) Acquire(ctx context.Context, name string) (bool, error) {
	return l.redis.SetNX(ctx, l.key(name), l.instanceID, l.ttl).Result()
}

// Renew extends a held lease; long runs call it so the TTL does not lapse mid-run.
func (l *TriggerLease) Renew(ctx context.Context, name string) error {
	res, err := renewScript.Run(ctx, l.redis, []string{l.key(name)}, l.instanceID, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHolder
	}
	return nil
}

// Release gives the lease up if this instance still holds it.
func (l *TriggerLease) Release(ctx context.Context, name string) error {
	return releaseScript.Run(ctx, l.redis, []string{l.key(name)}, l.instanceID).Err()
}

// Holder returns the instance currently holding name, or "" when free.
func (l *TriggerLease) Holder(ctx context.Context, name string) (string, error) {
	v, err := l.redis.Get(ctx, l.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}
