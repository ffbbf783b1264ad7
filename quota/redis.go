package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"rssagg/models"
)

const keyPrefix = "rssagg:guest:"

// consumeScript restarts an expired window, then bumps total and scope in
// one round trip. Returns window start, total and scope count.
var consumeScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = tonumber(redis.call('HGET', KEYS[1], 'window_start'))
if start and start + window <= now then
  redis.call('DEL', KEYS[1])
  start = nil
end
if not start then
  start = now
  redis.call('HSET', KEYS[1], 'window_start', start)
  redis.call('EXPIRE', KEYS[1], window)
end
local total = redis.call('HINCRBY', KEYS[1], 'total', 1)
local scoped = redis.call('HINCRBY', KEYS[1], 'scope:' .. ARGV[3], 1)
return {start, total, scoped}
`)

// RedisStore keeps guest quotas in Redis hashes that expire with their window
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to url and pings the server
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}

	log.WithFields(log.Fields{
		"addr": opts.Addr,
	}).Info("Guest quota store connected to redis")
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) ConsumeQuota(ctx context.Context, fingerprint, scope string, now time.Time, window time.Duration) (models.QuotaCounts, error) {
	values, err := consumeScript.Run(ctx, s.client,
		[]string{keyPrefix + fingerprint},
		now.Unix(), int64(window/time.Second), scope,
	).Int64Slice()
	if err != nil {
		return models.QuotaCounts{}, fmt.Errorf("consume guest quota: %w", err)
	}
	if len(values) != 3 {
		return models.QuotaCounts{}, fmt.Errorf("consume guest quota: unexpected reply %v", values)
	}

	start := time.Unix(values[0], 0).UTC()
	return models.QuotaCounts{
		WindowStart: start,
		ExpiresAt:   start.Add(window),
		Total:       int(values[1]),
		ScopeCount:  int(values[2]),
	}, nil
}
