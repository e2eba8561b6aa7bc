package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"market-scanner/internal/alerting"
)

// keepLatestScript sets a hash field only when the new value is larger.
var keepLatestScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], ARGV[1])
if prev and tonumber(prev) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// RedisStore keeps dedupe state in a redis hash of symbol -> epoch millis.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore wraps client. key defaults to "scanner:pushed".
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = "scanner:pushed"
	}
	return &RedisStore{client: client, key: key}
}

// LoadDeliveries implements alerting.DedupeStore.
func (r *RedisStore) LoadDeliveries(ctx context.Context) (map[string]time.Time, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", r.key, err)
	}
	out := make(map[string]time.Time, len(values))
	for symbol, v := range values {
		millis, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[symbol] = time.UnixMilli(millis).UTC()
	}
	return out, nil
}

// SaveDelivery implements alerting.DedupeStore.
func (r *RedisStore) SaveDelivery(ctx context.Context, symbol string, at time.Time) error {
	if err := keepLatestScript.Run(ctx, r.client, []string{r.key}, symbol, at.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("redis save delivery %s: %w", symbol, err)
	}
	return nil
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ alerting.DedupeStore = (*RedisStore)(nil)
