package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript checks both bucket limits before incrementing either, so a
// denied request never consumes quota regardless of which instance served it.
var incrementScript = redis.NewScript(`
local hour = tonumber(redis.call('GET', KEYS[1]) or '0')
local day = tonumber(redis.call('GET', KEYS[2]) or '0')
if hour >= tonumber(ARGV[1]) then
  return {hour, day, 'hourly'}
end
if day >= tonumber(ARGV[2]) then
  return {hour, day, 'daily'}
end
hour = redis.call('INCR', KEYS[1])
if hour == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[3])
end
day = redis.call('INCR', KEYS[2])
if day == 1 then
  redis.call('EXPIRE', KEYS[2], ARGV[4])
end
return {hour, day, ''}
`)

// RedisCounters shares usage buckets across instances. Keys carry TTLs so
// expired buckets vanish on their own; the reset jobs are no-ops here.
type RedisCounters struct {
	client *redis.Client
}

func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

func (r *RedisCounters) IncrementIfAllowed(ctx context.Context, hourKey, dayKey string, hourlyLimit, dailyLimit int) (Usage, string, error) {
	res, err := incrementScript.Run(ctx, r.client,
		[]string{hourKey, dayKey},
		hourlyLimit, dailyLimit,
		int((2 * time.Hour).Seconds()),
		int((25 * time.Hour).Seconds()),
	).Slice()
	if err != nil {
		return Usage{}, "", err
	}
	if len(res) != 3 {
		return Usage{}, "", fmt.Errorf("unexpected script reply length %d", len(res))
	}

	usage := Usage{Hourly: int(res[0].(int64)), Daily: int(res[1].(int64))}
	switch res[2] {
	case "hourly":
		return usage, ReasonHourlyExceeded, nil
	case "daily":
		return usage, ReasonDailyExceeded, nil
	}
	return usage, "", nil
}

func (r *RedisCounters) Usage(ctx context.Context, hourKey, dayKey string) (Usage, error) {
	vals, err := r.client.MGet(ctx, hourKey, dayKey).Result()
	if err != nil {
		return Usage{}, err
	}
	return Usage{Hourly: toInt(vals[0]), Daily: toInt(vals[1])}, nil
}

func (r *RedisCounters) ResetHourly(ctx context.Context) error { return nil }

func (r *RedisCounters) ResetDaily(ctx context.Context) error { return nil }

func toInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int
	fmt.Sscanf(s, "%d", &n)
	return n
}
