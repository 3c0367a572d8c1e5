package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"concierge/internal/services/quota"
	"concierge/pkg/errors"
)

// reserveScript increments both window counters only when both are
// under their caps. Running it as one script keeps the two counters
// consistent under concurrent turns for the same contact.
//
// KEYS[1] hourly counter, KEYS[2] daily counter
// ARGV[1] hourly cap, ARGV[2] daily cap, ARGV[3] hourly TTL seconds,
// ARGV[4] daily TTL seconds
//
// Returns "h" or "d" for the blocking window, "" when reserved.
var reserveScript = redis.NewScript(`
local h = tonumber(redis.call('GET', KEYS[1]) or '0')
if h >= tonumber(ARGV[1]) then
  return 'h'
end
local d = tonumber(redis.call('GET', KEYS[2]) or '0')
if d >= tonumber(ARGV[2]) then
  return 'd'
end
if redis.call('INCR', KEYS[1]) == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[3])
end
if redis.call('INCR', KEYS[2]) == 1 then
  redis.call('EXPIRE', KEYS[2], ARGV[4])
end
return ''
`)

// releaseScript decrements both counters without going negative.
var releaseScript = redis.NewScript(`
for i = 1, 2 do
  local v = tonumber(redis.call('GET', KEYS[i]) or '0')
  if v > 0 then
    redis.call('DECR', KEYS[i])
  end
end
return ''
`)

// QuotaStore is the Redis-backed send counter used by the quota limiter.
// Counters live in fixed windows keyed by the window start so they reset
// by key rollover, not by arithmetic.
type QuotaStore struct {
	rdb *redis.Client
}

func NewQuotaStore(rdb *redis.Client) *QuotaStore {
	return &QuotaStore{rdb: rdb}
}

func quotaKeys(contactID string, now time.Time) (string, string) {
	hourly := fmt.Sprintf("quota:h:{%s}:%s", contactID, now.UTC().Format("2006010215"))
	daily := fmt.Sprintf("quota:d:{%s}:%s", contactID, now.UTC().Format("20060102"))
	return hourly, daily
}

func (s *QuotaStore) Reserve(ctx context.Context, contactID string, now time.Time, hourlyCap, dailyCap int) (quota.Window, error) {
	hourly, daily := quotaKeys(contactID, now)

	res, err := reserveScript.Run(ctx, s.rdb, []string{hourly, daily},
		hourlyCap, dailyCap,
		int(2*time.Hour/time.Second), int(48*time.Hour/time.Second),
	).Text()
	if err != nil {
		return quota.WindowNone, errors.Wrap(err, "failed to run quota reserve script")
	}

	switch res {
	case "h":
		return quota.WindowHourly, nil
	case "d":
		return quota.WindowDaily, nil
	default:
		return quota.WindowNone, nil
	}
}

func (s *QuotaStore) Release(ctx context.Context, contactID string, now time.Time) error {
	hourly, daily := quotaKeys(contactID, now)
	if err := releaseScript.Run(ctx, s.rdb, []string{hourly, daily}).Err(); err != nil {
		return errors.Wrap(err, "failed to run quota release script")
	}
	return nil
}
