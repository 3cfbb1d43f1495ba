package rotation

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL keeps day counters around long enough to survive clock skew
// between instances, then lets redis reclaim them.
const counterTTL = 48 * time.Hour

// RedisStore shares rotation state across instances. The cursor is a plain
// INCR; day counters expire on their own.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) NextIndex(ctx context.Context, total int) (int, error) {
	n, err := s.rdb.Incr(ctx, "rotation:cursor").Result()
	if err != nil {
		return 0, err
	}
	return int((n - 1) % int64(total)), nil
}

// addSentScript refuses the whole charge when it would cross the cap, so the
// counter never records sends that were not performed.
var addSentScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local count = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
if cur + count > cap then
  return {cur, 0}
end
cur = redis.call("INCRBY", KEYS[1], count)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {cur, 1}
`)

func (s *RedisStore) AddSent(ctx context.Context, email, day string, count, cap int) (int, bool, error) {
	res, err := addSentScript.Run(ctx, s.rdb, []string{sentKey(email, day)},
		count, cap, counterTTL.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	return int(res[0]), res[1] == 1, nil
}

func (s *RedisStore) SentCount(ctx context.Context, email, day string) (int, error) {
	n, err := s.rdb.Get(ctx, sentKey(email, day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func sentKey(email, day string) string {
	return "rotation:sent:" + day + ":" + email
}
