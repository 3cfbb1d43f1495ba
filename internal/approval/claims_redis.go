package approval

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// RedisClaims is the shared ClaimStore for multi-instance deployments.
// Leases live in redis under a claim: prefix and expire on their own, so a
// crashed reviewer's claim frees itself after the TTL.
type RedisClaims struct {
	rdb *redis.Client
}

func NewRedisClaims(rdb *redis.Client) *RedisClaims { return &RedisClaims{rdb: rdb} }

func (s *RedisClaims) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	k := "claim:" + key
	ok, err := s.rdb.SetNX(ctx, k, holder, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	cur, err := s.rdb.Get(ctx, k).Result()
	if err == redis.Nil {
		// Expired between SETNX and GET; next poll wins it.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur != holder {
		return false, nil
	}
	// Same holder re-polling; push the lease out.
	if err := s.rdb.PExpire(ctx, k, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisClaims) Release(ctx context.Context, key, holder string) error {
	return releaseScript.Run(ctx, s.rdb, []string{"claim:" + key}, holder).Err()
}
