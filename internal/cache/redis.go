package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/laneiq/freightlens/internal/domain"
)

const (
	readyPrefix    = "fl:ready:"
	inflightPrefix = "fl:inflight:"
)

// claimScript checks the READY space and claims the in-flight slot in one
// atomic step. Returns {"READY", id}, {"CLAIMED"}, or
// {"HELD", owner, pttl_ms}.
var claimScript = redis.NewScript(`
local ready = redis.call('GET', KEYS[1])
if ready then
  return {'READY', ready}
end
if redis.call('SET', KEYS[2], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return {'CLAIMED'}
end
return {'HELD', redis.call('GET', KEYS[2]), redis.call('PTTL', KEYS[2])}
`)

// releaseScript deletes the in-flight slot only when the caller still owns
// it. Returns 1 on release, 0 when the slot is gone, -1 on owner mismatch.
var releaseScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if not owner then
  return 0
end
if owner ~= ARGV[1] then
  return -1
end
redis.call('DEL', KEYS[1])
return 1
`)

// publishScript writes the READY entry and drops the in-flight slot
// atomically.
var publishScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('DEL', KEYS[2])
return 1
`)

// Redis is the shared cache backend for multi-process deployments.
// Eviction is Redis' own TTL handling; no sweeper is needed.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) TryClaim(ctx context.Context, fingerprint, owner string, lease time.Duration) (Claim, error) {
	keys := []string{readyPrefix + fingerprint, inflightPrefix + fingerprint}
	res, err := claimScript.Run(ctx, r.client, keys, owner, lease.Milliseconds()).Slice()
	if err != nil {
		return Claim{}, domain.Wrap(domain.KindCacheUnavailable, "claim failed", err)
	}
	if len(res) == 0 {
		return Claim{}, domain.E(domain.KindCacheUnavailable, "claim script returned nothing")
	}

	switch res[0] {
	case "READY":
		id, _ := res[1].(string)
		return Claim{Outcome: ReadyNow, ResultID: id}, nil
	case "CLAIMED":
		return Claim{Outcome: Claimed}, nil
	case "HELD":
		c := Claim{Outcome: HeldByOther}
		if len(res) > 1 {
			c.Owner, _ = res[1].(string)
		}
		if len(res) > 2 {
			if ms, ok := res[2].(int64); ok && ms > 0 {
				c.LeaseExpiresAt = time.Now().UTC().Add(time.Duration(ms) * time.Millisecond)
			}
		}
		return c, nil
	}
	return Claim{}, domain.Ef(domain.KindCacheUnavailable, "unexpected claim outcome %v", res[0])
}

func (r *Redis) Release(ctx context.Context, fingerprint, owner string) error {
	res, err := releaseScript.Run(ctx, r.client, []string{inflightPrefix + fingerprint}, owner).Int()
	if err != nil {
		return domain.Wrap(domain.KindCacheUnavailable, "release failed", err)
	}
	if res < 0 {
		return domain.Ef(domain.KindNotOwner, "in-flight slot for %s is held elsewhere", fingerprint)
	}
	return nil
}

func (r *Redis) PublishReady(ctx context.Context, fingerprint, resultID string, ttl time.Duration) error {
	keys := []string{readyPrefix + fingerprint, inflightPrefix + fingerprint}
	if err := publishScript.Run(ctx, r.client, keys, resultID, ttl.Milliseconds()).Err(); err != nil {
		return domain.Wrap(domain.KindCacheUnavailable, "publish failed", err)
	}
	return nil
}

func (r *Redis) LookupReady(ctx context.Context, fingerprint string) (string, bool, error) {
	val, err := r.client.Get(ctx, readyPrefix+fingerprint).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.Wrap(domain.KindCacheUnavailable, fmt.Sprintf("lookup %s failed", fingerprint), err)
	}
	return val, true, nil
}
