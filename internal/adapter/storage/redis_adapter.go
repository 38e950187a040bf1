package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const (
	bookHoldKeyPrefix   = "hold:book:"
	patronSlotKeyPrefix = "slots:patron:"
)

// takeSlotScript claims one open-loan slot for a patron, bounded by max.
var takeSlotScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])

local current = tonumber(redis.call('GET', key) or '0')
if current >= max then
	return 0
end

redis.call('INCR', key)
return 1
`)

// releaseSlotScript frees one slot without letting the counter go negative.
var releaseSlotScript = redis.NewScript(`
local key = KEYS[1]

local current = tonumber(redis.call('GET', key) or '0')
if current > 0 then
	redis.call('DECR', key)
end

return current
`)

// RedisGuard implements port.CheckoutGuard. It is the fast path in front
// of the database constraints: a SETNX hold per book and a bounded counter
// per patron reject racing checkouts before they reach storage. Storage
// remains the source of truth, so guard drift after a Redis restart only
// costs a round trip, never an invariant.
type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (r *RedisGuard) AcquireBook(ctx context.Context, bookID string) (bool, error) {
	return r.client.SetNX(ctx, bookHoldKeyPrefix+bookID, 1, 0).Result()
}

func (r *RedisGuard) ReleaseBook(ctx context.Context, bookID string) error {
	return r.client.Del(ctx, bookHoldKeyPrefix+bookID).Err()
}

func (r *RedisGuard) TakePatronSlot(ctx context.Context, patronID string, max int) (bool, error) {
	result, err := takeSlotScript.Run(ctx, r.client, []string{patronSlotKeyPrefix + patronID}, max).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

func (r *RedisGuard) ReleasePatronSlot(ctx context.Context, patronID string) error {
	return releaseSlotScript.Run(ctx, r.client, []string{patronSlotKeyPrefix + patronID}).Err()
}
