package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
)

// AvailabilityCache keeps free-slot lists per provider and day for a short
// TTL. Every failure degrades to a miss; reads fall through to the store.
//
// Each entry has a generation counter. Invalidate bumps it, and Set only
// writes when the generation still matches the one read before the store
// query, so a listing read before a reservation is never cached after it.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// generationTTL outlives any entry and any in-flight read.
const generationTTL = 24 * time.Hour

func NewAvailabilityCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl, log: log}
}

func availabilityKey(providerID string, date appointment.Date) string {
	return fmt.Sprintf("availability:%s:%s", providerID, date)
}

func generationKey(providerID string, date appointment.Date) string {
	return fmt.Sprintf("availability:gen:%s:%s", providerID, date)
}

var setIfGenerationScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[1])
if gen == false then
  gen = "0"
end
if gen == ARGV[1] then
  redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
  return 1
end
return 0
`)

func (c *AvailabilityCache) Get(ctx context.Context, providerID string, date appointment.Date) ([]appointment.Slot, bool) {
	raw, err := c.client.Get(ctx, availabilityKey(providerID, date)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("availability cache read failed", zap.String("provider_id", providerID), zap.Error(err))
		}
		return nil, false
	}

	var slots []appointment.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		c.log.Warn("availability cache entry corrupt", zap.String("provider_id", providerID), zap.Error(err))
		return nil, false
	}
	return slots, true
}

// Version returns the current generation. On error it returns a token that
// never matches, which turns the following Set into a no-op.
func (c *AvailabilityCache) Version(ctx context.Context, providerID string, date appointment.Date) string {
	gen, err := c.client.Get(ctx, generationKey(providerID, date)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "0"
	case err != nil:
		c.log.Warn("availability cache generation read failed", zap.String("provider_id", providerID), zap.Error(err))
		return "unavailable"
	}
	return gen
}

func (c *AvailabilityCache) Set(ctx context.Context, providerID string, date appointment.Date, version string, slots []appointment.Slot) {
	if c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	keys := []string{generationKey(providerID, date), availabilityKey(providerID, date)}
	if err := setIfGenerationScript.Run(ctx, c.client, keys, version, raw, c.ttl.Milliseconds()).Err(); err != nil {
		c.log.Warn("availability cache write failed", zap.String("provider_id", providerID), zap.Error(err))
	}
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, providerID string, date appointment.Date) {
	gen := generationKey(providerID, date)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, gen)
		pipe.Expire(ctx, gen, generationTTL)
		pipe.Del(ctx, availabilityKey(providerID, date))
		return nil
	})
	if err != nil {
		c.log.Warn("availability cache invalidate failed",
			zap.String("provider_id", providerID),
			zap.String("date", date.String()),
			zap.Error(err),
		)
	}
}
