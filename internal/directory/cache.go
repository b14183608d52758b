package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dealroom/internal/domain"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Cached is a read-through Redis cache in front of another Source. Redis errors are
// logged and the lookup falls through to Next.
type Cached struct {
	Next   Source
	Client *redis.Client
	TTL    time.Duration
	Logger *slog.Logger
}

func NewCached(next Source, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{Next: next, Client: client, TTL: ttl, Logger: logger}
}

func cacheKey(kind, id string) string {
	return "dealroom:directory:" + kind + ":" + id
}

func (c *Cached) Campaign(ctx context.Context, id string) (domain.Campaign, error) {
	var out domain.Campaign
	if c.get(ctx, KindCampaign, id, &out) {
		return out, nil
	}
	out, err := c.Next.Campaign(ctx, id)
	if err != nil {
		return out, err
	}
	c.set(ctx, KindCampaign, id, out)
	return out, nil
}

func (c *Cached) Creator(ctx context.Context, id string) (domain.CreatorProfile, error) {
	var out domain.CreatorProfile
	if c.get(ctx, KindCreator, id, &out) {
		return out, nil
	}
	out, err := c.Next.Creator(ctx, id)
	if err != nil {
		return out, err
	}
	c.set(ctx, KindCreator, id, out)
	return out, nil
}

func (c *Cached) Invalidate(ctx context.Context, kind, id string) {
	if err := c.Client.Del(ctx, cacheKey(kind, id)).Err(); err != nil {
		c.Logger.Warn("directory cache invalidate failed", "module", "directory", "operation", "invalidate", "outcome", "error", "kind", kind, "id", id, "error", err)
	}
	c.Next.Invalidate(ctx, kind, id)
}

func (c *Cached) get(ctx context.Context, kind, id string, dst any) bool {
	raw, err := c.Client.Get(ctx, cacheKey(kind, id)).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.Logger.Warn("directory cache read failed", "module", "directory", "operation", "get", "outcome", "fallthrough", "kind", kind, "id", id, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.Logger.Warn("directory cache entry unreadable", "module", "directory", "operation", "get", "outcome", "fallthrough", "kind", kind, "id", id, "error", err)
		return false
	}
	return true
}

func (c *Cached) set(ctx context.Context, kind, id string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.Client.Set(ctx, cacheKey(kind, id), raw, c.TTL).Err(); err != nil {
		c.Logger.Warn("directory cache write failed", "module", "directory", "operation", "set", "outcome", "error", "kind", kind, "id", id, "error", err)
	}
}
