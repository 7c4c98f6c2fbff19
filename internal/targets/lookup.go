// Package targets provides a Redis-backed cache in front of the
// target-station set, the same shape as the teacher's threshold cache in
// lib/cyclone/cyclone.go (a *redis.Client field queried by Cyclone.Lookup).
package targets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	targetSetKey = "bikecep:targets"
	cacheTTL     = 5 * time.Minute
)

// Cache fronts the configured target-station set with Redis, so a fleet of
// pipelines sharing one Redis instance can pick up a target-set change
// without each restarting, mirroring the teacher's Cyclone.Lookup threshold
// cache.
type Cache struct {
	client *redis.Client
}

// NewCache connects to addr (host:port) using the given DB index and
// password ("" for none).
func NewCache(addr, password string, db int) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Store replaces the cached target-station set.
func (c *Cache) Store(ctx context.Context, targets map[int]struct{}) error {
	members := make([]interface{}, 0, len(targets))
	for t := range targets {
		members = append(members, strconv.Itoa(t))
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, targetSetKey)
	if len(members) > 0 {
		pipe.SAdd(ctx, targetSetKey, members...)
	}
	pipe.Expire(ctx, targetSetKey, cacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("targets: storing target set: %w", err)
	}
	return nil
}

// Load fetches the cached target-station set. A cache miss (key absent or
// expired) returns ok=false so the caller can fall back to its own
// configured default (spec.md §7's "advisory subsystems degrade silently").
func (c *Cache) Load(ctx context.Context) (targets map[int]struct{}, ok bool, err error) {
	members, err := c.client.SMembers(ctx, targetSetKey).Result()
	if err != nil && err != redis.Nil {
		return nil, false, fmt.Errorf("targets: loading target set: %w", err)
	}
	if len(members) == 0 {
		return nil, false, nil
	}

	out := make(map[int]struct{}, len(members))
	for _, m := range members {
		v, convErr := strconv.Atoi(strings.TrimSpace(m))
		if convErr != nil {
			continue
		}
		out[v] = struct{}{}
	}
	return out, true, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
