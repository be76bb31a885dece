package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard filters webhook redeliveries. Seen records id and reports
// whether it had been recorded before; the check and the record are one
// atomic step so concurrent deliveries of the same id collapse to a single
// handler run.
type ReplayGuard interface {
	Seen(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// MemoryReplayGuard remembers delivery ids in process. Enough for one
// replica; multi-replica deployments want the Redis guard so a redelivery
// hitting another pod is still filtered.
type MemoryReplayGuard struct {
	mu        sync.Mutex
	seen      map[string]time.Time // id -> expiry
	lastSweep time.Time
}

func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: make(map[string]time.Time), lastSweep: time.Now()}
}

func (g *MemoryReplayGuard) Seen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.lastSweep) > time.Minute {
		for k, exp := range g.seen {
			if exp.Before(now) {
				delete(g.seen, k)
			}
		}
		g.lastSweep = now
	}

	if exp, ok := g.seen[id]; ok && exp.After(now) {
		return true, nil
	}
	g.seen[id] = now.Add(ttl)
	return false, nil
}

const redisReplayPrefix = "shopify:webhook:seen:"

// RedisReplayGuard shares delivery ids across replicas through a SETNX key
// per delivery.
type RedisReplayGuard struct {
	client *redis.Client
	prefix string
}

func NewRedisReplayGuard(client *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, prefix: redisReplayPrefix}
}

func (g *RedisReplayGuard) Seen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	set, err := g.client.SetNX(ctx, g.prefix+id, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("webhook replay check: %w", err)
	}
	return !set, nil
}

var (
	_ ReplayGuard = (*MemoryReplayGuard)(nil)
	_ ReplayGuard = (*RedisReplayGuard)(nil)
)
