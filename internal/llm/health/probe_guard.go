package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProbeGuard serializes half-open probes for one vendor across processes.
type ProbeGuard interface {
	// Acquire returns true if the caller may probe vendorID.
	Acquire(ctx context.Context, vendorID string, ttl time.Duration) bool
	// Release gives up a previously acquired probe.
	Release(ctx context.Context, vendorID string)
}

// RedisProbeGuard coordinates probes through a SETNX key with a TTL. Redis
// errors fail open so a broken cache never blocks recovery.
type RedisProbeGuard struct {
	client redis.Cmdable
	logger *slog.Logger
}

// NewRedisProbeGuard creates a guard backed by client.
func NewRedisProbeGuard(client redis.Cmdable) *RedisProbeGuard {
	return &RedisProbeGuard{
		client: client,
		logger: slog.Default().With("component", "probe_guard"),
	}
}

func probeKey(vendorID string) string {
	return fmt.Sprintf("cb:probe:%s", vendorID)
}

// Acquire attempts to take exclusive probe rights for vendorID.
func (g *RedisProbeGuard) Acquire(ctx context.Context, vendorID string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := g.client.SetNX(ctx, probeKey(vendorID), "1", ttl).Result()
	if err != nil {
		g.logger.Warn("failed to acquire probe guard", "error", err, "vendor", vendorID)
		return true
	}
	return ok
}

// Release drops the probe key.
func (g *RedisProbeGuard) Release(ctx context.Context, vendorID string) {
	if err := g.client.Del(ctx, probeKey(vendorID)).Err(); err != nil {
		g.logger.Warn("failed to release probe guard", "error", err, "vendor", vendorID)
	}
}
