package hierarchy

import (
	"context"
	"log/slog"

	"github.com/mohammed-shakir/pcstream/internal/cache"
	"github.com/mohammed-shakir/pcstream/internal/core/observability"
)

// ResultCache is a best-effort wrapper: errors are logged and counted, never
// returned, and a nil Cache disables caching.
type ResultCache struct {
	Cache cache.Interface
	// Name labels cache metrics (disk, redis).
	Name   string
	Logger *slog.Logger
}

// Enabled reports whether results are kept at all.
func (c ResultCache) Enabled() bool { return c.Cache != nil }

func (c ResultCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.Cache == nil {
		return nil, false
	}
	b, ok, err := c.Cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.IncCacheError(c.Name)
		c.logger().Warn("result cache read failed", "key", key, "err", err)
		return nil, false
	case !ok:
		observability.IncCacheMiss(c.Name)
		return nil, false
	}
	observability.IncCacheHit(c.Name)
	return b, true
}

func (c ResultCache) Set(ctx context.Context, key string, b []byte) {
	if c.Cache == nil {
		return
	}
	if err := c.Cache.Set(ctx, key, b); err != nil {
		c.logger().Warn("result cache write failed", "key", key, "err", err)
	}
}

func (c ResultCache) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
