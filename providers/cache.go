package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/chenyanchen/apporch"
)

// KeyStore is the part of *redis.Client the cache resource uses.
type KeyStore interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

type CacheOptions struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	// FlushPattern selects keys deleted before restart. {name} and
	// {environment} expand to the deployment's values. Empty flushes nothing.
	FlushPattern string `json:"flush_pattern,omitempty"`
	ScanCount    int64  `json:"scan_count,omitempty"`
}

// Cache drops stale Redis keys of an application before it restarts.
type Cache struct {
	opts  CacheOptions
	dial  func(opt *redis.Options) KeyStore
	store KeyStore
}

func newCache(opts CacheOptions, dial func(opt *redis.Options) KeyStore) (*Cache, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("%w: addr is empty", apporch.ErrInvalidArgument)
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = 100
	}
	return &Cache{opts: opts, dial: dial}, nil
}

func (c *Cache) Options() CacheOptions { return c.opts }

// Pattern returns the key pattern flushed for app.
func (c *Cache) Pattern(app apporch.Application) string {
	return strings.NewReplacer(
		"{name}", app.Name(),
		"{environment}", app.EnvironmentName(),
	).Replace(c.opts.FlushPattern)
}

func (c *Cache) RunPhase(ctx context.Context, phase apporch.Phase, app apporch.Application) error {
	if phase != apporch.PhasePreRestart || c.opts.FlushPattern == "" {
		return nil
	}
	if c.store == nil {
		c.store = c.dial(&redis.Options{Addr: c.opts.Addr, Password: c.opts.Password, DB: c.opts.DB})
	}

	pattern := c.Pattern(app)
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := c.store.Scan(ctx, cursor, pattern, c.opts.ScanCount).Result()
		if err != nil {
			return fmt.Errorf("scan %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.store.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("delete %d keys: %w", len(keys), err)
			}
			deleted += n
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	glog.V(3).Infof("deployment %s: flushed %d keys matching %q", app.Name(), deleted, pattern)
	return nil
}

// Close releases the Redis client. The next pre-restart reconnects.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}
