package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-display/internal/models"
)

const (
	keyPrefix          = "forecast:"
	defaultServer      = "localhost:11211"
	fallbackExpiration = int32(300)
	// memcached reads expirations beyond 30 days as unix timestamps.
	maxRelativeExpiration = int32(30 * 24 * 60 * 60)
)

// MemcachedCache stores forecast bundles in memcached so several display processes on one host
// share upstream results. Bundles are stored as JSON under "forecast:<lat>,<lon>".
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache connects lazily to the comma-separated addrs (defaulting to localhost).
// Zero timeout or maxIdleConns keep the gomemcache defaults.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedCache {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{defaultServer}
	}
	mc := memcache.New(servers...)
	if timeout > 0 {
		mc.Timeout = timeout
	}
	if maxIdleConns > 0 {
		mc.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: mc}
}

func parseAddrs(s string) []string {
	var servers []string
	for _, part := range strings.Split(s, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			servers = append(servers, addr)
		}
	}
	return servers
}

func (c *MemcachedCache) key(coords string) string {
	return keyPrefix + coords
}

// Get reports a miss as (zero, false, nil). Transport and decode failures are returned so the
// service can log them and fall through to the gateway.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.ForecastBundle, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ForecastBundle{}, false, err
	}
	item, err := c.client.Get(c.key(key))
	switch {
	case errors.Is(err, memcache.ErrCacheMiss):
		return models.ForecastBundle{}, false, nil
	case err != nil:
		return models.ForecastBundle{}, false, fmt.Errorf("memcached get %s: %w", key, err)
	}
	var bundle models.ForecastBundle
	if err := json.Unmarshal(item.Value, &bundle); err != nil {
		return models.ForecastBundle{}, false, fmt.Errorf("decode cached forecast %s: %w", key, err)
	}
	return bundle, true, nil
}

// Set stores bundle for ttl, clamped by expirationSeconds.
func (c *MemcachedCache) Set(ctx context.Context, key string, bundle models.ForecastBundle, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode forecast %s: %w", key, err)
	}
	item := &memcache.Item{Key: c.key(key), Value: raw, Expiration: expirationSeconds(ttl)}
	if err := c.client.Set(item); err != nil {
		return fmt.Errorf("memcached set %s: %w", key, err)
	}
	return nil
}

func expirationSeconds(ttl time.Duration) int32 {
	sec := int32(ttl.Seconds())
	if sec <= 0 || sec > maxRelativeExpiration {
		return fallbackExpiration
	}
	return sec
}

// Ping backs the cache check in /health.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
