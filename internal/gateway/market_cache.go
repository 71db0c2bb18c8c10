package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptobroker/internal/metrics"
)

// DefaultMarketCacheTTL bounds how long cached exchange metadata is trusted
const DefaultMarketCacheTTL = 6 * time.Hour

// CachedMarkets decorates a Gateway so LoadMarkets is served from Redis when
// a fresh copy exists. All other calls pass straight through.
type CachedMarkets struct {
	Gateway
	client *redis.Client
	ttl    time.Duration
	key    string
}

type marketsCacheEntry struct {
	Markets  map[string]Market `json:"markets"`
	CachedAt time.Time         `json:"cached_at"`
}

// NewCachedMarkets wraps next with a Redis market cache.
// If client is nil, next is returned unchanged (optional Redis support).
func NewCachedMarkets(next Gateway, client *redis.Client, ttl time.Duration) Gateway {
	if client == nil {
		return next
	}
	if ttl == 0 {
		ttl = DefaultMarketCacheTTL
	}
	return &CachedMarkets{
		Gateway: next,
		client:  client,
		ttl:     ttl,
		key:     fmt.Sprintf("cryptobroker:markets:%s:%s", exchangeName(next), next.MarketType()),
	}
}

// ExchangeName reports the wrapped gateway's exchange name
func (c *CachedMarkets) ExchangeName() string {
	return exchangeName(c.Gateway)
}

// LoadMarkets implements Gateway
func (c *CachedMarkets) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	if markets, ok := c.get(ctx); ok {
		metrics.MarketCacheLookups.WithLabelValues("hit").Inc()
		return markets, nil
	}
	metrics.MarketCacheLookups.WithLabelValues("miss").Inc()

	markets, err := c.Gateway.LoadMarkets(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.set(ctx, markets); err != nil {
		// Cache failure should be graceful
		log.Warn().Err(err).Str("key", c.key).Msg("Failed to cache markets")
	}
	return markets, nil
}

func (c *CachedMarkets) get(ctx context.Context) (map[string]Market, bool) {
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Str("key", c.key).Msg("Redis get error - treating as cache miss")
		}
		return nil, false
	}

	var entry marketsCacheEntry
	if err := json.Unmarshal(cached, &entry); err != nil {
		log.Warn().Err(err).Str("key", c.key).Msg("Failed to unmarshal cached markets")
		return nil, false
	}

	log.Debug().
		Str("key", c.key).
		Int("markets", len(entry.Markets)).
		Time("cached_at", entry.CachedAt).
		Msg("Cache hit for markets")
	return entry.Markets, true
}

func (c *CachedMarkets) set(ctx context.Context, markets map[string]Market) error {
	data, err := json.Marshal(marketsCacheEntry{Markets: markets, CachedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal markets: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	return c.client.Set(cacheCtx, c.key, data, c.ttl).Err()
}

// Invalidate drops the cached markets
func (c *CachedMarkets) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
