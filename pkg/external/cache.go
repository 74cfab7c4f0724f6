package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c-answer-server/internal/domain"
)

// CacheClient wraps Redis with caching for external API responses: registry
// search pages and postal centroids. Session state is never cached here; only
// data that is identical across sessions.
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new cache client
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.DefaultTTL
	if ttl == 0 {
		ttl = time.Hour
	}

	return &CacheClient{
		redis:      client,
		defaultTTL: ttl,
	}, nil
}

// cachedSearch represents a cached registry search page with metadata
type cachedSearch struct {
	Trials    []domain.TrialRecord `json:"trials"`
	CachedAt  time.Time            `json:"cached_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// cachedCentroid represents a cached postal centroid with metadata
type cachedCentroid struct {
	Centroid  Centroid  `json:"centroid"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetSearchResults retrieves a cached registry search page
func (c *CacheClient) GetSearchResults(ctx context.Context, condition string) ([]domain.TrialRecord, bool, error) {
	key := c.searchKey(condition)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get search cache: %w", err)
	}

	var cached cachedSearch
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Trials, true, nil
}

// SetSearchResults caches a registry search page
func (c *CacheClient) SetSearchResults(ctx context.Context, condition string, trials []domain.TrialRecord, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	cached := cachedSearch{
		Trials:    trials,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal search cache data: %w", err)
	}

	return c.redis.Set(ctx, c.searchKey(condition), jsonData, ttl).Err()
}

// GetCentroid retrieves a cached postal centroid
func (c *CacheClient) GetCentroid(ctx context.Context, postalCode string) (Centroid, bool, error) {
	key := c.centroidKey(postalCode)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return Centroid{}, false, nil
	}
	if err != nil {
		return Centroid{}, false, fmt.Errorf("failed to get centroid cache: %w", err)
	}

	var cached cachedCentroid
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		c.redis.Del(ctx, key)
		return Centroid{}, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return Centroid{}, false, nil
	}

	return cached.Centroid, true, nil
}

// SetCentroid caches a postal centroid. Centroids are effectively static, so
// they get a long TTL relative to search pages.
func (c *CacheClient) SetCentroid(ctx context.Context, postalCode string, centroid Centroid) error {
	ttl := 30 * 24 * time.Hour

	cached := cachedCentroid{
		Centroid:  centroid,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal centroid cache data: %w", err)
	}

	return c.redis.Set(ctx, c.centroidKey(postalCode), jsonData, ttl).Err()
}

// Ping checks if the Redis connection is alive
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

// searchKey creates a cache key for a registry search page
func (c *CacheClient) searchKey(condition string) string {
	hash := sha256.Sum256([]byte(condition))
	return fmt.Sprintf("registry:search:%x", hash[:8])
}

// centroidKey creates a cache key for a postal centroid
func (c *CacheClient) centroidKey(postalCode string) string {
	return fmt.Sprintf("postal:centroid:%s", postalCode)
}
