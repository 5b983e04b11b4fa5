package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache key pattern:
// - capsules:list:{user_id} - short absolute TTL, the /api/files response

// CacheConfig contains configuration for the response cache
type CacheConfig struct {
	ListingTTL time.Duration // TTL for per-user listing responses (default 5s)
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ListingTTL: 5 * time.Second,
	}
}

// ResponseCache holds short-lived per-user listing responses. Every
// state-changing registry operation clears it wholesale; there is no
// fine-grained invalidation.
type ResponseCache struct {
	client *goredis.Client
	config CacheConfig
}

// NewResponseCache creates a new response cache
func NewResponseCache(client *goredis.Client, config CacheConfig) *ResponseCache {
	return &ResponseCache{
		client: client,
		config: config,
	}
}

func listingKey(userID string) string {
	return fmt.Sprintf("capsules:list:%s", userID)
}

// GetListing retrieves a cached listing into dest. The second return value is
// false on a cache miss.
func (c *ResponseCache) GetListing(ctx context.Context, userID string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, listingKey(userID)).Result()
	if err == goredis.Nil {
		return false, nil // Cache miss
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetListing stores a listing with the configured TTL.
func (c *ResponseCache) SetListing(ctx context.Context, userID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, listingKey(userID), data, c.config.ListingTTL).Err()
}

// Clear drops every cached listing. This requires scanning, but the keyspace
// is bounded by the number of active users inside one TTL.
func (c *ResponseCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "capsules:list:*", 100).Iterator()

	var keysToDelete []string
	for iter.Next(ctx) {
		keysToDelete = append(keysToDelete, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keysToDelete) > 0 {
		return c.client.Del(ctx, keysToDelete...).Err()
	}
	return nil
}
