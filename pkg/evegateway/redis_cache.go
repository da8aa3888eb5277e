package evegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go-watchtower/pkg/database"

	"github.com/redis/go-redis/v9"
)

// RedisCacheManager implements CacheManager using Redis for persistence
type RedisCacheManager struct {
	redis *database.Redis
	ctx   context.Context
}

// NewRedisCacheManager creates a new Redis-based cache manager
func NewRedisCacheManager(redis *database.Redis) *RedisCacheManager {
	return &RedisCacheManager{
		redis: redis,
		ctx:   context.Background(),
	}
}

func (r *RedisCacheManager) cacheKey(key string) string {
	return fmt.Sprintf("esi:cache:%s", key)
}

// Get retrieves data from Redis cache
func (r *RedisCacheManager) Get(key string) ([]byte, bool, error) {
	entryJSON, err := r.redis.Get(r.ctx, r.cacheKey(key))
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // Cache miss
		}
		return nil, false, err
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	if entry.Expires.Before(time.Now()) {
		r.redis.Delete(r.ctx, r.cacheKey(key))
		return nil, false, nil
	}

	return entry.Data, true, nil
}

// GetForNotModified retrieves data from Redis cache even if expired (for 304 responses)
func (r *RedisCacheManager) GetForNotModified(key string) ([]byte, bool, error) {
	entryJSON, err := r.redis.Get(r.ctx, r.cacheKey(key))
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	return entry.Data, true, nil
}

// Set stores data in Redis cache
func (r *RedisCacheManager) Set(key string, data []byte, headers http.Header) error {
	entry := CacheEntry{
		Data:         data,
		ETag:         headers.Get("ETag"),
		LastModified: headers.Get("Last-Modified"),
		Expires:      expiryFromHeaders(headers),
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	// Keep expired entries around for a while so 304 responses can be served
	ttl := time.Until(entry.Expires) + 24*time.Hour
	return r.redis.Set(r.ctx, r.cacheKey(key), entryJSON, ttl)
}

// RefreshExpiry updates the expiry time of a cached entry (for 304 responses)
func (r *RedisCacheManager) RefreshExpiry(key string, headers http.Header) error {
	entryJSON, err := r.redis.Get(r.ctx, r.cacheKey(key))
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
		return fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	entry.Expires = expiryFromHeaders(headers)

	updated, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	ttl := time.Until(entry.Expires) + 24*time.Hour
	return r.redis.Set(r.ctx, r.cacheKey(key), updated, ttl)
}

// SetConditionalHeaders sets conditional headers if cached data exists
func (r *RedisCacheManager) SetConditionalHeaders(req *http.Request, key string) error {
	entryJSON, err := r.redis.Get(r.ctx, r.cacheKey(key))
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
		return fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	}
	if entry.LastModified != "" {
		req.Header.Set("If-Modified-Since", entry.LastModified)
	}

	return nil
}
