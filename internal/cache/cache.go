/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based cache for hot playback state.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultPositionTTL   = 24 * time.Hour
	DefaultNowPlayingTTL = 1 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyPosition   = "tandem:cache:position:"    // + profile_id
	KeyNowPlaying = "tandem:cache:now_playing:" // + profile_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PositionTTL   time.Duration
	NowPlayingTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		PositionTTL:    DefaultPositionTTL,
		NowPlayingTTL:  DefaultNowPlayingTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache rather than an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     4,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return Disabled(logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *redis.Client, cfg Config, logger zerolog.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}
}

// Disabled returns a cache that misses on every read and drops every write.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// CachedPosition is the last session-relative position written for a profile.
type CachedPosition struct {
	TrackID   string    `json:"track_id"`
	Position  float64   `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetPosition retrieves the cached position for a profile.
func (c *Cache) GetPosition(ctx context.Context, profileID string) (*CachedPosition, bool) {
	var pos CachedPosition
	found, err := c.get(ctx, KeyPosition+profileID, &pos)
	if err != nil || !found {
		return nil, false
	}
	return &pos, true
}

// SetPosition caches the position for a profile.
func (c *Cache) SetPosition(ctx context.Context, profileID string, pos CachedPosition) error {
	return c.set(ctx, KeyPosition+profileID, pos, c.config.PositionTTL)
}

// InvalidatePosition removes the cached position for a profile.
func (c *Cache) InvalidatePosition(ctx context.Context, profileID string) error {
	c.logger.Debug().Str("profile_id", profileID).Msg("invalidating position cache")
	return c.delete(ctx, KeyPosition+profileID)
}

// GetNowPlaying retrieves a cached now-playing document into dest.
func (c *Cache) GetNowPlaying(ctx context.Context, profileID string, dest any) bool {
	found, err := c.get(ctx, KeyNowPlaying+profileID, dest)
	return err == nil && found
}

// SetNowPlaying caches a now-playing document.
func (c *Cache) SetNowPlaying(ctx context.Context, profileID string, value any) error {
	return c.set(ctx, KeyNowPlaying+profileID, value, c.config.NowPlayingTTL)
}
