package cache

import "errors"

var (
	// ErrCacheUnavailable is returned when Redis is not healthy
	ErrCacheUnavailable = errors.New("cache unavailable - Redis is not healthy")

	// ErrCacheMiss is returned when no snapshot is stored for an instrument
	ErrCacheMiss = errors.New("snapshot not found in cache")

	// ErrCacheDisabled is returned by NewCacheService when Redis is switched off
	ErrCacheDisabled = errors.New("redis is not enabled in configuration")
)
