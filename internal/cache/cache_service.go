// Package cache keeps the latest engine snapshot per instrument in Redis so
// API readers and restarted processes can see current zones without replaying.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"smc-engine/config"
	"smc-engine/internal/engine"
	"smc-engine/internal/logging"
	"smc-engine/internal/market"
)

// CacheService provides Redis-based caching with graceful degradation.
// When Redis is unavailable, operations return ErrCacheUnavailable and the
// caller carries on without the cache.
type CacheService struct {
	client       *redis.Client
	config       config.RedisConfig
	logger       *logging.Logger
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	// Circuit breaker settings
	maxFailures   int
	checkInterval time.Duration
}

// Key layout
const (
	PrefixSnapshot = "smc:snapshot:%s"
	KeyInstruments = "smc:instruments"
)

// DefaultSnapshotTTL applies when the config leaves SnapshotTTL at zero.
const DefaultSnapshotTTL = 24 * time.Hour

// NewCacheService creates a new CacheService with the provided configuration.
// A failed initial ping returns the service in degraded mode, not an error.
func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, ErrCacheDisabled
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := newService(client, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.Warn("Initial Redis connection failed", "address", cfg.Address, "error", err)
		return cs, nil
	}

	cs.recordSuccess()
	cs.logger.Info("Redis connected", "address", cfg.Address)
	return cs, nil
}

// NewWithClient wraps an existing client and assumes it is reachable.
func NewWithClient(client *redis.Client, cfg config.RedisConfig) *CacheService {
	cs := newService(client, cfg)
	cs.healthy = true
	cs.lastCheck = time.Now()
	return cs
}

func newService(client *redis.Client, cfg config.RedisConfig) *CacheService {
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = DefaultSnapshotTTL
	}
	return &CacheService{
		client:        client,
		config:        cfg,
		logger:        logging.Default().WithComponent("cache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}
}

// IsHealthy returns whether Redis is currently available.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

// recordFailure tracks a Redis operation failure for circuit breaker.
func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn("Circuit breaker OPEN: Redis marked unhealthy", "failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

// recordSuccess resets the failure counter on successful operation.
func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy && cs.failureCount > 0 {
		cs.logger.Info("Circuit breaker CLOSED: Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth performs a background ping if the breaker has been open long enough.
func (cs *CacheService) checkHealth() {
	cs.mu.Lock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	if shouldCheck {
		cs.lastCheck = time.Now()
	}
	cs.mu.Unlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

func (cs *CacheService) available() error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrCacheUnavailable
	}
	return nil
}

// Get retrieves a value from cache. A missing key returns ErrCacheMiss.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	if err := cs.available(); err != nil {
		return "", err
	}

	result, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		cs.recordFailure()
		logging.CacheContext("get", key).Warn("Redis get failed", "error", err)
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	cs.recordSuccess()
	return result, nil
}

// Set stores a value in cache with TTL. Non-string values are JSON encoded.
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := cs.available(); err != nil {
		return err
	}

	var data string
	switch v := value.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		jsonData, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		data = string(jsonData)
	}

	if err := cs.client.Set(ctx, key, data, ttl).Err(); err != nil {
		cs.recordFailure()
		logging.CacheContext("set", key).Warn("Redis set failed", "error", err)
		return fmt.Errorf("redis set failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// StoreSnapshot saves snap as the latest state of its instrument and indexes
// the instrument.
func (cs *CacheService) StoreSnapshot(ctx context.Context, snap *engine.Snapshot) error {
	if snap == nil {
		return nil
	}
	if err := cs.Set(ctx, SnapshotKey(snap.Instrument), snap, cs.config.SnapshotTTL); err != nil {
		return err
	}

	if err := cs.client.SAdd(ctx, KeyInstruments, snap.Instrument.Key()).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis sadd failed: %w", err)
	}
	return nil
}

// LoadSnapshot returns the latest stored snapshot for inst.
func (cs *CacheService) LoadSnapshot(ctx context.Context, inst market.Instrument) (*engine.Snapshot, error) {
	data, err := cs.Get(ctx, SnapshotKey(inst))
	if err != nil {
		return nil, err
	}

	var snap engine.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached snapshot: %w", err)
	}
	return &snap, nil
}

// Instruments lists every instrument with a stored snapshot, sorted by key.
func (cs *CacheService) Instruments(ctx context.Context) ([]market.Instrument, error) {
	if err := cs.available(); err != nil {
		return nil, err
	}

	members, err := cs.client.SMembers(ctx, KeyInstruments).Result()
	if err != nil {
		cs.recordFailure()
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	cs.recordSuccess()

	sort.Strings(members)
	out := make([]market.Instrument, 0, len(members))
	for _, m := range members {
		sym, tf, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		out = append(out, market.Instrument{Symbol: sym, Timeframe: tf})
	}
	return out, nil
}

// Close closes the Redis connection.
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Ping checks Redis connectivity.
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// SnapshotKey generates the cache key for an instrument's latest snapshot.
func SnapshotKey(inst market.Instrument) string {
	return fmt.Sprintf(PrefixSnapshot, inst.Key())
}
