package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"transaction-api/internal/models"
)

// ErrCacheMiss reports that a key is absent. Callers use errors.Is to tell
// misses from Redis failures.
var ErrCacheMiss = errors.New("cache: key not found")

// CacheService is the JSON cache over Redis shared by the account client,
// the limits evaluator, rate limiting, and health checks.
type CacheService interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Increment bumps a counter and refreshes its TTL, for fixed-window
	// rate limiting.
	Increment(ctx context.Context, key string, expiration time.Duration) (int64, error)

	Ping(ctx context.Context) error
}

type redisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewCacheService wraps the shared Redis client with JSON marshalling and
// key prefixing.
func NewCacheService(client *redis.Client, keyPrefix string) CacheService {
	return &redisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *redisCache) buildKey(key string) string {
	if r.keyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.keyPrefix, key)
	}
	return key
}

func (r *redisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.Set(ctx, r.buildKey(key), data, expiration).Err()
}

func (r *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, r.buildKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get value: %w", err)
	}
	return json.Unmarshal([]byte(data), dest)
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.buildKey(key)).Err()
}

func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	return result > 0, err
}

func (r *redisCache) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()

	incrCmd := pipe.IncrBy(ctx, r.buildKey(key), 1)
	pipe.Expire(ctx, r.buildKey(key), expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return incrCmd.Val(), nil
}

func (r *redisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// AccountCache holds account snapshots from the account service. Entries
// live no longer than the configured TTL and are dropped whenever a
// balance operation succeeds against the account.
type AccountCache struct {
	cache CacheService
	ttl   time.Duration
}

func NewAccountCache(cache CacheService, ttl time.Duration) *AccountCache {
	return &AccountCache{cache: cache, ttl: ttl}
}

func accountKey(accountID string) string {
	return fmt.Sprintf("account:%s", accountID)
}

func (c *AccountCache) Get(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	var snapshot models.AccountSnapshot
	if err := c.cache.Get(ctx, accountKey(accountID), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *AccountCache) Put(ctx context.Context, snapshot *models.AccountSnapshot) error {
	return c.cache.Set(ctx, accountKey(snapshot.AccountID), snapshot, c.ttl)
}

func (c *AccountCache) Invalidate(ctx context.Context, accountID string) error {
	return c.cache.Delete(ctx, accountKey(accountID))
}

// LimitCache holds configured limit rows keyed by (account type,
// transaction type). Admin writes invalidate the touched pair.
type LimitCache struct {
	cache CacheService
	ttl   time.Duration
}

func NewLimitCache(cache CacheService, ttl time.Duration) *LimitCache {
	return &LimitCache{cache: cache, ttl: ttl}
}

func limitKey(accountType string, txType models.TransactionType) string {
	return fmt.Sprintf("limit:%s:%s", accountType, txType)
}

func (c *LimitCache) Get(ctx context.Context, accountType string, txType models.TransactionType) (*models.TransactionLimit, error) {
	var limit models.TransactionLimit
	if err := c.cache.Get(ctx, limitKey(accountType, txType), &limit); err != nil {
		return nil, err
	}
	return &limit, nil
}

func (c *LimitCache) Put(ctx context.Context, limit *models.TransactionLimit) error {
	return c.cache.Set(ctx, limitKey(limit.AccountType, limit.TransactionType), limit, c.ttl)
}

func (c *LimitCache) Invalidate(ctx context.Context, accountType string, txType models.TransactionType) error {
	return c.cache.Delete(ctx, limitKey(accountType, txType))
}
