package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaseRepository hands out short-lived job leases so each scheduled job
// tick runs on exactly one replica. Leases expire on their own; Release
// just returns the slot early.
type LeaseRepository interface {
	TryAcquire(ctx context.Context, job string, ttl time.Duration) (*JobLease, bool, error)
	Release(ctx context.Context, lease *JobLease) error
	Extend(ctx context.Context, lease *JobLease, ttl time.Duration) error
}

// JobLease is an acquired lease. Value fences the owner so a replica never
// releases or extends a lease it lost.
type JobLease struct {
	Key        string
	Value      string
	TTL        time.Duration
	AcquiredAt time.Time
}

type leaseRepository struct {
	client *redis.Client
}

func NewLeaseRepository(client *redis.Client) LeaseRepository {
	return &leaseRepository{
		client: client,
	}
}

const (
	leasePrefix = "lease:"

	releaseScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`

	extendScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("EXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

func (r *leaseRepository) TryAcquire(ctx context.Context, job string, ttl time.Duration) (*JobLease, bool, error) {
	leaseKey := leasePrefix + job
	leaseValue := uuid.NewString()

	acquired, err := r.client.SetNX(ctx, leaseKey, leaseValue, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}

	return &JobLease{
		Key:        leaseKey,
		Value:      leaseValue,
		TTL:        ttl,
		AcquiredAt: time.Now(),
	}, true, nil
}

func (r *leaseRepository) Release(ctx context.Context, lease *JobLease) error {
	result, err := r.client.Eval(ctx, releaseScript, []string{lease.Key}, lease.Value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	if result.(int64) == 0 {
		return fmt.Errorf("lease not held: %s", lease.Key)
	}
	return nil
}

func (r *leaseRepository) Extend(ctx context.Context, lease *JobLease, ttl time.Duration) error {
	result, err := r.client.Eval(ctx, extendScript, []string{lease.Key}, lease.Value, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	if result.(int64) == 0 {
		return fmt.Errorf("lease not held: %s", lease.Key)
	}

	lease.TTL = ttl
	return nil
}
