package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/attendance-check/internal/repository"
	"github.com/example/attendance-check/internal/retry"
)

// Cache abstracts the Redis operations used by the use case to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// ErrCacheMiss is what Cache.Get returns for an absent key.
var ErrCacheMiss = redis.Nil

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// Del removes a key; deleting an absent key is not an error.
func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// cachedAttendance is the per-user record stored under cacheKey. The
// eligibility verdict is not stored; it is recomputed against the current
// policy on every read.
type cachedAttendance struct {
	RequestID   string    `json:"request_id"`
	UserID      string    `json:"user_id"`
	Percentage  float64   `json:"percentage"`
	Numerator   int64     `json:"numerator"`
	Denominator int64     `json:"denominator"`
	VerifiedAt  time.Time `json:"verified_at"`
}

func cacheKey(userID string) string {
	return fmt.Sprintf("attendance:%s", userID)
}

// storeCurrent replaces the user's verified attendance. The entry expires
// after the policy TTL.
func (uc *AttendanceUseCase) storeCurrent(ctx context.Context, log *repository.AttendanceLog) error {
	serialized, err := json.Marshal(cachedAttendance{
		RequestID:   log.RequestID,
		UserID:      log.UserID,
		Percentage:  log.Percentage,
		Numerator:   log.Numerator,
		Denominator: log.Denominator,
		VerifiedAt:  log.CreatedAt,
	})
	if err != nil {
		return err
	}
	return retry.Do(ctx, uc.logger, uc.retry, "cache.set.attendance", log.RequestID, func() error {
		return uc.cache.Set(ctx, cacheKey(log.UserID), string(serialized), uc.policy.TTL)
	})
}

// loadCurrent reads the user's verified attendance. A missing entry comes
// back as ErrCacheMiss.
func (uc *AttendanceUseCase) loadCurrent(ctx context.Context, userID string) (*Verification, error) {
	policy := uc.retry
	policy.Expected = func(err error) bool { return errors.Is(err, ErrCacheMiss) }

	var raw string
	err := retry.Do(ctx, uc.logger, policy, "cache.get.attendance", "", func() error {
		value, err := uc.cache.Get(ctx, cacheKey(userID))
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		return nil, err
	}

	var payload cachedAttendance
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode cached attendance: %w", err)
	}
	return &Verification{
		RequestID:     payload.RequestID,
		UserID:        payload.UserID,
		Percentage:    payload.Percentage,
		Numerator:     payload.Numerator,
		Denominator:   payload.Denominator,
		MinAttendance: uc.policy.MinAttendance,
		Eligible:      uc.policy.Meets(payload.Percentage),
		VerifiedAt:    payload.VerifiedAt,
	}, nil
}
