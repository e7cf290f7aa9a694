/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership provides a Redis lock that keeps replicas from running
// the notifier concurrently.
package leadership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/telemetry"
)

const (
	// Default lock key in Redis
	defaultLockKey = "calrem:lock:notifier"

	// Default lease; a crashed holder blocks others at most this long.
	defaultLeaseDuration = 2 * time.Minute
)

// ErrNotAcquired is returned when another instance holds the lock.
var ErrNotAcquired = errors.New("run lock held by another instance")

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// LockConfig configures the run lock.
type LockConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Key is the Redis key used for the lock
	Key string

	// LeaseDuration is how long an acquired lock is valid
	LeaseDuration time.Duration

	// InstanceID uniquely identifies this instance
	InstanceID string
}

// DefaultLockConfig returns default lock configuration.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		RedisAddr:     "localhost:6379",
		Key:           defaultLockKey,
		LeaseDuration: defaultLeaseDuration,
		InstanceID:    uuid.New().String(),
	}
}

// RunLock is a single-holder lease in Redis.
type RunLock struct {
	client *redis.Client
	logger zerolog.Logger
	config LockConfig
}

// NewRunLock connects to Redis.
func NewRunLock(cfg LockConfig, logger zerolog.Logger) (*RunLock, error) {
	if cfg.Key == "" {
		cfg.Key = defaultLockKey
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = defaultLeaseDuration
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().
		Str("redis_addr", cfg.RedisAddr).
		Str("instance_id", cfg.InstanceID).
		Msg("connected to Redis for run lock")

	return &RunLock{
		client: client,
		logger: logger.With().Str("component", "run_lock").Logger(),
		config: cfg,
	}, nil
}

// InstanceID returns the value written into the lock key.
func (l *RunLock) InstanceID() string {
	return l.config.InstanceID
}

// Acquire takes the lock or returns ErrNotAcquired. The returned function
// releases it and is safe to call after the lease expired.
func (l *RunLock) Acquire(ctx context.Context) (func(), error) {
	ok, err := l.client.SetNX(ctx, l.config.Key, l.config.InstanceID, l.config.LeaseDuration).Result()
	if err != nil {
		return nil, fmt.Errorf("set lock: %w", err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, l.config.Key).Result()
		l.logger.Debug().Str("holder", holder).Msg("run lock busy")
		return nil, ErrNotAcquired
	}

	telemetry.RunLockHeld.WithLabelValues(l.config.InstanceID).Set(1)
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.release(releaseCtx); err != nil {
			l.logger.Error().Err(err).Msg("failed to release run lock")
		}
		telemetry.RunLockHeld.WithLabelValues(l.config.InstanceID).Set(0)
	}, nil
}

func (l *RunLock) release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.config.Key}, l.config.InstanceID).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Holder returns the instance currently holding the lock, or "".
func (l *RunLock) Holder(ctx context.Context) (string, error) {
	id, err := l.client.Get(ctx, l.config.Key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lock holder: %w", err)
	}
	return id, nil
}

// Close closes the Redis connection.
func (l *RunLock) Close() error {
	return l.client.Close()
}
