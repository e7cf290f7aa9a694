/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/delivery"
	"github.com/friendsincode/calrem/internal/telemetry"
)

const redisSink = "redis"

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Timeouts
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisDeliverer publishes reminders on a Redis pub/sub channel named like
// the NATS subject.
type RedisDeliverer struct {
	client *redis.Client
	logger zerolog.Logger
	nodeID string
}

// NewRedisDeliverer connects to Redis. Unlike the cache, an unreachable
// server is an error: there is nothing to fall back to.
func NewRedisDeliverer(cfg RedisConfig, logger zerolog.Logger) (*RedisDeliverer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("Redis delivery initialized")

	return &RedisDeliverer{
		client: client,
		logger: logger.With().Str("component", "redis_delivery").Logger(),
		nodeID: NodeID(),
	}, nil
}

// Deliver publishes messages in order.
func (d *RedisDeliverer) Deliver(ctx context.Context, room string, messages []string) delivery.Result {
	channel := Subject(room)
	var (
		sent, failed int
		firstErr     error
	)
	for i, body := range messages {
		data, err := json.Marshal(newReminder(room, body, i, d.nodeID))
		if err == nil {
			err = d.client.Publish(ctx, channel, data).Err()
		}
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("publish %s: %w", channel, err)
			}
			telemetry.DeliveryFailuresTotal.WithLabelValues(redisSink, "publish").Inc()
			d.logger.Warn().Err(err).Int("index", i).Str("channel", channel).Msg("failed to publish reminder")
			continue
		}
		sent++
		telemetry.MessagesDeliveredTotal.WithLabelValues(redisSink).Inc()
	}
	return delivery.Tally(sent, failed, firstErr)
}

// Close closes the Redis client.
func (d *RedisDeliverer) Close() error {
	return d.client.Close()
}
