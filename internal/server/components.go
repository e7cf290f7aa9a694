/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/cache"
	"github.com/friendsincode/calrem/internal/config"
	"github.com/friendsincode/calrem/internal/delivery"
	"github.com/friendsincode/calrem/internal/eventbus"
	"github.com/friendsincode/calrem/internal/leadership"
	"github.com/friendsincode/calrem/internal/matrix"
	"github.com/friendsincode/calrem/internal/notifications"
	"github.com/friendsincode/calrem/internal/notify"
	"github.com/friendsincode/calrem/internal/scheduler"
	"github.com/friendsincode/calrem/internal/storage"
	"github.com/friendsincode/calrem/internal/webhooks"
)

// Components are the collaborators shared by the server and the one-shot
// commands.
type Components struct {
	Store     storage.ObjectStore
	Source    *storage.TextSource
	Cache     *cache.Cache
	Deliverer delivery.Deliverer
	Deriver   *notify.Deriver
	Notifier  *scheduler.Service

	closers []func() error
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

func (c *Components) deferClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// BuildStore opens the configured object store.
func BuildStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
	case config.StorageFS:
		logger.Info().Str("dir", cfg.StorageDir).Msg("using filesystem storage")
		return storage.NewFSStore(cfg.StorageDir), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// Build wires storage, cache, delivery and the notifier from cfg. A nil
// deliverer override uses the configured backend.
func Build(ctx context.Context, cfg *config.Config, deliverer delivery.Deliverer, logger zerolog.Logger) (*Components, error) {
	c := &Components{}
	fail := func(err error) (*Components, error) {
		_ = c.Close()
		return nil, err
	}

	store, err := BuildStore(ctx, cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	c.Store = store
	c.Source = storage.NewTextSource(store)

	if cfg.UsesRedis() {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = cfg.RedisAddr
		cacheCfg.RedisPassword = cfg.RedisPassword
		cacheCfg.RedisDB = cfg.RedisDB
		cacheCfg.ResponseTTL = cfg.ResponseCacheTTL
		rc, err := cache.New(cacheCfg, logger)
		if err != nil {
			return fail(fmt.Errorf("open cache: %w", err))
		}
		c.Cache = rc
		c.deferClose(rc.Close)
	}

	var watermarks scheduler.WatermarkStore
	switch cfg.WatermarkBackend {
	case config.WatermarkRedis:
		watermarks = c.Cache
	case config.WatermarkObject:
		watermarks = storage.NewObjectWatermarkStore(store, cfg.WatermarkPrefix)
	default:
		return fail(fmt.Errorf("unsupported watermark backend %q", cfg.WatermarkBackend))
	}

	if deliverer == nil {
		deliverer, err = buildDeliverer(cfg, c, logger)
		if err != nil {
			return fail(err)
		}
	}
	c.Deliverer = deliverer

	deriver, err := notify.NewDeriver(cfg.Zone)
	if err != nil {
		return fail(err)
	}
	c.Deriver = deriver

	schedCfg := scheduler.DefaultConfig()
	schedCfg.CalendarKey = cfg.CalendarKey
	schedCfg.TodoKey = cfg.TodoKey
	schedCfg.WatermarkKey = cfg.WatermarkKey
	schedCfg.Room = cfg.Room
	c.Notifier = scheduler.New(c.Source, watermarks, deliverer, deriver, schedCfg, logger)

	if cfg.RunLockEnabled {
		lockCfg := leadership.DefaultLockConfig()
		lockCfg.RedisAddr = cfg.RedisAddr
		lockCfg.RedisPassword = cfg.RedisPassword
		lockCfg.RedisDB = cfg.RedisDB
		lockCfg.LeaseDuration = cfg.RunLockTTL
		if cfg.InstanceID != "" {
			lockCfg.InstanceID = cfg.InstanceID
		}
		lock, err := leadership.NewRunLock(lockCfg, logger)
		if err != nil {
			return fail(fmt.Errorf("open run lock: %w", err))
		}
		c.deferClose(lock.Close)
		c.Notifier.SetLocker(lock)
	}

	if c.Cache != nil && cfg.ResponseCache {
		rc := c.Cache
		c.Notifier.OnCalendarChange(func(ctx context.Context) {
			if err := rc.InvalidateResponses(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to invalidate response cache")
			}
		})
	}

	return c, nil
}

func buildDeliverer(cfg *config.Config, c *Components, logger zerolog.Logger) (delivery.Deliverer, error) {
	switch cfg.Delivery {
	case config.DeliveryMatrix:
		return matrix.NewClient(matrix.Config{
			Server:   cfg.MatrixServer,
			User:     cfg.MatrixUser,
			Password: cfg.MatrixPassword,
		}, logger)
	case config.DeliveryNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Token = cfg.NATSToken
		d, err := eventbus.NewNATSDeliverer(natsCfg, logger)
		if err != nil {
			return nil, err
		}
		c.deferClose(d.Close)
		return d, nil
	case config.DeliveryRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		d, err := eventbus.NewRedisDeliverer(redisCfg, logger)
		if err != nil {
			return nil, err
		}
		c.deferClose(d.Close)
		return d, nil
	case config.DeliveryWebhook:
		return webhooks.NewDeliverer(webhooks.Config{
			URL:    cfg.WebhookURL,
			Secret: cfg.WebhookSecret,
		}, logger)
	case config.DeliveryEmail:
		return notifications.NewEmailDeliverer(notifications.Config{
			SMTPHost:     cfg.SMTPHost,
			SMTPPort:     cfg.SMTPPort,
			SMTPUsername: cfg.SMTPUsername,
			SMTPPassword: cfg.SMTPPassword,
			SMTPFrom:     cfg.SMTPFrom,
			SMTPFromName: cfg.SMTPFromName,
			To:           cfg.EmailTo,
		}, logger)
	case config.DeliveryLog:
		return delivery.NewLogDeliverer(logger), nil
	default:
		return nil, fmt.Errorf("unsupported delivery backend %q", cfg.Delivery)
	}
}
