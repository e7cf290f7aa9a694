/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultLockConfig(t *testing.T) {
	cfg := DefaultLockConfig()
	if cfg.Key != defaultLockKey || cfg.LeaseDuration != defaultLeaseDuration {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.InstanceID == "" || cfg.InstanceID == DefaultLockConfig().InstanceID {
		t.Error("each default config should get a fresh instance id")
	}
}

func TestNewRunLockUnreachable(t *testing.T) {
	cfg := DefaultLockConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	if _, err := NewRunLock(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unreachable Redis")
	}
}
