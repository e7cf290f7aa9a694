/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage reads the calendar and to-do files from object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("object not found")

// ObjectStore abstracts object storage operations.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// TextSource reads UTF-8 text objects.
type TextSource struct {
	store ObjectStore
}

// NewTextSource wraps an object store.
func NewTextSource(store ObjectStore) *TextSource {
	return &TextSource{store: store}
}

// GetText returns the object at key as a string.
func (t *TextSource) GetText(ctx context.Context, key string) (string, error) {
	data, err := t.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("get %s: object is not valid UTF-8", key)
	}
	return string(data), nil
}

// ObjectWatermarkStore keeps small string values as objects under a prefix.
// It backs the notifier watermark when no Redis is configured.
type ObjectWatermarkStore struct {
	store  ObjectStore
	prefix string
}

// NewObjectWatermarkStore stores values under prefix (e.g. "state/").
func NewObjectWatermarkStore(store ObjectStore, prefix string) *ObjectWatermarkStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectWatermarkStore{store: store, prefix: prefix}
}

// GetValue returns the value for key and whether it exists.
func (w *ObjectWatermarkStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	data, err := w.store.Get(ctx, w.prefix+key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get value %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// SetValue writes the value for key.
func (w *ObjectWatermarkStore) SetValue(ctx context.Context, key, value string) error {
	if err := w.store.Put(ctx, w.prefix+key, []byte(value)); err != nil {
		return fmt.Errorf("set value %s: %w", key, err)
	}
	return nil
}
