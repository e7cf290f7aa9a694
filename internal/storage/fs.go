/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
)

// FSStore implements ObjectStore on a filesystem, keys being relative paths.
type FSStore struct {
	fs afero.Fs
}

// NewFSStore roots a store at dir on the local disk.
func NewFSStore(dir string) *FSStore {
	return NewFSStoreWithFs(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// NewFSStoreWithFs uses an arbitrary afero filesystem.
func NewFSStoreWithFs(fsys afero.Fs) *FSStore {
	return &FSStore{fs: fsys}
}

// Get reads the file at key.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Put writes the file at key through a temp file and rename.
func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(key)
	if dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directories: %w", err)
		}
	}

	tmp, err := afero.TempFile(s.fs, dir, ".calrem-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer s.fs.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := s.fs.Rename(tmpName, key); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}
