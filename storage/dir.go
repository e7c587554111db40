/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dir stores each document as <key>.json inside a directory.
type Dir struct {
	path string
}

func OpenDir(path string) (*Dir, error) {
	if path == "" {
		return nil, errors.New("storage: directory path is required")
	}

	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &Dir{path: path}, nil
}

// Path returns the file a key is stored in.
func (d *Dir) Path(key string) string {
	return filepath.Join(d.path, fileName(key)+".json")
}

func (d *Dir) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}

	return data, nil
}

// Put writes to a temporary file and renames it over the target, so readers
// never observe a partial document.
func (d *Dir) Put(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(d.path, "."+fileName(key)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %q: %w", key, err)
	}

	if err := os.Rename(tmp.Name(), d.Path(key)); err != nil {
		return fmt.Errorf("failed to replace %q: %w", key, err)
	}

	return nil
}

func (d *Dir) Delete(_ context.Context, key string) error {
	err := os.Remove(d.Path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}

	return nil
}

func (d *Dir) Close() error {
	return nil
}

func fileName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}
