/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package storage persists opaque JSON documents by key. The live table store
// keeps its ledger here, and clients keep their run snapshots, settings and
// cached ledger here.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when no document exists for the key.
var ErrNotFound = errors.New("storage: document not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Kinds accepted by Open.
const (
	KindMemory = "memory"
	KindDir    = "dir"
	KindSQLite = "sqlite"
	KindRedis  = "redis"
)

// Open returns the backend named by kind. dsn is a directory for "dir", a
// database path for "sqlite" and an address or redis:// URL for "redis".
func Open(ctx context.Context, kind, dsn string) (Store, error) {
	switch strings.ToLower(kind) {
	case KindMemory:
		return NewMemory(), nil
	case KindDir, "":
		return OpenDir(dsn)
	case KindSQLite:
		return OpenSQLite(ctx, dsn)
	case KindRedis:
		return OpenRedis(ctx, dsn, RedisOptions{})
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", kind)
	}
}

// Memory keeps documents in process memory.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}

	return append([]byte(nil), doc...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[key] = append([]byte(nil), value...)

	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, key)

	return nil
}

func (m *Memory) Close() error {
	return nil
}
