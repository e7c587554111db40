/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Seednode/tierbox/storage"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "cert without key", mutate: func(c *Config) { c.tlsCert = "cert.pem" }, wantErr: "--tls-key"},
		{name: "key without cert", mutate: func(c *Config) { c.tlsKey = "key.pem" }, wantErr: "--tls-cert"},
		{name: "port zero", mutate: func(c *Config) { c.port = 0 }, wantErr: "invalid port"},
		{name: "port too high", mutate: func(c *Config) { c.port = 70000 }, wantErr: "invalid port"},
		{name: "unknown storage", mutate: func(c *Config) { c.storage = "s3" }, wantErr: "invalid storage backend"},
		{name: "redis without address", mutate: func(c *Config) { c.storage = storage.KindRedis }, wantErr: "--redis-addr"},
		{name: "redis with address", mutate: func(c *Config) {
			c.storage = storage.KindRedis
			c.redisAddr = "localhost:6379"
		}},
		{name: "negative session timeout", mutate: func(c *Config) { c.sessionTimeout = -time.Second }, wantErr: "session timeout"},
		{name: "negative request timeout", mutate: func(c *Config) { c.timeout = -time.Second }, wantErr: "request timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigScheme(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	assert.Equal(t, "https", cfg.scheme())
}

func TestConfigOpenStore(t *testing.T) {
	ctx := context.Background()

	for _, kind := range []string{storage.KindMemory, storage.KindDir, storage.KindSQLite} {
		t.Run(kind, func(t *testing.T) {
			cfg := testConfig()
			cfg.storage = kind
			cfg.dataDir = t.TempDir()

			store, err := cfg.openStore(ctx)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			require.NoError(t, store.Put(ctx, "k", []byte("v")))

			got, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)
		})
	}
}

func TestConfigLoadCatalog(t *testing.T) {
	cfg := testConfig()

	_, err := cfg.loadCatalog(context.Background())
	require.Error(t, err)

	cfg.catalog = writeCatalog(t)

	cands, err := cfg.loadCatalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, cands, len(testCatalog()))
}

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	dir := defaultDataDir()
	assert.Equal(t, "tierbox", filepath.Base(dir))
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = newLogger(false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	assert.NotNil(t, (&Config{}).logger())
}
