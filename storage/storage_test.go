package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	ctx := context.Background()
	dir := t.TempDir()

	d, err := OpenDir(filepath.Join(dir, "docs"))
	require.NoError(t, err)

	s, err := OpenSQLite(ctx, filepath.Join(dir, "db", "tierbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	stores := map[string]Store{
		"memory": NewMemory(),
		"dir":    d,
		"sqlite": s,
	}

	if addr := os.Getenv("TIERBOX_TEST_REDIS_ADDR"); addr != "" {
		r, err := OpenRedis(ctx, addr, RedisOptions{Prefix: "tierbox-test:" + t.Name() + ":"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close() })
		stores["redis"] = r
	}

	return stores
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "live-table")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Put(ctx, "live-table", []byte(`{"better":[]}`)))
			got, err := store.Get(ctx, "live-table")
			require.NoError(t, err)
			assert.Equal(t, `{"better":[]}`, string(got))

			require.NoError(t, store.Put(ctx, "live-table", []byte(`{"worse":[]}`)))
			got, err = store.Get(ctx, "live-table")
			require.NoError(t, err)
			assert.Equal(t, `{"worse":[]}`, string(got))

			require.NoError(t, store.Delete(ctx, "live-table"))
			_, err = store.Get(ctx, "live-table")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Delete(ctx, "never-written"))
		})
	}
}

func TestStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "run-v1:alpha", []byte("a")))
			require.NoError(t, store.Put(ctx, "run-v1:beta", []byte("b")))

			got, err := store.Get(ctx, "run-v1:alpha")
			require.NoError(t, err)
			assert.Equal(t, "a", string(got))
		})
	}
}

func TestMemory_CopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	value := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", value))
	value[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestDir_FileLayout(t *testing.T) {
	dir := t.TempDir()

	d, err := OpenDir(dir)
	require.NoError(t, err)
	require.NoError(t, d.Put(context.Background(), "settings/v1", []byte("{}")))

	info, err := os.Stat(filepath.Join(dir, "settings_v1.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tierbox.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "live-table", []byte("{}")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "live-table")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}

func TestOpen_UnknownKind(t *testing.T) {
	_, err := Open(context.Background(), "floppy", "")
	require.Error(t, err)

	store, err := Open(context.Background(), KindMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, store)
}

func TestRedis_PubSub(t *testing.T) {
	addr := os.Getenv("TIERBOX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TIERBOX_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := OpenRedis(ctx, addr, RedisOptions{Channel: "tierbox-test:" + t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	got := make(chan []byte, 16)
	done := make(chan error, 1)
	go func() {
		done <- r.Subscribe(ctx, func(payload []byte) {
			got <- payload
		})
	}()

	// Publish until the subscription is live.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(5 * time.Second)

	for received := false; !received; {
		select {
		case <-ticker.C:
			require.NoError(t, r.Publish(ctx, []byte(`{"better":[]}`)))
		case payload := <-got:
			assert.JSONEq(t, `{"better":[]}`, string(payload))
			received = true
		case <-timeout:
			t.Fatal("no message received")
		}
	}

	cancel()
	require.NoError(t, <-done)
}
