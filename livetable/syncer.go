/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package livetable

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Seednode/tierbox/ledger"
	"github.com/Seednode/tierbox/storage"
)

// DefaultCacheKey names the cached ledger document.
const DefaultCacheKey = "live-table-v1"

//go:embed seed.json
var defaultSeed []byte

// Remote is the shared store a Syncer pushes to and loads from.
type Remote interface {
	FetchRemote(ctx context.Context) (ledger.LiveTable, error)
	SaveRemote(ctx context.Context, t ledger.LiveTable) (ledger.LiveTable, error)
}

type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

type Origin string

const (
	OriginRemote Origin = "remote"
	OriginCache  Origin = "cache"
	OriginSeed   Origin = "seed"
)

// LoadResult is the ledger Load settled on. Message explains any fallback.
type LoadResult struct {
	Table   ledger.LiveTable
	Origin  Origin
	Message string
}

// Syncer holds the local ledger, mirrors it to a cache and pushes every
// change to the remote store in the background. Remote and Cache are both
// optional.
type Syncer struct {
	Remote   Remote
	Cache    storage.Store
	CacheKey string

	// Seed is the last-resort document for Load. Nil uses the bundled seed.
	Seed []byte

	// OnStatus is called after every status change, outside any lock.
	OnStatus func(Status, error)

	Log *zap.Logger
	Now func() time.Time

	mu      sync.Mutex
	table   ledger.LiveTable
	status  Status
	lastErr error
	gen     uint64
	pushes  sync.WaitGroup
	started bool
}

func (s *Syncer) init() {
	if s.started {
		return
	}
	s.started = true

	if s.CacheKey == "" {
		s.CacheKey = DefaultCacheKey
	}
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.status == "" {
		s.status = StatusIdle
	}
	s.table = ledger.Default()
}

// Load settles on the first ledger available from the remote store, the
// cache, then the seed. A remote ledger is copied into the cache.
func (s *Syncer) Load(ctx context.Context) (LoadResult, error) {
	s.mu.Lock()
	s.init()
	s.mu.Unlock()

	var problems []error
	reason := "live table server not configured"

	if s.Remote != nil {
		t, err := s.Remote.FetchRemote(ctx)
		if err == nil {
			s.mu.Lock()
			s.table = t
			s.writeCacheLocked(ctx, t)
			s.mu.Unlock()

			return LoadResult{Table: t, Origin: OriginRemote}, nil
		}

		s.Log.Warn("live table fetch failed", zap.Error(err))
		problems = append(problems, err)
		reason = fmt.Sprintf("live table unavailable: %v", err)
	}

	if s.Cache != nil {
		t, err := s.readCache(ctx)
		switch {
		case err == nil:
			s.mu.Lock()
			s.table = t
			s.mu.Unlock()

			return LoadResult{
				Table:   t,
				Origin:  OriginCache,
				Message: reason + "; showing the cached copy",
			}, nil
		case !errors.Is(err, storage.ErrNotFound):
			s.Log.Warn("live table cache unreadable", zap.Error(err))
			problems = append(problems, err)
		}
	}

	seed := s.Seed
	if seed == nil {
		seed = defaultSeed
	}

	var raw any
	if err := json.Unmarshal(seed, &raw); err != nil {
		problems = append(problems, fmt.Errorf("unable to load live table seed: %w", err))
		return LoadResult{Table: ledger.Default(), Origin: OriginSeed}, errors.Join(problems...)
	}

	t := ledger.Sanitize(raw, s.Now())

	s.mu.Lock()
	s.table = t
	s.mu.Unlock()

	return LoadResult{
		Table:   t,
		Origin:  OriginSeed,
		Message: reason + "; showing the seed ledger",
	}, nil
}

func (s *Syncer) readCache(ctx context.Context) (ledger.LiveTable, error) {
	data, err := s.Cache.Get(ctx, s.CacheKey)
	if err != nil {
		return ledger.Default(), err
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return ledger.Default(), fmt.Errorf("invalid cached ledger: %w", err)
	}

	return ledger.Sanitize(raw, s.Now()), nil
}

func (s *Syncer) writeCacheLocked(ctx context.Context, t ledger.LiveTable) {
	if s.Cache == nil {
		return
	}

	data, err := json.Marshal(t)
	if err == nil {
		err = s.Cache.Put(ctx, s.CacheKey, data)
	}
	if err != nil {
		s.Log.Warn("live table cache write failed", zap.Error(err))
	}
}

// Table returns the local ledger.
func (s *Syncer) Table() ledger.LiveTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	return ledger.Sanitize(s.table, s.Now())
}

// Status returns the state of the latest push and its error, if any.
func (s *Syncer) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	return s.status, s.lastErr
}

// Update applies fn to the local ledger, caches the result and pushes it to
// the remote store without waiting. A failed push leaves the local ledger as
// it is.
func (s *Syncer) Update(ctx context.Context, fn func(ledger.LiveTable) ledger.LiveTable) ledger.LiveTable {
	s.mu.Lock()
	s.init()

	now := s.Now()
	next := ledger.Sanitize(fn(ledger.Sanitize(s.table, now)), now)
	s.table = next
	s.writeCacheLocked(ctx, next)

	if s.Remote == nil {
		s.mu.Unlock()
		return next
	}

	s.gen++
	gen := s.gen
	s.status, s.lastErr = StatusSaving, nil
	s.pushes.Add(1)
	s.mu.Unlock()

	s.notify(StatusSaving, nil)

	go s.push(context.WithoutCancel(ctx), next, gen)

	return next
}

func (s *Syncer) push(ctx context.Context, t ledger.LiveTable, gen uint64) {
	defer s.pushes.Done()

	_, err := s.Remote.SaveRemote(ctx, t)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.Log.Debug("discarding superseded push result", zap.Uint64("generation", gen))
		return
	}

	status := StatusSaved
	if err != nil {
		status = StatusError
		s.Log.Warn("live table push failed", zap.Error(err))
	}
	s.status, s.lastErr = status, err
	s.mu.Unlock()

	s.notify(status, err)
}

func (s *Syncer) notify(status Status, err error) {
	if s.OnStatus != nil {
		s.OnStatus(status, err)
	}
}

// Wait blocks until every push started so far has finished.
func (s *Syncer) Wait() {
	s.pushes.Wait()
}

// Reset drops the cached ledger and starts over from an empty one. Pending
// pushes still run but no longer affect the status.
func (s *Syncer) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	s.gen++
	s.table = ledger.Default()
	s.status, s.lastErr = StatusIdle, nil

	if s.Cache == nil {
		return nil
	}

	return s.Cache.Delete(ctx, s.CacheKey)
}
