/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/Seednode/tierbox/ledger"
	"github.com/Seednode/tierbox/livetable"
	"github.com/Seednode/tierbox/storage"
)

const (
	liveTableKey = "live-table"
	maxBodySize  = 1 << 20
)

// bus carries saved ledgers between server instances sharing one backend.
type bus interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, fn func([]byte)) error
}

// liveTableStore owns the shared ledger document. Writes are serialized so a
// read-modify-write from the play API cannot interleave with a PUT.
type liveTableStore struct {
	mu sync.Mutex

	cfg   *Config
	store storage.Store
	hub   *Hub
	bus   bus
	now   func() time.Time
}

func newLiveTableStore(cfg *Config, store storage.Store, hub *Hub) *liveTableStore {
	s := &liveTableStore{
		cfg:   cfg,
		store: store,
		hub:   hub,
		now:   time.Now,
	}

	if b, ok := store.(bus); ok {
		s.bus = b
	}

	return s
}

func (s *liveTableStore) load(ctx context.Context) (ledger.LiveTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked(ctx)
}

// loadLocked reads the ledger, writing an empty one first if none exists.
func (s *liveTableStore) loadLocked(ctx context.Context) (ledger.LiveTable, error) {
	data, err := s.store.Get(ctx, liveTableKey)
	if errors.Is(err, storage.ErrNotFound) {
		t := ledger.Default()
		if err := s.putLocked(ctx, t); err != nil {
			return t, err
		}

		logf(s.cfg, "STORE: Seeded empty live table")

		return t, nil
	}
	if err != nil {
		return ledger.Default(), err
	}

	return ledger.SanitizeJSON(data, s.now()), nil
}

func (s *liveTableStore) putLocked(ctx context.Context, t ledger.LiveTable) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}

	return s.store.Put(ctx, liveTableKey, data)
}

// save sanitizes raw, stores it and announces it to subscribers.
func (s *liveTableStore) save(ctx context.Context, raw any) (ledger.LiveTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(ctx, ledger.Sanitize(raw, s.now()))
}

// update applies fn to the stored ledger and saves the result.
func (s *liveTableStore) update(ctx context.Context, fn func(ledger.LiveTable) ledger.LiveTable) (ledger.LiveTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadLocked(ctx)
	if err != nil {
		return current, err
	}

	return s.saveLocked(ctx, ledger.Sanitize(fn(current), s.now()))
}

func (s *liveTableStore) saveLocked(ctx context.Context, t ledger.LiveTable) (ledger.LiveTable, error) {
	if err := s.putLocked(ctx, t); err != nil {
		return t, err
	}

	s.announce(ctx, t)

	return t, nil
}

func (s *liveTableStore) announce(ctx context.Context, t ledger.LiveTable) {
	payload, err := json.Marshal(t)
	if err != nil {
		return
	}

	if s.bus != nil {
		err := s.bus.Publish(ctx, payload)
		if err == nil {
			return
		}

		s.cfg.logger().Warn("live table publish failed, broadcasting locally", zap.Error(err))
	}

	s.hub.publish(ctx, payload)
}

// forward relays ledgers published by any instance to local subscribers.
func (s *liveTableStore) forward(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}

	err := s.bus.Subscribe(ctx, func(payload []byte) {
		s.hub.publish(ctx, payload)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("live table feed: %w", err)
	}

	return nil
}

func authorized(cfg *Config, r *http.Request) bool {
	if cfg.adminToken == "" {
		return true
	}

	header := r.Header.Get(livetable.TokenHeader)

	return header != "" && subtle.ConstantTimeCompare([]byte(header), []byte(cfg.adminToken)) == 1
}

func cors(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+livetable.TokenHeader)
}

func servePreflight(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		cors(w)
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusNoContent)
	}
}

func serveLiveTable(s *liveTableStore, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		cors(w)
		securityHeaders(s.cfg, w)

		t, err := s.load(r.Context())
		if err != nil {
			s.cfg.logger().Error("live table read failed", zap.Error(err))

			if err := writeError(w, http.StatusInternalServerError, "Failed to read live table"); err != nil {
				errs <- err
			}

			return
		}

		written, err := writeJSON(w, http.StatusOK, t)
		if err != nil {
			errs <- err

			return
		}

		logf(s.cfg, "SERVE: Live table (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func saveLiveTable(s *liveTableStore, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		cors(w)
		securityHeaders(s.cfg, w)

		if !authorized(s.cfg, r) {
			logf(s.cfg, "STORE: Rejected write from %s", realIP(r))

			if err := writeError(w, http.StatusUnauthorized, "Missing or invalid admin token"); err != nil {
				errs <- err
			}

			return
		}

		raw, status, message := decodeBody(w, r)
		if status != 0 {
			if err := writeError(w, status, message); err != nil {
				errs <- err
			}

			return
		}

		t, err := s.save(r.Context(), raw)
		if err != nil {
			s.cfg.logger().Error("live table write failed", zap.Error(err))

			if err := writeError(w, http.StatusInternalServerError, "Failed to write live table"); err != nil {
				errs <- err
			}

			return
		}

		written, err := writeJSON(w, http.StatusOK, t)
		if err != nil {
			errs <- err

			return
		}

		logf(s.cfg, "STORE: Saved live table (%s, %d better, %d worse) from %s in %s",
			humanReadableSize(int64(written)),
			len(t.Better),
			len(t.Worse),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// decodeBody reads a JSON body of at most maxBodySize bytes. An empty body
// decodes to nil. A non-zero status reports why the body was rejected.
func decodeBody(w http.ResponseWriter, r *http.Request) (any, int, string) {
	var raw any

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&raw)

	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return raw, 0, ""
	case errors.As(err, &tooLarge):
		return nil, http.StatusRequestEntityTooLarge, "Request body too large"
	default:
		return nil, http.StatusBadRequest, "Invalid JSON body"
	}
}

func serveLiveTableFeed(ctx context.Context, s *liveTableStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		t, err := s.load(r.Context())
		if err != nil {
			s.cfg.logger().Error("live table read failed", zap.Error(err))
			_ = writeError(w, http.StatusInternalServerError, "Failed to read live table")

			return
		}

		initial, err := json.Marshal(t)
		if err != nil {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.cfg.logger().Debug("websocket upgrade failed", zap.Error(err))

			return
		}

		client := &Client{
			conn: conn,
			send: make(chan []byte, sendBuffer),
			addr: realIP(r),
		}
		client.send <- initial

		select {
		case s.hub.register <- client:
		case <-ctx.Done():
			_ = conn.Close()

			return
		}

		logf(s.cfg, "FEED: Subscribed %s", client.addr)

		go client.writePump()
		client.readPump(ctx, s.hub)

		logf(s.cfg, "FEED: Unsubscribed %s", client.addr)
	}
}
