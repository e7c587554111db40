/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Seednode/tierbox/catalog"
	"github.com/Seednode/tierbox/ledger"
	"github.com/Seednode/tierbox/run"
	"github.com/Seednode/tierbox/storage"
)

const (
	playerCookieName = "tierbox_id"
	sessionMode      = "live session"
)

// validPlayerID accepts only ids shaped like the ones getOrSetPlayerID mints,
// since they end up in storage keys.
func validPlayerID(id string) bool {
	if len(id) != 32 || strings.ToLower(id) != id {
		return false
	}

	_, err := hex.DecodeString(id)

	return err == nil
}

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && validPlayerID(c.Value) {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

type session struct {
	engine     *run.Engine
	lastActive time.Time
}

// sessionManager keeps one run engine per player cookie. Runs are persisted
// under per-player keys, so a session dropped for idleness resumes where it
// left off on the player's next request.
type sessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session

	// restores runs at most one Restore per player at a time.
	restores singleflight.Group

	cfg         *Config
	cands       []catalog.Candidate
	store       storage.Store
	idleTimeout time.Duration
}

func newSessionManager(cfg *Config, cands []catalog.Candidate, store storage.Store) *sessionManager {
	return &sessionManager{
		sessions:    make(map[string]*session),
		cfg:         cfg,
		cands:       cands,
		store:       store,
		idleTimeout: cfg.sessionTimeout,
	}
}

func (sm *sessionManager) persister(playerID string) *run.Persister {
	return &run.Persister{
		Store:       sm.store,
		RunKey:      run.DefaultRunKey + ":" + playerID,
		SettingsKey: run.DefaultSettingsKey + ":" + playerID,
	}
}

func (sm *sessionManager) lookup(playerID string) (*run.Engine, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[playerID]
	if !ok {
		return nil, false
	}

	s.lastActive = time.Now()

	return s.engine, true
}

// get returns the player's engine, restoring it from storage on first use.
// Storage is read without holding mu, so a slow store only stalls the player
// it belongs to.
func (sm *sessionManager) get(ctx context.Context, playerID string) (*run.Engine, error) {
	if e, ok := sm.lookup(playerID); ok {
		return e, nil
	}

	results := sm.restores.DoChan(playerID, func() (any, error) {
		if e, ok := sm.lookup(playerID); ok {
			return e, nil
		}

		e, err := run.Restore(context.WithoutCancel(ctx), sm.cands, sm.persister(playerID), sm.cfg.runOptions(), sm.cfg.logger().With(zap.String("player", playerID)))
		if err != nil {
			return nil, err
		}

		sm.mu.Lock()
		defer sm.mu.Unlock()

		if s, ok := sm.sessions[playerID]; ok {
			s.lastActive = time.Now()

			return s.engine, nil
		}

		sm.sessions[playerID] = &session{engine: e, lastActive: time.Now()}

		logf(sm.cfg, "PLAY: Opened session for %s (%d active)", playerID, len(sm.sessions))

		return e, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*run.Engine), nil
	}
}

func (sm *sessionManager) len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return len(sm.sessions)
}

// reap drops sessions idle since before cutoff.
func (sm *sessionManager) reap(cutoff time.Time) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	n := 0
	for id, s := range sm.sessions {
		if s.lastActive.Before(cutoff) {
			delete(sm.sessions, id)
			n++
		}
	}

	return n
}

// reaperLoop periodically removes sessions that have been idle longer than
// idleTimeout.
func (sm *sessionManager) reaperLoop(ctx context.Context) error {
	if sm.idleTimeout <= 0 {
		return nil
	}

	ticker := time.NewTicker(sm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := sm.reap(time.Now().Add(-sm.idleTimeout)); n > 0 {
				logf(sm.cfg, "PLAY: Reaped %d idle sessions", n)
			}
		}
	}
}

type decideResponse struct {
	Outcome string   `json:"outcome"`
	View    run.View `json:"view"`
}

// playHandler resolves the caller's engine before handing over to fn.
func playHandler(sm *sessionManager, errs chan<- error, fn func(http.ResponseWriter, *http.Request, *run.Engine) (int, any)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		cors(w)
		securityHeaders(sm.cfg, w)

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			if err := writeError(w, http.StatusInternalServerError, "Unable to assign player id"); err != nil {
				errs <- err
			}

			return
		}

		e, err := sm.get(r.Context(), playerID)
		if err != nil {
			sm.cfg.logger().Error("unable to restore run", zap.String("player", playerID), zap.Error(err))

			if err := writeError(w, http.StatusInternalServerError, "Unable to restore run"); err != nil {
				errs <- err
			}

			return
		}

		status, body := fn(w, r, e)
		if msg, ok := body.(string); ok {
			if err := writeError(w, status, msg); err != nil {
				errs <- err
			}

			return
		}

		written, err := writeJSON(w, status, body)
		if err != nil {
			errs <- err

			return
		}

		logf(sm.cfg, "PLAY: %s %s (%s) for %s in %s",
			r.Method,
			r.URL.Path,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// runError maps engine errors onto a status and a message.
func runError(err error) (int, any) {
	switch {
	case errors.Is(err, run.ErrNotStarted):
		return http.StatusConflict, "No run has been started"
	case errors.Is(err, run.ErrInvalidBucket):
		return http.StatusBadRequest, "Bucket must be better or worse"
	case errors.Is(err, run.ErrUnknownCandidate):
		return http.StatusBadRequest, "Candidate is not part of this run"
	default:
		return http.StatusInternalServerError, "Unable to save run"
	}
}

func servePlayView(w http.ResponseWriter, r *http.Request, e *run.Engine) (int, any) {
	return http.StatusOK, e.View()
}

func startPlay(w http.ResponseWriter, r *http.Request, e *run.Engine) (int, any) {
	raw, status, message := decodeBody(w, r)
	if status != 0 {
		return status, message
	}

	if _, err := e.Start(r.Context(), raw); err != nil {
		return runError(err)
	}

	return http.StatusOK, e.View()
}

func decidePlay(w http.ResponseWriter, r *http.Request, e *run.Engine) (int, any) {
	raw, status, message := decodeBody(w, r)
	if status != 0 {
		return status, message
	}

	// id is optional and names the candidate the player was shown.
	m, _ := raw.(map[string]any)
	bucket, _ := m["bucket"].(string)
	id, _ := m["id"].(string)

	outcome, err := e.DecideOn(r.Context(), id, ledger.Bucket(bucket))
	if err != nil {
		return runError(err)
	}

	return http.StatusOK, decideResponse{Outcome: outcome.String(), View: e.View()}
}

func resetPlay(w http.ResponseWriter, r *http.Request, e *run.Engine) (int, any) {
	if err := e.Reset(r.Context()); err != nil {
		return runError(err)
	}

	return http.StatusOK, e.View()
}

// submitPlay merges the player's decisions into the shared ledger.
func submitPlay(s *liveTableStore) func(http.ResponseWriter, *http.Request, *run.Engine) (int, any) {
	return func(w http.ResponseWriter, r *http.Request, e *run.Engine) (int, any) {
		if !authorized(s.cfg, r) {
			return http.StatusUnauthorized, "Missing or invalid admin token"
		}

		now := s.now()

		picks := e.SessionEntries(now)
		if picks.Len() == 0 {
			return http.StatusBadRequest, "No decisions to submit"
		}

		t, err := s.update(r.Context(), func(t ledger.LiveTable) ledger.LiveTable {
			return ledger.Apply(t, picks, sessionMode, now)
		})
		if err != nil {
			s.cfg.logger().Error("live table write failed", zap.Error(err))

			return http.StatusInternalServerError, "Failed to write live table"
		}

		logf(s.cfg, "PLAY: Submitted %d picks from %s", picks.Len(), realIP(r))

		return http.StatusOK, t
	}
}

func registerPlay(cfg *Config, mux *httprouter.Router, sm *sessionManager, s *liveTableStore, errs chan<- error) {
	mux.GET(cfg.prefix+"/play", playHandler(sm, errs, servePlayView))
	mux.POST(cfg.prefix+"/play/start", playHandler(sm, errs, startPlay))
	mux.POST(cfg.prefix+"/play/decide", playHandler(sm, errs, decidePlay))
	mux.POST(cfg.prefix+"/play/reset", playHandler(sm, errs, resetPlay))
	mux.POST(cfg.prefix+"/play/submit", playHandler(sm, errs, submitPlay(s)))
}
