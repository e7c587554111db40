/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package run

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Seednode/tierbox/catalog"
	"github.com/Seednode/tierbox/ledger"
)

const noteLength = 160

var (
	ErrNotStarted       = errors.New("run: no run has been started")
	ErrInvalidBucket    = errors.New("run: bucket must be better or worse")
	ErrUnknownCandidate = errors.New("run: candidate is not part of this run")
)

// Outcome describes what a decision did to the run.
type Outcome int

const (
	// OutcomeNone means there was nothing left to decide.
	OutcomeNone Outcome = iota
	OutcomeRecorded
	// OutcomeDuplicate means the candidate was already in a bucket, so the
	// queue advanced without touching the buckets.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecorded:
		return "recorded"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "none"
	}
}

// Stats summarises a run.
type Stats struct {
	DurationMs     int64            `json:"durationMs"`
	TotalDecisions int              `json:"totalDecisions"`
	Times          map[string]int64 `json:"times"`
}

// View is everything a front end needs to render a run.
type View struct {
	HasRun     bool                `json:"hasRun"`
	Settings   *Settings           `json:"settings,omitempty"`
	Current    *catalog.Candidate  `json:"current,omitempty"`
	Locked     *catalog.Candidate  `json:"locked,omitempty"`
	Index      int                 `json:"index"`
	Total      int                 `json:"total"`
	Remaining  int                 `json:"remaining"`
	IsComplete bool                `json:"isComplete"`
	Better     []catalog.Candidate `json:"better"`
	Worse      []catalog.Candidate `json:"worse"`
	Stats      Stats               `json:"stats"`
}

// Engine drives one player's run. It is safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	opts      Options
	log       *zap.Logger
	cands     []catalog.Candidate
	byID      map[string]catalog.Candidate
	persister *Persister

	settings *Settings
	pool     []catalog.Candidate
	state    *State

	// active is when the current candidate was shown.
	active time.Time
}

// NewEngine returns an engine with no run started. A nil persister keeps the
// run in memory only.
func NewEngine(cands []catalog.Candidate, persister *Persister, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}

	opts = opts.withDefaults()

	return &Engine{
		opts:      opts,
		log:       log,
		cands:     cands,
		byID:      catalog.Index(cands),
		persister: persister,
		active:    opts.Now(),
	}
}

// Restore rebuilds an engine from the snapshots held by persister. Without
// stored settings the engine starts out with no run.
func Restore(ctx context.Context, cands []catalog.Candidate, persister *Persister, opts Options, log *zap.Logger) (*Engine, error) {
	e := NewEngine(cands, persister, opts, log)
	if persister == nil {
		return e, nil
	}

	rawSettings, ok, err := persister.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore settings: %w", err)
	}
	if !ok {
		return e, nil
	}

	settings := SanitizeSettings(rawSettings, cands, e.opts.Locked)
	pool := BuildPool(cands, settings.Pool, e.opts.Locked)

	rawRun, ok, err := persister.LoadRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore run: %w", err)
	}

	var state State
	if ok {
		state = Sanitize(rawRun, pool, e.opts)
	} else {
		state = Build(pool, settings.Count, e.opts)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.settings = &settings
	e.pool = pool
	e.state = &state

	e.log.Debug("restored run",
		zap.String("run", state.ID),
		zap.Int("index", state.Index),
		zap.Int("queued", len(state.Queue)))

	if err := e.persist(ctx, e.settings, e.state); err != nil {
		return nil, err
	}

	return e, nil
}

// Start begins a new run with settings decoded from raw, replacing any run
// in progress.
func (e *Engine) Start(ctx context.Context, raw any) (Settings, error) {
	settings := SanitizeSettings(raw, e.cands, e.opts.Locked)
	pool := BuildPool(e.cands, settings.Pool, e.opts.Locked)

	e.mu.Lock()
	defer e.mu.Unlock()

	state := Build(pool, settings.Count, e.opts)

	if err := e.persist(ctx, &settings, &state); err != nil {
		return settings, err
	}

	e.settings = &settings
	e.pool = pool
	e.state = &state
	e.active = e.opts.Now()

	e.log.Debug("started run",
		zap.String("run", state.ID),
		zap.String("pool", string(settings.Pool)),
		zap.Int("count", settings.Count))

	return settings, nil
}

// Reset rebuilds the run with the current settings.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.settings == nil {
		return ErrNotStarted
	}

	state := Build(e.pool, e.settings.Count, e.opts)
	if err := e.persist(ctx, e.settings, &state); err != nil {
		return err
	}

	e.state = &state
	e.active = e.opts.Now()

	return nil
}

// Decide sorts the current candidate into bucket.
func (e *Engine) Decide(ctx context.Context, bucket ledger.Bucket) (Outcome, error) {
	return e.DecideOn(ctx, "", bucket)
}

// DecideOn sorts id into bucket, where id is the candidate the caller was
// shown. A candidate that was already sorted only advances the queue, so a
// repeated submission never records twice. An empty id means the current
// candidate.
func (e *Engine) DecideOn(ctx context.Context, id string, bucket ledger.Bucket) (Outcome, error) {
	if !bucket.Valid() {
		return OutcomeNone, ErrInvalidBucket
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return OutcomeNone, ErrNotStarted
	}

	current, ok := e.state.CurrentID()
	if !ok {
		return OutcomeNone, nil
	}
	if id == "" {
		id = current
	}
	if !slices.Contains(e.state.Queue, id) {
		return OutcomeNone, ErrUnknownCandidate
	}

	now := e.opts.Now()
	s := e.state.clone()

	outcome := OutcomeDuplicate
	if !s.Decided(id) {
		if bucket == ledger.Better {
			s.Better = append(s.Better, id)
		} else {
			s.Worse = append(s.Worse, id)
		}
		s.Times[id] += max(now.Sub(e.active).Milliseconds(), 0)
		outcome = OutcomeRecorded
	}

	s.Index = min(s.Index+1, len(s.Queue))
	s.UpdatedAt = now.UnixMilli()

	// The decision only counts once it is stored, so a retry after a failed
	// write records it instead of skipping ahead.
	if err := e.persist(ctx, e.settings, &s); err != nil {
		return OutcomeNone, err
	}

	e.state = &s
	e.active = now

	e.log.Debug("decision",
		zap.String("run", s.ID),
		zap.String("candidate", id),
		zap.String("bucket", string(bucket)),
		zap.Stringer("outcome", outcome))

	return outcome, nil
}

// persist writes settings and state without touching the engine, so callers
// commit a transition only after it has been stored.
func (e *Engine) persist(ctx context.Context, settings *Settings, state *State) error {
	if e.persister == nil {
		return nil
	}

	if settings != nil {
		if err := e.persister.SaveSettings(ctx, *settings); err != nil {
			return err
		}
	}
	if state != nil {
		if err := e.persister.SaveRun(ctx, *state); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) HasRun() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state != nil
}

// Snapshot returns a copy of the run state.
func (e *Engine) Snapshot() (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return State{}, false
	}

	return e.state.clone(), true
}

func (e *Engine) Settings() (Settings, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.settings == nil {
		return Settings{}, false
	}

	return *e.settings, true
}

// Current returns the candidate awaiting a decision.
func (e *Engine) Current() (catalog.Candidate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.currentLocked()
}

func (e *Engine) currentLocked() (catalog.Candidate, bool) {
	if e.state == nil {
		return catalog.Candidate{}, false
	}

	id, ok := e.state.CurrentID()
	if !ok {
		return catalog.Candidate{}, false
	}

	c, ok := e.byID[id]

	return c, ok
}

// Locked returns the reference candidate, if the catalog has it.
func (e *Engine) Locked() (catalog.Candidate, bool) {
	c, ok := e.byID[e.opts.Locked]

	return c, ok
}

func (e *Engine) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state != nil && e.state.IsComplete()
}

func (e *Engine) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return 0
	}

	return e.state.Remaining()
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.statsLocked()
}

func (e *Engine) statsLocked() Stats {
	if e.state == nil {
		return Stats{Times: map[string]int64{}}
	}

	return Stats{
		DurationMs:     max(e.state.UpdatedAt-e.state.StartedAt, 0),
		TotalDecisions: len(e.state.Better) + len(e.state.Worse),
		Times:          e.state.clone().Times,
	}
}

func (e *Engine) Better() []catalog.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return []catalog.Candidate{}
	}

	return e.resolve(e.state.Better)
}

func (e *Engine) Worse() []catalog.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return []catalog.Candidate{}
	}

	return e.resolve(e.state.Worse)
}

// resolve maps ids to candidates, skipping ids the catalog no longer has.
func (e *Engine) resolve(ids []string) []catalog.Candidate {
	out := make([]catalog.Candidate, 0, len(ids))
	for _, id := range ids {
		if c, ok := e.byID[id]; ok {
			out = append(out, c)
		}
	}

	return out
}

// View collects the state of the run for display.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := View{
		Better: []catalog.Candidate{},
		Worse:  []catalog.Candidate{},
		Stats:  e.statsLocked(),
	}

	if c, ok := e.byID[e.opts.Locked]; ok {
		v.Locked = &c
	}

	if e.settings != nil {
		s := *e.settings
		v.Settings = &s
	}

	if e.state == nil {
		return v
	}

	v.HasRun = true
	v.Index = e.state.Index
	v.Total = len(e.state.Queue)
	v.Remaining = e.state.Remaining()
	v.IsComplete = e.state.IsComplete()
	v.Better = e.resolve(e.state.Better)
	v.Worse = e.resolve(e.state.Worse)

	if c, ok := e.currentLocked(); ok {
		v.Current = &c
	}

	return v
}

// SessionEntries converts the run's decisions into live ledger entries.
func (e *Engine) SessionEntries(now time.Time) ledger.Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := ledger.Session{Better: []ledger.Entry{}, Worse: []ledger.Entry{}}
	if e.state == nil {
		return s
	}

	for _, c := range e.resolve(e.state.Better) {
		s.Add(ledger.Better, liveEntry(c, now))
	}
	for _, c := range e.resolve(e.state.Worse) {
		s.Add(ledger.Worse, liveEntry(c, now))
	}

	return s
}

func liveEntry(c catalog.Candidate, now time.Time) ledger.Entry {
	return ledger.Entry{
		ID:      c.ID,
		Name:    c.Name,
		Note:    truncate(strings.TrimSpace(c.WikiSummary), noteLength),
		AddedAt: now.UnixMilli(),
		Source:  ledger.SourceLive,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}
