/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package run builds, repairs and drives a single ranking run: a shuffled
// queue of candidates the player sorts one at a time into better or worse.
package run

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Seednode/tierbox/catalog"
)

// DefaultLocked is the reference candidate every other one is compared to.
const DefaultLocked = "billy-gunn"

// State is the persisted snapshot of a run. Queue never contains the locked
// candidate, and Index is always within [0, len(Queue)].
type State struct {
	ID        string           `json:"id"`
	Queue     []string         `json:"queue"`
	Index     int              `json:"index"`
	Better    []string         `json:"better"`
	Worse     []string         `json:"worse"`
	Times     map[string]int64 `json:"times"`
	StartedAt int64            `json:"startedAt"`
	UpdatedAt int64            `json:"updatedAt"`
}

// CurrentID returns the id awaiting a decision.
func (s State) CurrentID() (string, bool) {
	if s.Index < 0 || s.Index >= len(s.Queue) {
		return "", false
	}

	return s.Queue[s.Index], true
}

func (s State) IsComplete() bool {
	return s.Index >= len(s.Queue)
}

func (s State) Remaining() int {
	return max(len(s.Queue)-s.Index, 0)
}

// Decided reports whether id already sits in either bucket.
func (s State) Decided(id string) bool {
	return slices.Contains(s.Better, id) || slices.Contains(s.Worse, id)
}

func (s State) clone() State {
	c := s
	c.Queue = slices.Clone(s.Queue)
	c.Better = slices.Clone(s.Better)
	c.Worse = slices.Clone(s.Worse)
	c.Times = make(map[string]int64, len(s.Times))
	for k, v := range s.Times {
		c.Times[k] = v
	}

	return c
}

// Options carry the collaborators a run needs. Zero values fall back to the
// wall clock, the global random source and DefaultLocked.
type Options struct {
	Locked string
	Now    func() time.Time
	Rand   *rand.Rand
	NewID  func() string
}

func (o Options) withDefaults() Options {
	if o.Locked == "" {
		o.Locked = DefaultLocked
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}

	return o
}

func (o Options) intN(n int) int {
	if o.Rand == nil {
		return rand.IntN(n)
	}

	return o.Rand.IntN(n)
}

func shuffle[T any](items []T, o Options) {
	for i := len(items) - 1; i > 0; i-- {
		j := o.intN(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

// Build starts a fresh run over pool, queueing count shuffled candidates.
func Build(pool []catalog.Candidate, count int, opts Options) State {
	opts = opts.withDefaults()

	ids := make([]string, 0, len(pool))
	for _, c := range pool {
		if c.ID != opts.Locked {
			ids = append(ids, c.ID)
		}
	}
	shuffle(ids, opts)

	n := ClampCount(float64(count), len(ids))
	now := opts.Now().UnixMilli()

	return State{
		ID:        opts.NewID(),
		Queue:     ids[:n],
		Better:    []string{},
		Worse:     []string{},
		Times:     map[string]int64{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Sanitize repairs a persisted snapshot against pool. Anything that is not a
// record is replaced by a fresh run over the whole pool.
func Sanitize(raw any, pool []catalog.Candidate, opts Options) State {
	opts = opts.withDefaults()

	m := toRecord(raw)
	if m == nil {
		return Build(pool, ClampCount(math.NaN(), Available(pool, opts.Locked)), opts)
	}

	known := make(map[string]bool, len(pool))
	for _, c := range pool {
		if c.ID != opts.Locked {
			known[c.ID] = true
		}
	}

	var queue []string
	if items, ok := m["queue"].([]any); ok {
		queue = make([]string, 0, len(items))
		for _, item := range items {
			if id, ok := item.(string); ok && known[id] {
				queue = append(queue, id)
			}
		}
	} else {
		queue = make([]string, 0, len(pool))
		for _, c := range pool {
			if known[c.ID] {
				queue = append(queue, c.ID)
			}
		}
	}

	index := 0
	if n, ok := number(m["index"]); ok {
		index = int(min(max(math.Floor(n), 0), float64(len(queue))))
	}

	better := idList(m["better"], known, nil)
	worse := idList(m["worse"], known, better)

	times := map[string]int64{}
	if rec, ok := m["times"].(map[string]any); ok {
		for id, v := range rec {
			if n, ok := millis(v); ok && known[id] && n >= 0 {
				times[id] = n
			}
		}
	}

	now := opts.Now().UnixMilli()

	s := State{
		ID:        opts.NewID(),
		Queue:     queue,
		Index:     index,
		Better:    better,
		Worse:     worse,
		Times:     times,
		StartedAt: now,
		UpdatedAt: now,
	}
	if id, ok := m["id"].(string); ok && id != "" {
		s.ID = id
	}
	if n, ok := millis(m["startedAt"]); ok {
		s.StartedAt = n
	}
	if n, ok := millis(m["updatedAt"]); ok {
		s.UpdatedAt = n
	}

	return s
}

// idList keeps the known string ids of raw once each, skipping any in exclude.
func idList(raw any, known map[string]bool, exclude []string) []string {
	out := []string{}

	items, ok := raw.([]any)
	if !ok {
		return out
	}

	for _, item := range items {
		id, ok := item.(string)
		if !ok || !known[id] || slices.Contains(out, id) || slices.Contains(exclude, id) {
			continue
		}
		out = append(out, id)
	}

	return out
}
