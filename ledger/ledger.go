/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package ledger holds the shared live table: the "better" and "worse" buckets
// contributed across every session, plus a short audit history.
//
// Everything in here is total. Malformed input never produces an error, it is
// dropped or replaced with a safe default so the table can always be rendered.
package ledger

import (
	"encoding/json"
	"time"
)

// MaxHistory is the number of history entries kept, newest first.
const MaxHistory = 20

type Bucket string

const (
	Better Bucket = "better"
	Worse  Bucket = "worse"
)

func (b Bucket) Valid() bool {
	return b == Better || b == Worse
}

// Source records where an entry came from.
type Source string

const (
	SourceManual Source = "manual"
	SourceLive   Source = "live"
	SourceBetter Source = "better"
	SourceWorse  Source = "worse"
)

// Entry is a single classification. An empty ID is serialized as null.
type Entry struct {
	ID      string
	Name    string
	Note    string
	AddedAt int64
	Source  Source
}

type entryJSON struct {
	ID      *string `json:"id"`
	Name    string  `json:"name"`
	Note    string  `json:"note"`
	AddedAt int64   `json:"addedAt"`
	Source  Source  `json:"source"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	w := entryJSON{
		Name:    e.Name,
		Note:    e.Note,
		AddedAt: e.AddedAt,
		Source:  e.Source,
	}
	if e.ID != "" {
		id := e.ID
		w.ID = &id
	}

	return json.Marshal(w)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w entryJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Entry{
		Name:    w.Name,
		Note:    w.Note,
		AddedAt: w.AddedAt,
		Source:  w.Source,
	}
	if w.ID != nil {
		e.ID = *w.ID
	}

	return nil
}

type HistoryEntry struct {
	Timestamp int64  `json:"timestamp"`
	Summary   string `json:"summary"`
}

// LiveTable is the shared ledger persisted by the live table store.
type LiveTable struct {
	Better    []Entry        `json:"better"`
	Worse     []Entry        `json:"worse"`
	History   []HistoryEntry `json:"history"`
	UpdatedAt *int64         `json:"updatedAt"`
}

// Default returns the empty ledger used to seed a fresh store.
func Default() LiveTable {
	return LiveTable{
		Better:  []Entry{},
		Worse:   []Entry{},
		History: []HistoryEntry{},
	}
}

// Bucket returns the entries for b, or nil for an unknown bucket.
func (t LiveTable) Bucket(b Bucket) []Entry {
	switch b {
	case Better:
		return t.Better
	case Worse:
		return t.Worse
	default:
		return nil
	}
}

// Contains reports whether e is present, by identity, in either bucket.
func (t LiveTable) Contains(e Entry) bool {
	return indexOf(t.Better, e, SameEntry) >= 0 || indexOf(t.Worse, e, SameEntry) >= 0
}

// Conflicts lists entries from the better bucket that are also present, by
// identity, in the worse bucket. Merge does not prevent this state.
func (t LiveTable) Conflicts() []Entry {
	var out []Entry
	for _, e := range t.Better {
		if indexOf(t.Worse, e, SameEntry) >= 0 {
			out = append(out, e)
		}
	}

	return out
}

// AddHistory prepends a history entry and trims the history to MaxHistory.
func AddHistory(t LiveTable, summary string, now time.Time) LiveTable {
	history := make([]HistoryEntry, 0, len(t.History)+1)
	history = append(history, HistoryEntry{Timestamp: now.UnixMilli(), Summary: summary})
	history = append(history, t.History...)
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	t.History = history

	return t
}

func millis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}
