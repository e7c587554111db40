/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package ledger

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// EqualFunc decides whether two entries describe the same subject.
type EqualFunc func(a, b Entry) bool

// SameEntry compares by ID when both entries carry one, and otherwise by
// trimmed, case-folded name. Manual entries typically lack an ID but must
// still match catalog entries by name.
func SameEntry(a, b Entry) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}

	return foldName(a.Name) == foldName(b.Name)
}

func foldName(name string) string {
	// Casers are stateful, so each call gets its own.
	return cases.Fold().String(strings.TrimSpace(name))
}

// Merge folds additions into original. An addition replaces the first entry it
// matches, keeping that entry's position; unmatched additions are appended.
// The result never aliases original.
func Merge(original, additions []Entry, eq EqualFunc) []Entry {
	if eq == nil {
		eq = SameEntry
	}

	merged := make([]Entry, len(original), len(original)+len(additions))
	copy(merged, original)

	for _, entry := range additions {
		if i := indexOf(merged, entry, eq); i >= 0 {
			merged[i] = entry
			continue
		}
		merged = append(merged, entry)
	}

	return merged
}

func indexOf(entries []Entry, target Entry, eq EqualFunc) int {
	for i, e := range entries {
		if eq(e, target) {
			return i
		}
	}

	return -1
}

// Session is a batch of entries collected locally before being applied.
type Session struct {
	Better []Entry `json:"better"`
	Worse  []Entry `json:"worse"`
}

func (s Session) Len() int {
	return len(s.Better) + len(s.Worse)
}

// Add appends e to bucket b. Unknown buckets are ignored.
func (s *Session) Add(b Bucket, e Entry) {
	switch b {
	case Better:
		s.Better = append(s.Better, e)
	case Worse:
		s.Worse = append(s.Worse, e)
	}
}

// Apply merges a session into t, stamps updatedAt and records a history line
// describing how the picks were collected (e.g. "live session").
func Apply(t LiveTable, s Session, mode string, now time.Time) LiveTable {
	next := Sanitize(t, now)

	next.Better = Merge(next.Better, s.Better, SameEntry)
	next.Worse = Merge(next.Worse, s.Worse, SameEntry)
	next.UpdatedAt = millis(now)

	next = AddHistory(next, fmt.Sprintf("Added %d picks via %s.", s.Len(), mode), now)

	return Sanitize(next, now)
}
