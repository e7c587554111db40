/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package ledger

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Normalize turns a decoded JSON record (or an Entry) into a well-formed Entry.
// It reports false when raw is not a record or has no usable name.
func Normalize(raw any, fallback Bucket, now time.Time) (Entry, bool) {
	switch v := raw.(type) {
	case Entry:
		return normalizeEntry(v, fallback)
	case *Entry:
		if v == nil {
			return Entry{}, false
		}
		return normalizeEntry(*v, fallback)
	case map[string]any:
		return normalizeRecord(v, fallback, now)
	default:
		return Entry{}, false
	}
}

func normalizeEntry(e Entry, fallback Bucket) (Entry, bool) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return Entry{}, false
	}

	return Entry{
		ID:      e.ID,
		Name:    name,
		Note:    strings.TrimSpace(e.Note),
		AddedAt: e.AddedAt,
		Source:  normalizeSource(string(e.Source), fallback),
	}, true
}

func normalizeRecord(m map[string]any, fallback Bucket, now time.Time) (Entry, bool) {
	name, _ := m["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return Entry{}, false
	}

	id, _ := m["id"].(string)
	note, _ := m["note"].(string)
	source, _ := m["source"].(string)

	addedAt, ok := timestamp(m["addedAt"])
	if !ok {
		addedAt = now.UnixMilli()
	}

	return Entry{
		ID:      id,
		Name:    name,
		Note:    strings.TrimSpace(note),
		AddedAt: addedAt,
		Source:  normalizeSource(source, fallback),
	}, true
}

func normalizeSource(source string, fallback Bucket) Source {
	switch Source(source) {
	case SourceManual, SourceLive:
		return Source(source)
	}

	if fallback.Valid() {
		return Source(fallback)
	}

	return SourceManual
}

// Sanitize validates a whole live table payload. It accepts decoded JSON
// (map[string]any) as well as LiveTable values, and never fails: anything that
// is not a record yields Default().
func Sanitize(raw any, now time.Time) LiveTable {
	switch v := raw.(type) {
	case LiveTable:
		return sanitizeTable(v)
	case *LiveTable:
		if v == nil {
			return Default()
		}
		return sanitizeTable(*v)
	case map[string]any:
		return sanitizeRecord(v, now)
	default:
		return Default()
	}
}

// SanitizeJSON decodes data and sanitizes the result. Undecodable input yields
// Default().
func SanitizeJSON(data []byte, now time.Time) LiveTable {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Default()
	}

	return Sanitize(raw, now)
}

func sanitizeTable(t LiveTable) LiveTable {
	out := Default()

	for _, e := range t.Better {
		if n, ok := normalizeEntry(e, Better); ok {
			out.Better = append(out.Better, n)
		}
	}
	for _, e := range t.Worse {
		if n, ok := normalizeEntry(e, Worse); ok {
			out.Worse = append(out.Worse, n)
		}
	}

	out.History = append(out.History, t.History...)
	out.History = capHistory(out.History)

	if t.UpdatedAt != nil {
		at := *t.UpdatedAt
		out.UpdatedAt = &at
	}

	return out
}

func sanitizeRecord(m map[string]any, now time.Time) LiveTable {
	out := Default()

	if items, ok := m["better"].([]any); ok {
		for _, item := range items {
			if e, ok := Normalize(item, Better, now); ok {
				out.Better = append(out.Better, e)
			}
		}
	}

	if items, ok := m["worse"].([]any); ok {
		for _, item := range items {
			if e, ok := Normalize(item, Worse, now); ok {
				out.Worse = append(out.Worse, e)
			}
		}
	}

	if items, ok := m["history"].([]any); ok {
		for _, item := range items {
			rec, ok := item.(map[string]any)
			if !ok {
				continue
			}

			ts, ok := timestamp(rec["timestamp"])
			if !ok {
				ts = now.UnixMilli()
			}
			summary, _ := rec["summary"].(string)

			out.History = append(out.History, HistoryEntry{Timestamp: ts, Summary: summary})
		}
	}
	out.History = capHistory(out.History)

	if ts, ok := timestamp(m["updatedAt"]); ok {
		out.UpdatedAt = &ts
	}

	return out
}

func capHistory(h []HistoryEntry) []HistoryEntry {
	if len(h) > MaxHistory {
		return h[:MaxHistory]
	}

	return h
}

// timestamp extracts a finite number as integer milliseconds.
func timestamp(v any) (int64, bool) {
	var f float64

	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0, false
	}

	return int64(f), true
}
