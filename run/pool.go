/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package run

import (
	"encoding/json"
	"math"

	"github.com/Seednode/tierbox/catalog"
)

// Pool selects how much of the catalog a run draws from.
type Pool string

const (
	Top100 Pool = "top100"
	Top250 Pool = "top250"
	Top300 Pool = "top300"
	Full   Pool = "full"
)

// Settings are chosen by the player before a run starts.
type Settings struct {
	Pool  Pool `json:"pool"`
	Count int  `json:"count"`
}

// ResolvePoolSize returns how many leading catalog entries pool covers.
// Unknown pools behave like Top100.
func ResolvePoolSize(pool Pool, total int) int {
	switch pool {
	case Top250:
		return min(250, total)
	case Top300:
		return min(300, total)
	case Full:
		return total
	default:
		return min(100, total)
	}
}

// BuildPool slices the catalog for pool. The locked reference candidate is
// always part of the pool, prepended when the slice does not reach it.
func BuildPool(cands []catalog.Candidate, pool Pool, locked string) []catalog.Candidate {
	if len(cands) == 0 {
		return nil
	}

	slice := cands[:ResolvePoolSize(pool, len(cands))]
	for _, c := range slice {
		if c.ID == locked {
			return append([]catalog.Candidate(nil), slice...)
		}
	}

	out := make([]catalog.Candidate, 0, len(slice)+1)
	for _, c := range cands {
		if c.ID == locked {
			out = append(out, c)
			break
		}
	}

	return append(out, slice...)
}

// Available counts the pool members that can be queued.
func Available(pool []catalog.Candidate, locked string) int {
	n := 0
	for _, c := range pool {
		if c.ID != locked {
			n++
		}
	}

	return n
}

// ClampCount bounds a requested run length to [1, available]. NaN requests
// the maximum; an empty pool always yields 0.
func ClampCount(requested float64, available int) int {
	if available <= 0 {
		return 0
	}
	if math.IsNaN(requested) {
		return available
	}

	floored := math.Floor(requested)
	if floored < 1 {
		return 1
	}
	if floored > float64(available) {
		return available
	}

	return int(floored)
}

// SanitizeSettings repairs settings decoded from storage or a request body.
// A missing or non-numeric count selects the whole pool.
func SanitizeSettings(raw any, cands []catalog.Candidate, locked string) Settings {
	m := toRecord(raw)

	pool := Top100
	if p, ok := m["pool"].(string); ok {
		pool = Pool(p)
	}

	requested := math.NaN()
	if n, ok := number(m["count"]); ok {
		requested = n
	}

	return Settings{
		Pool:  pool,
		Count: ClampCount(requested, Available(BuildPool(cands, pool, locked), locked)),
	}
}

// toRecord turns decoded JSON or a typed value into a generic record. Values
// that do not encode to a JSON object yield nil.
func toRecord(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}

	return m
}

func number(v any) (float64, bool) {
	var f float64

	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
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

	return f, true
}

// millis extracts a number that fits in int64 milliseconds.
func millis(v any) (int64, bool) {
	f, ok := number(v)
	if !ok || f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0, false
	}

	return int64(f), true
}
