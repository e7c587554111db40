/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package catalog loads the read-only list of rankable candidates.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
)

const wikiBase = "https://en.wikipedia.org/wiki/"

// Candidate is a rankable subject. Fields other than ID and Name are optional
// enrichment and may be empty.
type Candidate struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ImageURL     string `json:"imageUrl,omitempty"`
	Wiki         string `json:"wiki,omitempty"`
	WikipediaURL string `json:"wikipediaUrl,omitempty"`
	WikiTitle    string `json:"wikiTitle,omitempty"`
	WikiSummary  string `json:"wikiSummary,omitempty"`
}

// Load reads a catalog from a file path or an http(s) URL.
func Load(ctx context.Context, src string, client *http.Client) ([]Candidate, error) {
	var (
		data []byte
		err  error
	)

	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		data, err = fetch(ctx, src, client)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	return Parse(data)
}

func fetch(ctx context.Context, src string, client *http.Client) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("catalog request failed (%d)", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Parse decodes a JSON array of candidates. Records without an id or a name
// are skipped, as are later duplicates of an id.
func Parse(data []byte) ([]Candidate, error) {
	var raw []Candidate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	out := make([]Candidate, 0, len(raw))
	for _, c := range raw {
		c.ID = strings.TrimSpace(c.ID)
		c.Name = strings.TrimSpace(c.Name)
		if c.ID == "" || c.Name == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true

		if wiki := WikiURL(c); wiki != "" {
			c.Wiki = wiki
			c.WikipediaURL = wiki
		}

		out = append(out, c)
	}

	return out, nil
}

// Index maps candidate ids to candidates.
func Index(cands []Candidate) map[string]Candidate {
	m := make(map[string]Candidate, len(cands))
	for _, c := range cands {
		m[c.ID] = c
	}

	return m
}

var whitespace = regexp.MustCompile(`\s+`)

// WikiURL returns the canonical English Wikipedia link for c, preferring an
// explicit title, then an existing link, then one derived from the name.
func WikiURL(c Candidate) string {
	if c.WikiTitle != "" {
		return wikiBase + c.WikiTitle
	}

	raw := c.WikipediaURL
	if raw == "" {
		raw = c.Wiki
	}
	switch {
	case strings.HasPrefix(raw, wikiBase):
		return raw
	case strings.HasPrefix(raw, "http://en.wikipedia.org/wiki/"):
		return strings.Replace(raw, "http://", "https://", 1)
	}

	if c.Name == "" {
		return ""
	}

	return wikiBase + url.PathEscape(whitespace.ReplaceAllString(c.Name, "_"))
}
