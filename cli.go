/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Seednode/tierbox/ledger"
	"github.com/Seednode/tierbox/livetable"
	"github.com/Seednode/tierbox/run"
	"github.com/Seednode/tierbox/storage"
)

const noteWidth = 60

// newSyncer returns a syncer caching into cache and, when an endpoint is
// configured, pushing to the live table store.
func newSyncer(cfg *Config, cache storage.Store) *livetable.Syncer {
	s := &livetable.Syncer{
		Cache: cache,
		Log:   cfg.logger(),
	}

	if cfg.endpoint != "" {
		s.Remote = livetable.NewClient(cfg.endpoint, cfg.token, cfg.httpClient(), cfg.logger())
	}

	return s
}

func reportLoad(w io.Writer, res livetable.LoadResult) {
	if res.Message != "" {
		fmt.Fprintf(w, "Note: %s.\n", res.Message)
	}
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n-1]) + "…"
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func newTableWriter(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)

	return t
}

func renderLedger(w io.Writer, lt ledger.LiveTable, history bool) {
	buckets := []struct {
		bucket ledger.Bucket
		title  string
	}{
		{ledger.Better, "Better"},
		{ledger.Worse, "Worse"},
	}

	for _, b := range buckets {
		t := newTableWriter(w, b.title)
		t.AppendHeader(table.Row{"#", "Name", "Source", "Added", "Note"})

		for i, e := range lt.Bucket(b.bucket) {
			t.AppendRow(table.Row{i + 1, e.Name, e.Source, formatMillis(e.AddedAt), shorten(e.Note, noteWidth)})
		}

		t.Render()
	}

	if conflicts := lt.Conflicts(); len(conflicts) > 0 {
		t := newTableWriter(w, "In both buckets")
		t.AppendHeader(table.Row{"Name", "ID"})

		for _, e := range conflicts {
			t.AppendRow(table.Row{e.Name, e.ID})
		}

		t.Render()
	}

	if history && len(lt.History) > 0 {
		t := newTableWriter(w, "History")
		t.AppendHeader(table.Row{"When", "Summary"})

		for _, h := range lt.History {
			t.AppendRow(table.Row{formatMillis(h.Timestamp), h.Summary})
		}

		t.Render()
	}

	if lt.UpdatedAt != nil {
		fmt.Fprintf(w, "Last updated %s.\n", formatMillis(*lt.UpdatedAt))
	}
}

func renderRun(w io.Writer, v run.View) {
	title := "Results"
	if v.Locked != nil {
		title = "Compared to " + v.Locked.Name
	}

	t := newTableWriter(w, title)
	t.AppendHeader(table.Row{"Better", "Worse"})

	for i := range max(len(v.Better), len(v.Worse)) {
		var better, worse string
		if i < len(v.Better) {
			better = v.Better[i].Name
		}
		if i < len(v.Worse) {
			worse = v.Worse[i].Name
		}
		t.AppendRow(table.Row{better, worse})
	}

	t.AppendFooter(table.Row{len(v.Better), len(v.Worse)})
	t.Render()

	fmt.Fprintf(w, "%d decisions in %s.\n",
		v.Stats.TotalDecisions,
		(time.Duration(v.Stats.DurationMs) * time.Millisecond).Round(time.Second),
	)
}
