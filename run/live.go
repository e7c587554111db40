/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package run

import (
	"github.com/Seednode/tierbox/catalog"
	"github.com/Seednode/tierbox/ledger"
)

// MaxLiveQueue bounds how many candidates a live session asks about.
const MaxLiveQueue = 100

// LiveQueue picks up to desired shuffled candidates that are not yet on the
// live table, matched by id or case-folded name. The locked candidate is
// never picked.
func LiveQueue(cands []catalog.Candidate, table ledger.LiveTable, desired int, opts Options) []catalog.Candidate {
	opts = opts.withDefaults()
	desired = min(max(desired, 1), MaxLiveQueue)

	unrated := make([]catalog.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.ID == opts.Locked || table.Contains(ledger.Entry{ID: c.ID, Name: c.Name}) {
			continue
		}
		unrated = append(unrated, c)
	}
	shuffle(unrated, opts)

	return unrated[:min(desired, len(unrated))]
}
