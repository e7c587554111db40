/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Seednode/tierbox/catalog"
	"github.com/Seednode/tierbox/ledger"
	"github.com/Seednode/tierbox/livetable"
	"github.com/Seednode/tierbox/run"
)

const summaryWidth = 240

type playOptions struct {
	pool    string
	count   int
	unrated int
	push    bool
	restart bool
}

func newPlayCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	opts := &playOptions{}

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Sort candidates into better or worse than the reference, one at a time.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return playRun(cmd, cfg, opts)
		},
	}

	fs := cmd.Flags()
	normalizeFlags(fs)

	fs.StringVar(&opts.pool, "pool", string(run.Top100), "candidate pool: top100, top250, top300 or full (env: TIERBOX_POOL)")
	fs.IntVarP(&opts.count, "count", "n", 0, "number of candidates to rank, defaults to the whole pool (env: TIERBOX_COUNT)")
	fs.IntVar(&opts.unrated, "unrated", 0, "rank up to this many candidates not yet on the live table (env: TIERBOX_UNRATED)")
	fs.BoolVar(&opts.push, "push", false, "merge the results into the live table when done (env: TIERBOX_PUSH)")
	fs.BoolVar(&opts.restart, "restart", false, "discard any saved run and start over (env: TIERBOX_RESTART)")
	addClientFlags(cfg, fs)

	bindEnv(v, fs)

	return cmd
}

func playRun(cmd *cobra.Command, cfg *Config, opts *playOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cands, err := cfg.loadCatalog(ctx)
	if err != nil {
		return err
	}

	store, err := cfg.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	syncer := newSyncer(cfg, store)
	persister := &run.Persister{Store: store}
	settings := map[string]any{"pool": opts.pool}
	restart := opts.restart

	if opts.unrated > 0 {
		res, err := syncer.Load(ctx)
		if err != nil {
			return err
		}
		reportLoad(out, res)

		queue := run.LiveQueue(cands, res.Table, opts.unrated, cfg.runOptions())
		if len(queue) == 0 {
			fmt.Fprintln(out, "Every candidate is already on the live table.")

			return nil
		}

		if locked, ok := catalog.Index(cands)[cfg.runOptions().Locked]; ok {
			queue = append([]catalog.Candidate{locked}, queue...)
		}

		cands = queue
		persister = &run.Persister{Store: store, RunKey: "unrated-" + run.DefaultRunKey, SettingsKey: "unrated-" + run.DefaultSettingsKey}
		settings = map[string]any{"pool": string(run.Full)}
		restart = true
	}

	if cmd.Flags().Changed("count") {
		settings["count"] = float64(opts.count)
	}

	e, err := run.Restore(ctx, cands, persister, cfg.runOptions(), cfg.logger())
	if err != nil {
		return err
	}

	if !restart && e.HasRun() && settingsChanged(cmd, e, cands, settings, cfg.runOptions().Locked) {
		fmt.Fprintln(out, "Settings changed; starting a new run.")
		restart = true
	}

	if restart || !e.HasRun() {
		if _, err := e.Start(ctx, settings); err != nil {
			return err
		}
	}

	done, err := prompt(ctx, e, cmd.InOrStdin(), out)
	if err != nil {
		return err
	}
	if !done {
		fmt.Fprintln(out, "\nProgress saved. Run tierbox play again to continue.")

		return nil
	}

	renderRun(out, e.View())

	if !opts.push {
		return nil
	}

	return pushRun(ctx, cfg, syncer, e, out)
}

// settingsChanged reports whether an explicit --pool or --count asks for
// something other than the saved run.
func settingsChanged(cmd *cobra.Command, e *run.Engine, cands []catalog.Candidate, requested map[string]any, locked string) bool {
	current, ok := e.Settings()
	if !ok {
		return false
	}

	want := run.SanitizeSettings(requested, cands, locked)

	flags := cmd.Flags()

	return (flags.Changed("pool") && want.Pool != current.Pool) ||
		(flags.Changed("count") && want.Count != current.Count)
}

// prompt asks about candidates until the run is complete, the player quits
// or input runs out. It reports whether the run is complete.
func prompt(ctx context.Context, e *run.Engine, in io.Reader, out io.Writer) (bool, error) {
	scanner := bufio.NewScanner(in)

	reference := "the reference"
	if locked, ok := e.Locked(); ok {
		reference = locked.Name
	}

	for !e.IsComplete() {
		c, ok := e.Current()
		if !ok {
			break
		}

		fmt.Fprintf(out, "\n[%d left] %s\n", e.Remaining(), c.Name)
		if c.WikiSummary != "" {
			fmt.Fprintf(out, "  %s\n", shorten(c.WikiSummary, summaryWidth))
		}
		if c.Wiki != "" {
			fmt.Fprintf(out, "  %s\n", c.Wiki)
		}
		fmt.Fprintf(out, "Better or worse than %s? [b/w/q] ", reference)

		if !scanner.Scan() {
			return false, scanner.Err()
		}

		var bucket ledger.Bucket
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "b", "better":
			bucket = ledger.Better
		case "w", "worse":
			bucket = ledger.Worse
		case "q", "quit":
			return false, nil
		default:
			fmt.Fprintln(out, "Answer b, w or q.")
			continue
		}

		if _, err := e.DecideOn(ctx, c.ID, bucket); err != nil {
			return false, err
		}
	}

	return true, nil
}

func pushRun(ctx context.Context, cfg *Config, syncer *livetable.Syncer, e *run.Engine, out io.Writer) error {
	if syncer.Remote == nil {
		return errors.New("--push needs a live table --endpoint")
	}

	res, err := syncer.Load(ctx)
	if err != nil {
		return err
	}
	if res.Origin != livetable.OriginRemote {
		return fmt.Errorf("not pushing over a stale ledger: %s", res.Message)
	}

	now := time.Now()
	picks := e.SessionEntries(now)

	next := syncer.Update(ctx, func(t ledger.LiveTable) ledger.LiveTable {
		return ledger.Apply(t, picks, sessionMode, now)
	})
	syncer.Wait()

	if status, err := syncer.Status(); status == livetable.StatusError {
		return fmt.Errorf("unable to push results: %w", err)
	}

	logf(cfg, "PLAY: Pushed %d picks to %s", picks.Len(), cfg.endpoint)
	fmt.Fprintf(out, "Pushed %d picks; the live table now has %d better and %d worse.\n",
		picks.Len(), len(next.Better), len(next.Worse))

	return nil
}
