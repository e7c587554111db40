/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Seednode/tierbox/ledger"
	"github.com/Seednode/tierbox/livetable"
)

const manualMode = "manual entry"

func newAddCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	var (
		bucket string
		id     string
		note   string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or replace a single entry on the live table.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			b := ledger.Bucket(strings.ToLower(bucket))
			if !b.Valid() {
				return fmt.Errorf("invalid bucket (must be better or worse): %q", bucket)
			}

			name := strings.TrimSpace(strings.Join(args, " "))
			if name == "" {
				return errors.New("a name is required")
			}

			store, err := cfg.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			syncer := newSyncer(cfg, store)

			res, err := syncer.Load(ctx)
			if err != nil {
				return err
			}
			reportLoad(out, res)

			now := time.Now()

			var picks ledger.Session
			picks.Add(b, ledger.Entry{
				ID:      strings.TrimSpace(id),
				Name:    name,
				Note:    note,
				AddedAt: now.UnixMilli(),
				Source:  ledger.SourceManual,
			})

			next := syncer.Update(ctx, func(t ledger.LiveTable) ledger.LiveTable {
				return ledger.Apply(t, picks, manualMode, now)
			})
			syncer.Wait()

			status, err := syncer.Status()
			if status == livetable.StatusError {
				return fmt.Errorf("saved locally but unable to update the live table: %w", err)
			}

			logf(cfg, "ADD: %s to %s (%s)", name, b, status)
			fmt.Fprintf(out, "Added %s to %s; %d better and %d worse.\n", name, b, len(next.Better), len(next.Worse))

			return nil
		},
	}

	fs := cmd.Flags()
	normalizeFlags(fs)

	fs.StringVar(&bucket, "bucket", string(ledger.Better), "bucket to add to: better or worse (env: TIERBOX_BUCKET)")
	fs.StringVar(&id, "id", "", "catalog id of the entry, if it has one (env: TIERBOX_ID)")
	fs.StringVar(&note, "note", "", "free-text note (env: TIERBOX_NOTE)")
	addClientFlags(cfg, fs)

	bindEnv(v, fs)

	return cmd
}
