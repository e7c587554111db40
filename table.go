/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Seednode/tierbox/ledger"
	"github.com/Seednode/tierbox/livetable"
)

func newTableCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	var (
		history bool
		asJSON  bool
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "table",
		Short: "Show the live table, falling back to the cached copy when the store is unreachable.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if watch {
				return watchTable(cmd, cfg, out, history, asJSON)
			}

			store, err := cfg.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := newSyncer(cfg, store).Load(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				return writeTableJSON(out, res.Table)
			}

			reportLoad(out, res)
			renderLedger(out, res.Table, history)

			return nil
		},
	}

	fs := cmd.Flags()
	normalizeFlags(fs)

	fs.BoolVar(&history, "history", false, "include the change history (env: TIERBOX_HISTORY)")
	fs.BoolVar(&asJSON, "json", false, "print the sanitized ledger as JSON (env: TIERBOX_JSON)")
	fs.BoolVar(&watch, "watch", false, "keep printing the ledger as the store saves it (env: TIERBOX_WATCH)")
	addClientFlags(cfg, fs)

	bindEnv(v, fs)

	return cmd
}

func writeTableJSON(w io.Writer, lt ledger.LiveTable) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(lt)
}

// watchTable prints every ledger the store broadcasts until the command's
// context is cancelled.
func watchTable(cmd *cobra.Command, cfg *Config, out io.Writer, history, asJSON bool) error {
	if cfg.endpoint == "" {
		return errors.New("--watch needs a live table --endpoint")
	}

	client := livetable.NewClient(cfg.endpoint, cfg.token, cfg.httpClient(), cfg.logger())

	var err error
	watchErr := client.Watch(cmd.Context(), func(lt ledger.LiveTable) {
		if err != nil {
			return
		}

		if asJSON {
			err = writeTableJSON(out, lt)

			return
		}

		renderLedger(out, lt, history)
	})

	return errors.Join(watchErr, err)
}
