package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sajjad-MoBe/kvlog/internal/telemetry"
)

func newPutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd, opts, args[0], args[1])
		},
	}
}

func runPut(cmd *cobra.Command, opts *options, key, value string) error {
	return opts.withStore(cmd, func(ctx context.Context, store *telemetry.InstrumentedStore) error {
		if err := store.Put(ctx, key, []byte(value)); err != nil {
			return fmt.Errorf("put %q: %w", key, err)
		}
		opts.logger.Info("stored %q (%d bytes)", key, len(value))
		return nil
	})
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return opts.withStore(cmd, func(ctx context.Context, store *telemetry.InstrumentedStore) error {
				value, ok := store.Get(ctx, key)
				if !ok {
					return fmt.Errorf("key not found: %q", key)
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), string(value))
				return err
			})
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"del", "rm"},
		Short:   "Remove a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return opts.withStore(cmd, func(ctx context.Context, store *telemetry.InstrumentedStore) error {
				existed, err := store.Delete(ctx, key)
				if err != nil {
					return fmt.Errorf("delete %q: %w", key, err)
				}
				if existed {
					opts.logger.Info("deleted %q", key)
				} else {
					opts.logger.Warn("key %q did not exist", key)
				}
				return nil
			})
		},
	}
}

func newCompactCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the log so it holds only live keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store *telemetry.InstrumentedStore) error {
				if err := store.Compact(ctx); err != nil {
					return fmt.Errorf("compact: %w", err)
				}
				opts.logger.Info("compaction finished")
				return nil
			})
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show key count and log size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store *telemetry.InstrumentedStore) error {
				sm := store.Stats()
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "path\t%s\n", opts.dbPath)
				fmt.Fprintf(w, "keys\t%d\n", sm.TotalKeys)
				fmt.Fprintf(w, "live bytes\t%d\n", sm.LiveBytes)
				fmt.Fprintf(w, "log bytes\t%d\n", sm.LogSize)
				fmt.Fprintf(w, "replayed records\t%d\n", sm.ReplayedRecords)
				fmt.Fprintf(w, "dropped tail bytes\t%d\n", sm.TornBytes)
				return w.Flush()
			})
		},
	}
}
