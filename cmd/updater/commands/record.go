package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect the partition record",
		Long: `Inspect the partition record and the failure log.

The partition record lists partitions already updated by an interrupted
run; a retry skips them. The failure log keeps the context of every failed
patch or hash check.`,
	}

	cmd.AddCommand(newRecordListCommand())
	cmd.AddCommand(newRecordClearCommand())
	cmd.AddCommand(newRecordFailuresCommand())
	return cmd
}

func newRecordListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List partitions recorded as updated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.ListUpdated(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PARTITION\tRUN\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Partition, e.RunID, e.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newRecordClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the partition record",
		Long: `Clear the partition record. A run without --retry clears it on start; use
this to drop the record of an attempt that will not be resumed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ClearRecord(ctx); err != nil {
				return err
			}
			log.Info().Str("db", cfg.RecordDB).Msg("Partition record cleared")
			return nil
		},
	}
}

func newRecordFailuresCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List recorded failures, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer store.Close()

			failures, err := store.ListFailures(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), failures)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tINSTRUCTION\tPARTITION\tSTAGE\tSTATUS\tMESSAGE")
			for _, f := range failures {
				msg := f.Message
				if f.CodecError != "" {
					msg += " (" + f.CodecError + ")"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					f.CreatedAt.Format(time.RFC3339), f.Instruction, f.Partition, f.Stage, f.Status, msg)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of failures (0 for all)")
	return cmd
}
