// Package main implements the updater UI process. It reads the updater's
// JSON-line message stream and renders progress and printed lines.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var input string
	var quiet bool

	cmd := &cobra.Command{
		Use:     "updater-ui",
		Short:   "Render updater progress",
		Version: version,
		Long: `updater-ui reads the message stream written by "updater run --ui-out" and
renders the progress bar and printed lines. It exits with status 0 when the
run succeeded and 1 otherwise.`,
		Example: `  mkfifo /tmp/updater-ui
  updater-ui --in /tmp/updater-ui &
  updater run update.zip --ui-out /tmp/updater-ui`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer f.Close()
				r = f
			}

			ui := newRenderer(cmd.OutOrStdout(), quiet)
			return ui.Consume(r)
		},
	}
	cmd.Flags().StringVarP(&input, "in", "i", "-", "message stream: - for stdin, or a file/fifo path")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print lines only, without the progress bar")

	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Update failed")
		os.Exit(1)
	}
}
