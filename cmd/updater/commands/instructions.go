package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInstructionsCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "instructions",
		Short: "List registered instructions",
		Long: `List the instructions available to update scripts. Built-in instructions
are marked reserved; a configured plugin library contributes the rest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			s, err := newSession(ctx, cfg, version, "", nil, true)
			if err != nil {
				return err
			}
			defer s.close(ctx, nil)

			type entry struct {
				Name     string `json:"name"`
				Reserved bool   `json:"reserved"`
			}
			helper := s.u.Helper()
			var entries []entry
			for _, name := range helper.Names() {
				entries = append(entries, entry{Name: name, Reserved: helper.IsReservedInstruction(name)})
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			for _, e := range entries {
				if e.Reserved {
					fmt.Fprintf(cmd.OutOrStdout(), "%s (reserved)\n", e.Name)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), e.Name)
				}
			}
			return nil
		},
	}
}
