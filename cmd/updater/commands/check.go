package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/otaupdater/pkg/script"
)

func newCheckCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <partition> <srcSize> <srcHash>",
		Short: "Verify a partition's content hash",
		Long: `Run image_sha_check against a partition.

The first srcSize bytes of the partition's device are hashed with SHA-256
and compared with srcHash. A mismatch is recorded in the failure log.`,
		Example: `  updater check system 1048576 3A7BD3E2360A3D29EEA436FCFB7E44C735D117C42D1C1835420B6B9942DD4F1B`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Retry = false

			s, err := newSession(ctx, cfg, version, "", nil, true)
			if err != nil {
				return err
			}

			_, runErr := s.u.Execute(ctx, script.NameImageShaCheck,
				script.StringValue(args[0]),
				script.StringValue(args[1]),
				script.StringValue(args[2]),
				script.IntegerValue(0),
				script.StringValue(""))
			s.close(ctx, runErr)

			status := script.StatusOf(runErr)
			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), map[string]string{
					"partition": args[0],
					"status":    status.String(),
				}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], status)
			}
			return runErr
		},
	}
	return cmd
}
