package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/otaupdater/pkg/script"
)

var (
	// Global flags
	configPath string
	workDir    string
	recordDB   string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to a process exit code. Script failures
// exit with 10 plus their status so that callers can tell them apart.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *script.Error
	if errors.As(err, &se) {
		return 10 + int(se.Status)
	}
	return 1
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "updater",
		Short: "froyo OTA updater",
		Long: `updater applies over-the-air update packages to device partitions.

An update package is a zip archive holding Starlark update scripts and
binary patches. Scripts call instructions such as image_patch and
image_sha_check; every partition write is verified by hash and recorded so
that an interrupted update can be resumed with --retry.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (CUE or YAML)")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", "", "work directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&recordDB, "db", "", "partition record database (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newCheckCommand(version))
	rootCmd.AddCommand(newRecordCommand())
	rootCmd.AddCommand(newInstructionsCommand(version))
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
