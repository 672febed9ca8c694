package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/otaupdater/pkg/pkgreader"
	"github.com/openfroyo/otaupdater/pkg/updater"
)

func newRunCommand(version string) *cobra.Command {
	var (
		retry              bool
		uiOut              string
		plugin             string
		pluginInstructions []string
		scripts            []string
	)

	cmd := &cobra.Command{
		Use:   "run <package.zip>",
		Short: "Apply an update package",
		Long: `Apply an update package.

The package's updater-script runs at priority 0. Additional package scripts
may be queued with --script name:priority; lower priorities run first.
Partitions already recorded as updated are skipped when --retry is set.`,
		Example: `  # Apply an update
  updater run /cache/update.zip

  # Resume an interrupted update, streaming UI messages to a fifo
  updater run /cache/update.zip --retry --ui-out /tmp/updater-ui

  # Load a vendor instruction from a WASM library
  updater run update.zip --plugin /system/lib/updater/vendor.wasm --plugin-instruction vendor_check`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("retry") {
				cfg.Retry = retry
			}
			if uiOut == "" {
				uiOut = cfg.UI.Output
			}
			if plugin != "" {
				cfg.Plugins.Library = plugin
			}
			if len(pluginInstructions) > 0 {
				cfg.Plugins.Instructions = pluginInstructions
			}
			if cfg.Plugins.Library != "" && len(cfg.Plugins.Instructions) == 0 {
				return fmt.Errorf("--plugin requires at least one --plugin-instruction")
			}

			reader, err := pkgreader.Open(args[0], log.Logger)
			if err != nil {
				return err
			}
			defer reader.Close()

			s, err := newSession(ctx, cfg, version, uiOut, reader, false)
			if err != nil {
				return err
			}

			runErr := func() error {
				if err := s.u.AddScript(updater.DefaultScript, 0); err != nil {
					return err
				}
				for _, v := range scripts {
					name, prio, err := parseScriptFlag(v)
					if err != nil {
						return err
					}
					if err := s.u.AddScript(name, prio); err != nil {
						return err
					}
				}

				log.Info().
					Str("package", args[0]).
					Str("run_id", s.u.RunID()).
					Bool("retry", cfg.Retry).
					Msg("Applying update")
				return s.u.Run(ctx)
			}()

			s.close(ctx, runErr)
			if runErr != nil {
				return runErr
			}
			log.Info().Str("run_id", s.u.RunID()).Msg("Update applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&retry, "retry", false, "resume an interrupted update")
	cmd.Flags().StringVar(&uiOut, "ui-out", "", "UI message stream: - for stdout, or a file/fifo path")
	cmd.Flags().StringVar(&plugin, "plugin", "", "external instruction library (.wasm)")
	cmd.Flags().StringSliceVar(&pluginInstructions, "plugin-instruction", nil, "instruction to load from --plugin")
	cmd.Flags().StringSliceVar(&scripts, "script", nil, "additional package script (name:priority)")

	return cmd
}
