package internal

import (
	"github.com/spf13/cobra"

	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/version"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "avenger-updater",
		Short: "Update engine for the Avenger dashboard client",
		Long: `avenger-updater discovers whether a newer release of the Avenger dashboard
client exists, downloads and verifies only the files that changed, and swaps
them into the live installation without corrupting a working install.`,
		Example: `avenger-updater check`,
		Run: func(cmd *cobra.Command, _ []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				version.Print()
				return
			}
			_ = cmd.Help()
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level, _ := cmd.Flags().GetString("log-level")
			logger.Configure(logger.Options{Level: level})
		},
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.Flags().BoolP("version", "v", false, "Print version information")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("install-dir", "", "Override the install directory")
	cmd.PersistentFlags().String("data-dir", "", "Override the per-user data directory")

	RegisterSubCommands(cmd)

	return cmd
}

func Execute() error {
	root := NewRootCmd()

	if err := root.Execute(); err != nil {
		logger.Debug("command failed: %v", err)
		return err
	}
	return nil
}
