package internal

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/sccmavenger/avenger-updater/internal/controller"
	"github.com/sccmavenger/avenger-updater/internal/errs"
	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/notifier"
	"github.com/sccmavenger/avenger-updater/internal/version"
)

func NewApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Download and stage the latest release, then exit for the swap",
		Long: `Run the full update pipeline: check, compute the delta, download and
verify the changed files, snapshot what will be touched, and launch the swap
helper. On success this process must exit so the helper can replace files.

Examples:
  avenger-updater apply --yes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, _ := cmd.Flags().GetBool("yes")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctrl := controller.New(cfg, version.Version, nil, nil)
			ctx := cmd.Context()

			res, err := ctrl.CheckForUpdate(ctx, true)
			if errors.Is(err, controller.ErrInFlight) {
				logger.Info("update pipeline busy: %s", ctrl.Status().Stage)
				return nil
			}
			if err != nil {
				logger.LogError("%s", errs.UserMessage(err))
				return err
			}
			if !res.UpdateAvailable {
				logger.Info("%s", errs.Msg(errs.NoNewerRelease))
				return nil
			}

			printDeltaTable(cfg, res.Manifest)
			if !yes {
				logger.Warn("re-run with --yes to download and stage version %s", res.LatestVersion)
				return nil
			}

			logger.Info("downloading version %s", res.LatestVersion)
			if err := ctrl.Download(ctx); err != nil {
				logger.LogError("%s", errs.UserMessage(err))
				return err
			}

			if err := ctrl.ScheduleApply(ctx); err != nil {
				logger.LogError("%s", errs.UserMessage(err))
				return err
			}

			notifier.DisplayRestartToApply(res.LatestVersion)
			logger.Success("update staged; exiting so the helper can apply it")
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "Proceed without confirmation")
	return cmd
}
