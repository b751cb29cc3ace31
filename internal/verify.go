package internal

import (
	"github.com/spf13/cobra"

	"github.com/sccmavenger/avenger-updater/internal/applier"
	"github.com/sccmavenger/avenger-updater/internal/controller"
	"github.com/sccmavenger/avenger-updater/internal/errs"
	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/version"
)

func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the installed files after an update (run at startup)",
		Long: `Re-hash the installed files against the cached manifest. If any critical
file fails verification the most recent backup is restored automatically.
The relaunched application runs this on its first startup after an update.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctrl := controller.New(cfg, version.Version, nil, nil)

			st, err := ctrl.VerifyStartup(cmd.Context())
			switch st {
			case applier.Idle:
				logger.Info("no staged update to verify")
				return nil
			case applier.Completed:
				logger.Success("installation verified; running version %s", version.Version)
				return nil
			case applier.RolledBackOk:
				logger.Warn("update failed verification; rolled back, still running version %s", version.Version)
				return nil
			case applier.RollbackFailed:
				logger.LogError("%s", errs.Msg(errs.RollbackFailed))
				return err
			default:
				return err
			}
		},
	}
	return cmd
}
