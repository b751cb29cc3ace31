package internal

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sccmavenger/avenger-updater/internal/config"
	"github.com/sccmavenger/avenger-updater/internal/controller"
	"github.com/sccmavenger/avenger-updater/internal/errs"
	"github.com/sccmavenger/avenger-updater/internal/logger"
	"github.com/sccmavenger/avenger-updater/internal/manifest"
	"github.com/sccmavenger/avenger-updater/internal/notifier"
	"github.com/sccmavenger/avenger-updater/internal/planner"
	"github.com/sccmavenger/avenger-updater/internal/state"
	"github.com/sccmavenger/avenger-updater/internal/utils"
	"github.com/sccmavenger/avenger-updater/internal/version"
)

func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a newer release is available",
		Long: `Check the release source for a version newer than the one installed.

A check run from this command is user-triggered and always performs a live
network check; it is never satisfied from the cached result.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctrl := controller.New(cfg, version.Version, nil, nil)

			res, err := ctrl.CheckForUpdate(cmd.Context(), true)
			if errors.Is(err, controller.ErrInFlight) {
				st := ctrl.Status()
				logger.Info("update pipeline busy: %s", st.Stage)
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
			notifier.DisplayUpdateAvailable(res.CurrentVersion, res.LatestVersion)
			return nil
		},
	}
	return cmd
}

// printDeltaTable renders what an apply would transfer and remove.
func printDeltaTable(cfg *config.Config, remote *manifest.Manifest) {
	local, err := state.LoadLocalManifest(cfg.LocalManifestPath(), cfg.SizeEpsilon)
	if err != nil {
		logger.Debug("local manifest unreadable: %v", err)
	}

	plan, err := planner.Plan(remote, local)
	if err != nil {
		logger.Debug("could not compute delta preview: %v", err)
		return
	}

	table := logger.CreateTable([]string{"Action", "File", "Size", "Critical"})
	for _, e := range plan.ToDownload {
		critical := ""
		if e.IsCritical {
			critical = "yes"
		}
		if err := table.Append([]string{"download", e.RelativePath, utils.HumanSize(e.Size), critical}); err != nil {
			logger.LogError("Error appending to table: %v", err)
			return
		}
	}
	for _, p := range plan.ToDelete {
		if err := table.Append([]string{"delete", p, "", ""}); err != nil {
			logger.LogError("Error appending to table: %v", err)
			return
		}
	}
	if err := table.Render(); err != nil {
		logger.LogError("Error rendering table: %v", err)
		return
	}

	fmt.Printf("Total transfer: %s in %d files\n",
		utils.HumanSize(plan.BytesToTransfer()), len(plan.ToDownload))
}

// loadConfig builds the effective configuration with CLI-flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var opts []config.Option
	if dir, _ := cmd.Flags().GetString("install-dir"); dir != "" {
		opts = append(opts, config.WithInstallDir(dir))
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		opts = append(opts, config.WithDataDir(dir))
	}
	return config.Load(opts...)
}
