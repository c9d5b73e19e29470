package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hale-app/hale/internal/app"
	"github.com/hale-app/hale/internal/loggy"
	"github.com/hale-app/hale/internal/sync"
	"github.com/hale-app/hale/internal/utils"
)

// SyncCommand returns the CLI command for syncing health data to the server
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:        "sync",
		Usage:       "Sync health data with the Hale server",
		Description: "Pulls health records from the configured provider and uploads them to the Hale server in batches, resuming from the last stored anchors.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Discard stored anchors and replay all data from the start",
			},
			&cli.IntFlag{
				Name:  "months-back",
				Usage: "Lookback window in months for time-bounded record types (0 = since anchor)",
			},
		},
		Action: syncAction,
	}
}

func syncAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if application.Config.Server.URL == "" || application.Config.Server.Token == "" {
		return fmt.Errorf("sync is not configured: set HALE_SERVER_URL and HALE_SERVER_TOKEN")
	}

	opts := sync.Options{
		FullRefresh: c.Bool("full"),
		MonthsBack:  c.Int("months-back"),
	}
	if !c.IsSet("months-back") {
		opts.MonthsBack = application.Config.Sync.MonthsBack
	}

	loggy.Info("Starting manual sync", "full_refresh", opts.FullRefresh, "months_back", opts.MonthsBack)
	utils.PrintHeading("Syncing health data")

	result, err := application.Sync.SyncHealthData(c.Context, opts)
	if err != nil {
		if errors.Is(err, sync.ErrSyncInProgress) {
			utils.PrintWarning("A sync session is already running")
			return nil
		}
		utils.PrintError(fmt.Sprintf("Sync failed: %s", err))
		return fmt.Errorf("sync failed: %w", err)
	}

	utils.PrintKeyValue("Session", result.SessionID)
	utils.PrintKeyValue("Records", fmt.Sprintf("%d", result.TotalRecords))
	utils.PrintKeyValue("Duration", utils.FormatDuration(result.Duration))

	if result.Completed {
		utils.PrintSuccess("All record types synced")
		return nil
	}

	utils.PrintWarning("Some record types failed: " + strings.Join(result.FailedTypes, ", "))
	utils.PrintInfo("Failed windows are remembered and retried on the next sync")
	return nil
}
