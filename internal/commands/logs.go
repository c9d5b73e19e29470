package commands

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hale-app/hale/internal/app"
	"github.com/hale-app/hale/internal/utils"
)

// LogsCommand returns the CLI command for inspecting sync history
func LogsCommand() *cli.Command {
	return &cli.Command{
		Name:        "logs",
		Usage:       "Show recent sync attempts",
		Description: "Displays the recorded sync attempts per record type, most recent first.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Filter by record type (e.g. workout, numericSample)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of rows to show",
				Value:   20,
			},
		},
		Action: logsAction,
	}
}

func logsAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	logs, err := application.SyncLogs.GetSyncLogs(c.Context, c.String("type"), c.Int("limit"), 0)
	if err != nil {
		return fmt.Errorf("fetching sync logs: %w", err)
	}
	if len(logs) == 0 {
		utils.PrintInfo("No sync attempts recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		status := "ok"
		detail := fmt.Sprintf("%d records", l.ItemsSynced)
		if !l.Success {
			status = string(l.ErrorType)
			detail = utils.Truncate(l.ErrorMessage, 48)
		}

		window := "-"
		if l.WindowStart != nil {
			window = l.WindowStart.Format("2006-01-02")
		}

		rows = append(rows, []string{
			l.CompletedAt.Format(time.RFC3339),
			string(l.Context),
			l.RecordType,
			status,
			window,
			detail,
		})
	}

	utils.PrintTable("Sync History",
		[]string{"Completed", "Context", "Type", "Status", "Window", "Detail"},
		rows)
	return nil
}
