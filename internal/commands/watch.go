package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hale-app/hale/internal/app"
	"github.com/hale-app/hale/internal/loggy"
	"github.com/hale-app/hale/internal/utils"
)

// WatchCommand returns the CLI command that runs the background observers
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Watch for health data changes and sync them incrementally",
		Description: "Registers a change observer for every known record type and runs " +
			"an incremental background sync whenever the provider reports new data. " +
			"Runs until interrupted.",
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	utils.PrintHeading("Watching for health data changes")
	utils.PrintInfo("Press Ctrl+C to stop")
	loggy.Info("Starting background observers")

	if err := application.Observer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	utils.PrintInfo("Stopped")
	return nil
}
