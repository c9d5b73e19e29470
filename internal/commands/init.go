// Package commands implements the Hale CLI commands.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/hale-app/hale/internal/config"
	"github.com/hale-app/hale/internal/database"
	"github.com/hale-app/hale/internal/utils"
)

// InitCommand returns the CLI command for initializing Hale
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the Hale environment",
		Description: "Sets up the Hale environment including the configuration directory " +
			"and the local state database. Use this command for first-time setup or to " +
			"update your database schema after upgrading Hale.",
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing Hale")

			homeDir, err := os.UserHomeDir()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to get user home directory: %s", err))
				return fmt.Errorf("failed to get user home directory: %w", err)
			}

			configDir := filepath.Join(homeDir, ".hale")
			utils.PrintInfo("Configuration directory: " + color.YellowString("%s", configDir))

			cfg, err := config.LoadFromEnv(configDir, "")
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			utils.PrintInfo("Initializing database...")
			if err := database.InitDB(cfg); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
				return fmt.Errorf("failed to initialize database: %w", err)
			}

			utils.PrintInfo("Applying database migrations...")
			applied, err := database.RunMigrations()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			utils.PrintSuccess("Hale initialized successfully!")
			if applied > 0 {
				utils.PrintSuccess(fmt.Sprintf("Applied %d new migration(s)", applied))
			} else {
				utils.PrintInfo("Database schema is already up-to-date")
			}

			utils.PrintKeyValue("Database", cfg.Database.Path)
			utils.PrintKeyValue("Device name", cfg.Server.DeviceName)
			utils.PrintKeyValue("Health export", cfg.Provider.ExportPath)
			fmt.Println("")
			utils.PrintInfo("Set " + color.CyanString("HALE_SERVER_URL") + " and " +
				color.CyanString("HALE_SERVER_TOKEN") + " in " + configDir + "/.env, then run " +
				color.CyanString("hale sync") + ".")

			return nil
		},
	}
}
