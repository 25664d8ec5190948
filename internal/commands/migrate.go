package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tildaslashalef/shopsync/internal/database"
	"github.com/tildaslashalef/shopsync/internal/migrations"
	"github.com/tildaslashalef/shopsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// MigrateCommand returns the CLI command for database migrations
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Manage database migrations",
		Hidden: true,
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(c *cli.Context) error {
					utils.PrintInfo("Applying embedded migrations")

					applied, err := database.RunMigrations()
					if err != nil {
						utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
						return fmt.Errorf("failed to apply migrations: %w", err)
					}

					if applied > 0 {
						utils.PrintSuccess(fmt.Sprintf("Applied %d migration(s) successfully!", applied))
					} else {
						utils.PrintSuccess("Database schema is already up-to-date")
					}
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "Revert the last migration",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "Number of migrations to revert",
						Value: 1,
					},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					if steps < 1 {
						return fmt.Errorf("steps must be at least 1")
					}

					utils.PrintWarning(fmt.Sprintf("Reverting %d embedded migration(s), unsynced local changes in dropped tables are lost", steps))

					if err := database.RevertMigrations(steps); err != nil {
						utils.PrintError(fmt.Sprintf("Failed to revert migrations: %s", err))
						return fmt.Errorf("failed to revert migrations: %w", err)
					}

					utils.PrintSuccess("Migration(s) reverted successfully!")
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "Show the current schema version",
				Action: func(c *cli.Context) error {
					version, dirty, err := database.Version()
					if err != nil {
						return fmt.Errorf("failed to read schema version: %w", err)
					}

					utils.PrintKeyValue("Schema version", fmt.Sprintf("%d", version))
					if dirty {
						utils.PrintWarning("The last migration failed half way, fix the schema and force a version")
					}

					files, err := migrations.Files()
					if err != nil {
						return fmt.Errorf("failed to list migrations: %w", err)
					}
					rows := make([][]string, 0, len(files))
					for _, name := range files {
						if !strings.HasSuffix(name, ".up.sql") {
							continue
						}
						rows = append(rows, []string{name, migrationState(name, version)})
					}
					utils.PrintTable("Migrations", []string{"File", "State"}, rows)
					return nil
				},
			},
		},
	}
}

// migrationState reports whether the numbered migration file is at or below the schema version
func migrationState(name string, version uint) string {
	prefix, _, _ := strings.Cut(name, "_")
	n, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return "unknown"
	}
	if uint(n) <= version {
		return "applied"
	}
	return "pending"
}
