package commands

import (
	"fmt"
	"strings"

	"github.com/tildaslashalef/shopsync/internal/app"
	"github.com/tildaslashalef/shopsync/internal/config"
	"github.com/tildaslashalef/shopsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// ConfigCommand returns the CLI command managing the configuration
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage shopsync configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a sample .env to the config directory",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Replace an existing .env after backing it up",
					},
				},
				Action: configInitAction,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: configShowAction,
			},
			{
				Name:        "set",
				Usage:       "Store a setting in the database",
				ArgsUsage:   "<key> <value>",
				Description: "Keys: " + strings.Join(config.SettingKeys, ", "),
				Action:      configSetAction,
			},
		},
	}
}

func configInitAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	path, err := config.SetupConfigDirectory(application.Config.ConfigDir(), c.Bool("force"))
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to write config: %s", err))
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Configuration file ready at %s", path))
	return nil
}

func configShowAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	cfg := application.Config

	utils.PrintHeading("Server")
	utils.PrintKeyValue("Enabled", fmt.Sprintf("%t", cfg.Server.Enabled))
	utils.PrintKeyValue("URL", cfg.Server.URL)
	utils.PrintKeyValue("Token", maskToken(cfg.Server.Token))
	utils.PrintKeyValue("Device", cfg.Server.DeviceName)
	utils.PrintKeyValue("Timeout", cfg.Server.Timeout.String())

	utils.PrintHeading("Sync")
	utils.PrintKeyValue("Tenant", orDash(cfg.Session.TenantID))
	utils.PrintKeyValue("User", orDash(cfg.Session.UserID))
	utils.PrintKeyValue("Standalone", fmt.Sprintf("%t", cfg.Sync.Standalone))
	utils.PrintKeyValue("Interval", cfg.Sync.Interval.String())
	utils.PrintKeyValue("Batch size", fmt.Sprintf("%d", cfg.Sync.BatchSize))
	utils.PrintKeyValue("Max retries", fmt.Sprintf("%d", cfg.Sync.MaxRetryCount))

	utils.PrintHeading("Storage")
	utils.PrintKeyValue("Config dir", cfg.ConfigDir())
	utils.PrintKeyValue("Database", cfg.Database.Path)
	utils.PrintKeyValue("Log level", cfg.Logging.Level)
	utils.PrintKeyValue("Log output", cfg.Logging.Output)
	return nil
}

func configSetAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if c.NArg() != 2 {
		return fmt.Errorf("expected <key> <value>, keys: %s", strings.Join(config.SettingKeys, ", "))
	}

	key, value := c.Args().Get(0), c.Args().Get(1)
	if err := application.Settings.Set(c.Context, key, value); err != nil {
		return err
	}

	if key == config.KeyServerToken {
		value = maskToken(value)
	}
	utils.PrintSuccess(fmt.Sprintf("%s = %s", key, value))
	return nil
}

// maskToken keeps the last four characters of a secret
func maskToken(token string) string {
	if token == "" {
		return "-"
	}
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", 8) + token[len(token)-4:]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
