package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// SyncCommand returns the CLI command for syncing with the server
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Push pending changes, then pull the server's records",
		Description: "Runs one full sync: every queued local change is sent to the server, " +
			"then each entity type is downloaded. Records with unsynced local changes are never overwritten.",
		Flags:  SessionFlags,
		Action: syncAction,
		Subcommands: []*cli.Command{
			{
				Name:   "push",
				Usage:  "Push pending changes only",
				Flags:  SessionFlags,
				Action: pushAction,
			},
		},
	}
}

func syncAction(c *cli.Context) error {
	application, tenantID, err := startEngine(c, false)
	if err != nil {
		return err
	}

	if status := application.Engine.Status(); !status.Online {
		loggy.Warn("Server unreachable, skipping manual sync", "tenant_id", tenantID, "pending", status.PendingCount)
		utils.PrintWarning(fmt.Sprintf("Server unreachable, %d change(s) stay queued", status.PendingCount))
		return nil
	}

	loggy.Info("Starting manual sync", "tenant_id", tenantID)
	result := application.Engine.PerformFullSync(c.Context)
	status := application.Engine.Status()

	if !result.Success {
		utils.PrintError("Sync did not complete")
		printLastError(status.LastError)
		return fmt.Errorf("sync failed")
	}

	utils.PrintSuccess(fmt.Sprintf("Pushed %s, pulled %s",
		color.GreenString("%d", result.Pushed),
		color.GreenString("%d", result.Pulled)))
	printPending(status.PendingCount)
	printLastError(status.LastError)
	return nil
}

func pushAction(c *cli.Context) error {
	application, tenantID, err := startEngine(c, false)
	if err != nil {
		return err
	}

	if status := application.Engine.Status(); !status.Online {
		loggy.Warn("Server unreachable, skipping manual push", "tenant_id", tenantID, "pending", status.PendingCount)
		utils.PrintWarning(fmt.Sprintf("Server unreachable, %d change(s) stay queued", status.PendingCount))
		return nil
	}

	result := application.Engine.SyncPendingChanges(c.Context)
	status := application.Engine.Status()

	if !result.Success {
		utils.PrintError("Push did not complete")
		printLastError(status.LastError)
		return fmt.Errorf("push failed")
	}

	failed := color.GreenString("%d", result.Failed)
	if result.Failed > 0 {
		failed = color.RedString("%d", result.Failed)
	}
	utils.PrintSuccess(fmt.Sprintf("Synced %s, failed %s", color.GreenString("%d", result.Synced), failed))
	printPending(status.PendingCount)
	printLastError(status.LastError)
	return nil
}

func printPending(n int) {
	if n > 0 {
		utils.PrintInfo(fmt.Sprintf("%s change(s) still queued", color.YellowString("%d", n)))
	}
}

func printLastError(msg string) {
	if msg != "" {
		utils.PrintWarning("Last error: " + color.RedString("%s", msg))
	}
}
