package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/sync"
	"github.com/tildaslashalef/shopsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// StatusCommand returns the CLI command summarizing the sync state of a tenant
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show pending changes, connectivity and recent sync runs",
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:  "runs",
				Usage: "Number of recent sync runs to show",
				Value: 10,
			},
		}, SessionFlags...),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	application, tenantID, _, err := session(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	cfg := application.Config

	pending, err := application.Queue(tenantID).Count(ctx)
	if err != nil {
		return fmt.Errorf("counting pending changes: %w", err)
	}
	exhausted, err := application.Queue(tenantID).CountExhausted(ctx, cfg.Sync.MaxRetryCount)
	if err != nil {
		return fmt.Errorf("counting exhausted changes: %w", err)
	}
	dirty, err := application.Store(tenantID).CountDirty(ctx)
	if err != nil {
		return fmt.Errorf("counting unsynced records: %w", err)
	}

	latest, err := application.Logs.GetLatestSyncLog(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("loading last sync run: %w", err)
	}

	utils.PrintHeading("Sync Status")
	utils.PrintKeyValue("Tenant", tenantID)
	utils.PrintKeyValue("Device", cfg.Server.DeviceName)
	utils.PrintKeyValue("Server", cfg.Server.URL)
	utils.PrintKeyValue("Connection", connection(ctx, application.Remote, cfg.Server.Enabled))
	utils.PrintKeyValue("Last sync", lastSync(latest))
	utils.PrintKeyValue("Pending changes", fmt.Sprintf("%d", pending))
	utils.PrintKeyValue("Unsynced records", fmt.Sprintf("%d", dirty))
	if exhausted > 0 {
		utils.PrintKeyValueWithColor("Past retry limit", fmt.Sprintf("%d (see 'shopsync queue list')", exhausted), utils.Theme.Error)
	}
	fmt.Fprintln(utils.Output)

	logs, err := application.Logs.GetSyncLogs(ctx, tenantID, c.Int("runs"), 0)
	if err != nil {
		return fmt.Errorf("loading sync runs: %w", err)
	}

	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		completed := l.CompletedAt
		rows = append(rows, []string{
			utils.FormatTime(&completed),
			string(l.SyncType),
			formatSuccess(l.Success),
			fmt.Sprintf("%d", l.Pushed),
			fmt.Sprintf("%d", l.Failed),
			fmt.Sprintf("%d", l.Pulled),
			l.Duration().Round(time.Millisecond).String(),
			utils.Truncate(l.ErrorMessage, 48),
		})
	}
	utils.PrintTable("Recent Sync Runs", []string{"Completed", "Trigger", "Result", "Pushed", "Failed", "Pulled", "Took", "Error"}, rows)

	return nil
}

func connection(ctx context.Context, pinger sync.Pinger, enabled bool) string {
	if !enabled {
		return color.YellowString("disabled")
	}
	if sync.NewHTTPProbe(pinger, 0, true, loggy.GetGlobalLogger()).Online(ctx) {
		return color.GreenString("online")
	}
	return color.RedString("offline")
}

func lastSync(l *sync.SyncLog) string {
	if l == nil {
		return "never"
	}
	completed := l.CompletedAt
	return utils.FormatTime(&completed) + " " + formatSuccess(l.Success)
}

func formatSuccess(ok bool) string {
	if ok {
		return color.GreenString("✓ ok")
	}
	return color.RedString("✗ failed")
}
