package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/tildaslashalef/shopsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// QueueCommand returns the CLI command inspecting the sync queue
func QueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect and manage queued local changes",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List queued changes in the order they will be pushed",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of items to show (0 for all)",
						Value: 50,
					},
				}, SessionFlags...),
				Action: queueListAction,
			},
			{
				Name:        "retry",
				Usage:       "Reset retry counters of failed changes",
				Description: "Failed changes are retried on every sync anyway; this clears their counters and last errors.",
				Flags:       SessionFlags,
				Action:      queueRetryAction,
			},
		},
	}
}

func queueListAction(c *cli.Context) error {
	application, tenantID, _, err := session(c)
	if err != nil {
		return err
	}

	items, err := application.Queue(tenantID).GetPending(c.Context, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("reading sync queue: %w", err)
	}

	threshold := application.Config.Sync.MaxRetryCount
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		retries := fmt.Sprintf("%d", item.RetryCount)
		if item.Exhausted(threshold) {
			retries = color.RedString("%d", item.RetryCount)
		}
		enqueued := item.EnqueuedAt
		rows = append(rows, []string{
			item.ID,
			string(item.Operation),
			string(item.EntityType),
			item.RecordID,
			retries,
			utils.Truncate(item.LastError, 48),
			utils.FormatTime(&enqueued),
		})
	}

	utils.PrintTable("Sync Queue", []string{"ID", "Operation", "Type", "Record", "Retries", "Last Error", "Queued"}, rows)
	return nil
}

func queueRetryAction(c *cli.Context) error {
	application, tenantID, _, err := session(c)
	if err != nil {
		return err
	}

	n, err := application.Queue(tenantID).ResetRetries(c.Context)
	if err != nil {
		return fmt.Errorf("resetting retries: %w", err)
	}

	utils.PrintSuccess(fmt.Sprintf("Reset %d queued change(s)", n))
	return nil
}
