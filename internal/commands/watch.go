package commands

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tildaslashalef/shopsync/internal/commands/watch"
	"github.com/urfave/cli/v2"
)

// WatchCommand returns the CLI command running the engine in the foreground
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Keep syncing in the background and show live status",
		Description: "Starts the sync engine: a full sync on startup and after reconnecting, " +
			"pending changes pushed periodically. Quit with q.",
		Flags: SessionFlags,
		Action: func(c *cli.Context) error {
			application, tenantID, err := startEngine(c, true)
			if err != nil {
				return err
			}

			model := watch.NewModel(c.Context, application.Engine, tenantID, application.Config.Server.DeviceName)
			defer model.Close()

			if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(c.Context)).Run(); err != nil {
				return fmt.Errorf("error running watch UI: %w", err)
			}
			return nil
		},
	}
}
