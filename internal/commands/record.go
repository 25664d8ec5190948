package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tildaslashalef/shopsync/internal/records"
	"github.com/tildaslashalef/shopsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// RecordCommand returns the CLI command making local changes to records
func RecordCommand() *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Create, edit and delete local records",
		Description: "Changes are stored locally and queued; they reach the server on the next sync. " +
			"Entity types: " + strings.Join(entityTypeNames(), ", "),
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a record",
				ArgsUsage: "<type> <json>",
				Flags:     SessionFlags,
				Action:    recordAddAction,
			},
			{
				Name:      "edit",
				Usage:     "Merge changes into a record",
				ArgsUsage: "<type> <id> <json>",
				Flags:     SessionFlags,
				Action:    recordEditAction,
			},
			{
				Name:      "rm",
				Usage:     "Delete a record",
				ArgsUsage: "<type> <id>",
				Flags:     SessionFlags,
				Action:    recordRemoveAction,
			},
			{
				Name:      "list",
				Usage:     "List the local records of a type",
				ArgsUsage: "<type>",
				Flags:     SessionFlags,
				Action:    recordListAction,
			},
		},
	}
}

func recordAddAction(c *cli.Context) error {
	application, tenantID, _, err := session(c)
	if err != nil {
		return err
	}
	entityType, err := entityTypeArg(c, 0)
	if err != nil {
		return err
	}
	data, err := jsonArg(c, 1)
	if err != nil {
		return err
	}

	record, err := application.Writer(tenantID).Create(c.Context, entityType, data)
	if err != nil {
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Created %s %s", entityType, record.ID))
	return nil
}

func recordEditAction(c *cli.Context) error {
	application, tenantID, _, err := session(c)
	if err != nil {
		return err
	}
	entityType, err := entityTypeArg(c, 0)
	if err != nil {
		return err
	}
	id := c.Args().Get(1)
	if id == "" {
		return fmt.Errorf("missing record id")
	}
	changes, err := jsonArg(c, 2)
	if err != nil {
		return err
	}

	if _, err := application.Writer(tenantID).Update(c.Context, entityType, id, changes); err != nil {
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Updated %s %s", entityType, id))
	return nil
}

func recordRemoveAction(c *cli.Context) error {
	application, tenantID, _, err := session(c)
	if err != nil {
		return err
	}
	entityType, err := entityTypeArg(c, 0)
	if err != nil {
		return err
	}
	id := c.Args().Get(1)
	if id == "" {
		return fmt.Errorf("missing record id")
	}

	if err := application.Writer(tenantID).Delete(c.Context, entityType, id); err != nil {
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Deleted %s %s", entityType, id))
	return nil
}

func recordListAction(c *cli.Context) error {
	application, tenantID, _, err := session(c)
	if err != nil {
		return err
	}
	entityType, err := entityTypeArg(c, 0)
	if err != nil {
		return err
	}

	list, err := application.Store(tenantID).ListAll(c.Context, entityType)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(list))
	for _, r := range list {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", entityType, r.ID, err)
		}
		updated := r.UpdatedAt
		rows = append(rows, []string{r.ID, localState(r), utils.Truncate(string(data), 60), utils.FormatTime(&updated)})
	}

	utils.PrintTable(strings.ToUpper(entityType.String()[:1])+entityType.String()[1:], []string{"ID", "Local", "Data", "Updated"}, rows)
	return nil
}

func localState(r *records.Record) string {
	switch {
	case r.LocallyDeleted:
		return "deleted"
	case r.LocallyCreated:
		return "created"
	case r.IsDirty():
		return "modified"
	}
	return "synced"
}

func entityTypeNames() []string {
	names := make([]string, 0)
	for _, t := range records.AllEntityTypes() {
		names = append(names, t.String())
	}
	return names
}
