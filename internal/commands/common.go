// Package commands implements the shopsync CLI commands
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tildaslashalef/shopsync/internal/app"
	"github.com/tildaslashalef/shopsync/internal/records"
	"github.com/tildaslashalef/shopsync/internal/sync"
	"github.com/urfave/cli/v2"
)

// SessionFlags select the tenant and user; they override the stored settings
var SessionFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "tenant",
		Aliases: []string{"t"},
		Usage:   "Tenant (shop) to work on",
		EnvVars: []string{"SHOPSYNC_TENANT_ID"},
	},
	&cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "User the changes are made by",
		EnvVars: []string{"SHOPSYNC_USER_ID"},
	},
}

// session returns the application and the tenant and user the command runs for
func session(c *cli.Context) (*app.App, string, string, error) {
	application, err := app.FromContext(c)
	if err != nil {
		return nil, "", "", err
	}

	tenantID, userID, err := application.Session(c.String("tenant"), c.String("user"))
	if err != nil {
		return nil, "", "", err
	}
	return application, tenantID, userID, nil
}

// startEngine binds the engine to the command's tenant. Background syncs on
// startup only run when startup is set.
func startEngine(c *cli.Context, startup bool) (*app.App, string, error) {
	application, tenantID, userID, err := session(c)
	if err != nil {
		return nil, "", err
	}

	application.Engine.SetStartupSync(startup)
	if err := application.Engine.Init(c.Context, tenantID, userID); err != nil {
		if errors.Is(err, sync.ErrDisabled) {
			return nil, "", fmt.Errorf("sync only runs on standalone installs, set SHOPSYNC_SYNC_STANDALONE=true: %w", err)
		}
		return nil, "", fmt.Errorf("starting sync engine: %w", err)
	}

	return application, tenantID, nil
}

// entityTypeArg parses the entity type positional argument at index i
func entityTypeArg(c *cli.Context, i int) (records.EntityType, error) {
	if c.NArg() <= i {
		return "", fmt.Errorf("missing entity type, one of %v", records.AllEntityTypes())
	}
	return records.ParseEntityType(c.Args().Get(i))
}

// jsonArg parses the JSON object positional argument at index i
func jsonArg(c *cli.Context, i int) (map[string]any, error) {
	if c.NArg() <= i {
		return nil, errors.New("missing JSON data argument")
	}

	// numbers stay json.Number so large ids and amounts reach the queue unchanged
	var data map[string]any
	dec := json.NewDecoder(strings.NewReader(c.Args().Get(i)))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("invalid JSON data: %w", err)
	}
	if data == nil {
		return nil, errors.New("JSON data must be an object")
	}
	return data, nil
}
