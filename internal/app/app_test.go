package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/shopsync/internal/config"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/queue"
	"github.com/tildaslashalef/shopsync/internal/records"
	"github.com/tildaslashalef/shopsync/internal/remote"
	"github.com/tildaslashalef/shopsync/internal/sync"
)

func newTestApp(cfg *config.Config) *App {
	logger := loggy.NewNoopLogger()
	return &App{
		Config: cfg,
		Remote: remote.NewClient(cfg.Server, logger),
		store:  records.NewSQLRepository(nil, "", logger),
		queue:  queue.NewSQLRepository(nil, "", logger),
		logger: logger,
	}
}

func TestBindScopesToTenant(t *testing.T) {
	app := newTestApp(&config.Config{Server: config.ServerConfig{URL: "http://localhost:3000"}})

	backend, err := app.Bind(context.Background(), "shop-1", "user-1")
	require.NoError(t, err)

	assert.Equal(t, "shop-1", backend.Store.(*records.SQLRepository).TenantID())
	assert.Equal(t, len(records.AllEntityTypes()), backend.Adapters.Len())
	assert.Equal(t, records.AllEntityTypes(), backend.Adapters.Types())

	_, err = app.Bind(context.Background(), "", "user-1")
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestSessionPrefersExplicitValues(t *testing.T) {
	app := newTestApp(&config.Config{Session: config.SessionConfig{TenantID: "stored", UserID: "u-stored"}})

	tenant, user, err := app.Session("", "")
	require.NoError(t, err)
	assert.Equal(t, "stored", tenant)
	assert.Equal(t, "u-stored", user)

	tenant, user, err = app.Session("shop-9", "u-9")
	require.NoError(t, err)
	assert.Equal(t, "shop-9", tenant)
	assert.Equal(t, "u-9", user)

	app.Config.Session = config.SessionConfig{}
	_, _, err = app.Session("", "")
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestProbeFollowsServerSwitch(t *testing.T) {
	app := newTestApp(&config.Config{Sync: config.SyncConfig{Standalone: true}})
	_, ok := app.probe().(*sync.StaticProbe)
	assert.True(t, ok, "a disabled server never goes online")
	assert.False(t, app.probe().Online(context.Background()))

	app.Config.Server.Enabled = true
	_, ok = app.probe().(*sync.HTTPProbe)
	assert.True(t, ok)
}
