package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/shopsync/internal/config"
	"github.com/tildaslashalef/shopsync/internal/loggy"
)

func TestBuildSQLiteDSN(t *testing.T) {
	dsn := BuildSQLiteDSN(&config.DatabaseConfig{
		Path:            "/tmp/shop.db",
		BusyTimeout:     5000,
		JournalMode:     "WAL",
		SynchronousMode: "NORMAL",
		CacheSize:       -16000,
		ForeignKeys:     true,
	})

	assert.True(t, strings.HasPrefix(dsn, "file:/tmp/shop.db?"))
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_synchronous=NORMAL")
	assert.Contains(t, dsn, "_foreign_keys=true")
	assert.Contains(t, dsn, "_txlock=immediate")

	assert.Equal(t, ":memory:", BuildSQLiteDSN(&config.DatabaseConfig{Path: ":memory:"}))
}

func TestRunInTxCommits(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM products").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = RunInTx(context.Background(), conn, func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM products")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	loggy.NewNoopLogger()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = RunInTx(context.Background(), conn, func(*sql.Tx) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = RunInTx(context.Background(), conn, func(*sql.Tx) error { panic("bad") })
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBNotInitialized(t *testing.T) {
	require.NoError(t, CloseDB())

	_, err := DB()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = RunMigrations()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestMigrateCreatesSchema(t *testing.T) {
	loggy.NewNoopLogger()

	cfg := config.New()
	cfg.Database = config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "shopsync.db"),
		BusyTimeout: 5000,
		JournalMode: "WAL",
		ForeignKeys: true,
		ConnMaxLife: time.Minute,
	}

	require.NoError(t, InitDB(cfg))
	defer CloseDB()

	applied, err := RunMigrations()
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = RunMigrations()
	require.NoError(t, err)
	assert.Zero(t, applied)

	conn, err := DB()
	require.NoError(t, err)

	for _, table := range []string{"products", "stock_adjustments", "sync_queue", "settings", "sync_logs"} {
		var name string
		err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, table)
	}

	version, dirty, err := Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}
