package sync

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/shopsync/internal/loggy"
)

const selectLogs = "SELECT id, tenant_id, run_id, sync_type, direction, success, pushed, failed, pulled, error_type, error_message, started_at, completed_at FROM sync_logs WHERE tenant_id = ? ORDER BY completed_at DESC"

func setupLogRepo(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLRepository(db, loggy.NewNoopLogger()), mock
}

func TestCreateSyncLog(t *testing.T) {
	repo, mock := setupLogRepo(t)

	log := NewSyncLog("shop-1", "run-1", SyncTypeManual, DirectionBoth)
	log.MarkSuccessful(3, 1, 7)

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO sync_logs (id,tenant_id,run_id,sync_type,direction,success,pushed,failed,pulled,error_type,error_message,started_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)")).
		WithArgs(sqlmock.AnyArg(), "shop-1", "run-1", SyncTypeManual, DirectionBoth, true, 3, 1, 7, SyncErrorType(""), "", log.StartedAt, log.CompletedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.CreateSyncLog(context.Background(), log))
	assert.True(t, strings.HasPrefix(log.ID, "sync-"), log.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSyncLogError(t *testing.T) {
	repo, mock := setupLogRepo(t)

	mock.ExpectExec("INSERT INTO sync_logs").WillReturnError(errors.New("disk full"))

	err := repo.CreateSyncLog(context.Background(), NewSyncLog("shop-1", "run-1", SyncTypePush, DirectionPush))
	assert.ErrorContains(t, err, "disk full")
}

func TestGetSyncLogs(t *testing.T) {
	repo, mock := setupLogRepo(t)
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(selectLogs+" LIMIT 10 OFFSET 5")).
		WithArgs("shop-1").
		WillReturnRows(sqlmock.NewRows(syncLogColumns).
			AddRow("sl-2", "shop-1", "run-2", "push", "push", false, 0, 2, 0, "network", "dial tcp: refused", t0.Add(time.Minute), t0.Add(time.Minute+time.Second)).
			AddRow("sl-1", "shop-1", "run-1", "startup", "both", true, 4, 0, 9, "", "", t0, t0.Add(2*time.Second)))

	logs, err := repo.GetSyncLogs(context.Background(), "shop-1", 10, 5)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, SyncErrorTypeNetwork, logs[0].ErrorType)
	assert.False(t, logs[0].Success)
	assert.Equal(t, SyncTypeStartup, logs[1].SyncType)
	assert.Equal(t, 9, logs[1].Pulled)
	assert.Equal(t, 2*time.Second, logs[1].Duration())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestSyncLog(t *testing.T) {
	repo, mock := setupLogRepo(t)
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(selectLogs + " LIMIT 1")).
		WithArgs("shop-1").
		WillReturnRows(sqlmock.NewRows(syncLogColumns).
			AddRow("sl-1", "shop-1", "run-1", "manual", "both", true, 1, 0, 0, "", "", t0, t0))

	log, err := repo.GetLatestSyncLog(context.Background(), "shop-1")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, "run-1", log.RunID)

	mock.ExpectQuery(regexp.QuoteMeta(selectLogs + " LIMIT 1")).
		WithArgs("shop-2").
		WillReturnRows(sqlmock.NewRows(syncLogColumns))

	log, err = repo.GetLatestSyncLog(context.Background(), "shop-2")
	require.NoError(t, err)
	assert.Nil(t, log)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLogMarkFailed(t *testing.T) {
	log := NewSyncLog("shop-1", "run-1", SyncTypePeriodic, DirectionPush)
	log.MarkFailed(SyncErrorTypeAuth, "server returned 401: expired token")

	assert.False(t, log.Success)
	assert.Equal(t, SyncErrorTypeAuth, log.ErrorType)
	assert.False(t, log.CompletedAt.Before(log.StartedAt))
}
