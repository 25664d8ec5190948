package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/ulid"
)

// LogRepository defines operations for managing sync logs in the database
type LogRepository interface {
	// CreateSyncLog creates a new sync log
	CreateSyncLog(ctx context.Context, log *SyncLog) error

	// GetSyncLogs retrieves a tenant's sync logs, newest first
	GetSyncLogs(ctx context.Context, tenantID string, limit, offset int) ([]*SyncLog, error)

	// GetLatestSyncLog retrieves the latest sync log of a tenant, nil when there is none
	GetLatestSyncLog(ctx context.Context, tenantID string) (*SyncLog, error)
}

var syncLogColumns = []string{
	"id", "tenant_id", "run_id", "sync_type", "direction", "success",
	"pushed", "failed", "pulled", "error_type", "error_message", "started_at", "completed_at",
}

// SQLRepository implements LogRepository using a SQL database
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSyncLog creates a new sync log
func (r *SQLRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = ulid.SyncLogID()
	}

	q := squirrel.Insert("sync_logs").
		Columns(syncLogColumns...).
		Values(log.ID, log.TenantID, log.RunID, log.SyncType, log.Direction, log.Success,
			log.Pushed, log.Failed, log.Pulled, log.ErrorType, log.ErrorMessage, log.StartedAt, log.CompletedAt)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building create sync log query: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing create sync log query: %w", err)
	}

	return nil
}

// GetSyncLogs retrieves a tenant's sync logs, newest first
func (r *SQLRepository) GetSyncLogs(ctx context.Context, tenantID string, limit, offset int) ([]*SyncLog, error) {
	q := squirrel.Select(syncLogColumns...).
		From("sync_logs").
		Where(squirrel.Eq{"tenant_id": tenantID}).
		OrderBy("completed_at DESC")

	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log row: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}

	return logs, nil
}

// GetLatestSyncLog retrieves the latest sync log of a tenant
func (r *SQLRepository) GetLatestSyncLog(ctx context.Context, tenantID string) (*SyncLog, error) {
	q := squirrel.Select(syncLogColumns...).
		From("sync_logs").
		Where(squirrel.Eq{"tenant_id": tenantID}).
		OrderBy("completed_at DESC").
		Limit(1)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get latest sync log query: %w", err)
	}

	log, err := scanSyncLog(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("executing get latest sync log query: %w", err)
	}

	return log, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncLog(row rowScanner) (*SyncLog, error) {
	var log SyncLog
	err := row.Scan(
		&log.ID,
		&log.TenantID,
		&log.RunID,
		&log.SyncType,
		&log.Direction,
		&log.Success,
		&log.Pushed,
		&log.Failed,
		&log.Pulled,
		&log.ErrorType,
		&log.ErrorMessage,
		&log.StartedAt,
		&log.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &log, nil
}
