package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/shopsync/internal/database"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/records"
	"github.com/tildaslashalef/shopsync/internal/ulid"
)

// Queue is the pending-mutation log the sync engine drains
type Queue interface {
	// Enqueue appends an item, assigning its id and enqueue time when unset
	Enqueue(ctx context.Context, item *Item) error

	// GetPending returns up to limit items in enqueue order; limit <= 0 returns all.
	// The result is fully read before returning, so concurrent writers never affect it.
	GetPending(ctx context.Context, limit int) ([]*Item, error)

	// MarkSynced removes an item after the remote confirmed it
	MarkSynced(ctx context.Context, id string) error

	// UpdateError increments the retry count and stores the failure message
	UpdateError(ctx context.Context, id, message string) error

	// Count returns the number of queued items
	Count(ctx context.Context) (int, error)

	// RewriteRecordID points items filed under a superseded id at the new one,
	// including references to the old id inside other items' data
	RewriteRecordID(ctx context.Context, entityType records.EntityType, oldID, newID string) (int64, error)

	// DeleteForRecord drops every item for one record
	DeleteForRecord(ctx context.Context, entityType records.EntityType, recordID string) (int64, error)

	// CountExhausted counts items whose retry count exceeds threshold
	CountExhausted(ctx context.Context, threshold int) (int, error)

	// ResetRetries clears retry counters and errors of every item
	ResetRetries(ctx context.Context) (int64, error)
}

const table = "sync_queue"

var itemColumns = []string{"id", "operation", "entity_type", "record_id", "data", "retry_count", "last_error", "enqueued_at"}

// SQLRepository implements Queue over SQLite, scoped to one tenant
type SQLRepository struct {
	db       *sql.DB
	q        database.Querier
	tenantID string
	logger   *loggy.Logger
}

// NewSQLRepository creates a new SQL queue repository for a tenant
func NewSQLRepository(db *sql.DB, tenantID string, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:       db,
		q:        db,
		tenantID: tenantID,
		logger:   logger,
	}
}

// ForTenant returns a copy of the repository scoped to another tenant
func (r *SQLRepository) ForTenant(tenantID string) *SQLRepository {
	c := *r
	c.tenantID = tenantID
	return &c
}

// WithTx returns a copy of the repository whose statements run inside tx
func (r *SQLRepository) WithTx(tx *sql.Tx) *SQLRepository {
	c := *r
	c.db = nil
	c.q = tx
	return &c
}

// Enqueue appends an item
func (r *SQLRepository) Enqueue(ctx context.Context, item *Item) error {
	if !item.Operation.Valid() {
		return fmt.Errorf("invalid operation %q", item.Operation)
	}
	if !item.EntityType.Valid() {
		return fmt.Errorf("unknown entity type %q", item.EntityType)
	}
	if item.RecordID == "" {
		return fmt.Errorf("record id cannot be empty")
	}

	if item.ID == "" {
		item.ID = ulid.QueueItemID()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(records.StripLocalFlags(item.Data))
	if err != nil {
		return fmt.Errorf("encoding queue item data: %w", err)
	}

	query, args, err := squirrel.Insert(table).
		Columns("id", "tenant_id", "operation", "entity_type", "record_id", "data", "retry_count", "last_error", "enqueued_at").
		Values(item.ID, r.tenantID, item.Operation, item.EntityType, item.RecordID, string(data), item.RetryCount, item.LastError, item.EnqueuedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building enqueue query: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing enqueue query: %w", err)
	}

	r.logger.Debug("Queued mutation", "item_id", item.ID, "operation", item.Operation, "entity_type", item.EntityType, "record_id", item.RecordID)
	return nil
}

// GetPending returns pending items ordered by enqueue time
func (r *SQLRepository) GetPending(ctx context.Context, limit int) ([]*Item, error) {
	q := squirrel.Select(itemColumns...).
		From(table).
		Where(squirrel.Eq{"tenant_id": r.tenantID}).
		OrderBy("enqueued_at", "id")

	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get pending query: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get pending query: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var (
			item Item
			data string
		)
		err := rows.Scan(
			&item.ID,
			&item.Operation,
			&item.EntityType,
			&item.RecordID,
			&data,
			&item.RetryCount,
			&item.LastError,
			&item.EnqueuedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}

		item.Data, err = decodeData(data)
		if err != nil {
			// A corrupt snapshot still has to reach the remote and fail there
			r.logger.Warn("Failed to decode queue item data", "item_id", item.ID, "error", err)
			item.Data = map[string]any{}
		}

		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue rows: %w", err)
	}

	return items, nil
}

// MarkSynced removes an item
func (r *SQLRepository) MarkSynced(ctx context.Context, id string) error {
	query, args, err := squirrel.Delete(table).
		Where(squirrel.Eq{"tenant_id": r.tenantID, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building mark synced query: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing mark synced query: %w", err)
	}

	return nil
}

// UpdateError records a failed attempt
func (r *SQLRepository) UpdateError(ctx context.Context, id, message string) error {
	query, args, err := squirrel.Update(table).
		Set("retry_count", squirrel.Expr("retry_count + 1")).
		Set("last_error", message).
		Where(squirrel.Eq{"tenant_id": r.tenantID, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update error query: %w", err)
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing update error query: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}

	return nil
}

// Count returns the number of queued items
func (r *SQLRepository) Count(ctx context.Context) (int, error) {
	return r.count(ctx, squirrel.Eq{"tenant_id": r.tenantID})
}

// CountExhausted counts items past the retry threshold
func (r *SQLRepository) CountExhausted(ctx context.Context, threshold int) (int, error) {
	return r.count(ctx, squirrel.And{
		squirrel.Eq{"tenant_id": r.tenantID},
		squirrel.Gt{"retry_count": threshold},
	})
}

func (r *SQLRepository) count(ctx context.Context, where squirrel.Sqlizer) (int, error) {
	query, args, err := squirrel.Select("COUNT(*)").
		From(table).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var n int
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("executing count query: %w", err)
	}
	return n, nil
}

// RewriteRecordID redirects items from oldID to newID
func (r *SQLRepository) RewriteRecordID(ctx context.Context, entityType records.EntityType, oldID, newID string) (int64, error) {
	rewrite := func(q database.Querier) (int64, error) {
		query, args, err := squirrel.Update(table).
			Set("record_id", newID).
			Where(squirrel.Eq{"tenant_id": r.tenantID, "entity_type": entityType, "record_id": oldID}).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("building rewrite record id query: %w", err)
		}

		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("executing rewrite record id query: %w", err)
		}
		moved, _ := res.RowsAffected()

		// Ids are quoted JSON strings inside data snapshots
		oldRef, newRef := strconv.Quote(oldID), strconv.Quote(newID)
		query, args, err = squirrel.Update(table).
			Set("data", squirrel.Expr("replace(data, ?, ?)", oldRef, newRef)).
			Where(squirrel.Eq{"tenant_id": r.tenantID}).
			Where(squirrel.Expr("instr(data, ?) > 0", oldRef)).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("building rewrite references query: %w", err)
		}

		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("executing rewrite references query: %w", err)
		}

		return moved, nil
	}

	if r.db == nil {
		return rewrite(r.q)
	}

	var moved int64
	err := database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		moved, err = rewrite(tx)
		return err
	})
	return moved, err
}

// DeleteForRecord drops every queued item of one record
func (r *SQLRepository) DeleteForRecord(ctx context.Context, entityType records.EntityType, recordID string) (int64, error) {
	query, args, err := squirrel.Delete(table).
		Where(squirrel.Eq{"tenant_id": r.tenantID, "entity_type": entityType, "record_id": recordID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete for record query: %w", err)
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing delete for record query: %w", err)
	}

	return res.RowsAffected()
}

// ResetRetries clears the retry bookkeeping of every item
func (r *SQLRepository) ResetRetries(ctx context.Context) (int64, error) {
	query, args, err := squirrel.Update(table).
		Set("retry_count", 0).
		Set("last_error", "").
		Where(squirrel.Eq{"tenant_id": r.tenantID}).
		Where(squirrel.Gt{"retry_count": 0}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building reset retries query: %w", err)
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing reset retries query: %w", err)
	}

	return res.RowsAffected()
}

// decodeData keeps numbers as json.Number so the pushed payload matches what was written locally
func decodeData(data string) (map[string]any, error) {
	out := map[string]any{}
	if data == "" {
		return out, nil
	}

	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
