package records

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/shopsync/internal/database"
	"github.com/tildaslashalef/shopsync/internal/loggy"
)

// Store is the record-level API the sync engine needs from local storage
type Store interface {
	// GetByID returns ErrRecordNotFound when no record is stored under id
	GetByID(ctx context.Context, entityType EntityType, id string) (*Record, error)

	// Save upserts a record, writing its flags exactly as given
	Save(ctx context.Context, record *Record) error

	// SaveIfClean upserts a record unless the stored copy carries any local flag.
	// It reports whether the record was written.
	SaveIfClean(ctx context.Context, record *Record) (bool, error)

	// HardDelete removes a record; deleting a missing record is not an error
	HardDelete(ctx context.Context, entityType EntityType, id string) error

	// ListAll returns every record of a type
	ListAll(ctx context.Context, entityType EntityType) ([]*Record, error)

	// ReplaceID moves the record stored under oldID to newID in one unit of work.
	// The moved record loses LocallyCreated, and LocallyModified too unless it was
	// edited after acknowledged.
	ReplaceID(ctx context.Context, entityType EntityType, oldID, newID string, acknowledged time.Time) error

	// ClearLocalFlags clears LocallyCreated, and LocallyModified unless the record
	// was edited after acknowledged. It reports whether a record was found.
	ClearLocalFlags(ctx context.Context, entityType EntityType, id string, acknowledged time.Time) (bool, error)

	// RewriteReferences replaces references to a superseded id inside the data of every record
	RewriteReferences(ctx context.Context, oldID, newID string) (int64, error)

	// CountDirty counts records across all types that have not been acknowledged remotely
	CountDirty(ctx context.Context) (int, error)
}

var recordColumns = []string{"id", "data", "locally_created", "locally_modified", "locally_deleted", "updated_at"}

// SQLRepository implements Store over SQLite, scoped to one tenant
type SQLRepository struct {
	db       *sql.DB
	q        database.Querier
	tenantID string
	logger   *loggy.Logger
}

// NewSQLRepository creates a new SQL record repository for a tenant
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

// TenantID returns the tenant the repository is scoped to
func (r *SQLRepository) TenantID() string {
	return r.tenantID
}

func table(entityType EntityType) (string, error) {
	t := entityType.Table()
	if t == "" {
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
	return t, nil
}

// GetByID retrieves a record by id
func (r *SQLRepository) GetByID(ctx context.Context, entityType EntityType, id string) (*Record, error) {
	tbl, err := table(entityType)
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(recordColumns...).
		From(tbl).
		Where(squirrel.Eq{"tenant_id": r.tenantID, "id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get record query: %w", err)
	}

	record, err := scanRecord(r.q.QueryRowContext(ctx, query, args...), entityType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", entityType, id, ErrRecordNotFound)
		}
		return nil, fmt.Errorf("executing get record query: %w", err)
	}

	return record, nil
}

func (r *SQLRepository) upsert(record *Record) squirrel.InsertBuilder {
	return squirrel.Insert(record.EntityType.Table()).
		Columns("tenant_id", "id", "data", "locally_created", "locally_modified", "locally_deleted", "updated_at")
}

// Save upserts a record
func (r *SQLRepository) Save(ctx context.Context, record *Record) error {
	if _, err := table(record.EntityType); err != nil {
		return err
	}
	if record.ID == "" {
		return fmt.Errorf("saving %s: record id cannot be empty", record.EntityType)
	}

	data, err := encodeData(record.Data)
	if err != nil {
		return err
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	query, args, err := r.upsert(record).
		Values(r.tenantID, record.ID, data, record.LocallyCreated, record.LocallyModified, record.LocallyDeleted, record.UpdatedAt).
		Suffix("ON CONFLICT(tenant_id, id) DO UPDATE SET " +
			"data = excluded.data, " +
			"locally_created = excluded.locally_created, " +
			"locally_modified = excluded.locally_modified, " +
			"locally_deleted = excluded.locally_deleted, " +
			"updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building save record query: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing save record query: %w", err)
	}

	return nil
}

// SaveIfClean writes a pulled record unless the local copy has unsynced state.
// The check and the write are one statement, so a concurrent local edit cannot be overwritten.
func (r *SQLRepository) SaveIfClean(ctx context.Context, record *Record) (bool, error) {
	if _, err := table(record.EntityType); err != nil {
		return false, err
	}

	data, err := encodeData(record.Data)
	if err != nil {
		return false, err
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	tbl := record.EntityType.Table()
	query, args, err := r.upsert(record).
		Values(r.tenantID, record.ID, data, false, false, false, record.UpdatedAt).
		Suffix("ON CONFLICT(tenant_id, id) DO UPDATE SET " +
			"data = excluded.data, updated_at = excluded.updated_at " +
			"WHERE " + tbl + ".locally_created = 0 AND " + tbl + ".locally_modified = 0 AND " + tbl + ".locally_deleted = 0").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building conditional save query: %w", err)
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("executing conditional save query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}

	return n > 0, nil
}

// HardDelete removes a record
func (r *SQLRepository) HardDelete(ctx context.Context, entityType EntityType, id string) error {
	tbl, err := table(entityType)
	if err != nil {
		return err
	}

	query, args, err := squirrel.Delete(tbl).
		Where(squirrel.Eq{"tenant_id": r.tenantID, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete record query: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete record query: %w", err)
	}

	return nil
}

// ListAll returns every record of a type ordered by id
func (r *SQLRepository) ListAll(ctx context.Context, entityType EntityType) ([]*Record, error) {
	tbl, err := table(entityType)
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(recordColumns...).
		From(tbl).
		Where(squirrel.Eq{"tenant_id": r.tenantID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list records query: %w", err)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list records query: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		record, err := scanRecord(rows, entityType)
		if err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		out = append(out, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating record rows: %w", err)
	}

	return out, nil
}

// ReplaceID swaps a client id for a server id. The read, the delete and the insert
// commit together, so the record is never visible under neither id and a concurrent
// local edit is carried over.
func (r *SQLRepository) ReplaceID(ctx context.Context, entityType EntityType, oldID, newID string, acknowledged time.Time) error {
	replace := func(repo *SQLRepository) error {
		current, err := repo.GetByID(ctx, entityType, oldID)
		if err != nil {
			return err
		}

		moved := current.Clone()
		moved.ID = newID
		moved.LocallyCreated = false
		if !current.UpdatedAt.After(acknowledged) {
			moved.LocallyModified = false
		}

		if err := repo.HardDelete(ctx, entityType, oldID); err != nil {
			return err
		}
		return repo.Save(ctx, moved)
	}

	// Already inside a caller's transaction
	if r.db == nil {
		return replace(r)
	}

	return database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		return replace(r.WithTx(tx))
	})
}

// ClearLocalFlags marks a record as acknowledged by the remote in a single statement
func (r *SQLRepository) ClearLocalFlags(ctx context.Context, entityType EntityType, id string, acknowledged time.Time) (bool, error) {
	tbl, err := table(entityType)
	if err != nil {
		return false, err
	}

	query, args, err := squirrel.Update(tbl).
		Set("locally_created", false).
		Set("locally_modified", squirrel.Expr("CASE WHEN updated_at <= ? THEN 0 ELSE locally_modified END", acknowledged)).
		Where(squirrel.Eq{"tenant_id": r.tenantID, "id": id}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building clear flags query: %w", err)
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("executing clear flags query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}

// RewriteReferences updates foreign keys such as a sale's customer_id after a reconciliation.
// Ids appear as quoted JSON strings, so client ids never match a substring of another value.
func (r *SQLRepository) RewriteReferences(ctx context.Context, oldID, newID string) (int64, error) {
	oldRef, newRef := strconv.Quote(oldID), strconv.Quote(newID)

	var total int64
	for _, entityType := range allEntityTypes {
		query, args, err := squirrel.Update(entityType.Table()).
			Set("data", squirrel.Expr("replace(data, ?, ?)", oldRef, newRef)).
			Where(squirrel.Eq{"tenant_id": r.tenantID}).
			Where(squirrel.Expr("instr(data, ?) > 0", oldRef)).
			ToSql()
		if err != nil {
			return total, fmt.Errorf("building rewrite references query: %w", err)
		}

		res, err := r.q.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("rewriting references in %s: %w", entityType, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	return total, nil
}

// CountDirty counts unacknowledged records across all entity types
func (r *SQLRepository) CountDirty(ctx context.Context) (int, error) {
	total := 0
	for _, entityType := range allEntityTypes {
		query, args, err := squirrel.Select("COUNT(*)").
			From(entityType.Table()).
			Where(squirrel.Eq{"tenant_id": r.tenantID}).
			Where(squirrel.Or{
				squirrel.Eq{"locally_created": true},
				squirrel.Eq{"locally_modified": true},
				squirrel.Eq{"locally_deleted": true},
			}).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("building count dirty query: %w", err)
		}

		var n int
		if err := r.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return 0, fmt.Errorf("counting dirty %s: %w", entityType, err)
		}
		total += n
	}

	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, entityType EntityType) (*Record, error) {
	var (
		record Record
		data   string
	)

	err := row.Scan(
		&record.ID,
		&data,
		&record.LocallyCreated,
		&record.LocallyModified,
		&record.LocallyDeleted,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.EntityType = entityType
	record.Data, err = decodeData(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", entityType, record.ID, err)
	}

	return &record, nil
}

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(StripLocalFlags(data))
	if err != nil {
		return "", fmt.Errorf("encoding record data: %w", err)
	}
	return string(b), nil
}

// decodeData keeps numbers as json.Number so amounts round-trip without float drift
func decodeData(data string) (map[string]any, error) {
	out := map[string]any{}
	if data == "" {
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
