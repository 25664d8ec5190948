// Package outbox applies local mutations: every write to the record store and
// the queue item announcing it commit in the same transaction.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/tildaslashalef/shopsync/internal/database"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/queue"
	"github.com/tildaslashalef/shopsync/internal/records"
	"github.com/tildaslashalef/shopsync/internal/ulid"
)

// ErrAlreadyDeleted is returned when editing a record that is waiting to be deleted remotely
var ErrAlreadyDeleted = errors.New("record is pending deletion")

// Writer records local creates, edits and deletes for one tenant
type Writer struct {
	db     *sql.DB
	store  *records.SQLRepository
	queue  *queue.SQLRepository
	logger *loggy.Logger
	now    func() time.Time
}

// NewWriter creates a writer over the tenant-scoped store and queue sharing db
func NewWriter(db *sql.DB, store *records.SQLRepository, q *queue.SQLRepository, logger *loggy.Logger) *Writer {
	return &Writer{
		db:     db,
		store:  store,
		queue:  q,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (w *Writer) inTx(ctx context.Context, fn func(store *records.SQLRepository, q *queue.SQLRepository) error) error {
	return database.RunInTx(ctx, w.db, func(tx *sql.Tx) error {
		return fn(w.store.WithTx(tx), w.queue.WithTx(tx))
	})
}

// Create stores a new record under a temporary client id and queues its creation
func (w *Writer) Create(ctx context.Context, entityType records.EntityType, data map[string]any) (*records.Record, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	record := &records.Record{
		ID:             ulid.LocalID(),
		EntityType:     entityType,
		Data:           records.StripLocalFlags(data),
		LocallyCreated: true,
		UpdatedAt:      w.now(),
	}
	delete(record.Data, "id")

	err := w.inTx(ctx, func(store *records.SQLRepository, q *queue.SQLRepository) error {
		if err := store.Save(ctx, record); err != nil {
			return err
		}
		return q.Enqueue(ctx, &queue.Item{
			Operation:  records.OpCreate,
			EntityType: entityType,
			RecordID:   record.ID,
			Data:       record.Data,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", entityType, err)
	}

	w.logger.Info("Created local record", "entity_type", entityType, "record_id", record.ID)
	return record, nil
}

// Update merges changes into a record, flags it modified and queues the update
func (w *Writer) Update(ctx context.Context, entityType records.EntityType, id string, changes map[string]any) (*records.Record, error) {
	var record *records.Record

	err := w.inTx(ctx, func(store *records.SQLRepository, q *queue.SQLRepository) error {
		current, err := store.GetByID(ctx, entityType, id)
		if err != nil {
			return err
		}
		if current.LocallyDeleted {
			return ErrAlreadyDeleted
		}

		record = current.Clone()
		maps.Copy(record.Data, records.StripLocalFlags(changes))
		delete(record.Data, "id")
		record.LocallyModified = true
		record.UpdatedAt = w.now()

		if err := store.Save(ctx, record); err != nil {
			return err
		}
		return q.Enqueue(ctx, &queue.Item{
			Operation:  records.OpUpdate,
			EntityType: entityType,
			RecordID:   id,
			Data:       record.Data,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("updating %s %s: %w", entityType, id, err)
	}

	w.logger.Info("Updated local record", "entity_type", entityType, "record_id", id)
	return record, nil
}

// Delete removes a record. A record the remote never saw is dropped outright together
// with its queued items; anything else is flagged deleted until the remote confirms.
func (w *Writer) Delete(ctx context.Context, entityType records.EntityType, id string) error {
	var dropped bool

	err := w.inTx(ctx, func(store *records.SQLRepository, q *queue.SQLRepository) error {
		current, err := store.GetByID(ctx, entityType, id)
		if err != nil {
			return err
		}
		if current.LocallyDeleted {
			return nil
		}

		if current.LocallyCreated {
			dropped = true
			if _, err := q.DeleteForRecord(ctx, entityType, id); err != nil {
				return err
			}
			return store.HardDelete(ctx, entityType, id)
		}

		current.LocallyDeleted = true
		current.UpdatedAt = w.now()
		if err := store.Save(ctx, current); err != nil {
			return err
		}
		return q.Enqueue(ctx, &queue.Item{
			Operation:  records.OpDelete,
			EntityType: entityType,
			RecordID:   id,
			Data:       map[string]any{},
		})
	})
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", entityType, id, err)
	}

	w.logger.Info("Deleted local record", "entity_type", entityType, "record_id", id, "never_synced", dropped)
	return nil
}
