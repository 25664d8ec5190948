package sync

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tildaslashalef/shopsync/internal/adapter"
	"github.com/tildaslashalef/shopsync/internal/queue"
	"github.com/tildaslashalef/shopsync/internal/records"
)

// memStore is an in-memory records.Store
type memStore struct {
	mu   sync.Mutex
	rows map[records.EntityType]map[string]*records.Record
	// replaceErr fails ReplaceID while set
	replaceErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[records.EntityType]map[string]*records.Record)}
}

func (s *memStore) put(r *records.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(r.Clone())
}

func (s *memStore) putLocked(r *records.Record) {
	if s.rows[r.EntityType] == nil {
		s.rows[r.EntityType] = make(map[string]*records.Record)
	}
	s.rows[r.EntityType][r.ID] = r
}

func (s *memStore) get(entityType records.EntityType, id string) *records.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[entityType][id]
	if !ok {
		return nil
	}
	return r.Clone()
}

func (s *memStore) failReplace(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceErr = err
}

func (s *memStore) ids(entityType records.EntityType) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.rows[entityType]))
}

func (s *memStore) GetByID(_ context.Context, entityType records.EntityType, id string) (*records.Record, error) {
	if r := s.get(entityType, id); r != nil {
		return r, nil
	}
	return nil, fmt.Errorf("%s %s: %w", entityType, id, records.ErrRecordNotFound)
}

func (s *memStore) Save(_ context.Context, r *records.Record) error {
	s.put(r)
	return nil
}

func (s *memStore) SaveIfClean(_ context.Context, r *records.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[r.EntityType][r.ID]; ok && (cur.IsDirty() || cur.LocallyDeleted) {
		return false, nil
	}
	clean := r.Clone()
	clean.LocallyCreated, clean.LocallyModified, clean.LocallyDeleted = false, false, false
	s.putLocked(clean)
	return true, nil
}

func (s *memStore) HardDelete(_ context.Context, entityType records.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows[entityType], id)
	return nil
}

func (s *memStore) ListAll(_ context.Context, entityType records.EntityType) ([]*records.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*records.Record
	for _, id := range slices.Sorted(maps.Keys(s.rows[entityType])) {
		out = append(out, s.rows[entityType][id].Clone())
	}
	return out, nil
}

func (s *memStore) ReplaceID(_ context.Context, entityType records.EntityType, oldID, newID string, acknowledged time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	cur, ok := s.rows[entityType][oldID]
	if !ok {
		return records.ErrRecordNotFound
	}
	moved := cur.Clone()
	moved.ID = newID
	moved.LocallyCreated = false
	if !cur.UpdatedAt.After(acknowledged) {
		moved.LocallyModified = false
	}
	delete(s.rows[entityType], oldID)
	s.putLocked(moved)
	return nil
}

func (s *memStore) ClearLocalFlags(_ context.Context, entityType records.EntityType, id string, acknowledged time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[entityType][id]
	if !ok {
		return false, nil
	}
	cur.LocallyCreated = false
	if !cur.UpdatedAt.After(acknowledged) {
		cur.LocallyModified = false
	}
	return true, nil
}

func (s *memStore) RewriteReferences(_ context.Context, oldID, newID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rows := range s.rows {
		for _, r := range rows {
			for k, v := range r.Data {
				if v == oldID {
					r.Data[k] = newID
					n++
				}
			}
		}
	}
	return n, nil
}

func (s *memStore) CountDirty(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rows := range s.rows {
		for _, r := range rows {
			if r.IsDirty() || r.LocallyDeleted {
				n++
			}
		}
	}
	return n, nil
}

// memQueue is an in-memory queue.Queue
type memQueue struct {
	mu    sync.Mutex
	items []*queue.Item
	seq   int
	clock time.Time
}

func newMemQueue() *memQueue {
	return &memQueue{clock: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func cloneItem(i *queue.Item) *queue.Item {
	c := *i
	c.Data = maps.Clone(i.Data)
	return &c
}

func (q *memQueue) Enqueue(_ context.Context, item *queue.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	if item.ID == "" {
		item.ID = fmt.Sprintf("sq-%03d", q.seq)
	}
	if item.EnqueuedAt.IsZero() {
		q.clock = q.clock.Add(time.Millisecond)
		item.EnqueuedAt = q.clock
	}
	q.items = append(q.items, cloneItem(item))
	return nil
}

func (q *memQueue) GetPending(_ context.Context, limit int) ([]*queue.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*queue.Item
	for _, it := range q.items {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneItem(it))
	}
	return out, nil
}

func (q *memQueue) find(id string) *queue.Item {
	for _, it := range q.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (q *memQueue) item(id string) *queue.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it := q.find(id); it != nil {
		return cloneItem(it)
	}
	return nil
}

func (q *memQueue) MarkSynced(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = slices.DeleteFunc(q.items, func(it *queue.Item) bool { return it.ID == id })
	return nil
}

func (q *memQueue) UpdateError(_ context.Context, id, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it := q.find(id)
	if it == nil {
		return queue.ErrItemNotFound
	}
	it.RetryCount++
	it.LastError = message
	return nil
}

func (q *memQueue) Count(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *memQueue) RewriteRecordID(_ context.Context, entityType records.EntityType, oldID, newID string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, it := range q.items {
		if it.EntityType == entityType && it.RecordID == oldID {
			it.RecordID = newID
			n++
		}
		for k, v := range it.Data {
			if v == oldID {
				it.Data[k] = newID
			}
		}
	}
	return n, nil
}

func (q *memQueue) DeleteForRecord(_ context.Context, entityType records.EntityType, recordID string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(it *queue.Item) bool {
		return it.EntityType == entityType && it.RecordID == recordID
	})
	return int64(before - len(q.items)), nil
}

func (q *memQueue) CountExhausted(_ context.Context, threshold int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.Exhausted(threshold) {
			n++
		}
	}
	return n, nil
}

func (q *memQueue) ResetRetries(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, it := range q.items {
		if it.RetryCount > 0 {
			it.RetryCount, it.LastError = 0, ""
			n++
		}
	}
	return n, nil
}

type pushCall struct {
	op   records.Operation
	id   string
	data map[string]any
}

// fakeAdapter records pushes and serves a fixed remote collection
type fakeAdapter struct {
	entityType records.EntityType

	mu      sync.Mutex
	calls   []pushCall
	pushFn  func(ctx context.Context, op records.Operation, id string, data map[string]any) (adapter.PushResult, error)
	remote  []adapter.RemoteRecord
	pullErr error
	pulls   int
}

func newFakeAdapter(entityType records.EntityType) *fakeAdapter {
	return &fakeAdapter{entityType: entityType}
}

func (a *fakeAdapter) EntityType() records.EntityType {
	return a.entityType
}

func (a *fakeAdapter) Push(ctx context.Context, op records.Operation, id string, data map[string]any) (adapter.PushResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, pushCall{op: op, id: id, data: maps.Clone(data)})
	fn := a.pushFn
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, op, id, data)
	}
	if op == records.OpCreate {
		return adapter.PushResult{RemoteID: "srv-" + strings.TrimPrefix(id, "local-")}, nil
	}
	return adapter.PushResult{}, nil
}

func (a *fakeAdapter) Pull(context.Context, *time.Time) ([]adapter.RemoteRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pulls++
	if a.pullErr != nil {
		return nil, a.pullErr
	}
	out := make([]adapter.RemoteRecord, len(a.remote))
	for i, r := range a.remote {
		out[i] = adapter.RemoteRecord{ID: r.ID, Data: maps.Clone(r.Data)}
	}
	return out, nil
}

func (a *fakeAdapter) pushCalls() []pushCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}

func (a *fakeAdapter) setPush(fn func(ctx context.Context, op records.Operation, id string, data map[string]any) (adapter.PushResult, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushFn = fn
}

// memLogs captures sync logs
type memLogs struct {
	mu   sync.Mutex
	logs []*SyncLog
}

func (l *memLogs) CreateSyncLog(_ context.Context, log *SyncLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := *log
	l.logs = append(l.logs, &c)
	return nil
}

func (l *memLogs) GetSyncLogs(_ context.Context, tenantID string, limit, _ int) ([]*SyncLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*SyncLog
	for i := len(l.logs) - 1; i >= 0; i-- {
		if l.logs[i].TenantID == tenantID {
			out = append(out, l.logs[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *memLogs) GetLatestSyncLog(ctx context.Context, tenantID string) (*SyncLog, error) {
	out, _ := l.GetSyncLogs(ctx, tenantID, 1, 0)
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (l *memLogs) all() []*SyncLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.logs)
}
