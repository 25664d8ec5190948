package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/shopsync/internal/adapter"
	"github.com/tildaslashalef/shopsync/internal/config"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/queue"
	"github.com/tildaslashalef/shopsync/internal/records"
)

var localEdit = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	engine   *Engine
	probe    *StaticProbe
	store    *memStore
	queue    *memQueue
	logs     *memLogs
	adapters map[records.EntityType]*fakeAdapter
	binds    atomic.Int32
}

type harnessOption func(cfg *config.SyncConfig, types *[]records.EntityType)

func withConfig(fn func(cfg *config.SyncConfig)) harnessOption {
	return func(cfg *config.SyncConfig, _ *[]records.EntityType) { fn(cfg) }
}

func withTypes(types ...records.EntityType) harnessOption {
	return func(_ *config.SyncConfig, t *[]records.EntityType) { *t = types }
}

func newHarness(t *testing.T, online bool, opts ...harnessOption) *harness {
	t.Helper()

	cfg := config.SyncConfig{
		BatchSize:          50,
		MaxRetryCount:      5,
		Interval:           time.Hour,
		StabilizationDelay: 20 * time.Millisecond,
		Standalone:         true,
	}
	types := []records.EntityType{records.EntityTypeCustomer, records.EntityTypeProduct, records.EntityTypeSale}
	for _, opt := range opts {
		opt(&cfg, &types)
	}

	h := &harness{
		probe:    NewStaticProbe(true, online),
		store:    newMemStore(),
		queue:    newMemQueue(),
		logs:     &memLogs{},
		adapters: make(map[records.EntityType]*fakeAdapter),
	}

	registry := adapter.NewRegistry()
	for _, et := range types {
		a := newFakeAdapter(et)
		h.adapters[et] = a
		registry.Register(a)
	}

	bind := func(ctx context.Context, tenantID, userID string) (*Backend, error) {
		h.binds.Add(1)
		return &Backend{Store: h.store, Queue: h.queue, Adapters: registry}, nil
	}

	h.engine = NewEngine(cfg, h.probe, bind, h.logs, loggy.NewNoopLogger())
	t.Cleanup(h.engine.Cleanup)
	return h
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Init(context.Background(), "shop-1", "user-1"))
	h.engine.Wait()
}

// createLocal stores a record created offline and queues its creation
func (h *harness) createLocal(t *testing.T, entityType records.EntityType, id string, data map[string]any) *queue.Item {
	t.Helper()
	h.store.put(&records.Record{
		ID:             id,
		EntityType:     entityType,
		Data:           data,
		LocallyCreated: true,
		UpdatedAt:      localEdit,
	})
	return h.enqueue(t, records.OpCreate, entityType, id, data)
}

func (h *harness) enqueue(t *testing.T, op records.Operation, entityType records.EntityType, id string, data map[string]any) *queue.Item {
	t.Helper()
	item := &queue.Item{Operation: op, EntityType: entityType, RecordID: id, Data: data}
	require.NoError(t, h.queue.Enqueue(context.Background(), item))
	return item
}

func (h *harness) pending(t *testing.T) int {
	t.Helper()
	n, err := h.queue.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestOfflineCreateThenReconnect(t *testing.T) {
	h := newHarness(t, false)
	h.init(t)
	h.adapters[records.EntityTypeProduct].setPush(func(_ context.Context, op records.Operation, id string, _ map[string]any) (adapter.PushResult, error) {
		return adapter.PushResult{RemoteID: "srv-123"}, nil
	})

	h.createLocal(t, records.EntityTypeProduct, "local-abc", map[string]any{"name": "Soap", "locallyCreated": true})
	require.Equal(t, 1, h.pending(t))

	h.engine.SetOnline(true)
	assert.Empty(t, h.adapters[records.EntityTypeProduct].pushCalls(), "sync waits for the stabilization delay")

	h.engine.Wait()

	assert.Equal(t, []string{"srv-123"}, h.store.ids(records.EntityTypeProduct))
	rec := h.store.get(records.EntityTypeProduct, "srv-123")
	require.NotNil(t, rec)
	assert.False(t, rec.LocallyCreated)
	assert.Equal(t, "Soap", rec.Data["name"])
	assert.Equal(t, 0, h.pending(t))

	calls := h.adapters[records.EntityTypeProduct].pushCalls()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0].data, "locallyCreated")

	st := h.engine.Status()
	assert.True(t, st.Online)
	assert.False(t, st.Syncing)
	assert.Equal(t, DirectionIdle, st.Direction)
	assert.Equal(t, 0, st.PendingCount)
	assert.NotNil(t, st.LastSyncAt)

	logs := h.logs.all()
	require.Len(t, logs, 1)
	assert.Equal(t, SyncTypeReconnect, logs[0].SyncType)
	assert.True(t, logs[0].Success)
	assert.Equal(t, 1, logs[0].Pushed)
}

func TestPartialBatchFailure(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)
	h.adapters[records.EntityTypeProduct].setPush(func(_ context.Context, op records.Operation, id string, _ map[string]any) (adapter.PushResult, error) {
		if id == "local-2" {
			return adapter.PushResult{}, errors.New("server returned 500: stock service down")
		}
		return adapter.PushResult{RemoteID: strings.Replace(id, "local", "srv", 1)}, nil
	})

	h.createLocal(t, records.EntityTypeProduct, "local-1", map[string]any{"name": "Soap"})
	failing := h.createLocal(t, records.EntityTypeProduct, "local-2", map[string]any{"name": "Tea"})
	h.createLocal(t, records.EntityTypeProduct, "local-3", map[string]any{"name": "Rice"})

	res := h.engine.SyncPendingChanges(context.Background())

	assert.Equal(t, PushResult{Success: true, Synced: 2, Failed: 1}, res)
	assert.Equal(t, 1, h.pending(t))

	item := h.queue.item(failing.ID)
	require.NotNil(t, item)
	assert.Equal(t, 1, item.RetryCount)
	assert.Equal(t, "server returned 500: stock service down", item.LastError)

	assert.Equal(t, []string{"local-2", "srv-1", "srv-3"}, h.store.ids(records.EntityTypeProduct))
	st := h.engine.Status()
	assert.Equal(t, 1, st.PendingCount)
	assert.Contains(t, st.LastError, "stock service down")
}

func TestPullKeepsUnsyncedLocalState(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)

	h.store.put(&records.Record{ID: "c1", EntityType: records.EntityTypeCustomer, Data: map[string]any{"name": "Rahim"}, LocallyModified: true})
	h.store.put(&records.Record{ID: "c2", EntityType: records.EntityTypeCustomer, Data: map[string]any{"name": "Old"}})
	h.store.put(&records.Record{ID: "c3", EntityType: records.EntityTypeCustomer, Data: map[string]any{"name": "Gone"}, LocallyDeleted: true})
	h.adapters[records.EntityTypeCustomer].remote = []adapter.RemoteRecord{
		{ID: "c1", Data: map[string]any{"name": "Karim"}},
		{ID: "c2", Data: map[string]any{"name": "New"}},
		{ID: "c3", Data: map[string]any{"name": "Back"}},
		{ID: "c4", Data: map[string]any{"name": "Fresh"}},
	}

	res := h.engine.PerformFullSync(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Pulled)

	c1 := h.store.get(records.EntityTypeCustomer, "c1")
	assert.Equal(t, "Rahim", c1.Data["name"])
	assert.True(t, c1.LocallyModified)

	assert.Equal(t, "New", h.store.get(records.EntityTypeCustomer, "c2").Data["name"])

	c3 := h.store.get(records.EntityTypeCustomer, "c3")
	assert.True(t, c3.LocallyDeleted)
	assert.Equal(t, "Gone", c3.Data["name"])

	assert.NotNil(t, h.store.get(records.EntityTypeCustomer, "c4"))
}

func TestBusyGuard(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)
	h.createLocal(t, records.EntityTypeProduct, "local-1", map[string]any{"name": "Soap"})

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.adapters[records.EntityTypeProduct].setPush(func(context.Context, records.Operation, string, map[string]any) (adapter.PushResult, error) {
		once.Do(func() { close(entered) })
		<-release
		return adapter.PushResult{RemoteID: "srv-1"}, nil
	})

	done := make(chan FullSyncResult)
	go func() {
		done <- h.engine.PerformFullSync(context.Background())
	}()
	<-entered

	second := h.engine.PerformFullSync(context.Background())
	assert.Equal(t, FullSyncResult{}, second)
	assert.Equal(t, PushResult{}, h.engine.SyncPendingChanges(context.Background()))

	close(release)
	first := <-done

	assert.True(t, first.Success)
	assert.Equal(t, 1, first.Pushed)
	assert.Len(t, h.adapters[records.EntityTypeProduct].pushCalls(), 1)
}

func TestDrainsEveryBatch(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)

	for i := range 120 {
		h.createLocal(t, records.EntityTypeProduct, fmt.Sprintf("local-%03d", i), map[string]any{"n": i})
	}

	res := h.engine.PerformFullSync(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, 120, res.Pushed)
	assert.Equal(t, 0, h.pending(t))
	assert.Equal(t, 0, h.engine.Status().PendingCount)
	for _, id := range h.store.ids(records.EntityTypeProduct) {
		assert.True(t, strings.HasPrefix(id, "srv-"), id)
	}
}

func TestRetryAccounting(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)

	attempt := 0
	h.adapters[records.EntityTypeSale].setPush(func(context.Context, records.Operation, string, map[string]any) (adapter.PushResult, error) {
		attempt++
		return adapter.PushResult{}, fmt.Errorf("attempt %d refused", attempt)
	})
	item := h.createLocal(t, records.EntityTypeSale, "local-s1", map[string]any{"total": 40})

	for range 7 {
		res := h.engine.SyncPendingChanges(context.Background())
		assert.Equal(t, 1, res.Failed)
	}

	stored := h.queue.item(item.ID)
	require.NotNil(t, stored, "failures never drop an item")
	assert.Equal(t, 7, stored.RetryCount)
	assert.Equal(t, "attempt 7 refused", stored.LastError)

	exhausted, err := h.queue.CountExhausted(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, exhausted)
}

func TestLaterItemsFollowReconciledID(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)

	h.store.put(&records.Record{
		ID:              "local-abc",
		EntityType:      records.EntityTypeProduct,
		Data:            map[string]any{"name": "Soap", "price": 15},
		LocallyCreated:  true,
		LocallyModified: true,
		UpdatedAt:       localEdit,
	})
	h.enqueue(t, records.OpCreate, records.EntityTypeProduct, "local-abc", map[string]any{"name": "Soap", "price": 12})
	h.enqueue(t, records.OpUpdate, records.EntityTypeProduct, "local-abc", map[string]any{"name": "Soap", "price": 15})

	res := h.engine.PerformFullSync(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Pushed)

	calls := h.adapters[records.EntityTypeProduct].pushCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, records.OpCreate, calls[0].op)
	assert.Equal(t, "local-abc", calls[0].id)
	assert.Equal(t, records.OpUpdate, calls[1].op)
	assert.Equal(t, "srv-abc", calls[1].id)

	rec := h.store.get(records.EntityTypeProduct, "srv-abc")
	require.NotNil(t, rec)
	assert.False(t, rec.LocallyCreated)
	assert.False(t, rec.LocallyModified)
	assert.Nil(t, h.store.get(records.EntityTypeProduct, "local-abc"))
	assert.Equal(t, 0, h.pending(t))
}

func TestEditAfterQueueingKeepsRecordModified(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)

	h.createLocal(t, records.EntityTypeProduct, "local-abc", map[string]any{"name": "Soap"})
	// edited again after the create was queued, before the push
	h.store.put(&records.Record{
		ID:              "local-abc",
		EntityType:      records.EntityTypeProduct,
		Data:            map[string]any{"name": "Soap XL"},
		LocallyCreated:  true,
		LocallyModified: true,
		UpdatedAt:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	h.engine.SyncPendingChanges(context.Background())

	rec := h.store.get(records.EntityTypeProduct, "srv-abc")
	require.NotNil(t, rec)
	assert.False(t, rec.LocallyCreated)
	assert.True(t, rec.LocallyModified)
	assert.Equal(t, "Soap XL", rec.Data["name"])
}

func TestFailedReconciliationKeepsCreateQueued(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)
	h.store.failReplace(errors.New("disk I/O error"))

	create := h.createLocal(t, records.EntityTypeProduct, "local-p", map[string]any{"name": "Soap"})
	update := h.enqueue(t, records.OpUpdate, records.EntityTypeProduct, "local-p", map[string]any{"name": "Soap XL"})

	res := h.engine.SyncPendingChanges(context.Background())
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 2, res.Failed)

	rec := h.store.get(records.EntityTypeProduct, "local-p")
	require.NotNil(t, rec)
	assert.True(t, rec.LocallyCreated)
	assert.Nil(t, h.store.get(records.EntityTypeProduct, "srv-p"))
	require.NotNil(t, h.queue.item(create.ID))
	assert.Equal(t, 1, h.queue.item(create.ID).RetryCount)
	assert.Contains(t, h.queue.item(create.ID).LastError, "disk I/O error")
	assert.Equal(t, 0, h.queue.item(update.ID).RetryCount)
	assert.Equal(t, "local-p", h.queue.item(update.ID).RecordID)
	assert.Len(t, h.adapters[records.EntityTypeProduct].pushCalls(), 1, "the update waits behind the create")

	h.store.failReplace(nil)
	res = h.engine.SyncPendingChanges(context.Background())
	assert.Equal(t, PushResult{Success: true, Synced: 2}, res)

	rec = h.store.get(records.EntityTypeProduct, "srv-p")
	require.NotNil(t, rec)
	assert.False(t, rec.IsDirty())
	assert.Nil(t, h.store.get(records.EntityTypeProduct, "local-p"))

	calls := h.adapters[records.EntityTypeProduct].pushCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, records.OpCreate, calls[1].op)
	assert.Equal(t, "local-p", calls[1].id)
	assert.Equal(t, records.OpUpdate, calls[2].op)
	assert.Equal(t, "srv-p", calls[2].id)
	assert.Equal(t, 0, h.pending(t))
}

func TestReferencesFollowReconciledParent(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)

	h.createLocal(t, records.EntityTypeCustomer, "local-c", map[string]any{"name": "Karim"})
	h.createLocal(t, records.EntityTypeSale, "local-s", map[string]any{"customer_id": "local-c", "total": 90})

	res := h.engine.SyncPendingChanges(context.Background())
	assert.Equal(t, PushResult{Success: true, Synced: 2}, res)

	saleCalls := h.adapters[records.EntityTypeSale].pushCalls()
	require.Len(t, saleCalls, 1)
	assert.Equal(t, "srv-c", saleCalls[0].data["customer_id"])

	sale := h.store.get(records.EntityTypeSale, "srv-s")
	require.NotNil(t, sale)
	assert.Equal(t, "srv-c", sale.Data["customer_id"])
}

func TestFailedItemHoldsBackSameRecord(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)
	h.adapters[records.EntityTypeProduct].setPush(func(_ context.Context, op records.Operation, _ string, _ map[string]any) (adapter.PushResult, error) {
		return adapter.PushResult{}, errors.New("validation failed")
	})

	create := h.createLocal(t, records.EntityTypeProduct, "local-x", map[string]any{"name": "Soap"})
	update := h.enqueue(t, records.OpUpdate, records.EntityTypeProduct, "local-x", map[string]any{"name": "Soap 2"})

	res := h.engine.SyncPendingChanges(context.Background())

	assert.Equal(t, PushResult{Success: true, Synced: 0, Failed: 2}, res)
	assert.Len(t, h.adapters[records.EntityTypeProduct].pushCalls(), 1)
	assert.Equal(t, 1, h.queue.item(create.ID).RetryCount)
	assert.Equal(t, 0, h.queue.item(update.ID).RetryCount)
}

func TestMissingAdapterCountsAsFailure(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)

	item := h.createLocal(t, records.EntityTypeExpense, "local-e", map[string]any{"amount": 5})

	res := h.engine.SyncPendingChanges(context.Background())

	assert.Equal(t, 1, res.Failed)
	stored := h.queue.item(item.ID)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Contains(t, stored.LastError, "no adapter")
}

func TestDeleteRemovesRecordAfterConfirmation(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)

	h.store.put(&records.Record{ID: "p9", EntityType: records.EntityTypeProduct, Data: map[string]any{}, LocallyDeleted: true})
	h.enqueue(t, records.OpDelete, records.EntityTypeProduct, "p9", map[string]any{})

	res := h.engine.SyncPendingChanges(context.Background())

	assert.Equal(t, 1, res.Synced)
	assert.Nil(t, h.store.get(records.EntityTypeProduct, "p9"))
	assert.Equal(t, 0, h.pending(t))
}

func TestPullFailureIsIsolated(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)

	h.adapters[records.EntityTypeCustomer].pullErr = errors.New("customers endpoint timed out")
	h.adapters[records.EntityTypeProduct].remote = []adapter.RemoteRecord{{ID: "p1", Data: map[string]any{"name": "Soap"}}}
	h.adapters[records.EntityTypeSale].remote = []adapter.RemoteRecord{{ID: "s1", Data: map[string]any{"total": 10}}}

	res := h.engine.PerformFullSync(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Pulled)
	assert.Contains(t, h.engine.Status().LastError, "customers endpoint timed out")
	for _, a := range h.adapters {
		assert.Equal(t, 2, a.pulls, "startup sync plus this one for %s", a.entityType)
	}
}

func TestProgressIsProportional(t *testing.T) {
	h := newHarness(t, true, withConfig(func(cfg *config.SyncConfig) { cfg.BatchSize = 1 }))
	h.init(t)
	h.createLocal(t, records.EntityTypeProduct, "local-1", nil)
	h.createLocal(t, records.EntityTypeProduct, "local-2", nil)

	var mu sync.Mutex
	var seen []int
	h.engine.Subscribe(func(s SyncStatus) {
		mu.Lock()
		defer mu.Unlock()
		if s.Syncing && (len(seen) == 0 || seen[len(seen)-1] != s.Progress) {
			seen = append(seen, s.Progress)
		}
	})

	h.engine.PerformFullSync(context.Background())

	mu.Lock()
	defer mu.Unlock()
	// two items plus three entity types
	assert.Equal(t, []int{0, 20, 40, 60, 80, 100}, seen)
	assert.Equal(t, 100, h.engine.Status().Progress)
}

func TestSubscribeContract(t *testing.T) {
	h := newHarness(t, false, withConfig(func(cfg *config.SyncConfig) { cfg.StabilizationDelay = time.Hour }))
	h.init(t)

	var calls, others atomic.Int32
	var first SyncStatus
	unsubscribe := h.engine.Subscribe(func(s SyncStatus) {
		if calls.Add(1) == 1 {
			first = s
		}
	})
	assert.Equal(t, int32(1), calls.Load(), "called before Subscribe returns")
	assert.False(t, first.Online)

	h.engine.Subscribe(func(SyncStatus) { panic("listener bug") })
	h.engine.Subscribe(func(SyncStatus) { others.Add(1) })

	h.engine.SetOnline(true)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(2), others.Load(), "a panicking listener does not stop the others")

	unsubscribe()
	h.engine.SetOnline(false)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(3), others.Load())
}

func TestCleanupResetsStatus(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)
	h.adapters[records.EntityTypeProduct].setPush(func(context.Context, records.Operation, string, map[string]any) (adapter.PushResult, error) {
		return adapter.PushResult{}, errors.New("refused")
	})
	h.createLocal(t, records.EntityTypeProduct, "local-1", nil)
	h.engine.SyncPendingChanges(context.Background())
	require.NotEmpty(t, h.engine.Status().LastError)

	var calls atomic.Int32
	h.engine.Subscribe(func(SyncStatus) { calls.Add(1) })

	h.engine.Cleanup()
	h.engine.Cleanup()

	st := h.engine.Status()
	assert.False(t, st.Syncing)
	assert.Equal(t, 0, st.PendingCount)
	assert.Empty(t, st.LastError)
	assert.Equal(t, DirectionIdle, st.Direction)
	assert.False(t, h.engine.IsReady())

	h.engine.SetOnline(false)
	assert.Equal(t, FullSyncResult{}, h.engine.PerformFullSync(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCleanupCancelsInFlightPush(t *testing.T) {
	h := newHarness(t, true)
	h.init(t)
	item := h.createLocal(t, records.EntityTypeProduct, "local-1", nil)

	entered := make(chan struct{})
	var once sync.Once
	h.adapters[records.EntityTypeProduct].setPush(func(ctx context.Context, _ records.Operation, _ string, _ map[string]any) (adapter.PushResult, error) {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return adapter.PushResult{}, ctx.Err()
	})

	done := make(chan PushResult)
	go func() {
		done <- h.engine.SyncPendingChanges(context.Background())
	}()
	<-entered

	h.engine.Cleanup()
	res := <-done

	assert.False(t, res.Success)
	assert.Equal(t, 0, h.queue.item(item.ID).RetryCount, "cancellation is not a remote failure")
	assert.Equal(t, SyncStatus{Direction: DirectionIdle}, h.engine.Status())
}

func TestCancelledPushStopsBeforeLaterItems(t *testing.T) {
	h := newHarness(t, true, withConfig(func(cfg *config.SyncConfig) { cfg.BatchSize = 2 }))
	h.init(t)
	create := h.createLocal(t, records.EntityTypeProduct, "local-1", map[string]any{"name": "Soap"})
	update := h.enqueue(t, records.OpUpdate, records.EntityTypeProduct, "local-1", map[string]any{"name": "Soap XL"})
	h.createLocal(t, records.EntityTypeCustomer, "local-c", map[string]any{"name": "Karim"})

	entered := make(chan struct{})
	var once sync.Once
	h.adapters[records.EntityTypeProduct].setPush(func(ctx context.Context, _ records.Operation, _ string, _ map[string]any) (adapter.PushResult, error) {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return adapter.PushResult{}, ctx.Err()
	})

	done := make(chan PushResult)
	go func() {
		done <- h.engine.SyncPendingChanges(context.Background())
	}()
	<-entered

	h.engine.Cleanup()
	res := <-done

	assert.False(t, res.Success)
	assert.Len(t, h.adapters[records.EntityTypeProduct].pushCalls(), 1, "the update behind the create is never sent")
	assert.Empty(t, h.adapters[records.EntityTypeCustomer].pushCalls(), "the next batch is never started")
	assert.Equal(t, 0, h.queue.item(create.ID).RetryCount)
	assert.Equal(t, 0, h.queue.item(update.ID).RetryCount)
	assert.Equal(t, 3, h.pending(t))
}

func TestInitIsIdempotentPerTenant(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	require.NoError(t, h.engine.Init(ctx, "shop-1", "user-1"))
	require.NoError(t, h.engine.Init(ctx, "shop-1", "user-1"))
	assert.Equal(t, int32(1), h.binds.Load())
	assert.True(t, h.engine.IsReady())

	var calls atomic.Int32
	h.engine.Subscribe(func(SyncStatus) { calls.Add(1) })

	require.NoError(t, h.engine.Init(ctx, "shop-2", "user-1"))
	assert.Equal(t, int32(2), h.binds.Load())
	assert.Equal(t, int32(1), calls.Load(), "switching tenant tears the old session down")
	assert.True(t, h.engine.IsReady())
}

func TestInitRequiresTenantAndEnabledClient(t *testing.T) {
	h := newHarness(t, true)
	assert.Error(t, h.engine.Init(context.Background(), "", "user-1"))

	disabled := NewEngine(config.SyncConfig{}, NewStaticProbe(false, true), nil, nil, loggy.NewNoopLogger())
	assert.ErrorIs(t, disabled.Init(context.Background(), "shop-1", "u"), ErrDisabled)
	assert.False(t, disabled.IsReady())
}

func TestInitOnlineRunsStartupSync(t *testing.T) {
	h := newHarness(t, true)
	h.createLocal(t, records.EntityTypeCustomer, "local-c", map[string]any{"name": "Karim"})

	h.init(t)

	assert.Equal(t, 0, h.pending(t))
	logs := h.logs.all()
	require.Len(t, logs, 1)
	assert.Equal(t, SyncTypeStartup, logs[0].SyncType)
	assert.Equal(t, DirectionBoth, logs[0].Direction)
}

func TestStartupSyncCanBeTurnedOff(t *testing.T) {
	h := newHarness(t, true)
	h.engine.SetStartupSync(false)
	h.createLocal(t, records.EntityTypeCustomer, "local-c", map[string]any{"name": "Karim"})

	h.init(t)

	assert.Equal(t, 1, h.pending(t))
	assert.Empty(t, h.logs.all())

	res := h.engine.PerformFullSync(context.Background())
	assert.Equal(t, 1, res.Pushed)
}

func TestOfflineSkipsSync(t *testing.T) {
	h := newHarness(t, false)
	h.init(t)
	h.createLocal(t, records.EntityTypeProduct, "local-1", nil)

	assert.Equal(t, FullSyncResult{}, h.engine.PerformFullSync(context.Background()))
	assert.Equal(t, PushResult{}, h.engine.SyncPendingChanges(context.Background()))
	assert.Empty(t, h.adapters[records.EntityTypeProduct].pushCalls())
	assert.Equal(t, 1, h.pending(t))
}

func TestGoingOfflineCancelsDelayedSync(t *testing.T) {
	h := newHarness(t, false, withConfig(func(cfg *config.SyncConfig) { cfg.StabilizationDelay = 100 * time.Millisecond }))
	h.init(t)
	h.createLocal(t, records.EntityTypeProduct, "local-1", nil)

	h.engine.SetOnline(true)
	h.engine.SetOnline(false)
	h.engine.Wait()

	assert.Empty(t, h.adapters[records.EntityTypeProduct].pushCalls())
	assert.Equal(t, 1, h.pending(t))
	assert.False(t, h.engine.Status().Online)
}

func TestPeriodicLoopDrainsQueue(t *testing.T) {
	h := newHarness(t, true, withConfig(func(cfg *config.SyncConfig) { cfg.Interval = 10 * time.Millisecond }))
	h.init(t)

	h.createLocal(t, records.EntityTypeProduct, "local-1", nil)

	require.Eventually(t, func() bool {
		n, _ := h.queue.Count(context.Background())
		return n == 0
	}, 2*time.Second, 5*time.Millisecond)

	for _, a := range h.adapters {
		a.mu.Lock()
		pulls := a.pulls
		a.mu.Unlock()
		assert.Equal(t, 1, pulls, "the timer only pushes")
	}
}

func TestProbeWatchDrivesConnectivity(t *testing.T) {
	h := newHarness(t, false)
	h.init(t)
	h.createLocal(t, records.EntityTypeProduct, "local-1", nil)

	require.Eventually(t, func() bool {
		h.probe.Set(true)
		return h.engine.Status().Online
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		n, _ := h.queue.Count(context.Background())
		return n == 0
	}, 2*time.Second, 5*time.Millisecond)
}
