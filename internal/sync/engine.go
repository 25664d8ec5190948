package sync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/tildaslashalef/shopsync/internal/adapter"
	"github.com/tildaslashalef/shopsync/internal/config"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/queue"
	"github.com/tildaslashalef/shopsync/internal/records"
	"github.com/tildaslashalef/shopsync/internal/ulid"
)

const (
	DefaultBatchSize          = 50
	DefaultMaxRetryCount      = 5
	DefaultInterval           = 30 * time.Second
	DefaultStabilizationDelay = 2 * time.Second
)

// ErrDisabled is returned by Init when the probe says this client does not sync
var ErrDisabled = errors.New("sync is disabled on this client")

// Backend is the tenant-scoped storage and remote access a session works against
type Backend struct {
	Store    records.Store
	Queue    queue.Queue
	Adapters *adapter.Registry
}

// BindFunc builds the backend of one tenant and user
type BindFunc func(ctx context.Context, tenantID, userID string) (*Backend, error)

type session struct {
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	tenantID   string
	userID     string
	backend    *Backend
	logger     *loggy.Logger
}

// runContext returns a context cancelled by either the caller or the end of the session
func (s *session) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

type delayedSync struct {
	cancel context.CancelFunc
}

// Engine coordinates pushing queued local mutations and pulling remote state for one tenant session
type Engine struct {
	cfg    config.SyncConfig
	probe  Probe
	bind   BindFunc
	logs   LogRepository
	logger *loggy.Logger
	now    func() time.Time

	// lifecycle serializes Init and Cleanup
	lifecycle sync.Mutex

	mu         sync.Mutex
	idle       *sync.Cond
	status     SyncStatus
	listeners  map[int]Listener
	nextID     int
	session    *session
	generation uint64
	background int
	delayed    *delayedSync
	// startup runs a full sync when a session starts online
	startup bool
}

// NewEngine creates an engine. logs may be nil.
func NewEngine(cfg config.SyncConfig, probe Probe, bind BindFunc, logs LogRepository, logger *loggy.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = DefaultMaxRetryCount
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StabilizationDelay < 0 {
		cfg.StabilizationDelay = 0
	}

	e := &Engine{
		cfg:       cfg,
		probe:     probe,
		bind:      bind,
		logs:      logs,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		status:    SyncStatus{Direction: DirectionIdle},
		listeners: make(map[int]Listener),
		startup:   true,
	}
	e.idle = sync.NewCond(&e.mu)
	return e
}

// Init starts a session for a tenant. Calling it again for the same tenant is a no-op;
// a different tenant tears the current session down first.
func (e *Engine) Init(ctx context.Context, tenantID, userID string) error {
	if tenantID == "" {
		return errors.New("tenant id is required")
	}
	if !e.probe.ShouldRun() {
		e.logger.Info("Sync engine disabled on this client")
		return ErrDisabled
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	current := e.session
	e.mu.Unlock()

	if current != nil {
		if current.tenantID == tenantID {
			return nil
		}
		e.logger.Info("Switching sync tenant", "from", current.tenantID, "to", tenantID)
		e.cleanup()
	}

	backend, err := e.bind(ctx, tenantID, userID)
	if err != nil {
		return fmt.Errorf("binding sync backend for tenant %s: %w", tenantID, err)
	}

	pending, err := backend.Queue.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting pending changes: %w", err)
	}

	online := e.probe.Online(ctx)

	logger := e.logger.With("tenant_id", tenantID)
	sessCtx, cancel := context.WithCancel(loggy.WithLogger(context.WithoutCancel(ctx), logger))

	e.mu.Lock()
	e.generation++
	sess := &session{
		ctx:        sessCtx,
		cancel:     cancel,
		generation: e.generation,
		tenantID:   tenantID,
		userID:     userID,
		backend:    backend,
		logger:     logger,
	}
	e.session = sess
	e.status = SyncStatus{Online: online, PendingCount: pending, Direction: DirectionIdle}
	startup := e.startup
	e.mu.Unlock()

	logger.Info("Sync engine initialized", "user_id", userID, "online", online, "pending", pending)

	go e.loop(sess)
	go e.probe.Watch(sessCtx, func(online bool) {
		e.onConnectivity(sess, online)
	})

	e.publish()

	if online && startup {
		e.scheduleFullSync(sess, 0, SyncTypeStartup)
	}
	return nil
}

// SetStartupSync controls whether Init starts a full sync when the session begins online.
// One-shot callers turn it off to run their own sync instead.
func (e *Engine) SetStartupSync(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startup = enabled
}

// Cleanup ends the session: in-flight remote calls are cancelled, the timer and the
// connectivity watch stop, listeners are dropped and the status is reset.
// It is safe to call more than once.
func (e *Engine) Cleanup() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.cleanup()
}

func (e *Engine) cleanup() {
	e.mu.Lock()
	sess := e.session
	if e.delayed != nil {
		e.delayed.cancel()
		e.delayed = nil
	}
	e.session = nil
	e.generation++
	e.status = SyncStatus{Direction: DirectionIdle}
	e.listeners = make(map[int]Listener)
	e.mu.Unlock()

	if sess != nil {
		sess.cancel()
		sess.logger.Info("Sync engine stopped")
	}
}

// IsReady reports whether a session is active
func (e *Engine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Status returns a snapshot of the current status
func (e *Engine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.clone()
}

// Subscribe registers a listener. The listener is called with the current status
// before Subscribe returns, then on every change until unsubscribed.
func (e *Engine) Subscribe(listener Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = listener
	snapshot := e.status.clone()
	e.mu.Unlock()

	e.notify(id, listener, snapshot)

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Wait blocks until scheduled and periodic background runs have finished
func (e *Engine) Wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.background > 0 {
		e.idle.Wait()
	}
}

// SetOnline feeds a connectivity signal into the engine
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	sess := e.session
	e.mu.Unlock()

	if sess != nil {
		e.onConnectivity(sess, online)
	}
}

// PerformFullSync pushes pending changes then pulls remote state. It returns
// immediately with Success=false when not ready, offline or already syncing.
func (e *Engine) PerformFullSync(ctx context.Context) FullSyncResult {
	sess := e.currentSession()
	if sess == nil {
		return FullSyncResult{}
	}
	return e.fullSync(ctx, sess, SyncTypeManual)
}

// ForceSync runs a full sync on user request
func (e *Engine) ForceSync(ctx context.Context) FullSyncResult {
	return e.PerformFullSync(ctx)
}

// SyncPendingChanges runs the push phase only
func (e *Engine) SyncPendingChanges(ctx context.Context) PushResult {
	sess := e.currentSession()
	if sess == nil {
		return PushResult{}
	}
	return e.pushOnly(ctx, sess, SyncTypePush)
}

func (e *Engine) currentSession() *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// current reports whether sess is still the live session; callers hold e.mu
func (e *Engine) current(sess *session) bool {
	return e.session != nil && e.session.generation == sess.generation
}

// update applies fn to the status of a live session and publishes the result
func (e *Engine) update(sess *session, fn func(s *SyncStatus)) bool {
	e.mu.Lock()
	if !e.current(sess) {
		e.mu.Unlock()
		return false
	}
	fn(&e.status)
	e.mu.Unlock()

	e.publish()
	return true
}

func (e *Engine) publish() {
	e.mu.Lock()
	snapshot := e.status.clone()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		e.mu.Lock()
		listener, ok := e.listeners[id]
		e.mu.Unlock()
		if ok {
			e.notify(id, listener, snapshot)
		}
	}
}

func (e *Engine) notify(id int, listener Listener, snapshot SyncStatus) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Sync status listener panicked", "listener", id, "panic", r)
		}
	}()
	listener(snapshot)
}

func (e *Engine) onConnectivity(sess *session, online bool) {
	e.mu.Lock()
	if !e.current(sess) || e.status.Online == online {
		e.mu.Unlock()
		return
	}
	e.status.Online = online
	if !online && e.delayed != nil {
		e.delayed.cancel()
		e.delayed = nil
	}
	e.mu.Unlock()

	sess.logger.Info("Connectivity changed", "online", online)
	e.publish()

	if online {
		e.scheduleFullSync(sess, e.cfg.StabilizationDelay, SyncTypeReconnect)
	}
}

// scheduleFullSync runs a full sync in the background after delay. A newer schedule
// or going offline replaces a pending one.
func (e *Engine) scheduleFullSync(sess *session, delay time.Duration, trigger SyncType) {
	e.mu.Lock()
	if !e.current(sess) {
		e.mu.Unlock()
		return
	}
	if e.delayed != nil {
		e.delayed.cancel()
	}
	dctx, cancel := context.WithCancel(sess.ctx)
	pending := &delayedSync{cancel: cancel}
	e.delayed = pending
	e.background++
	e.mu.Unlock()

	go func() {
		defer e.backgroundDone()
		defer cancel()

		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-dctx.Done():
				return
			case <-timer.C:
			}
		} else if dctx.Err() != nil {
			return
		}

		e.mu.Lock()
		if e.delayed == pending {
			e.delayed = nil
		}
		e.mu.Unlock()

		e.fullSync(sess.ctx, sess, trigger)
	}()
}

func (e *Engine) backgroundDone() {
	e.mu.Lock()
	e.background--
	e.idle.Broadcast()
	e.mu.Unlock()
}

// loop drains the queue on every tick while online and idle
func (e *Engine) loop(sess *session) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			due := e.current(sess) && e.status.Online && !e.status.Syncing
			if due {
				e.background++
			}
			e.mu.Unlock()

			if due {
				e.pushOnly(sess.ctx, sess, SyncTypePeriodic)
				e.backgroundDone()
			}
		}
	}
}

// begin claims the syncing flag; it fails when not live, offline or already syncing
func (e *Engine) begin(sess *session) bool {
	e.mu.Lock()
	if !e.current(sess) || !e.status.Online || e.status.Syncing {
		e.mu.Unlock()
		return false
	}
	e.status.Syncing = true
	e.status.Direction = DirectionPush
	e.status.Progress = 0
	e.mu.Unlock()

	e.publish()
	return true
}

// finish releases the syncing flag and publishes the final status of a run
func (e *Engine) finish(ctx context.Context, sess *session, lastError string) {
	pending, err := sess.backend.Queue.Count(ctx)
	if err != nil {
		loggy.FromContext(ctx).Warn("Failed to count pending changes", "error", err)
	}
	now := e.now()

	e.update(sess, func(s *SyncStatus) {
		s.Syncing = false
		s.Direction = DirectionIdle
		s.Progress = 100
		s.LastSyncAt = &now
		s.LastError = lastError
		if err == nil {
			s.PendingCount = pending
		}
	})
}

func (e *Engine) startRun(ctx context.Context, sess *session, trigger SyncType, direction Direction) (context.Context, context.CancelFunc, *SyncLog) {
	runCtx, cancel := sess.runContext(ctx)
	runID := ulid.RunID()
	runCtx = loggy.WithRunID(runCtx, sess.logger, runID)
	loggy.FromContext(runCtx).Info("Sync run started", "trigger", trigger, "direction", direction)
	return runCtx, cancel, NewSyncLog(sess.tenantID, runID, trigger, direction)
}

func (e *Engine) saveLog(ctx context.Context, log *SyncLog) {
	logger := loggy.FromContext(ctx)
	logger.Info("Sync run finished",
		"success", log.Success,
		"pushed", log.Pushed,
		"failed", log.Failed,
		"pulled", log.Pulled,
		"duration", log.Duration())

	if e.logs == nil {
		return
	}
	if err := e.logs.CreateSyncLog(ctx, log); err != nil {
		logger.Warn("Failed to save sync log", "error", err)
	}
}

func (e *Engine) fullSync(ctx context.Context, sess *session, trigger SyncType) FullSyncResult {
	if !e.begin(sess) {
		sess.logger.Debug("Full sync skipped", "trigger", trigger)
		return FullSyncResult{}
	}

	runCtx, cancel, syncLog := e.startRun(ctx, sess, trigger, DirectionBoth)
	defer cancel()
	// bookkeeping after the run must not be lost to cancellation
	bookCtx := context.WithoutCancel(runCtx)

	types := sess.backend.Adapters.Types()
	items, err := sess.backend.Queue.GetPending(runCtx, 0)

	var push pushOutcome
	if err != nil {
		push.fatal = fmt.Errorf("reading sync queue: %w", err)
		push.lastErr = push.fatal
	}
	prog := newProgress(len(items) + len(types))
	if err == nil {
		push = e.push(runCtx, sess, items, prog)
	}

	e.update(sess, func(s *SyncStatus) {
		s.Direction = DirectionPull
	})
	pull := e.pull(runCtx, sess, types, prog)

	lastErr := pull.lastErr
	if lastErr == nil {
		lastErr = push.lastErr
	}

	e.finish(bookCtx, sess, errorMessage(lastErr))

	result := FullSyncResult{
		Success: push.fatal == nil && runCtx.Err() == nil,
		Pushed:  push.synced,
		Pulled:  pull.pulled,
	}
	if result.Success {
		syncLog.MarkSuccessful(push.synced, push.failed, pull.pulled)
		if lastErr != nil {
			syncLog.ErrorType = classifyError(lastErr)
			syncLog.ErrorMessage = lastErr.Error()
		}
	} else {
		syncLog.Pushed, syncLog.Failed, syncLog.Pulled = push.synced, push.failed, pull.pulled
		syncLog.MarkFailed(classifyError(lastErr), errorMessage(lastErr))
	}
	e.saveLog(bookCtx, syncLog)

	return result
}

func (e *Engine) pushOnly(ctx context.Context, sess *session, trigger SyncType) PushResult {
	if !e.begin(sess) {
		sess.logger.Debug("Push skipped", "trigger", trigger)
		return PushResult{}
	}

	runCtx, cancel, syncLog := e.startRun(ctx, sess, trigger, DirectionPush)
	defer cancel()
	bookCtx := context.WithoutCancel(runCtx)

	var push pushOutcome
	items, err := sess.backend.Queue.GetPending(runCtx, 0)
	if err != nil {
		push.fatal = fmt.Errorf("reading sync queue: %w", err)
		push.lastErr = push.fatal
	} else {
		push = e.push(runCtx, sess, items, newProgress(len(items)))
	}

	e.finish(bookCtx, sess, errorMessage(push.lastErr))

	result := PushResult{
		Success: push.fatal == nil && runCtx.Err() == nil,
		Synced:  push.synced,
		Failed:  push.failed,
	}
	if result.Success {
		syncLog.MarkSuccessful(push.synced, push.failed, 0)
		if push.lastErr != nil {
			syncLog.ErrorType = classifyError(push.lastErr)
			syncLog.ErrorMessage = push.lastErr.Error()
		}
	} else {
		syncLog.Pushed, syncLog.Failed = push.synced, push.failed
		syncLog.MarkFailed(classifyError(push.lastErr), errorMessage(push.lastErr))
	}
	e.saveLog(bookCtx, syncLog)

	return result
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// progress spreads 0-100 over every queue item and pulled entity type of a run
type progress struct {
	mu    sync.Mutex
	done  int
	total int
}

func newProgress(total int) *progress {
	return &progress{total: total}
}

func (p *progress) advance(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += n
	if p.total <= 0 || p.done >= p.total {
		return 100
	}
	return int(math.Round(float64(p.done) / float64(p.total) * 100))
}
