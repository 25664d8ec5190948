package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tildaslashalef/shopsync/internal/adapter"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/queue"
	"github.com/tildaslashalef/shopsync/internal/records"
	"github.com/tildaslashalef/shopsync/internal/remote"
	"github.com/tildaslashalef/shopsync/internal/ulid"
	"golang.org/x/sync/errgroup"
)

type recordKey struct {
	entityType records.EntityType
	id         string
}

func keyOf(item *queue.Item) recordKey {
	return recordKey{entityType: item.EntityType, id: item.RecordID}
}

type pushOutcome struct {
	synced  int
	failed  int
	lastErr error
	// fatal is set when the queue could not be read at all
	fatal error
}

// pushRun holds the bookkeeping of one push phase
type pushRun struct {
	backend   *Backend
	threshold int
	logger    *loggy.Logger

	mu sync.Mutex
	// renamed maps records reconciled in this run to their server ids
	renamed map[recordKey]string
	// ids maps superseded client ids to server ids for rewriting references in payloads
	ids map[string]string
	// blocked records had a mutation fail; their later items wait for the next run
	blocked map[recordKey]bool
	// remaining counts the items of each record not processed yet
	remaining map[recordKey]int
	synced    int
	failed    int
	lastErr   error
}

func (e *Engine) push(ctx context.Context, sess *session, items []*queue.Item, prog *progress) pushOutcome {
	logger := loggy.FromContext(ctx)
	run := &pushRun{
		backend:   sess.backend,
		threshold: e.cfg.MaxRetryCount,
		logger:    logger,
		renamed:   make(map[recordKey]string),
		ids:       make(map[string]string),
		blocked:   make(map[recordKey]bool),
		remaining: make(map[recordKey]int),
	}

	exhausted := 0
	for _, item := range items {
		run.remaining[keyOf(item)]++
		if item.Exhausted(e.cfg.MaxRetryCount) {
			exhausted++
		}
	}
	if exhausted > 0 {
		logger.Warn("Queue holds items past their retry limit", "count", exhausted, "limit", e.cfg.MaxRetryCount)
	}

	e.update(sess, func(s *SyncStatus) {
		s.PendingCount = len(items)
	})

	for start := 0; start < len(items); start += e.cfg.BatchSize {
		if ctx.Err() != nil {
			logger.Info("Push interrupted", "processed", start, "total", len(items))
			break
		}

		end := min(start+e.cfg.BatchSize, len(items))
		batch := items[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, chain := range run.chains(batch) {
			g.Go(func() error {
				for _, item := range chain {
					if err := gctx.Err(); err != nil {
						return err
					}
					run.process(gctx, item)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			logger.WithError(err).Info("Push interrupted", "processed", start, "total", len(items))
			break
		}

		pct := prog.advance(len(batch))
		e.update(sess, func(s *SyncStatus) {
			s.Progress = pct
		})
		logger.Debug("Push batch finished", "batch_start", start, "batch_size", len(batch))
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return pushOutcome{synced: run.synced, failed: run.failed, lastErr: run.lastErr}
}

// resolve follows reconciliations made earlier in the run; callers hold r.mu
func (r *pushRun) resolve(key recordKey) recordKey {
	for {
		next, ok := r.renamed[key]
		if !ok {
			return key
		}
		key = recordKey{entityType: key.entityType, id: next}
	}
}

// chains splits a batch into sequences that may run concurrently. Items of one
// record stay in enqueue order in one chain, and an item whose payload references
// a record created in the same batch follows that record's chain.
func (r *pushRun) chains(batch []*queue.Item) [][]*queue.Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chains [][]*queue.Item
	byKey := make(map[recordKey]int)
	byID := make(map[string]int)

	for _, item := range batch {
		key := r.resolve(keyOf(item))

		idx, ok := byKey[key]
		if !ok && item.Operation != records.OpDelete {
			for _, ref := range localRefs(item.Data) {
				if j, found := byID[ref]; found {
					idx, ok = j, true
					break
				}
			}
		}
		if !ok {
			idx = len(chains)
			chains = append(chains, nil)
		}

		chains[idx] = append(chains[idx], item)
		byKey[key] = idx
		byID[key.id] = idx
	}

	return chains
}

// localRefs returns the client ids a payload's top-level fields point at
func localRefs(data map[string]any) []string {
	var refs []string
	for _, v := range data {
		if s, ok := v.(string); ok && ulid.IsLocalID(s) {
			refs = append(refs, s)
		}
	}
	return refs
}

// rewriteRefs replaces superseded client ids anywhere in a payload
func (r *pushRun) rewriteRefs(v any) any {
	switch val := v.(type) {
	case string:
		if next, ok := r.ids[val]; ok {
			return next
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = r.rewriteRefs(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = r.rewriteRefs(inner)
		}
		return out
	}
	return v
}

// prepare resolves the item's current record id and payload, and consumes it from
// the remaining count. last reports whether no later item of the record is in this run.
func (r *pushRun) prepare(item *queue.Item) (target recordKey, data map[string]any, blocked, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyOf(item)
	r.remaining[key]--
	last = r.remaining[key] <= 0

	target = r.resolve(key)
	if r.blocked[target] {
		return target, nil, true, last
	}

	data, _ = r.rewriteRefs(records.StripLocalFlags(item.Data)).(map[string]any)
	return target, data, false, last
}

func (r *pushRun) process(ctx context.Context, item *queue.Item) {
	target, data, blocked, last := r.prepare(item)
	logger := r.logger.With(
		"queue_item_id", item.ID,
		"entity_type", item.EntityType,
		"record_id", target.id,
		"operation", item.Operation,
	)

	if blocked {
		logger.Debug("Holding item behind a failed change to the same record")
		r.mu.Lock()
		r.failed++
		r.mu.Unlock()
		return
	}

	a, err := r.backend.Adapters.Get(item.EntityType)
	if err == nil {
		var res adapter.PushResult
		res, err = a.Push(remote.WithIdempotencyKey(ctx, item.ID), item.Operation, target.id, data)
		if err == nil {
			r.acknowledge(ctx, logger, item, target, res, last)
			return
		}
	}

	r.reject(ctx, logger, item, target, err)
}

func (r *pushRun) reject(ctx context.Context, logger *loggy.Logger, item *queue.Item, target recordKey, err error) {
	r.mu.Lock()
	r.blocked[target] = true
	r.failed++
	r.lastErr = err
	r.mu.Unlock()

	if ctx.Err() != nil {
		logger.WithError(err).Info("Push cancelled")
		return
	}

	if uerr := r.backend.Queue.UpdateError(context.WithoutCancel(ctx), item.ID, err.Error()); uerr != nil {
		logger.WithError(uerr).Error("Failed to record push error", "push_error", err)
		return
	}

	retries := item.RetryCount + 1
	if retries > r.threshold {
		logger.WithError(err).Warn("Queue item exhausted its retries, keeping it queued", "retry_count", retries)
		return
	}
	logger.WithError(err).Warn("Push failed", "retry_count", retries)
}

// acknowledge applies a confirmed mutation locally and removes its queue item
func (r *pushRun) acknowledge(ctx context.Context, logger *loggy.Logger, item *queue.Item, target recordKey, res adapter.PushResult, last bool) {
	bctx := context.WithoutCancel(ctx)
	store := r.backend.Store

	// local edits made after this item was queued keep the record modified
	acknowledged := item.EnqueuedAt
	if !last {
		acknowledged = time.Time{}
	}

	switch item.Operation {
	case records.OpCreate:
		if res.RemoteID != "" && res.RemoteID != target.id {
			if err := r.reconcile(bctx, logger, item, target, res.RemoteID, acknowledged); err != nil {
				// the item stays queued; its idempotency key makes the next run's
				// create return the same server id and the swap is retried
				r.reject(bctx, logger, item, target, err)
				return
			}
			break
		}
		r.clearFlags(bctx, logger, target, acknowledged)
	case records.OpUpdate:
		r.clearFlags(bctx, logger, target, acknowledged)
	case records.OpDelete:
		if err := store.HardDelete(bctx, target.entityType, target.id); err != nil {
			logger.WithError(err).Error("Failed to remove deleted record")
		}
	}

	if err := r.backend.Queue.MarkSynced(bctx, item.ID); err != nil {
		logger.WithError(err).Error("Failed to remove synced queue item")
	}

	r.mu.Lock()
	r.synced++
	r.mu.Unlock()
	logger.Debug("Change pushed")
}

func (r *pushRun) clearFlags(ctx context.Context, logger *loggy.Logger, target recordKey, acknowledged time.Time) {
	found, err := r.backend.Store.ClearLocalFlags(ctx, target.entityType, target.id, acknowledged)
	if err != nil {
		logger.WithError(err).Error("Failed to clear local flags")
		return
	}
	if !found {
		logger.Debug("Pushed record no longer stored locally")
	}
}

// reconcile moves a record created under a client id to the id the remote assigned,
// then points references and queued items at the new id. Later items of the run
// follow the new id only once the local row was moved.
func (r *pushRun) reconcile(ctx context.Context, logger *loggy.Logger, item *queue.Item, target recordKey, remoteID string, acknowledged time.Time) error {
	logger = logger.With("remote_id", remoteID)
	store := r.backend.Store

	err := store.ReplaceID(ctx, target.entityType, target.id, remoteID, acknowledged)
	switch {
	case errors.Is(err, records.ErrRecordNotFound):
		logger.Warn("Created record no longer stored locally")
	case err != nil:
		return fmt.Errorf("storing server id %s: %w", remoteID, err)
	}

	r.mu.Lock()
	r.renamed[target] = remoteID
	r.ids[target.id] = remoteID
	r.mu.Unlock()

	if n, err := store.RewriteReferences(ctx, target.id, remoteID); err != nil {
		logger.WithError(err).Error("Failed to rewrite references to client id")
	} else if n > 0 {
		logger.Debug("Rewrote references to client id", "records", n)
	}

	if n, err := r.backend.Queue.RewriteRecordID(ctx, item.EntityType, target.id, remoteID); err != nil {
		logger.WithError(err).Error("Failed to repoint queued items")
	} else if n > 0 {
		logger.Debug("Repointed queued items", "items", n)
	}

	logger.Info("Reconciled client id")
	return nil
}
