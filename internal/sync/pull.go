package sync

import (
	"context"
	"fmt"

	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/records"
)

type pullOutcome struct {
	pulled  int
	skipped int
	lastErr error
}

// pull applies the remote collection of every entity type. Records with unsynced
// local state are left alone, and one entity type failing does not stop the others.
func (e *Engine) pull(ctx context.Context, sess *session, types []records.EntityType, prog *progress) pullOutcome {
	logger := loggy.FromContext(ctx)
	var out pullOutcome

	for _, entityType := range types {
		if ctx.Err() != nil {
			logger.Info("Pull interrupted", "entity_type", entityType)
			if out.lastErr == nil {
				out.lastErr = ctx.Err()
			}
			break
		}

		pulled, skipped, err := e.pullEntity(ctx, sess, entityType)
		out.pulled += pulled
		out.skipped += skipped
		if err != nil {
			out.lastErr = err
			logger.Warn("Pull failed", "entity_type", entityType, "error", err)
		}

		pct := prog.advance(1)
		e.update(sess, func(s *SyncStatus) {
			s.Progress = pct
		})
	}

	logger.Debug("Pull finished", "pulled", out.pulled, "kept_local", out.skipped)
	return out
}

func (e *Engine) pullEntity(ctx context.Context, sess *session, entityType records.EntityType) (pulled, skipped int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pulling %s: panic: %v", entityType, r)
		}
	}()

	a, err := sess.backend.Adapters.Get(entityType)
	if err != nil {
		return 0, 0, err
	}

	remoteRecords, err := a.Pull(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("pulling %s: %w", entityType, err)
	}

	logger := loggy.FromContext(ctx).With("entity_type", entityType)
	for _, rr := range remoteRecords {
		record := &records.Record{
			ID:         rr.ID,
			EntityType: entityType,
			Data:       rr.Data,
			UpdatedAt:  e.now(),
		}

		wrote, err := sess.backend.Store.SaveIfClean(ctx, record)
		if err != nil {
			logger.Warn("Failed to store pulled record", "record_id", rr.ID, "error", err)
			continue
		}
		if wrote {
			pulled++
		} else {
			skipped++
		}
	}

	return pulled, skipped, nil
}
