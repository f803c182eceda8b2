package board

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/models"
)

// sweepKey is the singleflight key shared by every Reconcile caller.
const sweepKey = "sweep"

// Reconcile runs one sweep over the pending set. A call made while a
// sweep is in flight waits for that sweep and returns its result
// instead of starting another. With nothing pending it returns the
// current status without touching the network.
func (e *Engine) Reconcile(ctx context.Context) Status {
	v, _, _ := e.sweeps.Do(sweepKey, func() (any, error) {
		return e.sweep(ctx), nil
	})

	return v.(Status)
}

func (e *Engine) sweep(ctx context.Context) Status {
	marks := e.tracker.snapshot()
	if len(marks) == 0 {
		return e.Status()
	}

	ids := make([]string, 0, len(marks))
	for id := range marks {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	e.setState(StateSyncing)
	e.logger.Debug("reconciling pending changes", slog.Int("pending", len(ids)))

	var synced int

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		pushed, ok := e.reconcileOne(ctx, id)
		if ok && e.settle(id, pushed, marks[id]) {
			synced++
		}
	}

	if e.tracker.Len() == 0 {
		e.setState(StateOnline)
	} else {
		e.setState(StateOffline)
	}

	st := e.Status()
	e.logger.Info("reconciliation sweep finished",
		slog.Int("synced", synced),
		slog.Int("pending", st.Pending),
	)

	return st
}

// reconcileOne pushes the current local view of id and returns the task
// it sent, or nil if it sent a delete. A task missing locally is deleted
// remotely. A present task is updated, falling back to create when the
// update fails, which covers a create that never reached the server.
func (e *Engine) reconcileOne(ctx context.Context, id string) (*models.Task, bool) {
	task, ok := e.Task(id)
	if !ok {
		if err := e.gateway.Delete(ctx, id); err != nil {
			e.logger.Debug("pending delete failed", slog.String("id", id), slog.String("error", err.Error()))
			return nil, false
		}

		return nil, true
	}

	err := e.gateway.Update(ctx, id, task)
	if err == nil {
		return &task, true
	}

	if e.strictFallback && !IsRejected(err, http.StatusNotFound) {
		e.logger.Debug("pending update failed", slog.String("id", id), slog.String("error", err.Error()))
		return &task, false
	}

	if cerr := e.gateway.Create(ctx, task); cerr != nil {
		e.logger.Debug("pending update and create failed",
			slog.String("id", id),
			slog.String("update_error", err.Error()),
			slog.String("create_error", cerr.Error()),
		)

		return &task, false
	}

	return &task, true
}

// Run reconciles on a fixed interval until ctx is cancelled. Sweeps run
// synchronously on the calling goroutine. The ticker holds at most one
// tick, so a sweep slower than the interval is followed by at most one
// immediate sweep and the remaining ticks are dropped.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("reconciliation loop started", slog.Duration("interval", e.interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Reconcile(ctx)
		}
	}
}
