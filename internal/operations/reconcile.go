package operations

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orchestra/internal/db"
	"orchestra/internal/events"
	"orchestra/internal/logger"
	"orchestra/internal/metrics"
	"orchestra/internal/repository"
)

// ReconcileReport lists the worktree ids touched by one reconciliation pass
type ReconcileReport struct {
	Purged   []string  `json:"purged"`
	Deleted  []string  `json:"deleted"`
	Errored  []string  `json:"errored"`
	Pruned   []string  `json:"pruned"` // checkout paths no record owned
	Failures []string  `json:"failures,omitempty"`
	RanAt    time.Time `json:"ran_at"`
}

// Reconcile repairs persisted worktrees whose backing resources are gone:
//   - deleted records are purged, removing any leftover checkout
//   - records whose checkout directory is missing are marked deleted
//   - stopped records whose port is bound by another process become error and lose the port
//   - creating records older than the grace period are marked deleted
//   - checkouts registered under the worktrees directory without a record are removed
//
// Per-record failures are logged and reported, never returned.
func (wo *WorktreeOperations) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	wo.reconcileMu.Lock()
	defer wo.reconcileMu.Unlock()

	report := &ReconcileReport{
		Purged:  []string{},
		Deleted: []string{},
		Errored: []string{},
		Pruned:  []string{},
		RanAt:   wo.now(),
	}

	worktrees, err := wo.store.List(ctx, repository.Filter{})
	if err != nil {
		return nil, err
	}

	for _, w := range worktrees {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := wo.reconcileOne(ctx, w.ID, report); err != nil {
			logger.WithError(err).WithField("worktree_id", w.ID).Warn("Reconciliation failed for worktree")
			report.Failures = append(report.Failures, w.ID+": "+err.Error())
		}
	}

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	wo.pruneCheckouts(ctx, report)

	logger.WithFields(logger.Fields{
		"purged":   len(report.Purged),
		"pruned":   len(report.Pruned),
		"deleted":  len(report.Deleted),
		"errored":  len(report.Errored),
		"failures": len(report.Failures),
	}).Info("Reconciled worktrees")
	return report, nil
}

func (wo *WorktreeOperations) reconcileOne(ctx context.Context, id string, report *ReconcileReport) error {
	unlock := wo.locks.lock(id)

	// re-read under the lock; the listing may be stale
	w, err := wo.store.Get(ctx, id)
	if err != nil {
		unlock()
		return err
	}

	switch {
	case w.IsDeleted():
		if pathExists(w.Path) {
			if err := wo.vcs.RemoveCheckout(ctx, w.Path); err != nil {
				unlock()
				return err
			}
		}
		err := wo.store.Delete(ctx, id)
		unlock()
		if err == nil {
			report.Purged = append(report.Purged, id)
			metrics.RecordReconcile(ctx, "purged")
		}
		return err

	case w.Status == db.WorktreeStatusCreating:
		if wo.now().Sub(w.CreatedAt) < wo.cfg.CreatingGrace {
			unlock()
			return nil
		}
		if pathExists(w.Path) {
			if err := wo.vcs.RemoveCheckout(ctx, w.Path); err != nil {
				logger.WithError(err).WithField("path", w.Path).Warn("Failed to remove stale checkout")
			}
		}
		return wo.markOrphan(ctx, w, db.WorktreeStatusDeleted, unlock, report)

	case !pathExists(w.Path):
		return wo.markOrphan(ctx, w, db.WorktreeStatusDeleted, unlock, report)

	case w.Status == db.WorktreeStatusStopped && w.Port != 0 && wo.ports.IsBound(w.Port):
		return wo.markOrphan(ctx, w, db.WorktreeStatusError, unlock, report)
	}

	unlock()
	return nil
}

// markOrphan moves w to status, releases its port and notifies listeners.
// unlock is called before notification.
func (wo *WorktreeOperations) markOrphan(ctx context.Context, w *db.Worktree, status db.WorktreeStatus, unlock func(), report *ReconcileReport) error {
	previous := w.Status
	heldPort := w.Port

	w.Status = status
	w.UpdatedAt = wo.now()
	if status == db.WorktreeStatusError {
		w.Port = 0
	}
	if err := wo.store.Update(ctx, w.ID, w); err != nil {
		unlock()
		return err
	}
	if heldPort != 0 {
		wo.ports.Release(heldPort)
	}
	unlock()

	fields := logger.Fields{
		"worktree_id": w.ID,
		"from":        previous,
		"to":          status,
		"port":        heldPort,
	}
	event := events.WorktreeUpdated
	if status == db.WorktreeStatusDeleted {
		event = events.WorktreeDeleted
		report.Deleted = append(report.Deleted, w.ID)
		metrics.RecordReconcile(ctx, "deleted")
	} else {
		report.Errored = append(report.Errored, w.ID)
		metrics.RecordReconcile(ctx, "errored")
	}
	logger.WithFields(fields).Warn("Reconciled orphaned worktree")

	wo.notify(ctx, LifecycleNotification{Event: event, Worktree: w.Clone(), Previous: previous})
	return nil
}

// pruneCheckouts removes checkouts git still tracks under the worktrees directory
// that belong to no record, e.g. left behind by a crash or an earlier purge of a
// vanished directory. Checkouts are listed before records so that a create in
// flight, which persists its record first, is never pruned.
func (wo *WorktreeOperations) pruneCheckouts(ctx context.Context, report *ReconcileReport) {
	if wo.cfg.Directory == "" {
		return
	}
	checkouts, err := wo.vcs.ListCheckouts(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to list checkouts")
		report.Failures = append(report.Failures, "list checkouts: "+err.Error())
		return
	}

	records, err := wo.store.List(ctx, repository.Filter{})
	if err != nil {
		report.Failures = append(report.Failures, "list worktrees: "+err.Error())
		return
	}
	owned := make(map[string]bool, len(records))
	for _, w := range records {
		if w.Path != "" {
			owned[canonicalPath(w.Path)] = true
		}
	}

	root := canonicalPath(wo.cfg.Directory)
	for _, c := range checkouts {
		path := canonicalPath(c.Path)
		if c.IsBare || owned[path] || !within(root, path) {
			continue
		}
		if err := wo.vcs.RemoveCheckout(ctx, c.Path); err != nil {
			logger.WithError(err).WithField("path", c.Path).Warn("Failed to prune checkout")
			report.Failures = append(report.Failures, c.Path+": "+err.Error())
			continue
		}
		logger.WithFields(logger.Fields{
			"path":   c.Path,
			"branch": c.Branch,
		}).Warn("Pruned checkout without a worktree record")
		report.Pruned = append(report.Pruned, c.Path)
		metrics.RecordReconcile(ctx, "pruned")
	}
}

// canonicalPath resolves symlinks where the path, or at least its parent, exists
func canonicalPath(p string) string {
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		return filepath.Join(dir, filepath.Base(p))
	}
	return p
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// StartReconciler runs Reconcile every interval until ctx is cancelled.
// The returned channel is closed when the loop exits.
func (wo *WorktreeOperations) StartReconciler(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if interval <= 0 {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := wo.Reconcile(ctx); err != nil && ctx.Err() == nil {
					logger.WithError(err).Error("Periodic reconciliation failed")
				}
			}
		}
	}()
	return done
}

func pathExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
