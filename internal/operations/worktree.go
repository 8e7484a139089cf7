package operations

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/events"
	"orchestra/internal/logger"
	"orchestra/internal/metrics"
	"orchestra/internal/port"
	"orchestra/internal/repository"
)

// transitions lists the allowed status changes. Same-state updates are handled separately.
var transitions = map[db.WorktreeStatus][]db.WorktreeStatus{
	db.WorktreeStatusCreating: {db.WorktreeStatusActive, db.WorktreeStatusDeleted},
	db.WorktreeStatusActive:   {db.WorktreeStatusStopped, db.WorktreeStatusError, db.WorktreeStatusDeleted},
	db.WorktreeStatusStopped:  {db.WorktreeStatusActive, db.WorktreeStatusDeleted},
	db.WorktreeStatusError:    {db.WorktreeStatusDeleted},
}

// CanTransition reports whether a worktree may move from one status to another
func CanTransition(from, to db.WorktreeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// WorktreeConfig holds the worktree manager settings
type WorktreeConfig struct {
	// Directory is the parent directory of all checkouts
	Directory       string
	CreatingGrace   time.Duration
	AllowedCommands []string
	CommandTimeout  time.Duration
}

// WorktreeOperations owns the worktree lifecycle: ports, checkouts and persisted state
type WorktreeOperations struct {
	store repository.Repository[*db.Worktree]
	vcs   VCS
	ports PortAllocator
	bus   *events.Bus
	cfg   WorktreeConfig

	listenersMu sync.RWMutex
	listeners   []LifecycleListener

	locks       entityLocks
	reconcileMu sync.Mutex
	now         func() time.Time
}

// NewWorktreeOperations creates a new WorktreeOperations instance. bus may be nil.
func NewWorktreeOperations(store repository.Repository[*db.Worktree], vcs VCS, ports PortAllocator, bus *events.Bus, cfg WorktreeConfig) *WorktreeOperations {
	return &WorktreeOperations{
		store: store,
		vcs:   vcs,
		ports: ports,
		bus:   bus,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// AddListener registers an observer for lifecycle notifications
func (wo *WorktreeOperations) AddListener(l LifecycleListener) {
	wo.listenersMu.Lock()
	defer wo.listenersMu.Unlock()
	wo.listeners = append(wo.listeners, l)
}

// CreateWorktreeRequest contains all parameters for creating a worktree
type CreateWorktreeRequest struct {
	BranchName string `json:"branch_name"`
	IssueURL   string `json:"issue_url,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	// ZoneID optionally assigns the new worktree to a zone before its triggers run
	ZoneID string `json:"zone_id,omitempty"`
}

// CreateWorktree allocates a port, checks out the branch and persists an active worktree.
// Any failure after the port is allocated releases it and removes the record.
func (wo *WorktreeOperations) CreateWorktree(ctx context.Context, req CreateWorktreeRequest) (*db.Worktree, error) {
	branch := strings.TrimSpace(req.BranchName)
	if err := wo.vcs.ValidateBranchName(branch); err != nil {
		if errors.HasCode(err, errors.ErrBranchInvalid) {
			return nil, err
		}
		return nil, errors.BranchInvalid(branch, err.Error())
	}

	p, err := wo.ports.Allocate()
	if err != nil {
		metrics.RecordPortAllocation(ctx, "exhausted")
		return nil, err
	}
	metrics.RecordPortAllocation(ctx, "allocated")

	id := uuid.New().String()
	now := wo.now()
	w := &db.Worktree{
		ID:         id,
		BranchName: branch,
		IssueURL:   strings.TrimSpace(req.IssueURL),
		TaskID:     req.TaskID,
		Port:       p,
		Path:       wo.checkoutPath(branch, id),
		Status:     db.WorktreeStatusCreating,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	unlock := wo.locks.lock(id)
	defer unlock()

	if err := wo.store.Create(ctx, w); err != nil {
		wo.ports.Release(p)
		return nil, err
	}

	if err := wo.checkout(ctx, w); err != nil {
		wo.abandon(ctx, w)
		return nil, err
	}

	w.Status = db.WorktreeStatusActive
	w.UpdatedAt = wo.now()
	if err := wo.store.Update(ctx, w.ID, w); err != nil {
		if rmErr := wo.vcs.RemoveCheckout(ctx, w.Path); rmErr != nil {
			logger.WithError(rmErr).WithField("path", w.Path).Warn("Failed to remove checkout of abandoned worktree")
		}
		wo.abandon(ctx, w)
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"worktree_id": w.ID,
		"branch":      w.BranchName,
		"port":        w.Port,
		"path":        w.Path,
	}).Info("Created worktree")

	wo.notify(ctx, LifecycleNotification{Event: events.WorktreeCreated, Worktree: w.Clone(), ZoneID: req.ZoneID})
	return w, nil
}

func (wo *WorktreeOperations) checkout(ctx context.Context, w *db.Worktree) error {
	exists, err := wo.vcs.BranchExists(ctx, w.BranchName)
	if err == nil {
		err = wo.vcs.CreateWorktreeCheckout(ctx, w.BranchName, w.Path, !exists)
	}
	if err == nil {
		return nil
	}
	if errors.HasCode(err, errors.ErrVCSOperationFailed) {
		return err
	}
	return errors.VCSOperationFailed("checkout", err)
}

// abandon undoes a partial creation: the record is removed and the port released
func (wo *WorktreeOperations) abandon(ctx context.Context, w *db.Worktree) {
	if err := wo.store.Delete(context.WithoutCancel(ctx), w.ID); err != nil {
		logger.WithError(err).WithField("worktree_id", w.ID).Warn("Failed to remove record of abandoned worktree")
	}
	wo.ports.Release(w.Port)
}

// GetWorktree returns a worktree by id
func (wo *WorktreeOperations) GetWorktree(ctx context.Context, id string) (*db.Worktree, error) {
	return wo.store.Get(ctx, id)
}

// ListWorktrees returns worktrees matching every field in filters, in creation order
func (wo *WorktreeOperations) ListWorktrees(ctx context.Context, filters map[string]interface{}) ([]*db.Worktree, error) {
	if s, ok := filters["status"]; ok {
		if status, isString := s.(string); isString && !db.WorktreeStatus(status).Valid() {
			return nil, errors.InvalidInput("status", "unknown status "+status)
		}
	}
	return wo.store.List(ctx, repository.Where(filters))
}

// WorktreeUpdate is a partial update. Only Status and TaskID may change;
// Port and ID exist so attempts to set them can be rejected.
type WorktreeUpdate struct {
	Status *db.WorktreeStatus `json:"status,omitempty"`
	TaskID *string            `json:"task_id,omitempty"`
	Port   *int               `json:"port,omitempty"`
	ID     *string            `json:"id,omitempty"`
}

// UpdateWorktree applies a partial update, enforcing the status state machine
func (wo *WorktreeOperations) UpdateWorktree(ctx context.Context, id string, update WorktreeUpdate) (*db.Worktree, error) {
	if update.ID != nil {
		return nil, errors.ImmutableField("id")
	}
	if update.Port != nil {
		return nil, errors.ImmutableField("port")
	}
	if update.Status != nil && !update.Status.Valid() {
		return nil, errors.InvalidInput("status", "unknown status "+string(*update.Status))
	}
	if update.Status != nil && *update.Status == db.WorktreeStatusDeleted {
		return wo.DeleteWorktree(ctx, id)
	}

	unlock := wo.locks.lock(id)
	w, err := wo.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}

	previous := w.Status
	changed := false

	if update.Status != nil && *update.Status != w.Status {
		if !CanTransition(w.Status, *update.Status) {
			unlock()
			return nil, errors.InvalidTransition(string(w.Status), string(*update.Status))
		}
		w.Status = *update.Status
		changed = true
	}

	if update.TaskID != nil && *update.TaskID != w.TaskID {
		if w.IsDeleted() {
			unlock()
			return nil, errors.InvalidTransition(string(w.Status), string(w.Status)).
				WithContext("field", "task_id")
		}
		w.TaskID = *update.TaskID
		changed = true
	}

	if !changed {
		unlock()
		return w, nil
	}

	w.UpdatedAt = wo.now()
	if err := wo.store.Update(ctx, id, w); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	logger.WithFields(logger.Fields{
		"worktree_id": id,
		"from":        previous,
		"to":          w.Status,
	}).Debug("Updated worktree")

	wo.notify(ctx, LifecycleNotification{Event: events.WorktreeUpdated, Worktree: w.Clone(), Previous: previous})
	return w, nil
}

// DeleteWorktree removes the checkout, marks the worktree deleted and releases its port.
// Deleting an already deleted worktree succeeds without side effects.
func (wo *WorktreeOperations) DeleteWorktree(ctx context.Context, id string) (*db.Worktree, error) {
	unlock := wo.locks.lock(id)
	w, err := wo.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if w.IsDeleted() {
		unlock()
		return w, nil
	}

	if err := wo.vcs.RemoveCheckout(ctx, w.Path); err != nil {
		// reconciliation retries removal when it purges the record
		logger.WithError(err).WithFields(logger.Fields{
			"worktree_id": id,
			"path":        w.Path,
		}).Warn("Failed to remove worktree checkout")
	}

	previous := w.Status
	w.Status = db.WorktreeStatusDeleted
	w.UpdatedAt = wo.now()
	if err := wo.store.Update(ctx, id, w); err != nil {
		unlock()
		return nil, err
	}
	if w.Port != 0 {
		wo.ports.Release(w.Port)
	}
	unlock()

	logger.WithFields(logger.Fields{
		"worktree_id": id,
		"port":        w.Port,
	}).Info("Deleted worktree")

	wo.notify(ctx, LifecycleNotification{Event: events.WorktreeDeleted, Worktree: w.Clone(), Previous: previous})
	return w, nil
}

// WorktreeStats aggregates worktree counts and port utilization
type WorktreeStats struct {
	Total    int                       `json:"total"`
	ByStatus map[db.WorktreeStatus]int `json:"by_status"`
	Ports    port.Stats                `json:"ports"`
}

// GetStats returns counts by status and allocator utilization
func (wo *WorktreeOperations) GetStats(ctx context.Context) (*WorktreeStats, error) {
	stats := &WorktreeStats{
		ByStatus: make(map[db.WorktreeStatus]int, len(db.AllWorktreeStatuses)),
		Ports:    wo.ports.Stats(),
	}
	for _, status := range db.AllWorktreeStatuses {
		n, err := wo.store.Count(ctx, repository.Where(map[string]interface{}{"status": string(status)}))
		if err != nil {
			return nil, err
		}
		stats.ByStatus[status] = int(n)
		stats.Total += int(n)
	}
	return stats, nil
}

// CountByStatus reports worktree counts keyed by status name
func (wo *WorktreeOperations) CountByStatus(ctx context.Context) (map[string]int64, error) {
	stats, err := wo.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(stats.ByStatus))
	for status, n := range stats.ByStatus {
		out[string(status)] = int64(n)
	}
	return out, nil
}

// Restore reserves the ports of persisted worktrees so a restarted process
// never hands them out again
func (wo *WorktreeOperations) Restore(ctx context.Context) error {
	worktrees, err := wo.store.List(ctx, repository.Filter{})
	if err != nil {
		return err
	}

	restored := 0
	for _, w := range worktrees {
		if w.IsDeleted() || w.Port == 0 {
			continue
		}
		if err := wo.ports.Reserve(w.Port); err != nil {
			logger.WithError(err).WithFields(logger.Fields{
				"worktree_id": w.ID,
				"port":        w.Port,
			}).Warn("Could not reserve port of persisted worktree")
			continue
		}
		restored++
	}

	logger.WithField("count", restored).Info("Restored worktree port reservations")
	return nil
}

// notify publishes a lifecycle event and calls every listener
func (wo *WorktreeOperations) notify(ctx context.Context, n LifecycleNotification) {
	if wo.bus != nil {
		payload := map[string]interface{}{
			"status": string(n.Worktree.Status),
			"branch": n.Worktree.BranchName,
			"port":   n.Worktree.Port,
		}
		if n.Previous != "" {
			payload["previous_status"] = string(n.Previous)
		}
		wo.bus.Publish(n.Event, n.Worktree.ID, "", payload)
		metrics.RecordEvent(ctx, n.Event)
	}

	wo.listenersMu.RLock()
	listeners := append([]LifecycleListener(nil), wo.listeners...)
	wo.listenersMu.RUnlock()

	for _, l := range listeners {
		l.OnWorktreeEvent(ctx, n)
	}
}

// checkoutPath derives <directory>/<branch-slug>-<first 8 chars of id>
func (wo *WorktreeOperations) checkoutPath(branch, id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(wo.cfg.Directory, slug(branch)+"-"+short)
}

func slug(branch string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(branch) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	s := strings.Trim(b.String(), "-.")
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-.")
	}
	if s == "" {
		s = "worktree"
	}
	return s
}

// entityLocks serializes read-modify-write cycles per entity id
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func (l *entityLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*entityLock)
	}
	el, ok := l.locks[id]
	if !ok {
		el = &entityLock{}
		l.locks[id] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
