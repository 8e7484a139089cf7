package operations

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"orchestra/internal/constants"
	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/events"
	"orchestra/internal/ghcontext"
	"orchestra/internal/logger"
	"orchestra/internal/metrics"
	"orchestra/internal/repository"
)

// ZoneConfig holds the zone manager settings
type ZoneConfig struct {
	UnknownPlaceholders ghcontext.UnknownPolicy
	// QueueSize bounds the pending evaluations per zone
	QueueSize int
}

// ZoneOperations owns zones, worktree membership and trigger execution.
// Membership changes are serialized by mu; trigger evaluations run on one
// worker goroutine per zone so a zone's evaluations never interleave.
type ZoneOperations struct {
	zones      repository.Repository[*db.Zone]
	executions repository.Repository[*db.TriggerExecution]
	worktrees  WorktreeReader
	actions    *ActionRegistry
	context    ContextSource
	bus        *events.Bus
	cfg        ZoneConfig

	mu      sync.Mutex
	workers map[string]*zoneWorker
	closed  bool

	pending sync.WaitGroup
	running sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

// NewZoneOperations creates a zone manager. contextSource and bus may be nil.
func NewZoneOperations(
	zones repository.Repository[*db.Zone],
	executions repository.Repository[*db.TriggerExecution],
	worktrees WorktreeReader,
	actions *ActionRegistry,
	contextSource ContextSource,
	bus *events.Bus,
	cfg ZoneConfig,
) *ZoneOperations {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = constants.DefaultZoneQueueSize
	}
	if cfg.UnknownPlaceholders == "" {
		cfg.UnknownPlaceholders = ghcontext.UnknownKeep
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ZoneOperations{
		zones:      zones,
		executions: executions,
		worktrees:  worktrees,
		actions:    actions,
		context:    contextSource,
		bus:        bus,
		cfg:        cfg,
		workers:    make(map[string]*zoneWorker),
		baseCtx:    ctx,
		cancel:     cancel,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ZoneInput creates a zone
type ZoneInput struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Triggers    []db.Trigger `json:"triggers"`
}

// ZoneUpdate is a partial zone update; nil fields are left alone
type ZoneUpdate struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Triggers    *[]db.Trigger `json:"triggers,omitempty"`
}

// CreateZone validates and stores a new zone
func (zo *ZoneOperations) CreateZone(ctx context.Context, input ZoneInput) (*db.Zone, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.InvalidInput("name", "cannot be empty")
	}
	triggers, err := zo.normalizeTriggers(input.Triggers)
	if err != nil {
		return nil, err
	}

	now := zo.now()
	zone := &db.Zone{
		ID:          xid.New().String(),
		Name:        name,
		Description: input.Description,
		WorktreeIDs: db.StringList{},
		Triggers:    triggers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	zo.mu.Lock()
	defer zo.mu.Unlock()

	if err := zo.zones.Create(ctx, zone); err != nil {
		return nil, err
	}
	zo.publish(ctx, events.ZoneCreated, zone.ID, zone.ID, map[string]interface{}{"name": zone.Name})

	logger.WithFields(logger.Fields{
		"zone_id":  zone.ID,
		"name":     zone.Name,
		"triggers": len(zone.Triggers),
	}).Info("Created zone")
	return zone, nil
}

// GetZone returns a zone by id
func (zo *ZoneOperations) GetZone(ctx context.Context, id string) (*db.Zone, error) {
	return zo.zones.Get(ctx, id)
}

// ListZones returns every zone in creation order
func (zo *ZoneOperations) ListZones(ctx context.Context) ([]*db.Zone, error) {
	return zo.zones.List(ctx, repository.Filter{})
}

// FindZoneByName returns the oldest zone called name
func (zo *ZoneOperations) FindZoneByName(ctx context.Context, name string) (*db.Zone, error) {
	zones, err := zo.zones.List(ctx, repository.Filter{
		Limit:      1,
		Conditions: map[string]interface{}{"name": name},
	})
	if err != nil {
		return nil, err
	}
	if len(zones) == 0 {
		return nil, errors.NotFound("zone", name)
	}
	return zones[0], nil
}

// UpdateZone changes a zone's name, description or triggers.
// Membership is changed only through assignment.
func (zo *ZoneOperations) UpdateZone(ctx context.Context, id string, update ZoneUpdate) (*db.Zone, error) {
	var triggers db.Triggers
	if update.Triggers != nil {
		normalized, err := zo.normalizeTriggers(*update.Triggers)
		if err != nil {
			return nil, err
		}
		triggers = normalized
	}

	zo.mu.Lock()
	defer zo.mu.Unlock()

	zone, err := zo.zones.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, errors.InvalidInput("name", "cannot be empty")
		}
		zone.Name = name
	}
	if update.Description != nil {
		zone.Description = *update.Description
	}
	if update.Triggers != nil {
		zone.Triggers = triggers
	}

	zone.UpdatedAt = zo.now()
	if err := zo.zones.Update(ctx, id, zone); err != nil {
		return nil, err
	}
	zo.publish(ctx, events.ZoneUpdated, zone.ID, zone.ID, map[string]interface{}{"name": zone.Name})
	return zone, nil
}

// DeleteZone detaches every member worktree, then deletes the zone.
// Evaluations already running for the zone finish; queued ones are dropped.
func (zo *ZoneOperations) DeleteZone(ctx context.Context, id string) error {
	zo.mu.Lock()
	defer zo.mu.Unlock()

	zone, err := zo.zones.Get(ctx, id)
	if err != nil {
		return err
	}

	members := append([]string(nil), zone.WorktreeIDs...)
	if len(members) > 0 {
		zone.WorktreeIDs = db.StringList{}
		zone.UpdatedAt = zo.now()
		if err := zo.zones.Update(ctx, id, zone); err != nil {
			return err
		}
		for _, wid := range members {
			zo.publish(ctx, events.WorktreeRemoved, wid, id, map[string]interface{}{"reason": "zone deleted"})
		}
	}

	if err := zo.zones.Delete(ctx, id); err != nil {
		return err
	}
	if w, ok := zo.workers[id]; ok {
		w.stop()
		delete(zo.workers, id)
	}
	zo.publish(ctx, events.ZoneDeleted, id, id, map[string]interface{}{"name": zone.Name})

	logger.WithFields(logger.Fields{
		"zone_id":  id,
		"detached": len(members),
	}).Info("Deleted zone")
	return nil
}

// AssignWorktreeToZone makes worktreeID a member of zoneID, moving it out of any
// other zone in the same step. worktree is the snapshot handed to triggers and
// may be nil, in which case it is loaded. Deletion is checked against the stored
// record under the membership lock, since a delete notification removes
// membership under the same lock.
func (zo *ZoneOperations) AssignWorktreeToZone(ctx context.Context, worktreeID, zoneID string, worktree *db.Worktree) error {
	zo.mu.Lock()
	defer zo.mu.Unlock()

	stored, err := zo.worktrees.GetWorktree(ctx, worktreeID)
	if err != nil {
		return err
	}
	if stored.IsDeleted() {
		return errors.InvalidInput("worktree_id", "deleted worktrees cannot join a zone").
			WithContext("worktree_id", worktreeID)
	}
	if worktree == nil {
		worktree = stored
	}

	target, err := zo.zones.Get(ctx, zoneID)
	if err != nil {
		return err
	}
	if target.WorktreeIDs.Contains(worktreeID) {
		return nil
	}

	current, err := zo.zoneOf(ctx, worktreeID)
	if err != nil {
		return err
	}

	now := zo.now()
	if current != nil {
		current.WorktreeIDs = current.WorktreeIDs.Without(worktreeID)
		current.UpdatedAt = now
		if err := zo.zones.Update(ctx, current.ID, current); err != nil {
			return err
		}
	}

	target.WorktreeIDs = append(target.WorktreeIDs, worktreeID)
	target.UpdatedAt = now
	if err := zo.zones.Update(ctx, target.ID, target); err != nil {
		if current != nil {
			// put the worktree back so it is never left without its old zone
			current.WorktreeIDs = append(current.WorktreeIDs, worktreeID)
			if rbErr := zo.zones.Update(ctx, current.ID, current); rbErr != nil {
				logger.WithError(rbErr).WithField("zone_id", current.ID).Error("Failed to restore zone membership")
			}
		}
		return err
	}

	payload := map[string]interface{}{}
	if current != nil {
		payload["previous_zone_id"] = current.ID
		zo.publish(ctx, events.WorktreeRemoved, worktreeID, current.ID, map[string]interface{}{"next_zone_id": zoneID})
		zo.enqueueLocked(current, events.WorktreeRemoved, worktree, nil)
	}
	zo.publish(ctx, events.WorktreeAssigned, worktreeID, zoneID, payload)
	zo.enqueueLocked(target, events.WorktreeAssigned, worktree, nil)

	logger.WithFields(logger.Fields{
		"worktree_id": worktreeID,
		"zone_id":     zoneID,
		"moved":       current != nil,
	}).Info("Assigned worktree to zone")
	return nil
}

// RemoveWorktreeFromZone drops worktreeID from whichever zone holds it
func (zo *ZoneOperations) RemoveWorktreeFromZone(ctx context.Context, worktreeID string) error {
	zo.mu.Lock()
	defer zo.mu.Unlock()
	return zo.removeLocked(ctx, worktreeID, nil)
}

func (zo *ZoneOperations) removeLocked(ctx context.Context, worktreeID string, snapshot *db.Worktree) error {
	zone, err := zo.zoneOf(ctx, worktreeID)
	if err != nil || zone == nil {
		return err
	}

	zone.WorktreeIDs = zone.WorktreeIDs.Without(worktreeID)
	zone.UpdatedAt = zo.now()
	if err := zo.zones.Update(ctx, zone.ID, zone); err != nil {
		return err
	}
	zo.publish(ctx, events.WorktreeRemoved, worktreeID, zone.ID, nil)

	if snapshot == nil {
		if w, err := zo.worktrees.GetWorktree(ctx, worktreeID); err == nil {
			snapshot = w
		} else {
			snapshot = &db.Worktree{ID: worktreeID}
		}
	}
	zo.enqueueLocked(zone, events.WorktreeRemoved, snapshot, nil)
	return nil
}

// ZoneOfWorktree returns the zone holding worktreeID, or nil
func (zo *ZoneOperations) ZoneOfWorktree(ctx context.Context, worktreeID string) (*db.Zone, error) {
	zo.mu.Lock()
	defer zo.mu.Unlock()
	return zo.zoneOf(ctx, worktreeID)
}

// zoneOf scans zones for worktreeID. Callers hold mu.
func (zo *ZoneOperations) zoneOf(ctx context.Context, worktreeID string) (*db.Zone, error) {
	zones, err := zo.zones.List(ctx, repository.Filter{})
	if err != nil {
		return nil, err
	}
	for _, z := range zones {
		if z.WorktreeIDs.Contains(worktreeID) {
			return z, nil
		}
	}
	return nil, nil
}

// OnWorktreeEvent queues trigger evaluation for the zone holding the worktree.
// A created worktree carrying a zone hint is assigned first. Deleted worktrees
// are removed from their zone after their deletion triggers are queued.
func (zo *ZoneOperations) OnWorktreeEvent(ctx context.Context, n LifecycleNotification) {
	if n.Worktree == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	log := logger.WithFields(logger.Fields{
		"event":       n.Event,
		"worktree_id": n.Worktree.ID,
	})

	if n.Event == events.WorktreeCreated && n.ZoneID != "" {
		if err := zo.AssignWorktreeToZone(ctx, n.Worktree.ID, n.ZoneID, n.Worktree); err != nil {
			log.WithError(err).WithField("zone_id", n.ZoneID).Warn("Failed to assign new worktree to zone")
		}
	}

	zo.mu.Lock()
	defer zo.mu.Unlock()

	zone, err := zo.zoneOf(ctx, n.Worktree.ID)
	if err != nil {
		log.WithError(err).Error("Failed to look up zone for worktree")
		return
	}
	if zone == nil {
		return
	}

	var extra map[string]interface{}
	if n.Previous != "" {
		extra = map[string]interface{}{"worktree.previous_status": string(n.Previous)}
	}
	zo.enqueueLocked(zone, n.Event, n.Worktree, extra)

	if n.Event == events.WorktreeDeleted {
		if err := zo.removeLocked(ctx, n.Worktree.ID, n.Worktree); err != nil {
			log.WithError(err).Warn("Failed to remove deleted worktree from zone")
		}
	}
}

// ExternalEvent is an event raised outside the worktree lifecycle, e.g. by CI
type ExternalEvent struct {
	Name       string                 `json:"name"`
	WorktreeID string                 `json:"worktree_id"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// HandleEvent queues trigger evaluation of an external event for the zone
// holding the worktree. It reports whether any zone was queued.
func (zo *ZoneOperations) HandleEvent(ctx context.Context, ev ExternalEvent) (bool, error) {
	if err := validateEventName(ev.Name, true); err != nil {
		return false, err
	}
	w, err := zo.worktrees.GetWorktree(ctx, ev.WorktreeID)
	if err != nil {
		return false, err
	}

	zo.mu.Lock()
	defer zo.mu.Unlock()

	zone, err := zo.zoneOf(ctx, w.ID)
	if err != nil || zone == nil {
		return false, err
	}
	zo.enqueueLocked(zone, ev.Name, w, ev.Payload)
	return true, nil
}

// ListExecutions returns trigger executions of a zone, newest first
func (zo *ZoneOperations) ListExecutions(ctx context.Context, zoneID, status string, limit int) ([]*db.TriggerExecution, error) {
	if limit <= 0 {
		limit = constants.DefaultExecutionListLimit
	}
	if limit > constants.MaxExecutionListLimit {
		limit = constants.MaxExecutionListLimit
	}

	conditions := map[string]interface{}{}
	if zoneID != "" {
		conditions["zone_id"] = zoneID
	}
	if status != "" {
		switch db.ExecutionStatus(status) {
		case db.ExecutionRunning, db.ExecutionSucceeded, db.ExecutionFailed:
		default:
			return nil, errors.InvalidInput("status", fmt.Sprintf("unknown execution status %q", status))
		}
		conditions["status"] = status
	}

	return zo.executions.List(ctx, repository.Filter{
		Limit:      limit,
		Order:      "desc",
		Conditions: conditions,
	})
}

// ActiveWorkers returns the number of zones with a running evaluation worker
func (zo *ZoneOperations) ActiveWorkers() int {
	zo.mu.Lock()
	defer zo.mu.Unlock()
	return len(zo.workers)
}

// Wait blocks until every queued evaluation has settled
func (zo *ZoneOperations) Wait() {
	zo.pending.Wait()
}

// Close stops accepting evaluations, lets workers drain and waits for them
// until ctx is done, then cancels anything still running.
func (zo *ZoneOperations) Close(ctx context.Context) error {
	zo.mu.Lock()
	if zo.closed {
		zo.mu.Unlock()
		return nil
	}
	zo.closed = true
	for id, w := range zo.workers {
		w.finish()
		delete(zo.workers, id)
	}
	zo.mu.Unlock()

	done := make(chan struct{})
	go func() {
		zo.running.Wait()
		close(done)
	}()

	defer zo.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrShuttingDown, "zone workers did not drain", ctx.Err())
	}
}

func (zo *ZoneOperations) publish(ctx context.Context, name, entityID, zoneID string, payload map[string]interface{}) {
	if zo.bus == nil {
		return
	}
	zo.bus.Publish(name, entityID, zoneID, payload)
	metrics.RecordEvent(ctx, name)
}
