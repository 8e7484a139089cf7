package operations

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/events"
	"orchestra/internal/ghcontext"
	"orchestra/internal/logger"
	"orchestra/internal/metrics"
)

// reservedNamespaces hold internal events; external events may not use them
var reservedNamespaces = []string{"worktree", "zone", "trigger"}

// validateEventName checks a trigger event or, with external set, an externally raised event
func validateEventName(name string, external bool) error {
	if !external && events.IsTriggerEvent(name) {
		return nil
	}

	ns, event, ok := strings.Cut(name, ":")
	if !ok || ns == "" || event == "" || strings.ContainsAny(name, " \t\n") {
		return errors.InvalidInput("event", fmt.Sprintf("%q is not of the form namespace:name", name))
	}
	for _, reserved := range reservedNamespaces {
		if ns == reserved {
			return errors.InvalidInput("event", fmt.Sprintf("%q uses the reserved namespace %q", name, ns))
		}
	}
	return nil
}

// normalizeTriggers validates triggers and fills in missing ids and operators
func (zo *ZoneOperations) normalizeTriggers(in []db.Trigger) (db.Triggers, error) {
	out := db.Triggers(in).Clone()
	if out == nil {
		out = db.Triggers{}
	}

	seen := make(map[string]bool, len(out))
	for i := range out {
		t := &out[i]
		field := fmt.Sprintf("triggers[%d]", i)

		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			t.ID = xid.New().String()
		}
		if seen[t.ID] {
			return nil, errors.InvalidInput(field+".id", fmt.Sprintf("duplicate trigger id %q", t.ID))
		}
		seen[t.ID] = true

		if err := validateEventName(t.Event, false); err != nil {
			return nil, err
		}

		if c := t.Condition; c != nil {
			if strings.TrimSpace(c.Field) == "" {
				return nil, errors.InvalidInput(field+".condition.field", "cannot be empty")
			}
			if c.Operator == "" {
				c.Operator = db.OperatorEquals
			}
			switch c.Operator {
			case db.OperatorEquals, db.OperatorNotEquals, db.OperatorContains, db.OperatorPrefix, db.OperatorExists:
			default:
				return nil, errors.InvalidInput(field+".condition.operator", fmt.Sprintf("unknown operator %q", c.Operator))
			}
		}

		if len(t.Actions) == 0 {
			return nil, errors.InvalidInput(field+".actions", "a trigger needs at least one action")
		}
		for j, a := range t.Actions {
			if !zo.actions.Has(a.Type) {
				return nil, errors.InvalidInput(fmt.Sprintf("%s.actions[%d].type", field, j),
					fmt.Sprintf("unknown action type %q", a.Type))
			}
		}
	}
	return out, nil
}

// EvaluateCondition tests a condition against a flattened event payload
func EvaluateCondition(c db.Condition, payload map[string]string) bool {
	v, ok := payload[c.Field]
	switch c.Operator {
	case db.OperatorEquals, "":
		return ok && v == c.Value
	case db.OperatorNotEquals:
		return !ok || v != c.Value
	case db.OperatorContains:
		return ok && strings.Contains(v, c.Value)
	case db.OperatorPrefix:
		return ok && strings.HasPrefix(v, c.Value)
	case db.OperatorExists:
		return ok && v != ""
	}
	return false
}

// eventPayload flattens an event for condition matching and template resolution.
// Worktree fields and event.name take precedence over external keys.
func eventPayload(event string, w *db.Worktree, extra map[string]interface{}) map[string]string {
	payload := make(map[string]string)
	flattenInto(payload, "", extra)
	for k, v := range ghcontext.WorktreeVars(w) {
		payload[k] = v
	}
	payload["event.name"] = event
	return payload
}

func flattenInto(dst map[string]string, prefix string, src map[string]interface{}) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flattenInto(dst, key, val)
		case nil:
			dst[key] = ""
		default:
			dst[key] = fmt.Sprint(val)
		}
	}
}

// job is one queued evaluation. Triggers and worktree are snapshots taken at enqueue time.
type job struct {
	zoneID   string
	triggers db.Triggers
	event    string
	worktree *db.Worktree
	payload  map[string]string
}

type workerState int

const (
	workerRunning workerState = iota
	workerDraining
	workerStopped
)

// zoneWorker is an unbounded-by-channel FIFO of jobs for a single zone
type zoneWorker struct {
	mu    sync.Mutex
	queue []job
	state workerState
	wake  chan struct{}
}

func newZoneWorker() *zoneWorker {
	return &zoneWorker{wake: make(chan struct{}, 1)}
}

func (w *zoneWorker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *zoneWorker) push(j job, limit int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != workerRunning || len(w.queue) >= limit {
		return false
	}
	w.queue = append(w.queue, j)
	w.signal()
	return true
}

// next blocks for the next job. It returns false once the worker should exit,
// handing any dropped jobs to drop.
func (w *zoneWorker) next(drop func(job)) (job, bool) {
	for {
		w.mu.Lock()
		switch {
		case w.state == workerStopped:
			dropped := w.queue
			w.queue = nil
			w.mu.Unlock()
			for _, j := range dropped {
				drop(j)
			}
			return job{}, false
		case len(w.queue) > 0:
			j := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			return j, true
		case w.state == workerDraining:
			w.mu.Unlock()
			return job{}, false
		}
		w.mu.Unlock()
		<-w.wake
	}
}

// stop drops queued jobs; the running one finishes
func (w *zoneWorker) stop() {
	w.mu.Lock()
	w.state = workerStopped
	w.mu.Unlock()
	w.signal()
}

// finish lets queued jobs run, then exits
func (w *zoneWorker) finish() {
	w.mu.Lock()
	if w.state == workerRunning {
		w.state = workerDraining
	}
	w.mu.Unlock()
	w.signal()
}

// enqueueLocked queues an evaluation of event for zone. Callers hold mu.
func (zo *ZoneOperations) enqueueLocked(zone *db.Zone, event string, w *db.Worktree, extra map[string]interface{}) {
	listening := false
	for _, t := range zone.Triggers {
		if t.Event == event {
			listening = true
			break
		}
	}
	if !listening {
		return
	}

	log := logger.WithFields(logger.Fields{
		"zone_id":     zone.ID,
		"event":       event,
		"worktree_id": w.ID,
	})
	if zo.closed {
		log.Warn("Zone manager is closed, dropping evaluation")
		return
	}

	worker, ok := zo.workers[zone.ID]
	if !ok {
		worker = newZoneWorker()
		zo.workers[zone.ID] = worker
		zo.running.Add(1)
		go zo.runWorker(worker)
	}

	j := job{
		zoneID:   zone.ID,
		triggers: zone.Triggers.Clone(),
		event:    event,
		worktree: w.Clone(),
		payload:  eventPayload(event, w, extra),
	}
	zo.pending.Add(1)
	if !worker.push(j, zo.cfg.QueueSize) {
		zo.pending.Done()
		log.Warn("Zone evaluation queue full, dropping evaluation")
	}
}

func (zo *ZoneOperations) runWorker(w *zoneWorker) {
	defer zo.running.Done()
	drop := func(j job) {
		logger.WithFields(logger.Fields{
			"zone_id": j.zoneID,
			"event":   j.event,
		}).Debug("Dropped queued evaluation of deleted zone")
		zo.pending.Done()
	}

	for {
		j, ok := w.next(drop)
		if !ok {
			return
		}
		zo.runJob(j)
		zo.afterJob(j)
		zo.pending.Done()
	}
}

// runJob evaluates the zone's triggers for one event in definition order
func (zo *ZoneOperations) runJob(j job) {
	for _, t := range j.triggers {
		if t.Event != j.event {
			continue
		}
		if t.Condition != nil && !EvaluateCondition(*t.Condition, j.payload) {
			logger.WithFields(logger.Fields{
				"zone_id":    j.zoneID,
				"trigger_id": t.ID,
			}).Debug("Trigger condition not met")
			continue
		}
		zo.executeTrigger(zo.baseCtx, j, t)
	}
}

// afterJob drops membership of a worktree that disappeared while the job ran
func (zo *ZoneOperations) afterJob(j job) {
	if j.event == events.WorktreeDeleted || j.event == events.WorktreeRemoved {
		return
	}
	ctx := zo.baseCtx
	w, err := zo.worktrees.GetWorktree(ctx, j.worktree.ID)
	switch {
	case errors.HasCode(err, errors.ErrNotFound):
		w = j.worktree
	case err != nil || !w.IsDeleted():
		return
	}

	zo.mu.Lock()
	defer zo.mu.Unlock()
	if err := zo.removeLocked(ctx, j.worktree.ID, w); err != nil {
		logger.WithError(err).WithField("worktree_id", j.worktree.ID).Warn("Failed to drop stale zone membership")
	}
}

// executeTrigger runs a trigger's actions in order, stopping at the first failure
func (zo *ZoneOperations) executeTrigger(ctx context.Context, j job, t db.Trigger) {
	start := zo.now()
	exec := &db.TriggerExecution{
		ID:           xid.New().String(),
		ZoneID:       j.zoneID,
		TriggerID:    t.ID,
		WorktreeID:   j.worktree.ID,
		Event:        j.event,
		Status:       db.ExecutionRunning,
		Outcomes:     db.ActionOutcomes{},
		FailedAction: -1,
		StartedAt:    start,
	}
	log := logger.WithFields(logger.Fields{
		"zone_id":      j.zoneID,
		"trigger_id":   t.ID,
		"execution_id": exec.ID,
		"worktree_id":  j.worktree.ID,
		"event":        j.event,
	})
	if err := zo.executions.Create(ctx, exec); err != nil {
		log.WithError(err).Warn("Failed to record trigger execution")
	}

	vars := &actionVars{payload: j.payload}
	var failure error
	for i, a := range t.Actions {
		outcome := db.ActionOutcome{Index: i, Type: a.Type, StartedAt: zo.now()}

		output, err := zo.runAction(ctx, j, t, i, a, vars)
		outcome.CompletedAt = zo.now()
		outcome.Output = output
		if err != nil {
			outcome.Status = string(db.ExecutionFailed)
			outcome.Error = err.Error()
			exec.Outcomes = append(exec.Outcomes, outcome)
			exec.FailedAction = i
			failure = err
			metrics.RecordAction(ctx, a.Type, string(db.ExecutionFailed))
			break
		}
		outcome.Status = string(db.ExecutionSucceeded)
		exec.Outcomes = append(exec.Outcomes, outcome)
		metrics.RecordAction(ctx, a.Type, string(db.ExecutionSucceeded))
	}

	completed := zo.now()
	exec.CompletedAt = &completed
	payload := map[string]interface{}{
		"trigger_id":   t.ID,
		"execution_id": exec.ID,
		"worktree_id":  j.worktree.ID,
		"event":        j.event,
		"outcomes":     exec.Outcomes,
	}

	if failure != nil {
		exec.Status = db.ExecutionFailed
		exec.Error = failure.Error()
		payload["failed_action"] = exec.FailedAction
		payload["action_type"] = t.Actions[exec.FailedAction].Type
		payload["error"] = exec.Error
		log.WithError(failure).WithField("failed_action", exec.FailedAction).Warn("Trigger failed")
	} else {
		exec.Status = db.ExecutionSucceeded
		log.WithField("actions", len(exec.Outcomes)).Info("Trigger executed")
	}

	if err := zo.executions.Update(ctx, exec.ID, exec); err != nil {
		log.WithError(err).Warn("Failed to record trigger outcome")
	}
	metrics.RecordTriggerExecution(ctx, j.event, string(exec.Status), completed.Sub(start))

	if failure != nil {
		zo.publish(ctx, events.TriggerFailed, t.ID, j.zoneID, payload)
	} else {
		zo.publish(ctx, events.TriggerExecuted, t.ID, j.zoneID, payload)
	}
}

// actionVars holds template variables for one trigger run; github.* variables
// are fetched on first use
type actionVars struct {
	payload  map[string]string
	github   map[string]string
	fetched  bool
	fetchErr error
}

func (zo *ZoneOperations) templateVars(ctx context.Context, w *db.Worktree, params map[string]string, vars *actionVars) (map[string]string, error) {
	needsGitHub := false
	for _, v := range params {
		if strings.Contains(v, "github.") {
			needsGitHub = true
			break
		}
	}

	if needsGitHub && !vars.fetched && zo.context != nil && w.IssueURL != "" {
		vars.fetched = true
		vars.github, vars.fetchErr = zo.context.GetContext(ctx, w.IssueURL)
	}
	if needsGitHub && vars.fetchErr != nil {
		return nil, vars.fetchErr
	}
	return ghcontext.Merge(vars.payload, vars.github), nil
}

func (zo *ZoneOperations) runAction(ctx context.Context, j job, t db.Trigger, index int, a db.Action, vars *actionVars) (string, error) {
	handler, ok := zo.actions.Get(a.Type)
	if !ok {
		return "", errors.ActionFailed(a.Type, fmt.Errorf("no handler registered"))
	}

	tv, err := zo.templateVars(ctx, j.worktree, a.Parameters, vars)
	if err != nil {
		return "", err
	}

	req := ActionRequest{
		ZoneID:     j.zoneID,
		TriggerID:  t.ID,
		Event:      j.event,
		Index:      index,
		Type:       a.Type,
		Worktree:   j.worktree,
		Parameters: ghcontext.ResolveParameters(a.Parameters, tv, zo.cfg.UnknownPlaceholders),
		Variables:  tv,
	}

	started := time.Now()
	output, err := executeAction(ctx, handler, req)
	logger.WithFields(logger.Fields{
		"zone_id":    j.zoneID,
		"trigger_id": t.ID,
		"action":     a.Type,
		"index":      index,
		"duration":   time.Since(started),
	}).Debug("Ran action")

	if err != nil {
		if errors.HasCode(err, errors.ErrActionFailed) || errors.HasCode(err, errors.ErrContextUnavailable) {
			return output, err
		}
		return output, errors.ActionFailed(a.Type, err)
	}
	return output, nil
}

// executeAction runs a handler, turning a panic into an action failure so one
// broken handler cannot take the zone worker down
func executeAction(ctx context.Context, h ActionHandler, req ActionRequest) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logger.Fields{
				"action": req.Type,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("Action handler panicked")
			err = errors.ActionFailed(req.Type, fmt.Errorf("handler panicked: %v", r))
		}
	}()
	return h.Execute(ctx, req)
}
