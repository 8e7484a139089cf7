// Package events carries worktree and zone events to subscribers and external transports.
package events

import (
	"time"
)

// Worktree lifecycle events
const (
	WorktreeCreated  = "worktree:created"
	WorktreeUpdated  = "worktree:updated"
	WorktreeDeleted  = "worktree:deleted"
	WorktreeAssigned = "worktree:assigned"
	WorktreeRemoved  = "worktree:removed"
)

// Zone events
const (
	ZoneCreated     = "zone:created"
	ZoneUpdated     = "zone:updated"
	ZoneDeleted     = "zone:deleted"
	TriggerExecuted = "trigger:executed"
	TriggerFailed   = "trigger:failed"
)

// TriggerEvents are the internal events a zone trigger may listen for
var TriggerEvents = []string{WorktreeCreated, WorktreeUpdated, WorktreeDeleted, WorktreeAssigned, WorktreeRemoved}

// IsTriggerEvent reports whether name is an internal event triggers can bind to
func IsTriggerEvent(name string) bool {
	for _, e := range TriggerEvents {
		if e == name {
			return true
		}
	}
	return false
}

// Event is a single published occurrence. Sequence increases by one per
// published event and gives subscribers a total order.
type Event struct {
	ID        string                 `json:"id"`
	Sequence  uint64                 `json:"sequence"`
	Name      string                 `json:"name"`
	EntityID  string                 `json:"entity_id"`
	ZoneID    string                 `json:"zone_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
