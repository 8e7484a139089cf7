// Package db provides database models and sqlite-backed stores for orchestra
package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// jsonValue and jsonScan back the JSON text columns below.
func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}

// WorktreeStatus represents the lifecycle state of a worktree
type WorktreeStatus string

const (
	WorktreeStatusCreating WorktreeStatus = "creating"
	WorktreeStatusActive   WorktreeStatus = "active"
	WorktreeStatusStopped  WorktreeStatus = "stopped"
	WorktreeStatusError    WorktreeStatus = "error"
	WorktreeStatusDeleted  WorktreeStatus = "deleted"
)

// AllWorktreeStatuses lists every status in lifecycle order
var AllWorktreeStatuses = []WorktreeStatus{
	WorktreeStatusCreating,
	WorktreeStatusActive,
	WorktreeStatusStopped,
	WorktreeStatusError,
	WorktreeStatusDeleted,
}

// Valid reports whether s is a known status.
func (s WorktreeStatus) Valid() bool {
	for _, known := range AllWorktreeStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Worktree is an isolated checkout of one branch bound to a port.
// Port 0 means the worktree no longer holds a port.
type Worktree struct {
	ID         string         `json:"id" db:"id"`
	BranchName string         `json:"branch_name" db:"branch_name"`
	IssueURL   string         `json:"issue_url,omitempty" db:"issue_url"`
	TaskID     string         `json:"task_id,omitempty" db:"task_id"`
	Port       int            `json:"port" db:"port"`
	Path       string         `json:"path" db:"path"`
	Status     WorktreeStatus `json:"status" db:"status"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// WorktreeFields maps filter names to columns
var WorktreeFields = map[string]string{
	"id":          "id",
	"branch_name": "branch_name",
	"issue_url":   "issue_url",
	"task_id":     "task_id",
	"port":        "port",
	"path":        "path",
	"status":      "status",
}

func (w *Worktree) GetID() string            { return w.ID }
func (w *Worktree) GetCreatedAt() time.Time  { return w.CreatedAt }
func (w *Worktree) SetUpdatedAt(t time.Time) { w.UpdatedAt = t }
func (w *Worktree) IsDeleted() bool          { return w.Status == WorktreeStatusDeleted }
func (w *Worktree) Clone() *Worktree         { c := *w; return &c }

func (w *Worktree) FieldValue(name string) (interface{}, bool) {
	switch name {
	case "id":
		return w.ID, true
	case "branch_name":
		return w.BranchName, true
	case "issue_url":
		return w.IssueURL, true
	case "task_id":
		return w.TaskID, true
	case "port":
		return w.Port, true
	case "path":
		return w.Path, true
	case "status":
		return string(w.Status), true
	}
	return nil, false
}

// Condition operators
const (
	OperatorEquals    = "eq"
	OperatorNotEquals = "ne"
	OperatorContains  = "contains"
	OperatorPrefix    = "prefix"
	OperatorExists    = "exists"
)

// Condition gates a trigger on a field of the flattened event payload
type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Built-in action types
const (
	ActionRunTests          = "run-tests"
	ActionCreatePullRequest = "create-pull-request"
	ActionNotify            = "notify"
)

// Action is one step of a trigger. Parameter values may contain {{ placeholders }}.
type Action struct {
	Type       string            `json:"type" yaml:"type"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Trigger runs its actions in order when Event fires and Condition holds
type Trigger struct {
	ID        string     `json:"id" yaml:"id"`
	Event     string     `json:"event" yaml:"event"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Actions   []Action   `json:"actions" yaml:"actions"`
}

// Triggers is the JSON column holding a zone's ordered triggers
type Triggers []Trigger

func (t Triggers) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	return jsonValue([]Trigger(t))
}

func (t *Triggers) Scan(value interface{}) error {
	*t = nil
	return jsonScan(value, (*[]Trigger)(t))
}

// Clone deep-copies the triggers
func (t Triggers) Clone() Triggers {
	if t == nil {
		return nil
	}
	out := make(Triggers, len(t))
	for i, tr := range t {
		c := tr
		if tr.Condition != nil {
			cond := *tr.Condition
			c.Condition = &cond
		}
		c.Actions = make([]Action, len(tr.Actions))
		for j, a := range tr.Actions {
			ca := a
			if a.Parameters != nil {
				ca.Parameters = make(map[string]string, len(a.Parameters))
				for k, v := range a.Parameters {
					ca.Parameters[k] = v
				}
			}
			c.Actions[j] = ca
		}
		out[i] = c
	}
	return out
}

// StringList is a JSON array column
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return jsonValue([]string(s))
}

func (s *StringList) Scan(value interface{}) error {
	*s = nil
	return jsonScan(value, (*[]string)(s))
}

// Contains reports whether id is in the list
func (s StringList) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Without returns a copy of the list with id removed
func (s StringList) Without(id string) StringList {
	out := make(StringList, 0, len(s))
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Zone groups worktrees under a shared set of triggers.
// WorktreeIDs is a set; a worktree belongs to at most one zone.
type Zone struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	WorktreeIDs StringList `json:"worktree_ids" db:"worktree_ids"`
	Triggers    Triggers   `json:"triggers" db:"triggers"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// ZoneFields maps filter names to columns
var ZoneFields = map[string]string{
	"id":   "id",
	"name": "name",
}

func (z *Zone) GetID() string            { return z.ID }
func (z *Zone) GetCreatedAt() time.Time  { return z.CreatedAt }
func (z *Zone) SetUpdatedAt(t time.Time) { z.UpdatedAt = t }

func (z *Zone) Clone() *Zone {
	c := *z
	if z.WorktreeIDs != nil {
		c.WorktreeIDs = append(StringList{}, z.WorktreeIDs...)
	}
	c.Triggers = z.Triggers.Clone()
	return &c
}

func (z *Zone) FieldValue(name string) (interface{}, bool) {
	switch name {
	case "id":
		return z.ID, true
	case "name":
		return z.Name, true
	}
	return nil, false
}

// ExecutionStatus is the state of one trigger run
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ActionOutcome records how a single action of a trigger run ended
type ActionOutcome struct {
	Index       int       `json:"index"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ActionOutcomes is the JSON column of per-action results
type ActionOutcomes []ActionOutcome

func (o ActionOutcomes) Value() (driver.Value, error) {
	if o == nil {
		return "[]", nil
	}
	return jsonValue([]ActionOutcome(o))
}

func (o *ActionOutcomes) Scan(value interface{}) error {
	*o = nil
	return jsonScan(value, (*[]ActionOutcome)(o))
}

// TriggerExecution is the history record of one trigger evaluation that ran actions.
// FailedAction is -1 unless Status is failed.
type TriggerExecution struct {
	ID           string          `json:"id" db:"id"`
	ZoneID       string          `json:"zone_id" db:"zone_id"`
	TriggerID    string          `json:"trigger_id" db:"trigger_id"`
	WorktreeID   string          `json:"worktree_id" db:"worktree_id"`
	Event        string          `json:"event" db:"event"`
	Status       ExecutionStatus `json:"status" db:"status"`
	Outcomes     ActionOutcomes  `json:"outcomes" db:"outcomes"`
	Error        string          `json:"error,omitempty" db:"error"`
	FailedAction int             `json:"failed_action" db:"failed_action"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// ExecutionFields maps filter names to columns
var ExecutionFields = map[string]string{
	"id":          "id",
	"zone_id":     "zone_id",
	"trigger_id":  "trigger_id",
	"worktree_id": "worktree_id",
	"event":       "event",
	"status":      "status",
}

func (e *TriggerExecution) GetID() string           { return e.ID }
func (e *TriggerExecution) GetCreatedAt() time.Time { return e.StartedAt }
func (e *TriggerExecution) SetUpdatedAt(time.Time)  {}

func (e *TriggerExecution) Clone() *TriggerExecution {
	c := *e
	if e.Outcomes != nil {
		c.Outcomes = append(ActionOutcomes{}, e.Outcomes...)
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (e *TriggerExecution) FieldValue(name string) (interface{}, bool) {
	switch name {
	case "id":
		return e.ID, true
	case "zone_id":
		return e.ZoneID, true
	case "trigger_id":
		return e.TriggerID, true
	case "worktree_id":
		return e.WorktreeID, true
	case "event":
		return e.Event, true
	case "status":
		return string(e.Status), true
	}
	return nil, false
}
