package server

import (
	"time"

	"orchestra/internal/db"
)

// ErrorResponse documents the error body written by ErrorHandler
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code" example:"NOT_FOUND"`
		Message string `json:"message" example:"worktree not found"`
		Details string `json:"details,omitempty"`
	} `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// MessageResponse represents a successful operation response
type MessageResponse struct {
	Message string `json:"message" example:"Operation completed successfully"`
}

// HealthResponse reports liveness and component health
type HealthResponse struct {
	Status        string `json:"status" example:"healthy"`
	Version       string `json:"version" example:"0.1.0"`
	Uptime        string `json:"uptime" example:"2h30m15s"`
	Database      string `json:"database" example:"healthy"`
	ActiveWorkers int    `json:"active_workers" example:"2"`
	StreamClients int    `json:"stream_clients" example:"1"`
}

// WorktreesResponse represents a list of worktrees
type WorktreesResponse struct {
	Worktrees []*db.Worktree `json:"worktrees"`
	Total     int            `json:"total" example:"12"`
}

// ZonesResponse represents a list of zones
type ZonesResponse struct {
	Zones []*db.Zone `json:"zones"`
	Total int        `json:"total" example:"3"`
}

// ExecutionsResponse represents trigger executions of a zone
type ExecutionsResponse struct {
	Executions []*db.TriggerExecution `json:"executions"`
	Total      int                    `json:"total" example:"20"`
}

// CommandRequest runs a command inside a worktree
type CommandRequest struct {
	Command string `json:"command" example:"go test ./..."`
}

// CommandResponse is the outcome of a worktree command
type CommandResponse struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Duration string `json:"duration" example:"1.2s"`
}

// AssignRequest adds a worktree to a zone
type AssignRequest struct {
	WorktreeID string `json:"worktree_id" example:"cq0g3v2m8s4f1k9j0abc"`
}

// EventAccepted reports whether an external event reached a zone
type EventAccepted struct {
	Queued bool `json:"queued"`
}

// ActionTypesResponse lists registered action types
type ActionTypesResponse struct {
	Actions []string `json:"actions"`
}

// ContextStatsResponse reports context cache effectiveness
type ContextStatsResponse struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

func commandResponse(command string, exitCode int, output string, d time.Duration) CommandResponse {
	return CommandResponse{
		Command:  command,
		ExitCode: exitCode,
		Output:   output,
		Duration: d.String(),
	}
}
