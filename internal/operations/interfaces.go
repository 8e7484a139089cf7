package operations

import (
	"context"

	"orchestra/internal/db"
	"orchestra/internal/git"
	"orchestra/internal/github"
	"orchestra/internal/port"
)

// VCS is the version-control collaborator used to manage checkouts
type VCS interface {
	ValidateBranchName(name string) error
	BranchExists(ctx context.Context, name string) (bool, error)
	CreateWorktreeCheckout(ctx context.Context, branch, path string, newBranch bool) error
	RemoveCheckout(ctx context.Context, path string) error
	ListCheckouts(ctx context.Context) ([]git.Checkout, error)
}

// PortAllocator hands out ports from a fixed range
type PortAllocator interface {
	Allocate() (int, error)
	Release(port int)
	Reserve(port int) error
	IsBound(port int) bool
	Stats() port.Stats
}

// LifecycleListener observes worktree lifecycle changes. Implementations must
// not block; they are called synchronously from the lifecycle operation.
type LifecycleListener interface {
	OnWorktreeEvent(ctx context.Context, n LifecycleNotification)
}

// LifecycleNotification describes one worktree state change
type LifecycleNotification struct {
	Event    string
	Worktree *db.Worktree
	// Previous is the status before an update
	Previous db.WorktreeStatus
	// ZoneID asks the zone manager to assign a newly created worktree
	ZoneID string
}

// WorktreeReader is the read side of the worktree manager used by zones
type WorktreeReader interface {
	GetWorktree(ctx context.Context, id string) (*db.Worktree, error)
}

// CommandRunner runs a command inside a worktree checkout
type CommandRunner interface {
	RunCommand(ctx context.Context, id, command string) (*CommandResult, error)
}

// ContextSource supplies github.* template variables for an issue URL
type ContextSource interface {
	GetContext(ctx context.Context, issueURL string) (map[string]string, error)
}

// PullRequester opens pull requests on the code host
type PullRequester interface {
	CreatePullRequest(ctx context.Context, repository, head, base, title, body string) (*github.PullRequest, error)
}
