package operations

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"orchestra/internal/constants"
	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/logger"
)

// CommandResult is the outcome of a command run inside a worktree
type CommandResult struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// RunCommand runs an allow-listed command in the checkout of an active worktree.
// The command is split on whitespace and executed without a shell; PORT is set
// to the worktree's port. A non-zero exit returns the result and an ACTION_FAILED error.
func (wo *WorktreeOperations) RunCommand(ctx context.Context, id, command string) (*CommandResult, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, errors.InvalidInput("command", "cannot be empty")
	}
	if !wo.commandAllowed(args[0]) {
		return nil, errors.InvalidInput("command", fmt.Sprintf("%q is not in the allowed commands", args[0]))
	}

	w, err := wo.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != db.WorktreeStatusActive {
		return nil, errors.InvalidInput("worktree", "commands run only in active worktrees, status is "+string(w.Status))
	}

	timeout := wo.cfg.CommandTimeout
	if timeout <= 0 {
		timeout = constants.DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = w.Path
	cmd.Env = append(os.Environ(),
		"PORT="+strconv.Itoa(w.Port),
		"ORCHESTRA_WORKTREE_ID="+w.ID,
		"ORCHESTRA_BRANCH="+w.BranchName,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	runErr := cmd.Run()
	result := &CommandResult{
		Command:  command,
		Output:   truncate(out.String(), constants.MaxOutputLength),
		Duration: time.Since(start),
	}

	logger.WithFields(logger.Fields{
		"worktree_id": id,
		"command":     command,
		"duration":    result.Duration,
	}).Debug("Ran worktree command")

	if runErr == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if stderrors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = -1
	}
	if ctx.Err() == context.DeadlineExceeded {
		return result, errors.Wrap(errors.ErrTimeout, "command timed out", runErr).WithContext("command", command)
	}
	return result, errors.ActionFailed("command", runErr).WithContext("exit_code", result.ExitCode)
}

func (wo *WorktreeOperations) commandAllowed(name string) bool {
	base := filepath.Base(name)
	for _, allowed := range wo.cfg.AllowedCommands {
		if allowed == name || allowed == base {
			return true
		}
	}
	return false
}

// truncate keeps the last max bytes of s, which hold the most useful part of test output
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
