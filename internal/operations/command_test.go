package operations_test

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/operations"
)

func TestRunCommand_Succeeds(t *testing.T) {
	f := newWorktreeFixture(t, 3001, 3010)
	w := f.create(t, "feature/x")

	result, err := f.ops.RunCommand(context.Background(), w.ID, "echo hello world")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello world\n", result.Output)
}

func TestRunCommand_RunsInCheckoutWithPort(t *testing.T) {
	f := newWorktreeFixture(t, 3001, 3010)
	w := f.create(t, "feature/x")

	result, err := f.ops.RunCommand(context.Background(), w.ID, "printenv PORT")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(w.Port), strings.TrimSpace(result.Output))

	result, err = f.ops.RunCommand(context.Background(), w.ID, "pwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(w.Path), filepath.Base(strings.TrimSpace(result.Output)))
}

func TestRunCommand_NonZeroExit(t *testing.T) {
	f := newWorktreeFixture(t, 3001, 3010)
	w := f.create(t, "feature/x")

	result, err := f.ops.RunCommand(context.Background(), w.ID, "false")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrActionFailed))
	require.NotNil(t, result)
	assert.Equal(t, 1, result.ExitCode)
}

func TestRunCommand_Rejections(t *testing.T) {
	f := newWorktreeFixture(t, 3001, 3010)
	w := f.create(t, "feature/x")
	stopped := f.create(t, "feature/y")
	_, err := f.ops.UpdateWorktree(context.Background(), stopped.ID, updateStatus(db.WorktreeStatusStopped))
	require.NoError(t, err)

	tests := []struct {
		name     string
		id       string
		command  string
		wantCode errors.ErrorCode
	}{
		{name: "empty command", id: w.ID, command: "   ", wantCode: errors.ErrInvalidInput},
		{name: "not allowed", id: w.ID, command: "rm -rf /", wantCode: errors.ErrInvalidInput},
		{name: "unknown worktree", id: "missing", command: "echo hi", wantCode: errors.ErrNotFound},
		{name: "stopped worktree", id: stopped.ID, command: "echo hi", wantCode: errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ops.RunCommand(context.Background(), tt.id, tt.command)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
		})
	}
}

func TestRunCommand_Timeout(t *testing.T) {
	f := newWorktreeFixture(t, 3001, 3010, func(cfg *operations.WorktreeConfig) {
		cfg.CommandTimeout = 100 * time.Millisecond
	})
	w := f.create(t, "feature/x")

	start := time.Now()
	_, err := f.ops.RunCommand(context.Background(), w.ID, "sleep 5")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrTimeout))
	assert.Less(t, time.Since(start), 4*time.Second)
}
