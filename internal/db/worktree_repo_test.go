package db

import (
	"context"
	"testing"
	"time"

	"orchestra/internal/errors"
	"orchestra/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(MemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return database
}

func newWorktree(id, branch string, port int, created time.Time) *Worktree {
	return &Worktree{
		ID:         id,
		BranchName: branch,
		Port:       port,
		Path:       "/tmp/worktrees/" + id,
		Status:     WorktreeStatusActive,
		CreatedAt:  created,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := setupDB(t)
	assert.NoError(t, database.Migrate())
	assert.NoError(t, database.HealthCheck(context.Background()))
}

func TestWorktreeRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewWorktreeRepository(setupDB(t))

	w := newWorktree("wt-1", "feature/login", 3001, time.Now().UTC())
	w.IssueURL = "https://github.com/acme/app/issues/7"
	require.NoError(t, repo.Create(ctx, w))

	got, err := repo.Get(ctx, "wt-1")
	require.NoError(t, err)
	assert.Equal(t, "feature/login", got.BranchName)
	assert.Equal(t, 3001, got.Port)
	assert.Equal(t, w.IssueURL, got.IssueURL)
	assert.Equal(t, WorktreeStatusActive, got.Status)
	assert.WithinDuration(t, w.CreatedAt, got.CreatedAt, time.Millisecond)

	got.Status = WorktreeStatusStopped
	got.TaskID = "TASK-1"
	got.UpdatedAt = time.Time{}
	require.NoError(t, repo.Update(ctx, got.ID, got))

	updated, err := repo.Get(ctx, "wt-1")
	require.NoError(t, err)
	assert.Equal(t, WorktreeStatusStopped, updated.Status)
	assert.Equal(t, "TASK-1", updated.TaskID)

	exists, err := repo.Exists(ctx, "wt-1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.Delete(ctx, "wt-1"))
	_, err = repo.Get(ctx, "wt-1")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))

	err = repo.Delete(ctx, "wt-1")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
	err = repo.Update(ctx, "wt-1", got)
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestWorktreeRepositoryListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewWorktreeRepository(setupDB(t))

	base := time.Now().UTC()
	a := newWorktree("a", "main", 3001, base)
	b := newWorktree("b", "dev", 3002, base.Add(time.Second))
	b.Status = WorktreeStatusStopped
	b.TaskID = "T-1"
	c := newWorktree("c", "dev", 3003, base.Add(2*time.Second))
	c.TaskID = "T-1"
	for _, w := range []*Worktree{c, a, b} {
		require.NoError(t, repo.Create(ctx, w))
	}

	all, err := repo.List(ctx, repository.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, ids(all))

	byTask, err := repo.List(ctx, repository.Where(map[string]interface{}{"task_id": "T-1"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(byTask))

	conj, err := repo.List(ctx, repository.Where(map[string]interface{}{"task_id": "T-1", "status": "active"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(conj))

	byPort, err := repo.List(ctx, repository.Where(map[string]interface{}{"port": 3002}))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(byPort))

	newest, err := repo.List(ctx, repository.Filter{Order: "desc", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(newest))

	n, err := repo.Count(ctx, repository.Where(map[string]interface{}{"branch_name": "dev"}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = repo.List(ctx, repository.Where(map[string]interface{}{"color": "red"}))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))
}

func TestWorktreeRepositoryLivePortUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewWorktreeRepository(setupDB(t))

	require.NoError(t, repo.Create(ctx, newWorktree("a", "main", 3001, time.Now().UTC())))
	err := repo.Create(ctx, newWorktree("b", "dev", 3001, time.Now().UTC()))
	assert.True(t, errors.HasCode(err, errors.ErrDatabaseQuery))

	// a deleted record no longer holds its port
	old, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	old.Status = WorktreeStatusDeleted
	require.NoError(t, repo.Update(ctx, "a", old))
	assert.NoError(t, repo.Create(ctx, newWorktree("b", "dev", 3001, time.Now().UTC())))
}

func ids(ws []*Worktree) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.ID
	}
	return out
}
