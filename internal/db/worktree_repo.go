package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"orchestra/internal/errors"
	"orchestra/internal/repository"
)

const worktreeColumns = "id, branch_name, issue_url, task_id, port, path, status, created_at, updated_at"

// WorktreeRepository handles database operations for worktrees
type WorktreeRepository struct {
	db    *DB
	query listQuery
}

var _ repository.Repository[*Worktree] = (*WorktreeRepository)(nil)

// NewWorktreeRepository creates a new worktree repository
func NewWorktreeRepository(db *DB) *WorktreeRepository {
	return &WorktreeRepository{
		db: db,
		query: listQuery{
			table:     "worktrees",
			columns:   worktreeColumns,
			createdAt: "created_at",
			fields:    WorktreeFields,
		},
	}
}

// Create inserts a worktree. Missing timestamps are set to now.
func (r *WorktreeRepository) Create(ctx context.Context, w *Worktree) error {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = w.CreatedAt
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO worktrees (id, branch_name, issue_url, task_id, port, path, status, created_at, updated_at)
		VALUES (:id, :branch_name, :issue_url, :task_id, :port, :path, :status, :created_at, :updated_at)`, w)
	if err != nil {
		return errors.DatabaseQuery("create worktree", err)
	}
	return nil
}

// Get returns a worktree by ID
func (r *WorktreeRepository) Get(ctx context.Context, id string) (*Worktree, error) {
	var w Worktree
	err := r.db.GetContext(ctx, &w, "SELECT "+worktreeColumns+" FROM worktrees WHERE id = ?", id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("worktree", id)
		}
		return nil, errors.DatabaseQuery("get worktree", err)
	}
	return &w, nil
}

// List returns worktrees matching the filter, oldest first unless the filter says otherwise
func (r *WorktreeRepository) List(ctx context.Context, filter repository.Filter) ([]*Worktree, error) {
	query, args, err := r.query.selectSQL(filter)
	if err != nil {
		return nil, err
	}

	worktrees := []*Worktree{}
	if err := r.db.SelectContext(ctx, &worktrees, query, args...); err != nil {
		return nil, errors.DatabaseQuery("list worktrees", err)
	}
	return worktrees, nil
}

// Update overwrites the mutable columns of a worktree
func (r *WorktreeRepository) Update(ctx context.Context, id string, w *Worktree) error {
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE worktrees
		SET branch_name = ?, issue_url = ?, task_id = ?, port = ?, path = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		w.BranchName, w.IssueURL, w.TaskID, w.Port, w.Path, w.Status, w.UpdatedAt, id)
	if err != nil {
		return errors.DatabaseQuery("update worktree", err)
	}
	return requireAffected(result, "worktree", id)
}

// Delete removes a worktree row
func (r *WorktreeRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM worktrees WHERE id = ?", id)
	if err != nil {
		return errors.DatabaseQuery("delete worktree", err)
	}
	return requireAffected(result, "worktree", id)
}

// Count returns the number of worktrees matching the filter
func (r *WorktreeRepository) Count(ctx context.Context, filter repository.Filter) (int64, error) {
	query, args, err := r.query.countSQL(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, errors.DatabaseQuery("count worktrees", err)
	}
	return n, nil
}

// Exists checks if a worktree row exists
func (r *WorktreeRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM worktrees WHERE id = ?", id); err != nil {
		return false, errors.DatabaseQuery("check worktree", err)
	}
	return n > 0, nil
}

func requireAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseQuery("rows affected", err)
	}
	if n == 0 {
		return errors.NotFound(kind, id)
	}
	return nil
}
