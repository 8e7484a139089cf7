package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"orchestra/internal/errors"
	"orchestra/internal/repository"
)

const executionColumns = "id, zone_id, trigger_id, worktree_id, event, status, outcomes, error, failed_action, started_at, completed_at"

// ExecutionRepository stores trigger execution history
type ExecutionRepository struct {
	db    *DB
	query listQuery
}

var _ repository.Repository[*TriggerExecution] = (*ExecutionRepository)(nil)

func NewExecutionRepository(db *DB) *ExecutionRepository {
	return &ExecutionRepository{
		db: db,
		query: listQuery{
			table:     "trigger_executions",
			columns:   executionColumns,
			createdAt: "started_at",
			fields:    ExecutionFields,
		},
	}
}

func (r *ExecutionRepository) Create(ctx context.Context, e *TriggerExecution) error {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO trigger_executions (id, zone_id, trigger_id, worktree_id, event, status, outcomes, error, failed_action, started_at, completed_at)
		VALUES (:id, :zone_id, :trigger_id, :worktree_id, :event, :status, :outcomes, :error, :failed_action, :started_at, :completed_at)`, e)
	if err != nil {
		return errors.DatabaseQuery("create trigger execution", err)
	}
	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, id string) (*TriggerExecution, error) {
	var e TriggerExecution
	err := r.db.GetContext(ctx, &e, "SELECT "+executionColumns+" FROM trigger_executions WHERE id = ?", id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("trigger execution", id)
		}
		return nil, errors.DatabaseQuery("get trigger execution", err)
	}
	return &e, nil
}

func (r *ExecutionRepository) List(ctx context.Context, filter repository.Filter) ([]*TriggerExecution, error) {
	query, args, err := r.query.selectSQL(filter)
	if err != nil {
		return nil, err
	}

	executions := []*TriggerExecution{}
	if err := r.db.SelectContext(ctx, &executions, query, args...); err != nil {
		return nil, errors.DatabaseQuery("list trigger executions", err)
	}
	return executions, nil
}

// Update records the outcome of a finished execution
func (r *ExecutionRepository) Update(ctx context.Context, id string, e *TriggerExecution) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE trigger_executions
		SET status = ?, outcomes = ?, error = ?, failed_action = ?, completed_at = ?
		WHERE id = ?`,
		e.Status, e.Outcomes, e.Error, e.FailedAction, e.CompletedAt, id)
	if err != nil {
		return errors.DatabaseQuery("update trigger execution", err)
	}
	return requireAffected(result, "trigger execution", id)
}

func (r *ExecutionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM trigger_executions WHERE id = ?", id)
	if err != nil {
		return errors.DatabaseQuery("delete trigger execution", err)
	}
	return requireAffected(result, "trigger execution", id)
}

func (r *ExecutionRepository) Count(ctx context.Context, filter repository.Filter) (int64, error) {
	query, args, err := r.query.countSQL(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, errors.DatabaseQuery("count trigger executions", err)
	}
	return n, nil
}

func (r *ExecutionRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM trigger_executions WHERE id = ?", id); err != nil {
		return false, errors.DatabaseQuery("check trigger execution", err)
	}
	return n > 0, nil
}
