package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"orchestra/internal/errors"
	"orchestra/internal/repository"
)

const zoneColumns = "id, name, description, worktree_ids, triggers, created_at, updated_at"

// ZoneRepository handles database operations for zones.
// Membership and triggers are stored as JSON columns on the zone row.
type ZoneRepository struct {
	db    *DB
	query listQuery
}

var _ repository.Repository[*Zone] = (*ZoneRepository)(nil)

func NewZoneRepository(db *DB) *ZoneRepository {
	return &ZoneRepository{
		db: db,
		query: listQuery{
			table:     "zones",
			columns:   zoneColumns,
			createdAt: "created_at",
			fields:    ZoneFields,
		},
	}
}

func (r *ZoneRepository) Create(ctx context.Context, z *Zone) error {
	now := time.Now().UTC()
	if z.CreatedAt.IsZero() {
		z.CreatedAt = now
	}
	if z.UpdatedAt.IsZero() {
		z.UpdatedAt = z.CreatedAt
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO zones (id, name, description, worktree_ids, triggers, created_at, updated_at)
		VALUES (:id, :name, :description, :worktree_ids, :triggers, :created_at, :updated_at)`, z)
	if err != nil {
		return errors.DatabaseQuery("create zone", err)
	}
	return nil
}

func (r *ZoneRepository) Get(ctx context.Context, id string) (*Zone, error) {
	var z Zone
	err := r.db.GetContext(ctx, &z, "SELECT "+zoneColumns+" FROM zones WHERE id = ?", id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("zone", id)
		}
		return nil, errors.DatabaseQuery("get zone", err)
	}
	return &z, nil
}

func (r *ZoneRepository) List(ctx context.Context, filter repository.Filter) ([]*Zone, error) {
	query, args, err := r.query.selectSQL(filter)
	if err != nil {
		return nil, err
	}

	zones := []*Zone{}
	if err := r.db.SelectContext(ctx, &zones, query, args...); err != nil {
		return nil, errors.DatabaseQuery("list zones", err)
	}
	return zones, nil
}

func (r *ZoneRepository) Update(ctx context.Context, id string, z *Zone) error {
	if z.UpdatedAt.IsZero() {
		z.UpdatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE zones
		SET name = ?, description = ?, worktree_ids = ?, triggers = ?, updated_at = ?
		WHERE id = ?`,
		z.Name, z.Description, z.WorktreeIDs, z.Triggers, z.UpdatedAt, id)
	if err != nil {
		return errors.DatabaseQuery("update zone", err)
	}
	return requireAffected(result, "zone", id)
}

func (r *ZoneRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM zones WHERE id = ?", id)
	if err != nil {
		return errors.DatabaseQuery("delete zone", err)
	}
	return requireAffected(result, "zone", id)
}

func (r *ZoneRepository) Count(ctx context.Context, filter repository.Filter) (int64, error) {
	query, args, err := r.query.countSQL(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, errors.DatabaseQuery("count zones", err)
	}
	return n, nil
}

func (r *ZoneRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM zones WHERE id = ?", id); err != nil {
		return false, errors.DatabaseQuery("check zone", err)
	}
	return n > 0, nil
}
