// Package repository provides generic repository patterns for data access
package repository

import (
	"context"
	"strings"
	"time"
)

// Filter represents generic query filters
type Filter struct {
	// Pagination
	Limit  int
	Offset int

	// Sorting. The zero value means creation order, oldest first.
	OrderBy string
	Order   string // "asc" or "desc"

	// Time-based filters
	CreatedAfter  *time.Time
	CreatedBefore *time.Time

	// Field equality conditions, combined with AND
	Conditions map[string]interface{}
}

// Descending reports whether the filter asks for newest-first ordering.
func (f Filter) Descending() bool {
	return strings.EqualFold(f.Order, "desc")
}

// Where returns a filter with the given equality conditions.
func Where(conditions map[string]interface{}) Filter {
	return Filter{Conditions: conditions}
}

// Repository defines a generic repository interface.
// Implementations return an errors.ErrNotFound coded error from Get, Update
// and Delete when no entity has the id.
type Repository[T any] interface {
	// Create creates a new entity
	Create(ctx context.Context, entity T) error

	// Get retrieves an entity by ID
	Get(ctx context.Context, id string) (T, error)

	// List retrieves multiple entities with optional filtering
	List(ctx context.Context, filter Filter) ([]T, error)

	// Update updates an existing entity
	Update(ctx context.Context, id string, entity T) error

	// Delete removes an entity
	Delete(ctx context.Context, id string) error

	// Count returns the total number of entities matching the filter
	Count(ctx context.Context, filter Filter) (int64, error)

	// Exists checks if an entity exists
	Exists(ctx context.Context, id string) (bool, error)
}

// Identifiable represents an entity with an ID
type Identifiable interface {
	GetID() string
}

// Timestamped represents an entity with timestamps
type Timestamped interface {
	GetCreatedAt() time.Time
	SetUpdatedAt(time.Time)
}

// Entity is what the in-memory store needs from a stored type.
// FieldValue exposes filterable fields by their storage name.
type Entity[T any] interface {
	Identifiable
	Timestamped
	FieldValue(name string) (interface{}, bool)
	Clone() T
}
