package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orchestra/internal/errors"
)

// MemoryStore is an in-process Repository used by tests and ephemeral runs.
// Entities are cloned on the way in and out so callers never share state with the store.
type MemoryStore[T Entity[T]] struct {
	mu     sync.RWMutex
	kind   string
	fields map[string]string
	items  map[string]memoryItem[T]
	seq    uint64
}

type memoryItem[T any] struct {
	value T
	seq   uint64
}

// NewMemoryStore creates an empty store. kind names the entity in NOT_FOUND errors
// and fields lists the names accepted in Filter.Conditions.
func NewMemoryStore[T Entity[T]](kind string, fields map[string]string) *MemoryStore[T] {
	return &MemoryStore[T]{
		kind:   kind,
		fields: fields,
		items:  make(map[string]memoryItem[T]),
	}
}

func (s *MemoryStore[T]) Create(ctx context.Context, entity T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entity.GetID()
	if id == "" {
		return errors.InvalidInput("id", "cannot be empty")
	}
	if _, ok := s.items[id]; ok {
		return errors.InvalidInput("id", fmt.Sprintf("%s %s already exists", s.kind, id))
	}
	s.seq++
	s.items[id] = memoryItem[T]{value: entity.Clone(), seq: s.seq}
	return nil
}

func (s *MemoryStore[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, errors.NotFound(s.kind, id)
	}
	return item.value.Clone(), nil
}

func (s *MemoryStore[T]) List(ctx context.Context, filter Filter) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.match(filter)
	if err != nil {
		return nil, err
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		ai, bi := a.value.GetCreatedAt(), b.value.GetCreatedAt()
		less := ai.Before(bi) || (ai.Equal(bi) && a.seq < b.seq)
		if filter.Descending() {
			return !less
		}
		return less
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]T, 0, len(matched))
	for _, item := range matched {
		out = append(out, item.value.Clone())
	}
	return out, nil
}

func (s *MemoryStore[T]) Update(ctx context.Context, id string, entity T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return errors.NotFound(s.kind, id)
	}
	item.value = entity.Clone()
	s.items[id] = item
	return nil
}

func (s *MemoryStore[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return errors.NotFound(s.kind, id)
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore[T]) Count(ctx context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.match(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

func (s *MemoryStore[T]) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[id]
	return ok, nil
}

// match must be called with the lock held.
func (s *MemoryStore[T]) match(filter Filter) ([]memoryItem[T], error) {
	for field := range filter.Conditions {
		if _, ok := s.fields[field]; !ok {
			return nil, errors.InvalidInput(field, "unknown filter field")
		}
	}

	var out []memoryItem[T]
	for _, item := range s.items {
		created := item.value.GetCreatedAt()
		if filter.CreatedAfter != nil && !created.After(*filter.CreatedAfter) {
			continue
		}
		if filter.CreatedBefore != nil && !created.Before(*filter.CreatedBefore) {
			continue
		}

		ok := true
		for field, want := range filter.Conditions {
			got, known := item.value.FieldValue(field)
			if !known {
				return nil, errors.InvalidInput(field, "unknown filter field")
			}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}
