package repo

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

const defaultListLimit = 100

// Memory is a Repository held in process memory. Entities are listed in
// insertion order.
type Memory[T any, ID comparable] struct {
	mu       sync.RWMutex
	label    string
	idOf     func(T) ID
	capacity int
	items    map[ID]T
	order    []ID
}

// MemoryOption configures a Memory repository.
type MemoryOption[T any, ID comparable] func(*Memory[T, ID])

// WithCapacity bounds the repository; creating beyond it evicts the oldest
// entity.
func WithCapacity[T any, ID comparable](n int) MemoryOption[T, ID] {
	return func(r *Memory[T, ID]) { r.capacity = n }
}

// NewMemory creates an empty repository. label names the entity in errors.
func NewMemory[T any, ID comparable](label string, idOf func(T) ID, opts ...MemoryOption[T, ID]) *Memory[T, ID] {
	r := &Memory[T, ID]{
		label: label,
		idOf:  idOf,
		items: make(map[ID]T),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Compile-time interface check.
var _ Repository[any, string] = (*Memory[any, string])(nil)

func (r *Memory[T, ID]) Get(_ context.Context, id ID) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return item, nil
}

func (r *Memory[T, ID]) List(_ context.Context, opts ListOpts) ([]T, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.order)
	var items []T
	for i := opts.Offset; i < n && len(items) < limit; i++ {
		j := i
		if opts.Newest {
			j = n - 1 - i
		}
		items = append(items, r.items[r.order[j]])
	}
	return items, nil
}

func (r *Memory[T, ID]) Create(_ context.Context, entity T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.idOf(entity)
	if _, dup := r.items[id]; dup {
		var zero T
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrExists)
	}
	r.items[id] = entity
	r.order = append(r.order, id)
	if r.capacity > 0 && len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.items, oldest)
	}
	return entity, nil
}

func (r *Memory[T, ID]) Update(_ context.Context, entity T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.idOf(entity)
	if _, ok := r.items[id]; !ok {
		var zero T
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	r.items[id] = entity
	return entity, nil
}

func (r *Memory[T, ID]) Delete(_ context.Context, id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	delete(r.items, id)
	r.order = slices.DeleteFunc(r.order, func(x ID) bool { return x == id })
	return nil
}

// Len returns the number of stored entities.
func (r *Memory[T, ID]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
