// Package repo defines the generic Repository interface with in-memory and
// Neo4j implementations.
package repo

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Repository is a generic CRUD interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination for List operations. Limit <= 0 selects the
// implementation's default page size.
type ListOpts struct {
	Offset int
	Limit  int
	Newest bool // newest first instead of oldest first
}
