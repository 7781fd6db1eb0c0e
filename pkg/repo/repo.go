// Package repo defines a generic keyed repository and its Neo4j implementation.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no entity has the requested id.
var ErrNotFound = errors.New("repo: not found")

// Repository stores entities of type T keyed by ID. Save is an upsert.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Save(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination for List. Limit <= 0 means 100.
type ListOpts struct {
	Offset int
	Limit  int
}
