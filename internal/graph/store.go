package graph

import (
	"context"
)

// Store applies graph operations.
type Store interface {
	// Apply executes a single MERGE operation atomically.
	Apply(ctx context.Context, op Operation) error
	// Reset deletes every node and relationship.
	Reset(ctx context.Context) error
	// Callees returns the qualnames called by the given function.
	Callees(ctx context.Context, file, qualname string) ([]string, error)
	// Close releases resources.
	Close(ctx context.Context) error
}
