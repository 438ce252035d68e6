package callstore

import (
	"context"

	"phonescreen-console/internal/calls"
)

// Store is the durable collection of Call records the console reconciles
// against. Implementations must make UpsertMerge a compare-and-patch on the
// current persisted state: concurrent merges touching different fields must
// both survive.
//
// Lookups and merges address a record by its local id or its provider id.
// An id that matches nothing yields calls.ErrNotFound.
type Store interface {
	// GetAll returns every record in insertion order.
	GetAll(ctx context.Context) ([]calls.Call, error)
	FindByID(ctx context.Context, id string) (calls.Call, error)
	// UpsertMerge applies p field by field and returns the merged record.
	UpsertMerge(ctx context.Context, id string, p calls.Patch) (calls.Call, error)
	// Replace inserts c, or overwrites the record with the same id in place.
	Replace(ctx context.Context, c calls.Call) error
	// Clear drops every record.
	Clear(ctx context.Context) error
}
