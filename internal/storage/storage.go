// Package storage defines the minimal per-class CRUD + rename contract
// every backend implements (spec §4.1).
package storage

import "context"

// QueryOptions bounds and orders a query result (spec §4.1 query()).
type QueryOptions struct {
	Sort    string
	SortDir string // "asc" | "desc"
	Limit   int
	Offset  int
}

// Filter is an equality or set-membership filter on one field.
type Filter struct {
	Field string
	Value any   // equality when In is nil
	In    []any // set membership when non-nil
}

// Backend is the storage contract implemented by the flat-file, document
// database, and HTTP document database backends (spec §4.1).
type Backend interface {
	// Get returns a single record by id, or the full list of a class when
	// id is nil. A missing record/class yields (nil, nil): not-found is not
	// an error (spec §4.1 failure semantics).
	Get(ctx context.Context, classID string, id *string) (any, error)

	// Set creates or replaces record, allocating an id when absent and
	// stamping created_at/updated_at, returning the stored shape.
	Set(ctx context.Context, classID string, rec map[string]any) (map[string]any, error)

	// Delete removes a record, reporting whether it existed.
	Delete(ctx context.Context, classID string, id string) (bool, error)

	// Query runs equality/IN filters with optional sort/limit/offset.
	Query(ctx context.Context, classID string, filters []Filter, opts QueryOptions) ([]map[string]any, error)

	// RenameProp rewrites a property key across every record of classID,
	// preserving values and bumping updated_at, returning the count touched.
	RenameProp(ctx context.Context, classID, oldKey, newKey string) (int, error)

	// RenameClass moves every record of oldClassID to newClassID, updating
	// each record's class_id field, returning the count moved.
	RenameClass(ctx context.Context, oldClassID, newClassID string) (int, error)
}
