// Package rename detects class-id renames and same-data-type key swaps
// between a @class record's prior and new state, and applies the resulting
// backend rename operations atomically (spec §4.5).
package rename

import (
	"context"
	"fmt"

	"github.com/elementstore/core/internal/schema"
	"github.com/elementstore/core/internal/storage"
)

// Kind distinguishes a class-id rename from a property-key rename.
type Kind int

const (
	KindClass Kind = iota
	KindProp
)

// Operation is one detected rename to apply against the storage backend.
type Operation struct {
	Kind    Kind
	ClassID string // the class the prop rename applies to (KindProp only)
	Old     string
	New     string
}

// DetectClassRenames compares a @class record's prior and new shape,
// returning the class-id rename (if the id itself changed) followed by any
// prop-key renames inferred by pairing removed and added keys of the same
// data type (see detectPropRenames).
func DetectClassRenames(prior, next map[string]any) []Operation {
	var ops []Operation

	oldID, _ := prior["id"].(string)
	newID, _ := next["id"].(string)
	if oldID != "" && newID != "" && oldID != newID {
		ops = append(ops, Operation{Kind: KindClass, Old: oldID, New: newID})
	}

	classID := newID
	if classID == "" {
		classID = oldID
	}
	ops = append(ops, detectPropRenames(classID, prior["props"], next["props"])...)
	return ops
}

// detectPropRenames extracts {key: data_type} from prior and new props and
// matches them by key set, not position (spec §4.5 "Property renames"): a
// key present in both with the same data_type is untouched; a key removed
// from prior and a key added in new that share the same data_type are
// matched as a rename, first match in prop-list order wins, and a matched pair is removed from
// the candidate set so it cannot match again. A type change alongside a key
// change disqualifies the match; the old key is treated as deleted and the
// new as created, and the engine never migrates values across types.
func detectPropRenames(classID string, oldProps, newProps any) []Operation {
	oldByKey := propTypesByKey(oldProps)
	newByKey := propTypesByKey(newProps)

	var removed, added []string
	for _, p := range propList(oldProps) {
		key, _ := p["key"].(string)
		if newType, ok := newByKey[key]; key != "" && (!ok || newType != oldByKey[key]) {
			removed = append(removed, key)
		}
	}
	for _, p := range propList(newProps) {
		key, _ := p["key"].(string)
		if oldType, ok := oldByKey[key]; key != "" && (!ok || oldType != newByKey[key]) {
			added = append(added, key)
		}
	}

	var ops []Operation
	used := make(map[string]bool, len(added))
	for _, oldKey := range removed {
		for _, newKey := range added {
			if used[newKey] {
				continue
			}
			if oldByKey[oldKey] != newByKey[newKey] {
				continue
			}
			ops = append(ops, Operation{Kind: KindProp, ClassID: classID, Old: oldKey, New: newKey})
			used[newKey] = true
			break
		}
	}
	return ops
}

// propTypesByKey extracts {key: data_type} from a @class.props value.
func propTypesByKey(v any) map[string]string {
	out := make(map[string]string)
	for _, p := range propList(v) {
		key, _ := p["key"].(string)
		dataType, _ := p["data_type"].(string)
		if key != "" {
			out[key] = dataType
		}
	}
	return out
}

func propList(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		out := make([]map[string]any, 0, len(t))
		for key, item := range t {
			if m, ok := item.(map[string]any); ok {
				if _, has := m["key"]; !has {
					m["key"] = key
				}
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// Propagator applies detected rename operations against the storage
// backend and invalidates the schema registry afterward.
type Propagator struct {
	backend  storage.Backend
	registry *schema.Registry
}

// NewPropagator returns a Propagator writing through backend.
func NewPropagator(backend storage.Backend, registry *schema.Registry) *Propagator {
	return &Propagator{backend: backend, registry: registry}
}

// Apply issues each operation against the backend in order, stopping (and
// returning) on the first failure so a partially-applied rename is visible
// rather than silently incomplete (spec §4.5 "atomic backend ops").
func (p *Propagator) Apply(ctx context.Context, ops []Operation) error {
	for _, op := range ops {
		switch op.Kind {
		case KindClass:
			if _, err := p.backend.RenameClass(ctx, op.Old, op.New); err != nil {
				return fmt.Errorf("rename: class %s -> %s: %w", op.Old, op.New, err)
			}
		case KindProp:
			if _, err := p.backend.RenameProp(ctx, op.ClassID, op.Old, op.New); err != nil {
				return fmt.Errorf("rename: prop %s.%s -> %s: %w", op.ClassID, op.Old, op.New, err)
			}
		}
	}
	if p.registry != nil {
		p.registry.InvalidateAll()
	}
	return nil
}
