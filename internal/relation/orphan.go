package relation

import (
	"context"
	"fmt"

	svcerrors "github.com/elementstore/core/infrastructure/errors"
	"github.com/elementstore/core/internal/schema"
)

// FindOrphans returns every record of classID that no relation property
// anywhere in the schema currently references (spec §4.6 "find_orphans(
// class_id) scans every class whose prop set contains a relation to
// class_id ... and return[s] records of class_id not in the union").
func (r *Resolver) FindOrphans(ctx context.Context, classID string) ([]map[string]any, error) {
	referenced, err := r.referencedIDs(ctx, classID)
	if err != nil {
		return nil, err
	}

	raw, err := r.backend.Get(ctx, classID, nil)
	if err != nil {
		return nil, svcerrors.StorageError("get", classID, nil, err)
	}
	all, _ := raw.([]map[string]any)

	var orphans []map[string]any
	for _, rec := range all {
		if id, _ := rec["id"].(string); !referenced[id] {
			orphans = append(orphans, rec)
		}
	}
	return orphans, nil
}

// CleanupOrphans deletes every orphan of classID found by FindOrphans,
// returning the number of records removed (spec §4.6 "cleanup_orphans(
// class_id) ... delete[s] records of class_id not in the union").
func (r *Resolver) CleanupOrphans(ctx context.Context, classID string) (int, error) {
	orphans, err := r.FindOrphans(ctx, classID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, rec := range orphans {
		id, _ := rec["id"].(string)
		ok, err := r.backend.Delete(ctx, classID, id)
		if err != nil {
			return deleted, svcerrors.StorageError("delete", classID, id, err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// referencedIDs unions every id referenced, across every class in the
// schema, by a relation property that targets classID or an ancestor of
// classID when that property is not strict (spec §4.6, §4.3 step 5
// "subclass ... unless object_class_strict").
func (r *Resolver) referencedIDs(ctx context.Context, classID string) (map[string]bool, error) {
	ancestors, err := ancestorChain(ctx, r.registry, classID)
	if err != nil {
		return nil, err
	}
	isAncestor := make(map[string]bool, len(ancestors))
	for _, a := range ancestors {
		isAncestor[a] = true
	}

	raw, err := r.backend.Get(ctx, schema.ClassClass, nil)
	if err != nil {
		return nil, svcerrors.StorageError("get", schema.ClassClass, nil, err)
	}
	classRecs, _ := raw.([]map[string]any)

	referenced := make(map[string]bool)
	for _, classRec := range classRecs {
		refClassID, _ := classRec["id"].(string)
		if refClassID == "" {
			continue
		}
		class, err := r.registry.GetClass(ctx, refClassID)
		if err != nil {
			return nil, svcerrors.StorageError("get_class", refClassID, nil, err)
		}
		if class == nil {
			continue
		}

		for _, prop := range class.Props {
			if prop.DataType != schema.DataTypeRelation || !relationTargets(prop, classID, isAncestor) {
				continue
			}
			recs, err := r.backend.Get(ctx, refClassID, nil)
			if err != nil {
				return nil, svcerrors.StorageError("get", refClassID, nil, err)
			}
			items, _ := recs.([]map[string]any)
			for _, m := range items {
				collectReferencedIDs(m[prop.Key], referenced)
			}
		}
	}
	return referenced, nil
}

// relationTargets reports whether prop's declared target list names classID
// directly, or names an ancestor of classID and prop is not strict.
func relationTargets(prop schema.PropMeta, classID string, ancestorsOfClassID map[string]bool) bool {
	for _, t := range prop.ObjectClassID {
		if t == classID {
			return true
		}
		if !prop.ObjectClassStrict && ancestorsOfClassID[t] {
			return true
		}
	}
	return false
}

// ancestorChain walks classID's extends_id chain upward, returning each
// ancestor in order (nearest first). A malformed or cyclic chain stops
// rather than loops forever.
func ancestorChain(ctx context.Context, registry *schema.Registry, classID string) ([]string, error) {
	var chain []string
	seen := map[string]bool{classID: true}
	cur := classID
	for {
		meta, err := registry.GetClass(ctx, cur)
		if err != nil {
			return nil, svcerrors.StorageError("get_class", cur, nil, err)
		}
		if meta == nil || meta.ExtendsID == "" || seen[meta.ExtendsID] {
			return chain, nil
		}
		chain = append(chain, meta.ExtendsID)
		seen[meta.ExtendsID] = true
		cur = meta.ExtendsID
	}
}

// collectReferencedIDs adds the id(s) named by a relation property's stored
// value (a bare id or a sequence of them) into out.
func collectReferencedIDs(v any, out map[string]bool) {
	switch t := v.(type) {
	case nil:
		return
	case []any:
		for _, item := range t {
			if item == nil {
				continue
			}
			out[fmt.Sprint(item)] = true
		}
	default:
		out[fmt.Sprint(t)] = true
	}
}

// Unlink removes removedIDs from parent[propKey], persists parent, then for
// each removed id: deletes it when deleteObjects is set; otherwise deletes
// it when the prop's on_orphan policy is "delete" and the id is now an
// orphan (no record anywhere references it); otherwise leaves it untouched
// (spec §4.6 "unlink(parent, key, removed_ids, delete_objects?)").
func (r *Resolver) Unlink(ctx context.Context, classID string, parent map[string]any, propKey string, removedIDs []string, deleteObjects bool) (map[string]any, error) {
	class, err := r.registry.GetClass(ctx, classID)
	if err != nil {
		return nil, svcerrors.StorageError("get_class", classID, nil, err)
	}
	var prop schema.PropMeta
	if class != nil {
		prop, _ = class.PropByKey(propKey)
	}

	removed := make(map[string]bool, len(removedIDs))
	for _, id := range removedIDs {
		removed[id] = true
	}
	parent[propKey] = removeIDsFromValue(parent[propKey], removed)

	stored, err := r.backend.Set(ctx, classID, parent)
	if err != nil {
		return nil, svcerrors.StorageError("set", classID, fmt.Sprint(parent["id"]), err)
	}

	targetClassID := ""
	if len(prop.ObjectClassID) > 0 {
		targetClassID = prop.ObjectClassID[0]
	}
	if targetClassID == "" {
		return stored, nil
	}

	for _, id := range removedIDs {
		switch {
		case deleteObjects:
			if _, err := r.backend.Delete(ctx, targetClassID, id); err != nil {
				return nil, svcerrors.StorageError("delete", targetClassID, id, err)
			}
		case prop.OnOrphan == schema.OnOrphanDelete:
			referenced, err := r.referencedIDs(ctx, targetClassID)
			if err != nil {
				return nil, err
			}
			if !referenced[id] {
				if _, err := r.backend.Delete(ctx, targetClassID, id); err != nil {
					return nil, svcerrors.StorageError("delete", targetClassID, id, err)
				}
			}
		}
	}
	return stored, nil
}

// removeIDsFromValue drops any id in removed from v, which is either a bare
// id or a sequence of them (spec §4.6 relation value shapes).
func removeIDsFromValue(v any, removed map[string]bool) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if item != nil && removed[fmt.Sprint(item)] {
				continue
			}
			out = append(out, item)
		}
		return out
	case nil:
		return nil
	default:
		if removed[fmt.Sprint(t)] {
			return nil
		}
		return t
	}
}
