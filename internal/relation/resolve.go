// Package relation implements relation-property resolution and orphan
// cleanup (spec §4.6).
package relation

import (
	"context"
	"fmt"

	svcerrors "github.com/elementstore/core/infrastructure/errors"
	"github.com/elementstore/core/internal/schema"
	"github.com/elementstore/core/internal/storage"
)

// Resolver resolves relation-typed property values into embedded objects,
// and finds the inverse set of objects referencing a given target.
type Resolver struct {
	backend  storage.Backend
	registry *schema.Registry
}

// NewResolver returns a Resolver reading through backend/registry.
func NewResolver(backend storage.Backend, registry *schema.Registry) *Resolver {
	return &Resolver{backend: backend, registry: registry}
}

// Resolve replaces every relation-typed property in rec with the referenced
// object(s), recursing one level (spec §4.6 "resolve mode": embeds the
// related object instead of returning a bare id).
func (r *Resolver) Resolve(ctx context.Context, classID string, rec map[string]any) (map[string]any, error) {
	class, err := r.registry.GetClass(ctx, classID)
	if err != nil {
		return nil, svcerrors.StorageError("get_class", classID, nil, err)
	}
	if class == nil {
		return rec, nil
	}

	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}

	for _, prop := range class.Props {
		if prop.DataType != schema.DataTypeRelation {
			continue
		}
		raw, ok := rec[prop.Key]
		if !ok || raw == nil {
			continue
		}
		targetClass := ""
		if len(prop.ObjectClassID) > 0 {
			targetClass = prop.ObjectClassID[0]
		}
		if targetClass == "" {
			continue
		}

		if prop.IsArray {
			ids, _ := raw.([]any)
			resolved := make([]any, 0, len(ids))
			for _, idAny := range ids {
				obj, err := r.fetchByAnyClass(ctx, prop.ObjectClassID, idAny)
				if err != nil {
					return nil, err
				}
				if obj != nil {
					resolved = append(resolved, obj)
				}
			}
			out[prop.Key] = resolved
			continue
		}

		obj, err := r.fetchByAnyClass(ctx, prop.ObjectClassID, raw)
		if err != nil {
			return nil, err
		}
		out[prop.Key] = obj
	}
	return out, nil
}

func (r *Resolver) fetchByAnyClass(ctx context.Context, classIDs []string, idAny any) (map[string]any, error) {
	idStr := fmt.Sprint(idAny)
	for _, cid := range classIDs {
		raw, err := r.backend.Get(ctx, cid, &idStr)
		if err != nil {
			return nil, svcerrors.StorageError("get", cid, idStr, err)
		}
		if raw != nil {
			if m, ok := raw.(map[string]any); ok {
				return m, nil
			}
		}
	}
	return nil, nil
}

// Query mode: FindReferencing returns every object of referencingClassID
// whose referencingProp names targetID, i.e. the inverse of Resolve (spec
// §4.6 "query mode": who references this object).
func (r *Resolver) FindReferencing(ctx context.Context, referencingClassID, referencingProp, targetID string) ([]map[string]any, error) {
	return r.backend.Query(ctx, referencingClassID, []storage.Filter{
		{Field: referencingProp, Value: targetID},
	}, storage.QueryOptions{})
}
