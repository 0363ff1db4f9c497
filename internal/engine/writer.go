// Package engine implements the object write path: validate, cast,
// merge, persist, detect renames, notify (spec §4.4 SetObject/DeleteObject).
package engine

import (
	"context"
	"time"

	svcerrors "github.com/elementstore/core/infrastructure/errors"
	"github.com/elementstore/core/internal/bus"
	"github.com/elementstore/core/internal/record"
	"github.com/elementstore/core/internal/rename"
	"github.com/elementstore/core/internal/schema"
	"github.com/elementstore/core/internal/security"
	"github.com/elementstore/core/internal/storage"
	"github.com/elementstore/core/internal/validate"
)

// Engine is the single entry point objects are created, updated, and
// deleted through (spec §4.4).
type Engine struct {
	Backend    storage.Backend
	Registry   *schema.Registry
	Builder    *validate.Builder
	Bus        *bus.Producer
	Propagator *rename.Propagator

	// AutoCreateClass enables step 1's synthesize-and-recurse behavior: an
	// unknown class_id gets a minimal @class record instead of failing
	// not_found (spec §4.4 step 1). Off by default; set post-construction.
	AutoCreateClass bool
}

// New wires an Engine from its collaborators.
func New(backend storage.Backend, registry *schema.Registry, builder *validate.Builder, producer *bus.Producer) *Engine {
	return &Engine{
		Backend:    backend,
		Registry:   registry,
		Builder:    builder,
		Bus:        producer,
		Propagator: rename.NewPropagator(backend, registry),
	}
}

// SetObject creates classID/id when id is nil, or updates the existing
// record otherwise. It runs, in order (spec §4.4 steps 1-12):
//  1. resolve the effective class, synthesizing one when AutoCreateClass is set
//  2. load the prior record by id (∅ for create)
//  3. existence guard: a given id with no prior on a non-system class
//     fails not_found unless custom-id creation is allowed
//  4. security guard on update
//  5. validate_and_build against input, merging onto the prior snapshot
//  6. stamp security context and audit timestamps
//  7. short-circuit with no write/broadcast when nothing actually changed
//  8. when classID is @class, detect class/prop renames before persisting
//  9. persist via the storage backend
//  10. invalidate schema cache when a @class/@prop record changed
//  11. publish a best-effort bus event
func (e *Engine) SetObject(ctx context.Context, sec security.Context, classID string, id *string, input map[string]any) (map[string]any, error) {
	class, err := e.Registry.GetClass(ctx, classID)
	if err != nil {
		return nil, svcerrors.StorageError("get_class", classID, nil, err)
	}
	if class == nil {
		if !e.AutoCreateClass {
			return nil, svcerrors.NotFound("unknown class " + classID)
		}
		if err := e.synthesizeClass(ctx, classID); err != nil {
			return nil, err
		}
		class, err = e.Registry.GetClass(ctx, classID)
		if err != nil {
			return nil, svcerrors.StorageError("get_class", classID, nil, err)
		}
		if class == nil {
			return nil, svcerrors.NotFound("unknown class " + classID)
		}
	}

	var prior map[string]any
	var priorRecord *record.Record
	if id != nil {
		raw, err := e.Backend.Get(ctx, classID, id)
		if err != nil {
			return nil, svcerrors.StorageError("get", classID, *id, err)
		}
		if raw != nil {
			prior, _ = raw.(map[string]any)
			priorRecord = record.FromMap(classID, prior)
			if err := security.Guard(sec, priorRecord, true); err != nil {
				return nil, err
			}
		} else if !class.IsSystem && !sec.AllowCustomIDs {
			return nil, svcerrors.NotFound("object not found")
		}
	}

	var excludeID *record.ID
	if priorRecord != nil {
		excludeID = &priorRecord.ID
	}

	built, err := e.Builder.Build(ctx, class, input, prior, excludeID)
	if err != nil {
		return nil, err
	}

	builtRecord := record.FromMap(classID, built)
	if priorRecord != nil {
		builtRecord.ID = priorRecord.ID
		builtRecord.CreatedAt = priorRecord.CreatedAt
		builtRecord.CreatedBy = priorRecord.CreatedBy
		builtRecord.OwnerID = priorRecord.OwnerID
		builtRecord.AppID = priorRecord.AppID
		builtRecord.Domain = priorRecord.Domain
	}
	security.Stamp(sec, builtRecord)
	now := time.Now().UTC()
	builtRecord.UpdatedAt = now
	builtRecord.UpdatedBy = sec.UserID
	if priorRecord == nil {
		builtRecord.CreatedAt = now
		builtRecord.CreatedBy = sec.UserID
	}

	if priorRecord != nil && !Changed(Changes(priorRecord.Fields, builtRecord.Fields)) {
		return prior, nil
	}

	toPersist := builtRecord.ToMap()
	if id != nil {
		if prior != nil {
			toPersist["id"] = prior["id"]
		} else {
			toPersist["id"] = *id
		}
	}

	var renameOps []rename.Operation
	if classID == schema.ClassClass && prior != nil {
		renameOps = rename.DetectClassRenames(prior, toPersist)
	}

	stored, err := e.Backend.Set(ctx, classID, toPersist)
	if err != nil {
		return nil, svcerrors.StorageError("set", classID, id, err)
	}

	if classID == schema.ClassClass || classID == schema.ClassProp {
		e.Registry.InvalidateAll()
	}

	if len(renameOps) > 0 {
		if err := e.Propagator.Apply(ctx, renameOps); err != nil {
			return stored, svcerrors.Wrap(svcerrors.CodeStorageError, "rename propagation failed", err)
		}
	}

	item := make(map[string]any, len(stored)+1)
	for k, v := range stored {
		item[k] = v
	}
	if priorRecord != nil {
		item["_old"] = prior
	}
	e.Bus.Publish(ctx, bus.Event{Item: item, UserID: sec.UserID})

	return stored, nil
}

// synthesizeClass writes a minimal @class record for classID so the caller
// can re-resolve it (spec §4.4 step 1, auto_create_class). It has no
// declared props: the first write that follows it builds against an empty
// prop list, same as writing to any other class with no props defined yet.
func (e *Engine) synthesizeClass(ctx context.Context, classID string) error {
	now := time.Now().UTC()
	_, err := e.Backend.Set(ctx, schema.ClassClass, map[string]any{
		"id":         classID,
		"class_id":   schema.ClassClass,
		"name":       classID,
		"props":      []any{},
		"created_at": now,
		"updated_at": now,
	})
	if err != nil {
		return svcerrors.StorageError("set", schema.ClassClass, classID, err)
	}
	e.Registry.InvalidateAll()
	return nil
}

// DeleteObject removes classID/id after a write-permission check and
// notifies the bus. Records that referenced the deleted one are not touched.
func (e *Engine) DeleteObject(ctx context.Context, sec security.Context, classID, id string) error {
	raw, err := e.Backend.Get(ctx, classID, &id)
	if err != nil {
		return svcerrors.StorageError("get", classID, id, err)
	}
	if raw == nil {
		return svcerrors.NotFound("object not found")
	}
	rec, _ := raw.(map[string]any)
	priorRecord := record.FromMap(classID, rec)
	if err := security.Guard(sec, priorRecord, true); err != nil {
		return err
	}

	existed, err := e.Backend.Delete(ctx, classID, id)
	if err != nil {
		return svcerrors.StorageError("delete", classID, id, err)
	}
	if !existed {
		return svcerrors.NotFound("object not found")
	}

	if classID == schema.ClassClass || classID == schema.ClassProp {
		e.Registry.InvalidateAll()
	}

	e.Bus.Publish(ctx, bus.Event{
		Item:   map[string]any{"id": id, "class_id": classID, "_deleted": true},
		UserID: sec.UserID,
	})
	return nil
}
