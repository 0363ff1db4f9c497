// Package facade wraps a record in a typed read/write handle with
// dirty-tracking and parent/child back-references, the surface application
// code is expected to program against instead of raw maps (spec §4.8
// "Object Facade").
package facade

import (
	"context"
	"fmt"

	"github.com/elementstore/core/internal/engine"
	"github.com/elementstore/core/internal/record"
	"github.com/elementstore/core/internal/security"
)

// Object wraps one record of classID, tracking which fields have been
// assigned since load so Save only sends the changed subset plus
// identity (spec §4.8 "dirty-tracking").
type Object struct {
	engine  *engine.Engine
	classID string
	id      *string
	fields  map[string]any
	dirty   map[string]bool
	parent  *Object
	parentProp string
}

// Load fetches classID/id through eng and wraps it as an Object.
func Load(ctx context.Context, eng *engine.Engine, classID, id string) (*Object, error) {
	raw, err := eng.Backend.Get(ctx, classID, &id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	fields, _ := raw.(map[string]any)
	return &Object{engine: eng, classID: classID, id: &id, fields: fields, dirty: map[string]bool{}}, nil
}

// New returns an unsaved Object of classID with no identity yet.
func New(eng *engine.Engine, classID string) *Object {
	return &Object{engine: eng, classID: classID, fields: map[string]any{}, dirty: map[string]bool{}}
}

// Get returns the current value of key, whether loaded or locally assigned.
func (o *Object) Get(key string) any {
	return o.fields[key]
}

// Set assigns key = value locally and marks it dirty, without touching
// storage until Save is called.
func (o *Object) Set(key string, value any) {
	o.fields[key] = value
	o.dirty[key] = true
}

// ID returns the object's persisted id, or "" when unsaved.
func (o *Object) ID() string {
	if o.id == nil {
		return ""
	}
	return *o.id
}

// ClassID returns the object's class.
func (o *Object) ClassID() string { return o.classID }

// IsDirty reports whether any field has been locally assigned since load.
func (o *Object) IsDirty() bool { return len(o.dirty) > 0 }

// WithParent records a back-reference to the object that owns this one
// through parentProp, the way an embedded child tracks its container (spec
// §4.8 "parent/child back-references"). The back-reference is held as a
// plain pointer, not registered with the child's own dirty set, so no
// ownership cycle participates in dirty-tracking or serialization.
func (o *Object) WithParent(parent *Object, parentProp string) *Object {
	o.parent = parent
	o.parentProp = parentProp
	return o
}

// Parent returns the object's recorded parent, if any.
func (o *Object) Parent() *Object { return o.parent }

// Save persists only the dirty fields (or the full field set, for a new
// object), via the wrapped Engine, and clears the dirty set on success.
func (o *Object) Save(ctx context.Context, sec security.Context) error {
	payload := map[string]any{}
	if o.id == nil {
		for k, v := range o.fields {
			payload[k] = v
		}
	} else {
		for k := range o.dirty {
			payload[k] = o.fields[k]
		}
		if len(payload) == 0 {
			return nil
		}
	}

	stored, err := o.engine.SetObject(ctx, sec, o.classID, o.id, payload)
	if err != nil {
		return err
	}
	o.fields = stored
	if o.id == nil {
		idStr := fmt.Sprint(stored[record.FieldID])
		o.id = &idStr
	}
	o.dirty = map[string]bool{}
	return nil
}

// Delete removes the underlying record. The Object must have been loaded or
// saved (have an id) before this is called.
func (o *Object) Delete(ctx context.Context, sec security.Context) error {
	if o.id == nil {
		return fmt.Errorf("facade: cannot delete an unsaved object")
	}
	return o.engine.DeleteObject(ctx, sec, o.classID, *o.id)
}
