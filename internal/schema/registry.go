package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"

	serr "github.com/elementstore/core/infrastructure/errors"
	"github.com/elementstore/core/internal/storage"
)

// Registry is the single source of truth for class metadata (spec §4.2). It
// caches by class id, process-local, and reconstructs from storage on miss.
type Registry struct {
	backend storage.Backend

	mu        sync.RWMutex
	byClassID map[string]*ClassMeta

	bootOnce sync.Once
	bootErr  error
}

// New returns a Registry backed by backend.
func New(backend storage.Backend) *Registry {
	return &Registry{
		backend:   backend,
		byClassID: make(map[string]*ClassMeta),
	}
}

// Bootstrap seeds the system class records into storage if the @class
// record for @class itself is absent (Design Note "Reflective
// self-description"). It is idempotent and safe to call on every startup.
func (r *Registry) Bootstrap(ctx context.Context) error {
	r.bootOnce.Do(func() {
		r.bootErr = r.bootstrap(ctx)
	})
	return r.bootErr
}

func (r *Registry) bootstrap(ctx context.Context) error {
	id := ClassClass
	existing, err := r.backend.Get(ctx, ClassClass, &id)
	if err != nil {
		return serr.StorageError("bootstrap", ClassClass, id, err)
	}
	if existing != nil {
		return nil
	}
	for _, classID := range BootstrapClassIDs() {
		meta, _ := BootstrapClass(classID)
		rec := classMetaToRecord(meta)
		if _, err := r.backend.Set(ctx, ClassClass, rec); err != nil {
			return serr.StorageError("bootstrap", ClassClass, classID, err)
		}
	}
	return nil
}

func classMetaToRecord(meta *ClassMeta) map[string]any {
	props := make([]any, 0, len(meta.Props))
	for _, p := range meta.Props {
		props = append(props, propMetaToMap(p))
	}
	return map[string]any{
		"id":          meta.ID,
		"class_id":    ClassClass,
		"name":        meta.Name,
		"description": meta.Description,
		"extends_id":  meta.ExtendsID,
		"props":       props,
		"table_name":  meta.TableName,
		"is_system":   meta.IsSystem,
		"is_abstract": meta.IsAbstract,
	}
}

func propMetaToMap(p PropMeta) map[string]any {
	return map[string]any{
		"id":                  p.ID,
		"class_id":            ClassProp,
		"key":                 p.Key,
		"data_type":           string(p.DataType),
		"is_array":            p.IsArray,
		"object_class_id":     p.ObjectClassID,
		"object_class_strict": p.ObjectClassStrict,
		"on_orphan":           string(p.OnOrphan),
		"options":             p.Options,
		"editor":              p.Editor,
		"required":            p.Required,
		"readonly":            p.ReadOnly,
		"create_only":         p.CreateOnly,
		"server_only":         p.ServerOnly,
		"default_value":       p.DefaultValue,
		"display_order":       p.DisplayOrder,
		"group_name":          p.GroupName,
		"hidden":              p.Hidden,
	}
}

// GetClass returns the merged view of classID: own props plus parent props
// via extends_id, with child overriding parent by key, walking the parent
// chain up to but not past the first system class encountered (spec §4.2).
func (r *Registry) GetClass(ctx context.Context, classID string) (*ClassMeta, error) {
	if cached := r.fromCache(classID); cached != nil {
		return cached, nil
	}

	own, err := r.loadOwn(ctx, classID)
	if err != nil {
		return nil, err
	}
	if own == nil {
		return nil, nil
	}

	merged := r.mergeParentChain(ctx, own)
	r.storeCache(classID, merged)
	return merged, nil
}

// loadOwn loads a class's own (unmerged) definition, preferring the
// compiled-in bootstrap table for system classes so @class can resolve
// itself before any record exists.
func (r *Registry) loadOwn(ctx context.Context, classID string) (*ClassMeta, error) {
	if boot, ok := BootstrapClass(classID); ok {
		id := classID
		raw, err := r.backend.Get(ctx, ClassClass, &id)
		if err != nil {
			return nil, serr.StorageError("get", ClassClass, classID, err)
		}
		if raw == nil {
			return cloneClassMeta(boot), nil
		}
		rec, ok := raw.(map[string]any)
		if !ok {
			return cloneClassMeta(boot), nil
		}
		return recordToClassMeta(rec), nil
	}

	id := classID
	raw, err := r.backend.Get(ctx, ClassClass, &id)
	if err != nil {
		return nil, serr.StorageError("get", ClassClass, classID, err)
	}
	if raw == nil {
		return nil, nil
	}
	rec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema: malformed class record for %s", classID)
	}
	return recordToClassMeta(rec), nil
}

func (r *Registry) mergeParentChain(ctx context.Context, own *ClassMeta) *ClassMeta {
	if own.ExtendsID == "" || IsSystemClassID(own.ID) {
		return own
	}

	parent, err := r.loadOwn(ctx, own.ExtendsID)
	if err != nil || parent == nil {
		return own
	}

	var parentMerged *ClassMeta
	if IsSystemClassID(parent.ID) {
		parentMerged = parent
	} else {
		parentMerged = r.mergeParentChain(ctx, parent)
	}

	merged := &ClassMeta{
		ID: own.ID, Name: own.Name, Description: own.Description,
		ExtendsID: own.ExtendsID, TableName: own.TableName,
		IsSystem: own.IsSystem, IsAbstract: own.IsAbstract,
	}
	byKey := make(map[string]PropMeta)
	order := make([]string, 0)
	for _, p := range parentMerged.Props {
		if _, seen := byKey[p.Key]; !seen {
			order = append(order, p.Key)
		}
		byKey[p.Key] = p
	}
	for _, p := range own.Props {
		if _, seen := byKey[p.Key]; !seen {
			order = append(order, p.Key)
		}
		byKey[p.Key] = p
	}
	for _, k := range order {
		merged.Props = append(merged.Props, byKey[k])
	}
	return merged
}

// GetClassProps returns the effective property set, ordered by
// display_order ascending then insertion order (spec §4.2).
func (r *Registry) GetClassProps(ctx context.Context, classID string) ([]PropMeta, error) {
	meta, err := r.GetClass(ctx, classID)
	if err != nil || meta == nil {
		return nil, err
	}
	props := append([]PropMeta(nil), meta.Props...)
	sort.SliceStable(props, func(i, j int) bool {
		return props[i].DisplayOrder < props[j].DisplayOrder
	})
	return props, nil
}

// Descendants returns every class id (excluding classID itself) whose
// extends_id chain transitively reaches classID, found by walking the
// @class collection's extends_id field one generation at a time (spec §4.3
// step 5, §4.6 "accepting subclasses unless strict").
func (r *Registry) Descendants(ctx context.Context, classID string) ([]string, error) {
	var out []string
	seen := map[string]bool{classID: true}
	frontier := []string{classID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			children, err := r.backend.Query(ctx, ClassClass, []storage.Filter{{Field: "extends_id", Value: id}}, storage.QueryOptions{})
			if err != nil {
				return nil, serr.StorageError("query", ClassClass, nil, err)
			}
			for _, c := range children {
				cid := asString(c["id"])
				if cid == "" || seen[cid] {
					continue
				}
				seen[cid] = true
				out = append(out, cid)
				next = append(next, cid)
			}
		}
		frontier = next
	}
	return out, nil
}

// Invalidate drops cached entries for classID, called after any @class
// write so subsequent reads reconstruct from storage (spec §4.2).
func (r *Registry) Invalidate(classID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byClassID, classID)
}

// InvalidateAll drops the entire cache, used after a class rename since
// descendants and relation targets referencing the old id may be stale.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byClassID = make(map[string]*ClassMeta)
}

func (r *Registry) fromCache(classID string) *ClassMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byClassID[classID]
}

func (r *Registry) storeCache(classID string, meta *ClassMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byClassID[classID] = meta
}

func cloneClassMeta(c *ClassMeta) *ClassMeta {
	out := *c
	out.Props = append([]PropMeta(nil), c.Props...)
	return &out
}

func recordToClassMeta(rec map[string]any) *ClassMeta {
	meta := &ClassMeta{
		ID:          asString(rec["id"]),
		Name:        asString(rec["name"]),
		Description: asString(rec["description"]),
		ExtendsID:   asString(rec["extends_id"]),
		TableName:   asString(rec["table_name"]),
		IsSystem:    asBool(rec["is_system"]),
		IsAbstract:  asBool(rec["is_abstract"]),
	}
	switch props := rec["props"].(type) {
	case []any:
		for _, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				meta.Props = append(meta.Props, mapToPropMeta(meta.ID, pm))
			}
		}
	case map[string]any:
		// Props given as a mapping keyed by prop key are accepted as-is;
		// nothing upstream converts them to a sequence, so the map key
		// fills in a missing prop key here.
		for key, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				p := mapToPropMeta(meta.ID, pm)
				if p.Key == "" {
					p.Key = key
				}
				meta.Props = append(meta.Props, p)
			}
		}
	}
	return meta
}

func mapToPropMeta(classID string, m map[string]any) PropMeta {
	p := PropMeta{
		ID:                asString(m["id"]),
		ClassID:           classID,
		Key:               asString(m["key"]),
		DataType:          DataType(asString(m["data_type"])),
		IsArray:           asBool(m["is_array"]),
		ObjectClassStrict: asBool(m["object_class_strict"]),
		OnOrphan:          OnOrphan(asString(m["on_orphan"])),
		Editor:            asString(m["editor"]),
		Required:          asBool(m["required"]),
		ReadOnly:          asBool(m["readonly"]),
		CreateOnly:        asBool(m["create_only"]),
		ServerOnly:        asBool(m["server_only"]),
		DefaultValue:      m["default_value"],
		DisplayOrder:      asInt(m["display_order"]),
		GroupName:         asString(m["group_name"]),
		Hidden:            asBool(m["hidden"]),
	}
	if opts, ok := m["options"].(map[string]any); ok {
		p.Options = opts
	}
	p.ObjectClassID = asStringSlice(m["object_class_id"])
	if vs, ok := m["validators"].([]any); ok {
		for _, v := range vs {
			if vm, ok := v.(map[string]any); ok {
				p.Validators = append(p.Validators, mapToValidatorRef(vm))
			} else if name, ok := v.(string); ok {
				p.Validators = append(p.Validators, ValidatorRef{Name: name})
			}
		}
	}
	return p
}

func mapToValidatorRef(m map[string]any) ValidatorRef {
	ref := ValidatorRef{
		Name:       asString(m["name"]),
		FunctionID: asString(m["function_id"]),
	}
	if params, ok := m["params"].(map[string]any); ok {
		ref.Params = params
	}
	return ref
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func asStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
