// Package validate implements the cast/validate/merge pipeline that turns a
// raw input payload plus a class's effective property list into a committed
// record (spec §4.3 validate_and_build).
package validate

import (
	"context"
	"fmt"

	svcerrors "github.com/elementstore/core/infrastructure/errors"
	"github.com/elementstore/core/internal/record"
	"github.com/elementstore/core/internal/schema"
)

// UniqueChecker reports whether value already exists for prop.Key in classID,
// optionally excluding excludeID (the record being updated). The engine
// supplies this against the active storage backend (spec §4.4 "unique
// properties are checked against the backend before commit").
type UniqueChecker func(ctx context.Context, classID string, prop schema.PropMeta, value any, excludeID *record.ID) (bool, error)

// RelationChecker reports whether id names a record that exists in one of
// targetClassIDs, or in a subclass of one of them when strict is false
// (spec §4.3 step 5 "the referenced record must exist in some target class
// (or its subclass when object_class_strict is false)").
type RelationChecker func(ctx context.Context, targetClassIDs []string, strict bool, id any) (bool, error)

// ClassResolver resolves a class's effective definition by id, used to
// recurse into embedded object/array properties (spec §4.3 steps 3-4). A
// *schema.Registry's GetClass method satisfies this signature directly.
type ClassResolver func(ctx context.Context, classID string) (*schema.ClassMeta, error)

// Builder runs validate_and_build for one class.
type Builder struct {
	Functions *FunctionRunner
	Unique    UniqueChecker
	Relations RelationChecker
	Classes   ClassResolver
}

// NewBuilder returns a Builder using runner for @function validators,
// checker for uniqueness checks, relations for relation-target existence
// checks, and classes to resolve embedded object/array target classes. Any
// of these may be nil when unused by the caller's class set.
func NewBuilder(runner *FunctionRunner, checker UniqueChecker, relations RelationChecker, classes ClassResolver) *Builder {
	return &Builder{Functions: runner, Unique: checker, Relations: relations, Classes: classes}
}

// Build casts and validates input against class's effective properties,
// merging onto prior when updating (prior is nil for a create). It returns
// the built field map ready for Record.Fields, or a *errors.ServiceError
// with CodeValidationFailed carrying every FieldError collected.
//
// Ordering follows spec §4.4 steps 1-6: required-field check, per-property
// cast, per-property validators (built-in then @function), uniqueness
// checks, then deep-merge onto the prior snapshot.
func (b *Builder) Build(ctx context.Context, class *schema.ClassMeta, input map[string]any, prior map[string]any, excludeID *record.ID) (map[string]any, error) {
	var fieldErrs []svcerrors.FieldError
	built := map[string]any{}
	if prior != nil {
		built = deepCopyMap(prior)
	}

	for _, prop := range class.Props {
		if isAuditKey(prop.Key) {
			continue
		}

		raw, present := input[prop.Key]
		if !present {
			if prior == nil && prop.Required && prop.DefaultValue == nil {
				fieldErrs = append(fieldErrs, svcerrors.FieldError{
					Path: prop.Key, Message: "is required", Code: "required",
				})
			}
			if prior == nil && prop.DefaultValue != nil {
				built[prop.Key] = prop.DefaultValue
			}
			continue
		}

		if prior != nil && prop.ReadOnly {
			continue // read-only properties are ignored on update, not rejected
		}
		if prior != nil && prop.CreateOnly {
			continue // create-only properties are ignored after creation
		}

		if raw == nil {
			if prop.Required {
				fieldErrs = append(fieldErrs, svcerrors.FieldError{
					Path: prop.Key, Message: "must not be null", Code: "required",
				})
				continue
			}
			built[prop.Key] = nil
			continue
		}

		cast, err := Cast(prop, raw)
		if err != nil {
			fieldErrs = append(fieldErrs, svcerrors.FieldError{
				Path: prop.Key, Message: err.Error(), Code: "invalid_type",
			})
			continue
		}

		if prop.DataType == schema.DataTypeObject && len(prop.ObjectClassID) > 0 {
			if embedErr := b.buildEmbeddedProp(ctx, prop, cast, prior, built, &fieldErrs); embedErr != nil {
				return nil, embedErr
			}
			continue
		}

		if prop.DataType == schema.DataTypeRelation {
			failed, relErr := b.checkRelationProp(ctx, class, prop, cast, &fieldErrs)
			if relErr != nil {
				return nil, relErr
			}
			if failed {
				continue
			}
			built[prop.Key] = cast
			continue
		}

		if msg := b.runValidators(ctx, class, prop, cast, built, &fieldErrs); msg {
			continue
		}

		if prop.DataType == schema.DataTypeUnique && b.Unique != nil {
			exists, err := b.Unique(ctx, class.ID, prop, cast, excludeID)
			if err != nil {
				return nil, svcerrors.StorageError("unique_check", class.ID, nil, err)
			}
			if exists {
				fieldErrs = append(fieldErrs, svcerrors.FieldError{
					Path: prop.Key, Message: "already in use", Code: "unique",
				})
				continue
			}
		}

		built[prop.Key] = cast
	}

	if len(fieldErrs) > 0 {
		return nil, svcerrors.ValidationFailed(fieldErrs)
	}
	return built, nil
}

// buildEmbeddedProp recurses into a prop.DataType == object property whose
// object_class_id names a target class, matching array items to their prior
// counterpart by id (spec §4.3 steps 3-4). Recursion failures are collected
// into fieldErrs with the path prefixed by P.key or P.key[i]; it returns a
// non-nil error only for a collaborator failure (storage, not validation).
func (b *Builder) buildEmbeddedProp(ctx context.Context, prop schema.PropMeta, cast any, prior map[string]any, built map[string]any, fieldErrs *[]svcerrors.FieldError) error {
	targetClassID := prop.ObjectClassID[0]

	if prop.IsArray {
		items, ok := cast.([]any)
		if !ok {
			*fieldErrs = append(*fieldErrs, svcerrors.FieldError{Path: prop.Key, Message: "expected array", Code: "invalid_type"})
			return nil
		}
		priorItems, _ := prior[prop.Key].([]any)
		priorByID := make(map[string]map[string]any, len(priorItems))
		for _, pi := range priorItems {
			if m, ok := pi.(map[string]any); ok {
				if id, ok := m["id"].(string); ok && id != "" {
					priorByID[id] = m
				}
			}
		}

		outItems := make([]any, 0, len(items))
		failed := false
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				*fieldErrs = append(*fieldErrs, svcerrors.FieldError{
					Path: fmt.Sprintf("%s[%d]", prop.Key, i), Message: "expected object", Code: "invalid_type",
				})
				failed = true
				continue
			}
			var priorItem map[string]any
			if id, ok := m["id"].(string); ok && id != "" {
				priorItem = priorByID[id]
			}
			childBuilt, childErrs, err := b.buildEmbedded(ctx, targetClassID, m, priorItem)
			if err != nil {
				return err
			}
			if len(childErrs) > 0 {
				for _, e := range childErrs {
					*fieldErrs = append(*fieldErrs, svcerrors.FieldError{
						Path: fmt.Sprintf("%s[%d].%s", prop.Key, i, e.Path), Message: e.Message, Code: e.Code,
					})
				}
				failed = true
				continue
			}
			outItems = append(outItems, childBuilt)
		}
		if !failed {
			built[prop.Key] = outItems
		}
		return nil
	}

	m, ok := cast.(map[string]any)
	if !ok {
		*fieldErrs = append(*fieldErrs, svcerrors.FieldError{Path: prop.Key, Message: "expected object", Code: "invalid_type"})
		return nil
	}
	priorEmbedded, _ := prior[prop.Key].(map[string]any)
	childBuilt, childErrs, err := b.buildEmbedded(ctx, targetClassID, m, priorEmbedded)
	if err != nil {
		return err
	}
	if len(childErrs) > 0 {
		for _, e := range childErrs {
			*fieldErrs = append(*fieldErrs, svcerrors.FieldError{Path: prop.Key + "." + e.Path, Message: e.Message, Code: e.Code})
		}
		return nil
	}
	built[prop.Key] = childBuilt
	return nil
}

// buildEmbedded resolves targetClassID and recurses validate_and_build onto
// value, returning the recursive build's FieldErrors unprefixed (the caller
// adds the P.key/P.key[i] prefix) so the same helper serves both the scalar
// and array embedding cases. When the target class cannot be resolved, value
// passes through unvalidated: an undeclared embedded class is not itself a
// reason to fail the parent write.
func (b *Builder) buildEmbedded(ctx context.Context, targetClassID string, value map[string]any, prior map[string]any) (map[string]any, []svcerrors.FieldError, error) {
	if b.Classes == nil {
		return value, nil, nil
	}
	targetClass, err := b.Classes(ctx, targetClassID)
	if err != nil {
		return nil, nil, err
	}
	if targetClass == nil {
		return value, nil, nil
	}
	built, err := b.Build(ctx, targetClass, value, prior, nil)
	if err != nil {
		if se, ok := svcerrors.As(err); ok {
			return nil, se.Errors, nil
		}
		return nil, nil, err
	}
	return built, nil, nil
}

// checkRelationProp verifies a relation-typed property's cast id(s) resolve
// to an existing record (spec §4.3 step 5). It returns failed=true when at
// least one id failed to resolve, signalling the caller to skip assigning
// the value; a non-nil error is a collaborator failure, not a validation
// failure.
func (b *Builder) checkRelationProp(ctx context.Context, class *schema.ClassMeta, prop schema.PropMeta, cast any, fieldErrs *[]svcerrors.FieldError) (bool, error) {
	if b.Relations == nil {
		return false, nil
	}

	failed := false
	if prop.IsArray {
		items, _ := cast.([]any)
		for i, item := range items {
			exists, err := b.Relations(ctx, prop.ObjectClassID, prop.ObjectClassStrict, item)
			if err != nil {
				return false, svcerrors.StorageError("relation_check", class.ID, nil, err)
			}
			if !exists {
				*fieldErrs = append(*fieldErrs, svcerrors.FieldError{
					Path: fmt.Sprintf("%s[%d]", prop.Key, i), Message: "referenced record not found", Code: "invalid_relation",
				})
				failed = true
			}
		}
		return failed, nil
	}

	exists, err := b.Relations(ctx, prop.ObjectClassID, prop.ObjectClassStrict, cast)
	if err != nil {
		return false, svcerrors.StorageError("relation_check", class.ID, nil, err)
	}
	if !exists {
		*fieldErrs = append(*fieldErrs, svcerrors.FieldError{Path: prop.Key, Message: "referenced record not found", Code: "invalid_relation"})
		failed = true
	}
	return failed, nil
}

// runValidators runs every configured validator for prop against cast,
// appending any failures to fieldErrs. It returns true when at least one
// validator failed, signalling the caller to skip assigning the value.
func (b *Builder) runValidators(ctx context.Context, class *schema.ClassMeta, prop schema.PropMeta, cast any, built map[string]any, fieldErrs *[]svcerrors.FieldError) bool {
	failed := false
	for _, v := range prop.Validators {
		if v.FunctionID != "" {
			if b.Functions == nil {
				continue
			}
			rec := record.FromMap(class.ID, built)
			msg, err := b.Functions.Run(ctx, v.FunctionID, cast, rec)
			if err != nil {
				*fieldErrs = append(*fieldErrs, svcerrors.FieldError{
					Path: prop.Key, Message: fmt.Sprintf("validator failed: %v", err), Code: "function_error",
				})
				failed = true
				continue
			}
			if msg != "" {
				*fieldErrs = append(*fieldErrs, svcerrors.FieldError{Path: prop.Key, Message: msg, Code: "function"})
				failed = true
			}
			continue
		}

		fn, ok := Builtins[v.Name]
		if !ok {
			continue
		}
		if msg := fn(cast, v.Params); msg != "" {
			*fieldErrs = append(*fieldErrs, svcerrors.FieldError{Path: prop.Key, Message: msg, Code: v.Name})
			failed = true
		}
	}
	return failed
}

func isAuditKey(key string) bool {
	switch key {
	case record.FieldID, record.FieldClassID, record.FieldCreatedAt, record.FieldUpdatedAt,
		record.FieldCreatedBy, record.FieldUpdatedBy, record.FieldOwnerID, record.FieldAppID, record.FieldDomain:
		return true
	default:
		return false
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			out[k] = deepCopyMap(t)
		case []any:
			cp := make([]any, len(t))
			copy(cp, t)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
