package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elementstore/core/internal/storage/file"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	backend, err := file.New(t.TempDir())
	require.NoError(t, err)
	return New(backend)
}

func TestBootstrap_SeedsSystemClasses(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Bootstrap(ctx))

	for _, id := range BootstrapClassIDs() {
		class, err := r.GetClass(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, class, "expected bootstrap class %s to resolve", id)
		assert.True(t, class.IsSystem)
	}
}

func TestBootstrap_IsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Bootstrap(ctx))
	require.NoError(t, r.Bootstrap(ctx))

	class, err := r.GetClass(ctx, ClassClass)
	require.NoError(t, err)
	require.NotNil(t, class)
}

func TestGetClass_MergesParentChain(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Bootstrap(ctx))

	base := map[string]any{
		"id": "base_thing", "class_id": ClassClass, "name": "Base",
		"props": []any{
			map[string]any{"key": "title", "data_type": "string"},
		},
	}
	_, err := r.backend.Set(ctx, ClassClass, base)
	require.NoError(t, err)

	child := map[string]any{
		"id": "child_thing", "class_id": ClassClass, "name": "Child", "extends_id": "base_thing",
		"props": []any{
			map[string]any{"key": "subtitle", "data_type": "string"},
		},
	}
	_, err = r.backend.Set(ctx, ClassClass, child)
	require.NoError(t, err)

	merged, err := r.GetClass(ctx, "child_thing")
	require.NoError(t, err)
	require.NotNil(t, merged)

	_, hasTitle := merged.PropByKey("title")
	_, hasSubtitle := merged.PropByKey("subtitle")
	assert.True(t, hasTitle, "expected inherited prop from parent")
	assert.True(t, hasSubtitle, "expected own prop")
}

func TestGetClass_ChildOverridesParentByKey(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Bootstrap(ctx))

	parent := map[string]any{
		"id": "parent_thing", "class_id": ClassClass, "name": "Parent",
		"props": []any{
			map[string]any{"key": "status", "data_type": "string", "required": false},
		},
	}
	_, err := r.backend.Set(ctx, ClassClass, parent)
	require.NoError(t, err)

	child := map[string]any{
		"id": "child_thing2", "class_id": ClassClass, "name": "Child", "extends_id": "parent_thing",
		"props": []any{
			map[string]any{"key": "status", "data_type": "string", "required": true},
		},
	}
	_, err = r.backend.Set(ctx, ClassClass, child)
	require.NoError(t, err)

	merged, err := r.GetClass(ctx, "child_thing2")
	require.NoError(t, err)

	prop, ok := merged.PropByKey("status")
	require.True(t, ok)
	assert.True(t, prop.Required, "child override should win over parent definition")
}

func TestInvalidate_ForcesReload(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Bootstrap(ctx))

	rec := map[string]any{"id": "widget", "class_id": ClassClass, "name": "Widget", "props": []any{}}
	_, err := r.backend.Set(ctx, ClassClass, rec)
	require.NoError(t, err)

	first, err := r.GetClass(ctx, "widget")
	require.NoError(t, err)
	require.Equal(t, "Widget", first.Name)

	rec["name"] = "Renamed Widget"
	_, err = r.backend.Set(ctx, ClassClass, rec)
	require.NoError(t, err)

	r.Invalidate("widget")
	second, err := r.GetClass(ctx, "widget")
	require.NoError(t, err)
	assert.Equal(t, "Renamed Widget", second.Name)
}
