package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elementstore/core/internal/bus"
	"github.com/elementstore/core/internal/engine"
	"github.com/elementstore/core/internal/schema"
	"github.com/elementstore/core/internal/security"
	"github.com/elementstore/core/internal/storage/file"
	"github.com/elementstore/core/internal/validate"
	"github.com/elementstore/core/pkg/logger"
)

func newTestFacadeEngine(t *testing.T) *engine.Engine {
	t.Helper()
	backend, err := file.New(t.TempDir())
	require.NoError(t, err)
	registry := schema.New(backend)
	require.NoError(t, registry.Bootstrap(context.Background()))

	_, err = backend.Set(context.Background(), schema.ClassClass, map[string]any{
		"id": "widget", "class_id": schema.ClassClass, "name": "Widget",
		"props": []any{
			map[string]any{"key": "label", "data_type": "string", "required": true},
			map[string]any{"key": "count", "data_type": "integer"},
		},
	})
	require.NoError(t, err)
	registry.InvalidateAll()

	builder := validate.NewBuilder(nil, nil, nil, nil)
	producer := bus.NewProducer("", logger.NewDefault("facade-test"))
	return engine.New(backend, registry, builder, producer)
}

func TestObject_New_SaveCreatesRecord(t *testing.T) {
	eng := newTestFacadeEngine(t)
	sec := security.Context{UserID: "alice"}

	obj := New(eng, "widget")
	obj.Set("label", "Gadget")
	obj.Set("count", int64(3))

	require.NoError(t, obj.Save(context.Background(), sec))
	assert.NotEmpty(t, obj.ID())
	assert.False(t, obj.IsDirty())
	assert.Equal(t, "Gadget", obj.Get("label"))
}

func TestObject_Load_ThenSetMarksDirty(t *testing.T) {
	eng := newTestFacadeEngine(t)
	sec := security.Context{UserID: "alice"}

	obj := New(eng, "widget")
	obj.Set("label", "Gadget")
	require.NoError(t, obj.Save(context.Background(), sec))
	id := obj.ID()

	loaded, err := Load(context.Background(), eng, "widget", id)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.False(t, loaded.IsDirty())

	loaded.Set("label", "Renamed")
	assert.True(t, loaded.IsDirty())

	require.NoError(t, loaded.Save(context.Background(), sec))
	assert.Equal(t, "Renamed", loaded.Get("label"))
}

func TestObject_Save_OnlySendsDirtyFieldsOnUpdate(t *testing.T) {
	eng := newTestFacadeEngine(t)
	sec := security.Context{UserID: "alice"}

	obj := New(eng, "widget")
	obj.Set("label", "Gadget")
	obj.Set("count", int64(1))
	require.NoError(t, obj.Save(context.Background(), sec))
	id := obj.ID()

	loaded, err := Load(context.Background(), eng, "widget", id)
	require.NoError(t, err)
	loaded.Set("count", int64(2))
	require.NoError(t, loaded.Save(context.Background(), sec))

	assert.Equal(t, int64(2), loaded.Get("count"))
	assert.Equal(t, "Gadget", loaded.Get("label"), "untouched field must survive a dirty-only update")
}

func TestObject_Load_MissingReturnsNil(t *testing.T) {
	eng := newTestFacadeEngine(t)
	obj, err := Load(context.Background(), eng, "widget", "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestObject_WithParent_TracksBackReference(t *testing.T) {
	eng := newTestFacadeEngine(t)
	parent := New(eng, "widget")
	child := New(eng, "widget").WithParent(parent, "parent_id")

	assert.Same(t, parent, child.Parent())
}

func TestObject_Delete_RequiresPersistedIdentity(t *testing.T) {
	eng := newTestFacadeEngine(t)
	obj := New(eng, "widget")
	err := obj.Delete(context.Background(), security.Context{UserID: "alice"})
	require.Error(t, err)
}
