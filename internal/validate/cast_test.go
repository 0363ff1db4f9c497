package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elementstore/core/internal/schema"
)

func TestCast_String(t *testing.T) {
	prop := schema.PropMeta{Key: "name", DataType: schema.DataTypeString}
	out, err := Cast(prop, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestCast_IntegerFromFloat64(t *testing.T) {
	prop := schema.PropMeta{Key: "count", DataType: schema.DataTypeInteger}
	out, err := Cast(prop, float64(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), out)
}

func TestCast_BooleanFromString(t *testing.T) {
	prop := schema.PropMeta{Key: "active", DataType: schema.DataTypeBoolean}
	out, err := Cast(prop, "true")
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCast_BooleanAcceptsYesAndOnSynonyms(t *testing.T) {
	prop := schema.PropMeta{Key: "active", DataType: schema.DataTypeBoolean}

	for _, truthy := range []string{"true", "1", "yes", "on", "Yes", "ON"} {
		out, err := Cast(prop, truthy)
		require.NoError(t, err, truthy)
		assert.Equal(t, true, out, truthy)
	}

	for _, falsy := range []string{"false", "0", "no", "off", "No", "OFF"} {
		out, err := Cast(prop, falsy)
		require.NoError(t, err, falsy)
		assert.Equal(t, false, out, falsy)
	}
}

func TestCast_Array(t *testing.T) {
	prop := schema.PropMeta{Key: "tags", DataType: schema.DataTypeString, IsArray: true}
	out, err := Cast(prop, []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestCast_ArrayRejectsNonArrayInput(t *testing.T) {
	prop := schema.PropMeta{Key: "tags", DataType: schema.DataTypeString, IsArray: true}
	_, err := Cast(prop, "not-an-array")
	assert.Error(t, err)
}

func TestCast_RelationAcceptsBareIDOrEmbeddedObject(t *testing.T) {
	prop := schema.PropMeta{Key: "author_id", DataType: schema.DataTypeRelation}

	out, err := Cast(prop, "author-1")
	require.NoError(t, err)
	assert.Equal(t, "author-1", out)

	out, err = Cast(prop, map[string]any{"id": "author-2", "name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "author-2", out)
}

func TestCast_RelationRejectsObjectWithoutID(t *testing.T) {
	prop := schema.PropMeta{Key: "author_id", DataType: schema.DataTypeRelation}
	_, err := Cast(prop, map[string]any{"name": "Ada"})
	assert.Error(t, err)
}

func TestCast_NilPassesThrough(t *testing.T) {
	prop := schema.PropMeta{Key: "name", DataType: schema.DataTypeString}
	out, err := Cast(prop, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCast_InvalidTypeErrors(t *testing.T) {
	prop := schema.PropMeta{Key: "count", DataType: schema.DataTypeInteger}
	_, err := Cast(prop, []any{1, 2})
	assert.Error(t, err)
}
