package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChanges_DetectsModifiedKey(t *testing.T) {
	before := map[string]any{"label": "Gadget"}
	after := map[string]any{"label": "Sprocket"}

	diffs := Changes(before, after)
	d := diffByKey(diffs, "label")
	assert.True(t, d.Changed)
	assert.Equal(t, "Gadget", d.Before)
	assert.Equal(t, "Sprocket", d.After)
}

func TestChanges_UnchangedKeyIsNotFlagged(t *testing.T) {
	before := map[string]any{"label": "Gadget"}
	after := map[string]any{"label": "Gadget"}

	diffs := Changes(before, after)
	d := diffByKey(diffs, "label")
	assert.False(t, d.Changed)
}

func TestChanges_KeyAddedOrRemovedIsFlagged(t *testing.T) {
	before := map[string]any{"label": "Gadget"}
	after := map[string]any{"label": "Gadget", "count": float64(3)}

	diffs := Changes(before, after)
	added := diffByKey(diffs, "count")
	assert.True(t, added.Changed)
	assert.Nil(t, added.Before)
}

func TestChanges_DeepEqualNestedMapsAndSlices(t *testing.T) {
	before := map[string]any{"meta": map[string]any{"tags": []any{"a", "b"}}}
	after := map[string]any{"meta": map[string]any{"tags": []any{"a", "b"}}}

	diffs := Changes(before, after)
	assert.False(t, diffByKey(diffs, "meta").Changed)
}

func TestChanged_TrueWhenAnyDiffChanged(t *testing.T) {
	diffs := []Diff{{Key: "a", Changed: false}, {Key: "b", Changed: true}}
	assert.True(t, Changed(diffs))
}

func TestChanged_FalseWhenNoneChanged(t *testing.T) {
	diffs := []Diff{{Key: "a", Changed: false}, {Key: "b", Changed: false}}
	assert.False(t, Changed(diffs))
}

func diffByKey(diffs []Diff, key string) Diff {
	for _, d := range diffs {
		if d.Key == key {
			return d
		}
	}
	return Diff{}
}
