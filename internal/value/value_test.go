package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAnyPrimitives(t *testing.T) {
	assert.Equal(t, KindNull, FromAny(nil).Kind())
	assert.Equal(t, KindBool, FromAny(true).Kind())
	assert.Equal(t, KindString, FromAny("hello").Kind())

	f := FromAny(23.5)
	assert.Equal(t, KindFloat, f.Kind())
	fv, ok := f.AsFloat()
	require.True(t, ok)
	assert.InDelta(t, 23.5, fv, 1e-9)

	i := FromAny(float64(-42))
	assert.Equal(t, KindInt, i.Kind())
	iv, ok := i.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(-42), iv)
}

func TestFromAnyNestedTree(t *testing.T) {
	raw := map[string]any{
		"registers": map[string]any{
			"temp": float64(-42),
		},
		"status": true,
	}

	v := FromAny(raw)
	assert.Equal(t, KindMap, v.Kind())

	temp, ok := v.Get("registers.temp")
	require.True(t, ok)
	i, ok := temp.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(-42), i)

	status, ok := v.Get("status")
	require.True(t, ok)
	b, ok := status.AsBool()
	require.True(t, ok)
	assert.True(t, b)
}

func TestToAnyRoundTrip(t *testing.T) {
	raw := map[string]any{
		"a": "x",
		"b": map[string]any{"c": float64(1)},
		"d": []any{float64(1), float64(2), "three"},
	}

	v := FromAny(raw)
	back := v.ToAny()

	// Integral float64 inputs are held as Int and come back as int64.
	expected := map[string]any{
		"a": "x",
		"b": map[string]any{"c": int64(1)},
		"d": []any{int64(1), int64(2), "three"},
	}
	assert.Equal(t, expected, back)
}

func TestGetMissingIntermediateKey(t *testing.T) {
	v := FromAny(map[string]any{"a": map[string]any{"b": float64(1)}})

	_, ok := v.Get("a.missing.c")
	assert.False(t, ok)

	_, ok = v.Get("x.y.z")
	assert.False(t, ok)
}

func TestGetThroughSeq(t *testing.T) {
	v := FromAny(map[string]any{
		"items": []any{
			map[string]any{"value": float64(10)},
			map[string]any{"value": float64(20)},
		},
	})

	first, ok := v.Get("items.0.value")
	require.True(t, ok)
	i, _ := first.AsInt()
	assert.Equal(t, int64(10), i)

	_, ok = v.Get("items.5.value")
	assert.False(t, ok)
}

func TestSetCreatesIntermediateMaps(t *testing.T) {
	var root Value
	root = EmptyMap()

	root.Set("metadata.sourceId", String("plc-1"))
	root.Set("metadata.quality", String("good"))
	root.Set("measurements.0.id", String("temp"))

	sourceID, ok := root.Get("metadata.sourceId")
	require.True(t, ok)
	s, _ := sourceID.AsString()
	assert.Equal(t, "plc-1", s)

	quality, ok := root.Get("metadata.quality")
	require.True(t, ok)
	q, _ := quality.AsString()
	assert.Equal(t, "good", q)
}

func TestSetOverwritesNonObjectWithObject(t *testing.T) {
	root := Map(map[string]Value{
		"target": String("scalar"),
	})

	root.Set("target.nested", Int(1))

	nested, ok := root.Get("target.nested")
	require.True(t, ok)
	i, _ := nested.AsInt()
	assert.Equal(t, int64(1), i)
}

func TestSetLaterWriteWins(t *testing.T) {
	root := EmptyMap()
	root.Set("status", String("first"))
	root.Set("status", String("second"))

	v, ok := root.Get("status")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "second", s)
}

func TestLeavesCollectsAllNonNullLeaves(t *testing.T) {
	v := FromAny(map[string]any{
		"temperature": 23.5,
		"status":      true,
		"label":       "sensor-a",
		"nested":      map[string]any{"x": float64(1)},
		"ignored":     nil,
	})

	leaves := v.Leaves()

	paths := make(map[string]bool)
	for _, l := range leaves {
		paths[l.Path] = true
	}

	assert.True(t, paths["temperature"])
	assert.True(t, paths["status"])
	assert.True(t, paths["label"])
	assert.True(t, paths["nested.x"])
	assert.False(t, paths["ignored"])
	assert.Len(t, leaves, 4)
}

func TestLeavesSortedByPath(t *testing.T) {
	v := FromAny(map[string]any{"b": float64(2), "a": float64(1), "c": float64(3)})
	leaves := v.Leaves()

	require.Len(t, leaves, 3)
	assert.Equal(t, "a", leaves[0].Path)
	assert.Equal(t, "b", leaves[1].Path)
	assert.Equal(t, "c", leaves[2].Path)
}

func TestAsStringCoercion(t *testing.T) {
	s, ok := Int(42).AsString()
	require.True(t, ok)
	assert.Equal(t, "42", s)

	s, ok = Bool(true).AsString()
	require.True(t, ok)
	assert.Equal(t, "true", s)
}

func TestAsIntFromFloat(t *testing.T) {
	i, ok := Float(3.9).AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(3), i)
}
