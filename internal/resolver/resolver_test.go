package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveString_Basic(t *testing.T) {
	b := NewBindings()
	b.Params["id"] = float64(7)

	out, warnings := ResolveString("https://h/u/${params.id}", b)
	require.Empty(t, warnings)
	assert.Equal(t, "https://h/u/7", out)
}

func TestResolveString_NestedPath(t *testing.T) {
	b := NewBindings()
	b.Responses["user"] = map[string]any{
		"address": map[string]any{"city": "Boston"},
	}

	out, warnings := ResolveString("${responses.user.address.city}", b)
	require.Empty(t, warnings)
	assert.Equal(t, "Boston", out)
}

func TestResolveString_IndexedPath(t *testing.T) {
	b := NewBindings()
	b.Params["list"] = []any{
		map[string]any{"count": float64(2)},
	}

	out, warnings := ResolveString("${params.list[0].count}", b)
	require.Empty(t, warnings)
	assert.Equal(t, "2", out)
}

func TestResolveString_Unresolved(t *testing.T) {
	b := NewBindings()
	out, warnings := ResolveString("${params.missing}", b)
	assert.Equal(t, "", out)
	require.Len(t, warnings, 1)
	assert.Equal(t, "params.missing", warnings[0].Path)
}

func TestResolveString_Escape(t *testing.T) {
	b := NewBindings()
	out, warnings := ResolveString("literal $${params.id} stays", b)
	require.Empty(t, warnings)
	assert.Equal(t, "literal ${params.id} stays", out)
}

func TestResolveValue_RoundTripNonString(t *testing.T) {
	b := NewBindings()
	v := map[string]any{"a": float64(1), "b": []any{"x", "y"}}
	out, warnings := ResolveValue(v, b)
	require.Empty(t, warnings)
	assert.Equal(t, v, out)
}

func TestResolveValue_SingleExpressionReturnsRaw(t *testing.T) {
	b := NewBindings()
	b.Loop["total"] = float64(6)

	out, warnings := ResolveValue("${loop.total}", b)
	require.Empty(t, warnings)
	assert.Equal(t, float64(6), out)
}

func TestResolveValue_MixedStringStringifies(t *testing.T) {
	b := NewBindings()
	b.Loop["index"] = float64(3)

	out, warnings := ResolveValue("iteration-${loop.index}", b)
	require.Empty(t, warnings)
	assert.Equal(t, "iteration-3", out)
}

func TestResolveValue_DeepStruct(t *testing.T) {
	b := NewBindings()
	b.Loop["item"] = map[string]any{"id": float64(5)}
	b.Loop["index"] = float64(2)

	body := map[string]any{
		"userId": "${loop.item.id}",
		"iter":   "${loop.index}",
	}
	out, warnings := ResolveValue(body, b)
	require.Empty(t, warnings)
	m := out.(map[string]any)
	assert.Equal(t, float64(5), m["userId"])
	assert.Equal(t, float64(2), m["iter"])
}

func TestParsePath_ArithmeticIsLiteral(t *testing.T) {
	_, ok := parsePath("params.a + params.b")
	assert.False(t, ok, "arithmetic must not parse as a path")
}
