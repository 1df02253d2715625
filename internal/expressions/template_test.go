package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateBareReferencePreservesType(t *testing.T) {
	tmpl, err := CompileTemplate(map[string]any{"b": "$a"})
	require.NoError(t, err)

	out := tmpl.Resolve(nil, map[string]any{"a": 5.0})
	assert.Equal(t, map[string]any{"b": 5.0}, out)
}

func TestTemplateInterpolation(t *testing.T) {
	tmpl, err := CompileTemplate(map[string]any{
		"greeting": "hello ${name}, you scored ${score}",
	})
	require.NoError(t, err)

	out := tmpl.Resolve(nil, map[string]any{"name": "ada", "score": 42.0})
	assert.Equal(t, "hello ada, you scored 42", out["greeting"])
}

func TestTemplateVariablesTakePrecedence(t *testing.T) {
	tmpl, err := CompileTemplate(map[string]any{"v": "$x"})
	require.NoError(t, err)

	out := tmpl.Resolve(map[string]any{"x": "record"}, map[string]any{"x": "vars"})
	assert.Equal(t, "vars", out["v"])

	// Absent from the bag, the record's field is used.
	out = tmpl.Resolve(map[string]any{"x": "record"}, map[string]any{})
	assert.Equal(t, "record", out["v"])
}

func TestTemplateNestedStructures(t *testing.T) {
	tmpl, err := CompileTemplate(map[string]any{
		"meta": map[string]any{
			"id":   "$id",
			"tags": []any{"fixed", "$tag"},
		},
		"count": 3,
	})
	require.NoError(t, err)

	out := tmpl.Resolve(nil, map[string]any{"id": "r1", "tag": "fresh"})
	assert.Equal(t, map[string]any{
		"meta": map[string]any{
			"id":   "r1",
			"tags": []any{"fixed", "fresh"},
		},
		"count": 3,
	}, out)
}

func TestTemplateUnknownReference(t *testing.T) {
	tmpl, err := CompileTemplate(map[string]any{
		"missing": "$nope",
		"text":    "value: ${nope}",
	})
	require.NoError(t, err)

	out := tmpl.Resolve(nil, map[string]any{})
	assert.Nil(t, out["missing"])
	assert.Equal(t, "value: ", out["text"])
}

func TestTemplateUnclosedInterpolation(t *testing.T) {
	_, err := CompileTemplate(map[string]any{"bad": "oops ${name"})
	require.Error(t, err)
}
