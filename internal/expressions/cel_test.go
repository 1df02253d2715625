package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCELEngineEvaluate(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)
	ctx := context.Background()

	got, err := engine.Evaluate(ctx, `vars.score > 0.5`, map[string]any{"score": 0.9})
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = engine.Evaluate(ctx, `vars.status == "active"`, map[string]any{"status": "inactive"})
	require.NoError(t, err)
	assert.Equal(t, false, got)
}

func TestCELEngineCompileError(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)

	_, err = engine.Evaluate(context.Background(), `vars.score >`, nil)
	require.Error(t, err)
}

func TestCELEngineNilVars(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)

	got, err := engine.Evaluate(context.Background(), `"ready"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "ready", got)
}
