package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		actual   any
		expected any
		want     bool
	}{
		{"equals strings", OpEquals, "active", "active", true},
		{"equals numeric coercion", OpEquals, 5, 5.0, true},
		{"notEquals", OpNotEquals, "a", "b", true},
		{"greaterThan", OpGreaterThan, 10.0, 3, true},
		{"greaterThan false", OpGreaterThan, 2, 3, false},
		{"lessThan", OpLessThan, 1, 2.5, true},
		{"contains", OpContains, "hello world", "world", true},
		{"startsWith", OpStartsWith, "pipeline-42", "pipeline", true},
		{"endsWith", OpEndsWith, "report.csv", ".csv", true},
		{"endsWith false", OpEndsWith, "report.csv", ".json", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.operator, tt.actual, tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareUnknownOperator(t *testing.T) {
	_, err := Compare("matches", "a", "b")
	require.Error(t, err)
}

func TestCompareNumericOperatorRejectsStrings(t *testing.T) {
	_, err := Compare(OpGreaterThan, "ten", 3)
	require.Error(t, err)
}
