package expressions

import (
	"fmt"
	"strings"

	"github.com/rendis/flowline/pkg/schema"
)

// Comparison operators accepted by condition nodes and filter steps.
const (
	OpEquals      = "equals"
	OpNotEquals   = "notEquals"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
	OpContains    = "contains"
	OpStartsWith  = "startsWith"
	OpEndsWith    = "endsWith"
)

// Compare applies a named operator to an actual and expected value.
// Numeric comparisons coerce both sides to float64; string operators
// coerce both sides to their string form.
func Compare(operator string, actual, expected any) (bool, error) {
	switch operator {
	case OpEquals:
		return looseEqual(actual, expected), nil
	case OpNotEquals:
		return !looseEqual(actual, expected), nil
	case OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"operator %q requires numeric operands, got %T and %T", operator, actual, expected)
		}
		return a > b, nil
	case OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"operator %q requires numeric operands, got %T and %T", operator, actual, expected)
		}
		return a < b, nil
	case OpContains:
		return strings.Contains(toString(actual), toString(expected)), nil
	case OpStartsWith:
		return strings.HasPrefix(toString(actual), toString(expected)), nil
	case OpEndsWith:
		return strings.HasSuffix(toString(actual), toString(expected)), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown operator %q", operator)
	}
}

// looseEqual compares values with numeric coercion so 5 == 5.0 holds after
// a JSON round trip.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
