package pipeline

import (
	"fmt"
)

// runAggregate reduces an array over a named field. Unknown operations and
// non-array input pass the data through unchanged.
func runAggregate(step *compiledStep, rc *runContext) (any, error) {
	cfg := step.aggregate

	records, ok := rc.data.([]any)
	if !ok {
		rc.log(step.name(), "input is not an array, passed through")
		return rc.data, nil
	}

	switch cfg.Operation {
	case "count":
		rc.log(step.name(), "counted %d records", len(records))
		return map[string]any{"count": len(records)}, nil

	case "sum":
		sum := 0.0
		for _, v := range fieldValues(records, cfg.Field) {
			sum += v
		}
		rc.log(step.name(), "summed field %q over %d records", cfg.Field, len(records))
		return map[string]any{"sum": sum}, nil

	case "average":
		values := fieldValues(records, cfg.Field)
		avg := 0.0
		if len(values) > 0 {
			sum := 0.0
			for _, v := range values {
				sum += v
			}
			avg = sum / float64(len(values))
		}
		rc.log(step.name(), "averaged field %q over %d records", cfg.Field, len(values))
		return map[string]any{"average": avg}, nil

	case "min":
		values := fieldValues(records, cfg.Field)
		if len(values) == 0 {
			return map[string]any{"min": nil}, nil
		}
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		rc.log(step.name(), "min of field %q over %d records", cfg.Field, len(values))
		return map[string]any{"min": min}, nil

	case "max":
		values := fieldValues(records, cfg.Field)
		if len(values) == 0 {
			return map[string]any{"max": nil}, nil
		}
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		rc.log(step.name(), "max of field %q over %d records", cfg.Field, len(values))
		return map[string]any{"max": max}, nil

	case "groupBy":
		groups := map[string]any{}
		for _, item := range records {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key := fmt.Sprintf("%v", record[cfg.Field])
			bucket, _ := groups[key].([]any)
			groups[key] = append(bucket, item)
		}
		rc.log(step.name(), "grouped %d records by field %q into %d groups", len(records), cfg.Field, len(groups))
		return map[string]any{"groups": groups}, nil

	default:
		// Unknown operations pass data through unchanged.
		rc.log(step.name(), "unknown aggregate operation %q, passed through", cfg.Operation)
		return rc.data, nil
	}
}

// fieldValues collects the numeric values of a field across record maps,
// skipping records where the field is missing or non-numeric.
func fieldValues(records []any, field string) []float64 {
	var out []float64
	for _, item := range records {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch v := record[field].(type) {
		case float64:
			out = append(out, v)
		case int:
			out = append(out, float64(v))
		case int64:
			out = append(out, float64(v))
		}
	}
	return out
}
