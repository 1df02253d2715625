package connector

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"

	"github.com/rendis/flowline/pkg/schema"
)

// JSONFileConnector reads and writes a JSON document on the local filesystem.
type JSONFileConnector struct {
	path string
}

// NewJSONFileConnector creates a connector for the given file path.
func NewJSONFileConnector(path string) (*JSONFileConnector, error) {
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "json connector requires a path")
	}
	return &JSONFileConnector{path: path}, nil
}

func (c *JSONFileConnector) Test(_ context.Context) (*Result, error) {
	if _, err := os.Stat(c.path); err != nil {
		return &Result{Success: false, Message: err.Error()}, nil
	}
	return &Result{Success: true, Message: "file accessible"}, nil
}

func (c *JSONFileConnector) Read(_ context.Context) (any, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "read %s: %s", c.path, err.Error()).WithCause(err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "parse %s: %s", c.path, err.Error()).WithCause(err)
	}
	return data, nil
}

func (c *JSONFileConnector) Write(_ context.Context, data any) (*Result, error) {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "marshal data").WithCause(err)
	}
	if err := os.WriteFile(c.path, raw, 0o644); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "write %s: %s", c.path, err.Error()).WithCause(err)
	}
	return &Result{Success: true, Message: "file written"}, nil
}

// CSVFileConnector reads a CSV file with a header row into records.
type CSVFileConnector struct {
	path string
}

// NewCSVFileConnector creates a connector for the given file path.
func NewCSVFileConnector(path string) (*CSVFileConnector, error) {
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "csv connector requires a path")
	}
	return &CSVFileConnector{path: path}, nil
}

func (c *CSVFileConnector) Test(_ context.Context) (*Result, error) {
	if _, err := os.Stat(c.path); err != nil {
		return &Result{Success: false, Message: err.Error()}, nil
	}
	return &Result{Success: true, Message: "file accessible"}, nil
}

// Read parses the CSV into []any of map[string]any keyed by the header row.
// All values stay strings; downstream transform steps handle coercion.
func (c *CSVFileConnector) Read(_ context.Context) (any, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "open %s: %s", c.path, err.Error()).WithCause(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "parse %s: %s", c.path, err.Error()).WithCause(err)
	}
	if len(rows) == 0 {
		return []any{}, nil
	}

	header := rows[0]
	records := make([]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *CSVFileConnector) Write(_ context.Context, _ any) (*Result, error) {
	return nil, schema.NewError(schema.ErrCodeValidation, "csv connector does not support write")
}

var (
	_ Connector = (*JSONFileConnector)(nil)
	_ Connector = (*CSVFileConnector)(nil)
)
