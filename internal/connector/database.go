package connector

import (
	"context"
	"database/sql"

	"github.com/rendis/flowline/pkg/schema"
)

// DatabaseConnector runs a raw read query against a live database handle.
// The composition root registers it only when a SQL-backed store is in use.
type DatabaseConnector struct {
	db    *sql.DB
	query string
}

// NewDatabaseConnector creates a connector bound to the given handle and
// query.
func NewDatabaseConnector(db *sql.DB, query string) (*DatabaseConnector, error) {
	if db == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "database connector requires a database handle")
	}
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "database connector requires a query")
	}
	return &DatabaseConnector{db: db, query: query}, nil
}

// RegisterDatabase adds the database source to a registry, binding every
// connector built from it to the given handle.
func RegisterDatabase(r *Registry, db *sql.DB) {
	r.Register("database", func(cfg *schema.ConnectorStepConfig) (Connector, error) {
		return NewDatabaseConnector(db, cfg.Query)
	})
}

func (c *DatabaseConnector) Test(ctx context.Context) (*Result, error) {
	if err := c.db.PingContext(ctx); err != nil {
		return &Result{Success: false, Message: err.Error()}, nil
	}
	return &Result{Success: true, Message: "database reachable"}, nil
}

// Read executes the query and returns the rows as []any of map[string]any
// keyed by column name.
func (c *DatabaseConnector) Read(ctx context.Context) (any, error) {
	rows, err := c.db.QueryContext(ctx, c.query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "query failed: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "read columns").WithCause(err)
	}

	var records []any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "scan row").WithCause(err)
		}
		rec := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = values[i]
			}
		}
		records = append(records, rec)
	}
	if records == nil {
		records = []any{}
	}
	return records, rows.Err()
}

func (c *DatabaseConnector) Write(_ context.Context, _ any) (*Result, error) {
	return nil, schema.NewError(schema.ErrCodeValidation, "database connector does not support write")
}

var _ Connector = (*DatabaseConnector)(nil)
