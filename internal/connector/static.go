package connector

import (
	"context"

	"github.com/rendis/flowline/pkg/schema"
)

// StaticConnector serves inline data from the step config. Read-only.
type StaticConnector struct {
	data any
}

func (c *StaticConnector) Test(_ context.Context) (*Result, error) {
	return &Result{Success: true, Message: "static data available"}, nil
}

func (c *StaticConnector) Read(_ context.Context) (any, error) {
	return c.data, nil
}

func (c *StaticConnector) Write(_ context.Context, _ any) (*Result, error) {
	return nil, schema.NewError(schema.ErrCodeValidation, "static connector does not support write")
}

var _ Connector = (*StaticConnector)(nil)
