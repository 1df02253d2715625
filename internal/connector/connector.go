package connector

import (
	"context"

	"github.com/rendis/flowline/pkg/schema"
)

// Result is the outcome of a Test or Write call.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Connector is the uniform capability interface over data sources.
// Read returns the source's data; Write pushes data to the source.
type Connector interface {
	Test(ctx context.Context) (*Result, error)
	Read(ctx context.Context) (any, error)
	Write(ctx context.Context, data any) (*Result, error)
}

// Factory builds a Connector from a connector step config.
type Factory func(cfg *schema.ConnectorStepConfig) (Connector, error)

// Registry maps source names to connector factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a source name to a factory. Later registrations replace
// earlier ones.
func (r *Registry) Register(source string, f Factory) {
	r.factories[source] = f
}

// Open builds a connector for the config's source.
func (r *Registry) Open(cfg *schema.ConnectorStepConfig) (Connector, error) {
	f, ok := r.factories[cfg.Source]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown connector source %q", cfg.Source)
	}
	return f(cfg)
}

// NewDefaultRegistry creates a Registry with the built-in sources: static,
// json, csv and api. The database source is registered separately by the
// composition root since it needs a live *sql.DB.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("static", func(cfg *schema.ConnectorStepConfig) (Connector, error) {
		return &StaticConnector{data: cfg.Data}, nil
	})
	r.Register("json", func(cfg *schema.ConnectorStepConfig) (Connector, error) {
		return NewJSONFileConnector(cfg.Path)
	})
	r.Register("csv", func(cfg *schema.ConnectorStepConfig) (Connector, error) {
		return NewCSVFileConnector(cfg.Path)
	})
	r.Register("api", func(cfg *schema.ConnectorStepConfig) (Connector, error) {
		return NewAPIConnector(cfg.URL, cfg.Method, cfg.Headers)
	})
	return r
}
