package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/flowline/pkg/schema"
)

const (
	apiTimeout         = 30 * time.Second
	apiMaxResponseBody = 10 * 1024 * 1024 // 10MB
)

// APIConnector fetches data from an HTTP endpoint. JSON responses are
// decoded; anything else is returned as a string.
type APIConnector struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

// NewAPIConnector creates a connector for the given URL. Method defaults
// to GET.
func NewAPIConnector(url, method string, headers map[string]string) (*APIConnector, error) {
	if url == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "api connector requires a url")
	}
	if method == "" {
		method = http.MethodGet
	}
	return &APIConnector{
		url:     url,
		method:  strings.ToUpper(method),
		headers: headers,
		client:  &http.Client{Timeout: apiTimeout},
	}, nil
}

func (c *APIConnector) Test(ctx context.Context) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "build test request").WithCause(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &Result{Success: false, Message: err.Error()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &Result{Success: false, Message: resp.Status}, nil
	}
	return &Result{Success: true, Message: resp.Status}, nil
}

func (c *APIConnector) Read(ctx context.Context) (any, error) {
	return c.do(ctx, c.method, nil)
}

// Write posts the data as a JSON body. The configured method is ignored so
// a connector configured for GET reads can still push with POST.
func (c *APIConnector) Write(ctx context.Context, data any) (*Result, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "marshal write body").WithCause(err)
	}
	if _, err := c.do(ctx, http.MethodPost, body); err != nil {
		return nil, err
	}
	return &Result{Success: true, Message: "data posted"}, nil
}

func (c *APIConnector) do(ctx context.Context, method string, body []byte) (any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url, reader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "build request").WithCause(err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "api request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, apiMaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "read api response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "api returned status %d", resp.StatusCode)
	}

	var data any
	if json.Unmarshal(raw, &data) == nil {
		return data, nil
	}
	return string(raw), nil
}

var _ Connector = (*APIConnector)(nil)
