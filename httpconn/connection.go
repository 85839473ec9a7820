// Package httpconn implements the HTTP GET/PUT contract of an odin control
// server: JSON request/response bodies addressed by slash-separated URIs
// under a versioned API prefix.
package httpconn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DiamondLightSource/odinmirror/errors"
)

// DefaultAPIPrefix is the default API version prefix of an odin server.
const DefaultAPIPrefix = "api/0.1"

// metadataAccept requests parameter metadata alongside values.
const metadataAccept = "application/json;metadata=true"

// Connection is an HTTP client for one odin control server.
type Connection struct {
	client    *http.Client
	baseURL   string
	apiPrefix string
	log       *slog.Logger
}

// Option configures a Connection.
type Option func(*Connection)

// WithHTTPClient replaces the underlying HTTP client, e.g. to set timeouts
// or use an httptest transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connection) {
		if client != nil {
			c.client = client
		}
	}
}

// WithAPIPrefix overrides the API version prefix.
func WithAPIPrefix(prefix string) Option {
	return func(c *Connection) {
		if prefix != "" {
			c.apiPrefix = prefix
		}
	}
}

// WithLogger sets the logger for request failures.
func WithLogger(log *slog.Logger) Option {
	return func(c *Connection) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a Connection to the server at host:port.
func New(host string, port int, opts ...Option) *Connection {
	c := &Connection{
		client:    &http.Client{Timeout: 10 * time.Second},
		baseURL:   fmt.Sprintf("http://%s:%d", host, port),
		apiPrefix: DefaultAPIPrefix,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewURL creates a Connection from a base URL such as "http://localhost:8888".
func NewURL(baseURL string, opts ...Option) *Connection {
	c := &Connection{
		client:    &http.Client{Timeout: 10 * time.Second},
		baseURL:   baseURL,
		apiPrefix: DefaultAPIPrefix,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL expands a resource URI into a full URL on this connection.
func (c *Connection) URL(uri string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiPrefix, uri)
}

// Get performs an HTTP GET and returns the response content as JSON.
func (c *Connection) Get(ctx context.Context, uri string) (map[string]any, error) {
	return c.get(ctx, uri, false)
}

// GetMetadata performs an HTTP GET requesting parameter metadata alongside
// values, used when introspecting an adapter's full tree.
func (c *Connection) GetMetadata(ctx context.Context, uri string) (map[string]any, error) {
	return c.get(ctx, uri, true)
}

func (c *Connection) get(ctx context.Context, uri string, withMetadata bool) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(uri), nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Connection", "Get", "build request")
	}
	if withMetadata {
		req.Header.Set("Accept", metadataAccept)
	}

	return c.do(req, "Get")
}

// Put performs an HTTP PUT with a JSON body and returns the response content
// as JSON. If successful, the response holds the parameters whose values may
// have changed as a result. The value must be a bool, integer, float or
// string.
func (c *Connection) Put(ctx context.Context, uri string, value any) (map[string]any, error) {
	if err := validateValue(value); err != nil {
		return nil, errors.WrapInvalid(err, "Connection", "Put", "validate value")
	}

	body, err := json.Marshal(value)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Connection", "Put", "encode value")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.URL(uri), bytes.NewReader(body))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Connection", "Put", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, "Put")
}

// GetAdapters fetches the list of adapters loaded in the server.
func (c *Connection) GetAdapters(ctx context.Context) ([]string, error) {
	response, err := c.Get(ctx, "adapters")
	if err != nil {
		return nil, err
	}

	list, ok := response["adapters"].([]any)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrBadResponse, response),
			"Connection", "GetAdapters", "parse adapters list")
	}

	adapters := make([]string, 0, len(list))
	for _, entry := range list {
		name, ok := entry.(string)
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: invalid adapters list %v", errors.ErrBadResponse, list),
				"Connection", "GetAdapters", "parse adapters list")
		}
		adapters = append(adapters, name)
	}
	return adapters, nil
}

func (c *Connection) do(req *http.Request, operation string) (map[string]any, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Connection", operation, "request "+req.URL.Path)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: status %d for %s", errors.ErrBadResponse, resp.StatusCode, req.URL.Path),
			"Connection", operation, "check status")
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()

	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: non-JSON body for %s: %v", errors.ErrBadResponse, req.URL.Path, err),
			"Connection", operation, "decode body")
	}

	return payload, nil
}

func validateValue(value any) error {
	switch value.(type) {
	case bool, int, int32, int64, float32, float64, string, json.Number:
		return nil
	default:
		return fmt.Errorf("%w: put value %v (%T)", errors.ErrInvalidData, value, value)
	}
}
