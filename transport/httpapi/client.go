// Package httpapi implements the remote construction API client used by the
// sync driver: one HTTP endpoint per entity type, POST for create, PUT for
// update and conflict retry, DELETE for delete.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	syncErrors "github.com/Skrufy/ConstructionManager-sub008/errors"
	"github.com/Skrufy/ConstructionManager-sub008/fieldsync"
	"github.com/Skrufy/ConstructionManager-sub008/logging"
)

// endpointPaths is the fixed entity-to-endpoint table the driver relies on.
var endpointPaths = map[fieldsync.EntityType]string{
	fieldsync.EntityDailyLog:    "daily-logs",
	fieldsync.EntityTimeEntry:   "time-entries",
	fieldsync.EntityPhoto:       "photos",
	fieldsync.EntityMaterialLog: "material-logs",
}

// EndpointPath returns the URL path segment for an entity type.
func EndpointPath(entityType fieldsync.EntityType) (string, bool) {
	p, ok := endpointPaths[entityType]
	return p, ok
}

// Client talks to the remote construction API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logging.Logger
}

// Compile-time check that Client satisfies the RemoteClient interface
var _ fieldsync.RemoteClient = (*Client)(nil)

// Option configures a Client using the functional options pattern
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) { c.http = cl }
}

// WithLogger sets a custom logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the API rooted at baseURL (e.g.
// "https://api.example.com"). The default HTTP client times out after 30s;
// timeouts surface as retryable network errors.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logging.WithComponent(logging.Component("httpapi")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Create submits a new entity via POST.
func (c *Client) Create(ctx context.Context, entityType fieldsync.EntityType, payload map[string]any) error {
	url, err := c.collectionURL(entityType)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, url, payload)
}

// Update submits changed entity data via PUT. The payload must carry the
// entity's client-assigned id.
func (c *Client) Update(ctx context.Context, entityType fieldsync.EntityType, payload map[string]any) error {
	url, err := c.entityURL(entityType, payload)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, url, payload)
}

// Delete removes an entity via DELETE. Only the id from the payload is used.
func (c *Client) Delete(ctx context.Context, entityType fieldsync.EntityType, payload map[string]any) error {
	url, err := c.entityURL(entityType, payload)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, url, nil)
}

func (c *Client) collectionURL(entityType fieldsync.EntityType) (string, error) {
	path, ok := endpointPaths[entityType]
	if !ok {
		return "", syncErrors.NewValidationError(syncErrors.OpRemoteCall,
			fmt.Errorf("no endpoint mapped for entity type %q", entityType))
	}
	return fmt.Sprintf("%s/api/%s", c.baseURL, path), nil
}

func (c *Client) entityURL(entityType fieldsync.EntityType, payload map[string]any) (string, error) {
	base, err := c.collectionURL(entityType)
	if err != nil {
		return "", err
	}
	id, _ := payload["id"].(string)
	if id == "" {
		return "", syncErrors.NewValidationError(syncErrors.OpRemoteCall,
			fmt.Errorf("payload for %s is missing its id", entityType))
	}
	return base + "/" + id, nil
}

// conflictBody is the JSON shape of a 409 response.
type conflictBody struct {
	Data      map[string]any `json:"data"`
	UpdatedAt string         `json:"updatedAt"`
}

func (c *Client) do(ctx context.Context, method, url string, payload map[string]any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return syncErrors.NewValidationError(syncErrors.OpRemoteCall,
				fmt.Errorf("failed to marshal payload: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpRemoteCall, "transport",
			fmt.Errorf("failed to create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			slog.String("method", method),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return syncErrors.NewNetworkError(syncErrors.OpRemoteCall,
			fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if resp.StatusCode == http.StatusConflict {
		return c.conflictError(resp)
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	httpErr := syncErrors.NewHTTPError(syncErrors.OpRemoteCall, resp.StatusCode,
		fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody)))
	if resp.StatusCode == http.StatusTooManyRequests {
		httpErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}

	c.logger.Debug("request rejected",
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
	)
	return httpErr
}

// conflictError decodes a 409 body into the driver's conflict error. A body
// without a parseable updatedAt yields a zero server timestamp, which the
// resolver treats as "server not newer".
func (c *Client) conflictError(resp *http.Response) error {
	var body conflictBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return syncErrors.NewConflictError(syncErrors.OpRemoteCall,
			fmt.Errorf("conflict response with undecodable body: %w", err))
	}

	conflict := &fieldsync.RemoteConflictError{Data: body.Data}
	if body.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, body.UpdatedAt); err == nil {
			conflict.UpdatedAt = ts
		} else if ts, err := time.Parse(time.RFC3339, body.UpdatedAt); err == nil {
			conflict.UpdatedAt = ts
		}
	}
	return conflict
}

// parseRetryAfter understands the delta-seconds form of Retry-After.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
