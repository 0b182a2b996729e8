// Package backend is the REST client for the fleet-rental backend. The sync
// engine only needs the four abstract verbs (insert, update, delete, list);
// transport details live here.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"fleetsync/internal/config"
)

var ErrUnauthorized = fmt.Errorf("backend unauthorized")

// TransientError marks a failure worth degrading gracefully from: network
// faults, timeouts, 5xx and 429 responses. Callers fall back to the cache
// (reads) or the mutation queue (writes).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should trigger cache/queue fallback rather
// than surfacing as a hard failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(cfg config.BackendConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.GetTimeout()},
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:      strings.TrimSpace(cfg.AuthToken),
	}
}

// Insert creates a record in the named resource collection. The idempotency
// key travels with every attempt of the same queued mutation so the backend
// can deduplicate replays.
func (c *Client) Insert(ctx context.Context, resource string, record json.RawMessage, idempotencyKey string) error {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	return c.do(ctx, http.MethodPost, "/"+resource, record, headers, nil)
}

// Update applies a partial update to the record identified by id.
func (c *Client) Update(ctx context.Context, resource, id string, patch json.RawMessage) error {
	return c.do(ctx, http.MethodPut, "/"+resource+"/"+url.PathEscape(id), patch, nil, nil)
}

// Delete removes the record identified by id.
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	return c.do(ctx, http.MethodDelete, "/"+resource+"/"+url.PathEscape(id), nil, nil, nil)
}

// List fetches all records of a resource, optionally filtered.
func (c *Client) List(ctx context.Context, resource string, filters map[string]string) (json.RawMessage, error) {
	path := "/" + resource
	if len(filters) > 0 {
		q := url.Values{}
		for k, v := range filters {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}

	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID fetches a single record.
func (c *Client) GetByID(ctx context.Context, resource, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/"+resource+"/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body json.RawMessage, headers map[string]string, out *json.RawMessage) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransientError{Err: err}
		}
		*out = json.RawMessage(data)
		return nil
	}

	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	msg := eb.Error
	if msg == "" {
		msg = eb.Message
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{Err: statusError(resp.StatusCode, msg)}
	default:
		return statusError(resp.StatusCode, msg)
	}
}

func statusError(code int, msg string) error {
	if strings.TrimSpace(msg) != "" {
		return fmt.Errorf("backend %d: %s", code, msg)
	}
	return fmt.Errorf("backend status %d", code)
}
