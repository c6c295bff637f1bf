package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client is the HTTP implementation of Backend.
//
// Routes, relative to the base URL:
//
//	PUT    /rest/{table}/{id}   upsert one row (JSON body)
//	DELETE /rest/{table}/{id}   delete one row
//	POST   /storage/objects     upload bytes, returns {"locator": "..."}
//	GET    /health              reachability probe
type Client struct {
	baseURL string
	http    *http.Client
	token   func(context.Context) (string, error)
	logger  *log.Logger
}

// ClientConfig configures the HTTP backend client.
type ClientConfig struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string

	// Timeout bounds each request (default: 30s).
	Timeout time.Duration

	// Token, when set, supplies a bearer token per request.
	Token func(context.Context) (string, error)

	// Logger for client activity (default: stderr logger).
	Logger *log.Logger
}

// NewClient creates an HTTP backend client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Client{
		baseURL: config.BaseURL,
		http:    &http.Client{Timeout: config.Timeout},
		token:   config.Token,
		logger:  config.Logger,
	}, nil
}

// Upsert implements Backend.Upsert.
func (c *Client) Upsert(ctx context.Context, table, id string, payload json.RawMessage) error {
	endpoint := fmt.Sprintf("%s/rest/%s/%s", c.baseURL, url.PathEscape(table), url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &BackendError{Op: "upsert", Table: table, ID: id, Transient: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, "upsert", table, id)
}

// Delete implements Backend.Delete.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	endpoint := fmt.Sprintf("%s/rest/%s/%s", c.baseURL, url.PathEscape(table), url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return &BackendError{Op: "delete", Table: table, ID: id, Transient: false, Err: err}
	}

	err = c.do(req, "delete", table, id)

	// A row already gone remotely is success for our purposes.
	var be *BackendError
	if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// PutObject implements Backend.PutObject.
func (c *Client) PutObject(ctx context.Context, data []byte, contentType string) (string, error) {
	endpoint := c.baseURL + "/storage/objects"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", &BackendError{Op: "put_object", Transient: false, Err: err}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	if err := c.authorize(req); err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &BackendError{Op: "put_object", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.statusError(resp, "put_object", "", "")
	}

	var out struct {
		Locator string `json:"locator"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &BackendError{Op: "put_object", Transient: false,
			Err: fmt.Errorf("failed to decode storage response: %w", err)}
	}
	if out.Locator == "" {
		return "", &BackendError{Op: "put_object", Transient: false,
			Err: fmt.Errorf("storage response missing locator")}
	}

	return out.Locator, nil
}

// Ping implements Backend.Ping.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return &BackendError{Op: "ping", Transient: false, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &BackendError{Op: "ping", Transient: true, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &BackendError{Op: "ping", StatusCode: resp.StatusCode,
			Transient: transientStatus(resp.StatusCode),
			Err:       fmt.Errorf("health check returned %s", resp.Status)}
	}
	return nil
}

// do runs a request expecting a 2xx response with no interesting body.
func (c *Client) do(req *http.Request, op, table, id string) error {
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &BackendError{Op: op, Table: table, ID: id, Transient: true, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp, op, table, id)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) error {
	if c.token == nil {
		return nil
	}
	tok, err := c.token(req.Context())
	if err != nil {
		// Token refresh failures are usually expiry races; retry later.
		return &BackendError{Op: "auth", Transient: true, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

func (c *Client) statusError(resp *http.Response, op, table, id string) error {
	return &BackendError{
		Op:         op,
		Table:      table,
		ID:         id,
		StatusCode: resp.StatusCode,
		Transient:  transientStatus(resp.StatusCode),
		Err:        fmt.Errorf("backend returned %s", resp.Status),
	}
}
