// Package client talks to a running albaum server.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	gojson "github.com/goccy/go-json"
)

const (
	DefaultURL  = "http://127.0.0.1:7475"
	httpTimeout = 5 * time.Second
)

// Client is an HTTP client for the albaum API.
type Client struct {
	http    *http.Client
	baseURL string
}

// New creates a client for baseURL. An empty baseURL falls back to
// ALBAUM_URL and then DefaultURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("ALBAUM_URL")
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		http:    &http.Client{Timeout: httpTimeout},
		baseURL: baseURL,
	}
}

type Fact struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt,omitempty"`
	Version   int    `json:"version"`
}

type Group struct {
	Key    string `json:"key"`
	Score  int    `json:"score"`
	Pinned bool   `json:"pinned"`
	Single bool   `json:"single"`
	Facts  []Fact `json:"facts"`
}

// APIError is a non-2xx response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := gojson.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(data)
		if gojson.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := gojson.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil) == nil
}

func (c *Client) Store(ctx context.Context, text string) (Fact, error) {
	var f Fact
	err := c.do(ctx, http.MethodPost, "/api/facts", map[string]string{"text": text}, &f)
	return f, err
}

func (c *Client) Lookup(ctx context.Context, text string) (Fact, error) {
	var f Fact
	err := c.do(ctx, http.MethodGet, "/api/facts?text="+url.QueryEscape(text), nil, &f)
	return f, err
}

func (c *Client) Edit(ctx context.Context, text, newText string) (Fact, error) {
	var f Fact
	err := c.do(ctx, http.MethodPut, "/api/facts", map[string]string{"text": text, "newText": newText}, &f)
	return f, err
}

func (c *Client) Delete(ctx context.Context, text string) error {
	return c.do(ctx, http.MethodDelete, "/api/facts?text="+url.QueryEscape(text), nil, nil)
}

// Search runs q on the server and returns the grouped results.
func (c *Client) Search(ctx context.Context, q string) ([]Group, error) {
	var resp struct {
		Results []Group `json:"results"`
	}
	err := c.do(ctx, http.MethodGet, "/api/search?q="+url.QueryEscape(q), nil, &resp)
	return resp.Results, err
}
