package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shoplytics/cartsync/internal/events"
)

// ErrTransient marks transport failures and server errors that the next
// scheduled invocation should retry. Permanent failures (4xx) are returned
// unwrapped from it.
var ErrTransient = errors.New("transient transport error")

// APIError carries the backend's response for a rejected call.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// Is lets callers match transient failures with errors.Is(err, ErrTransient).
func (e *APIError) Is(target error) bool {
	return target == ErrTransient && e.StatusCode >= 500
}

// Client is the outbound analytics API. No built-in retry: retry is the state
// machine's responsibility.
type Client interface {
	PostEvent(ctx context.Context, payload events.Payload) error
	PostBulk(ctx context.Context, records []events.Payload) error
}

// HTTPClient talks to the analytics backend over authenticated HTTPS with a
// bounded timeout.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient returns a client for baseURL authenticated with apiKey.
func NewHTTPClient(baseURL, apiKey string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// PostEvent submits a single live event.
func (c *HTTPClient) PostEvent(ctx context.Context, payload events.Payload) error {
	return c.post(ctx, "/v1/events", payload)
}

// PostBulk submits a batch of historical records in one call.
func (c *HTTPClient) PostBulk(ctx context.Context, records []events.Payload) error {
	return c.post(ctx, "/v1/events/bulk", map[string]interface{}{"records": records})
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{StatusCode: resp.StatusCode, Body: string(snippet)}
}
