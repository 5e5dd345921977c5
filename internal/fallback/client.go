// Package fallback implements the stateless request/response transport used
// whenever no realtime channel is open. It carries the same logical message
// types as the realtime path and honors the same session identifier.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bookline/assist-widget/internal/protocol"
)

const (
	chatPath       = "/api/v1/assistant/chat"
	defaultBase    = "http://localhost:8080"
	defaultTimeout = 20 * time.Second

	// maxResponseBody caps how much of a fallback response is read.
	maxResponseBody = 1 << 20 // 1MB
)

// Client posts single chat turns to the versioned assistant endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	companyID  string
}

// NewClient builds a fallback client for one tenant. A malformed base
// address degrades to a local default rather than failing; the resulting
// requests will simply error and surface the standard notice.
func NewClient(baseAddress, companyID string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    httpBase(baseAddress),
		companyID:  companyID,
	}
}

// SetHTTPClient overrides the underlying HTTP client, for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Send posts one user message with the current session ID and decodes the
// reply as a chat_response payload. Any failure is returned as an error;
// the caller surfaces a single fixed notice and does not retry.
func (c *Client) Send(ctx context.Context, text, sessionID string) (*protocol.ChatResponse, error) {
	body, err := json.Marshal(protocol.FallbackRequest{
		Message:   text,
		SessionID: sessionID,
		CompanyID: c.companyID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode fallback request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build fallback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fallback request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("closing fallback response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fallback request: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read fallback response: %w", err)
	}

	var out protocol.ChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode fallback response: %w", err)
	}
	return &out, nil
}

// httpBase normalizes the configured base address for HTTP use.
func httpBase(baseAddress string) string {
	if baseAddress == "" {
		return defaultBase
	}
	u, err := url.Parse(baseAddress)
	if err != nil || u.Host == "" {
		return defaultBase
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
