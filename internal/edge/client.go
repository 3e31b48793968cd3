// Package edge is the wire client for the Zephyr API and the edge
// upload endpoints. It performs single HTTP calls; retry and credential
// refresh live in the upload layer.
package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/logging"
)

// Auth-failure codes the edge and API return when a write token or
// access token is no longer accepted. The retry wrapper keys off these,
// not off the HTTP status family.
const (
	codeTokenExpired = "token_expired"
	codeTokenInvalid = "token_invalid"
)

// APIError is a non-2xx response with a decoded error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err is an auth-class failure that a
// credential refresh could fix.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeTokenExpired || apiErr.Code == codeTokenInvalid
}

// Client talks to the Zephyr API and to per-application edge URLs.
type Client struct {
	apiBaseURL string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a wire client for the given API base URL.
func NewClient(apiBaseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        logging.Component("edge"),
	}
}

// doJSON performs a request and decodes a JSON response into out (when
// out is non-nil). Non-2xx responses come back as *APIError.
func (c *Client) doJSON(ctx context.Context, method, url string, headers map[string]string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeAPIError reads the error envelope from a failed response. A
// body that is not the expected envelope still yields a usable error.
func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && (envelope.Error.Code != "" || envelope.Error.Message != "") {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(data),
	}
}

// bearer formats an Authorization header value.
func bearer(token string) string { return "Bearer " + token }
