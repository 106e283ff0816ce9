// Package api holds the HTTP clients the authentication core talks through:
// the upstream identity-governance API (token exchange and the tenant probe)
// and the stateless relay that runs the browser OAuth exchange for us.
package api

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
	"unicode/utf8"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller may retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StatusError carries the HTTP status and a sanitized body excerpt of a
// non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// IsAuthStatus reports whether err carries an HTTP 401 or 403, meaning the
// presented credential was rejected rather than the request failing.
func IsAuthStatus(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}

	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024
)

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents bearer tokens from
// leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// Client is the shared JSON-over-HTTP plumbing.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client with the given http.Client. If httpClient is
// nil, a client with a 30-second timeout and same-host redirect policy is
// created.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{httpClient: httpClient}
}

// HTTPClient exposes the underlying http.Client for collaborators that bring
// their own transport layer (the client-credentials exchange).
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do issues a request with an optional JSON body and bearer token and
// returns the raw status and body. Network failures come back wrapped in
// TransientError.
func (c *Client) do(ctx context.Context, method, url, bearer string, body any) (int, []byte, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts, connection refused, DNS failures: transient by nature.
		return 0, nil, &TransientError{Err: fmt.Errorf("sending request to %s: %w", url, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return resp.StatusCode, respBody, nil
}

// doJSON issues a request and decodes a 2xx response into result. Non-2xx
// statuses come back as StatusError (5xx and 429 additionally wrapped as
// transient).
func (c *Client) doJSON(ctx context.Context, method, url, bearer string, body, result any) error {
	status, respBody, err := c.do(ctx, method, url, bearer, body)
	if err != nil {
		return err
	}

	if status < 200 || status > 299 {
		statusErr := &StatusError{StatusCode: status, Body: sanitizeResponseBody(respBody)}
		if isTransientStatus(status) {
			return &TransientError{Err: statusErr}
		}

		return statusErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", url, err)
		}
	}

	return nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// Tenant is the identity record returned by the probe endpoint.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// tenantProbePath is the one authenticated endpoint the core calls against
// the upstream API, used purely to confirm a token is accepted server-side.
const tenantProbePath = "/v2024/tenant"

// FetchTenant issues the authenticated "who am I" probe against the
// upstream API. Success means the token is accepted server-side regardless
// of local expiry bookkeeping.
func (c *Client) FetchTenant(ctx context.Context, baseURL, token string) (*Tenant, error) {
	var tenant Tenant

	url := strings.TrimRight(baseURL, "/") + tenantProbePath
	if err := c.doJSON(ctx, http.MethodGet, url, token, nil, &tenant); err != nil {
		return nil, fmt.Errorf("fetching tenant: %w", err)
	}

	return &tenant, nil
}
