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
	"time"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 4 << 20
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithBaseTransport replaces the underlying RoundTripper (tests, proxies).
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport.base = rt
	}
}

// Client talks to the RiskWise REST API.
type Client struct {
	baseURL   string
	http      *http.Client
	transport *authTransport
}

// New creates a client for the API rooted at baseURL
// (e.g. "https://api.riskwise.example/api").
func New(baseURL string, opts ...Option) *Client {
	t := &authTransport{base: http.DefaultTransport}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: t,
		http:      &http.Client{Timeout: defaultTimeout, Transport: t},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind installs the token source and the rejection handler. It must be
// called during wiring, before the client serves requests.
func (c *Client) Bind(tokens TokenSource, onReject RejectionHandler) {
	c.transport.tokens = tokens
	c.transport.onReject = onReject
}

// Do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	raw, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindDecode, Method: method, Path: path, Err: err}
	}
	return nil
}

// Get fetches path and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Raw sends a request and returns the undecoded response body. Used for
// passthrough endpoints whose payloads the console does not interpret.
func (c *Client) Raw(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	raw, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && !json.Valid(raw) {
		return nil, &Error{Kind: KindDecode, Method: method, Path: path, Err: errors.New("response is not JSON")}
	}
	return raw, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case json.RawMessage:
			reader = bytes.NewReader(b)
		default:
			buf, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encoding %s %s body: %w", method, path, err)
			}
			reader = bytes.NewReader(buf)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: kindForTransport(err), Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &Error{Kind: kindForTransport(err), Status: resp.StatusCode, Method: method, Path: path, Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Kind:    kindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Method:  method,
			Path:    path,
			Message: errorMessage(raw),
		}
	}
	return raw, nil
}

// errorMessage extracts {"message": ...} or {"error": ...} from an error body.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		return body.Error
	}
	return ""
}
