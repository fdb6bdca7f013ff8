// Package httptransport implements the ad hoc request channel: each JSON-RPC
// message is sent as an HTTP POST, and the response body is returned as is.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/mcp/transport"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot/mcp/transport", "httptransport")

// SessionIDHeader is the header carrying the server-assigned session id
const SessionIDHeader = "Mcp-Session-Id"

// MaxBodySize is the maximum size of the response body
const MaxBodySize = 16 * 1024 * 1024

// Option configures the HTTPTransport
type Option func(*HTTPTransport)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// WithHeaders sets extra headers sent with every request
func WithHeaders(headers map[string]string) Option {
	return func(t *HTTPTransport) {
		for k, v := range headers {
			t.headers.Set(k, v)
		}
	}
}

// HTTPTransport posts JSON-RPC messages to the server endpoint
type HTTPTransport struct {
	client  *http.Client
	headers http.Header

	mu        sync.RWMutex
	endpoint  string
	sessionID string
}

var _ transport.Poster = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTP transport that posts to the specified endpoint
func NewHTTPTransport(endpoint string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		client:   http.DefaultClient,
		headers:  make(http.Header),
		endpoint: endpoint,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetEndpoint implements Poster.SetEndpoint
func (t *HTTPTransport) SetEndpoint(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.endpoint != endpoint {
		logger.KV(xlog.DEBUG, "status", "endpoint_changed", "from", t.endpoint, "to", endpoint)
	}
	t.endpoint = endpoint
}

// Endpoint implements Poster.Endpoint
func (t *HTTPTransport) Endpoint() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endpoint
}

// SessionID returns the session id assigned by the server, if any
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// ResetSession drops the server-assigned session id
func (t *HTTPTransport) ResetSession() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = ""
}

// Post implements Poster.Post
func (t *HTTPTransport) Post(ctx context.Context, message *transport.Message) (*transport.PostResponse, error) {
	js, err := json.Marshal(message)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message")
	}

	t.mu.RLock()
	endpoint := t.endpoint
	sessionID := t.sessionID
	t.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(js))
	if err != nil {
		return nil, errors.Wrapf(transport.ErrTransport, "failed to create request: %s", err.Error())
	}
	for k, v := range t.headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"method", message.Method,
		"id", message.MessageID(),
		"endpoint", endpoint,
	)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(transport.ErrTransport, "failed to post %s: %s", message.Method, err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := t.readBody(resp.Body)
	if err != nil {
		return nil, err
	}

	if sid := resp.Header.Get(SessionIDHeader); sid != "" && sid != sessionID {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
		logger.ContextKV(ctx, xlog.DEBUG, "status", "session_assigned", "session", sid)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.ContextKV(ctx, xlog.ERROR,
			"method", message.Method,
			"id", message.MessageID(),
			"status", resp.Status,
			"body", slices.StringUpto(string(body), 256),
		)
		return nil, errors.Wrapf(transport.ErrTransport, "post %s failed with status %s", message.Method, resp.Status)
	}

	return &transport.PostResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        body,
	}, nil
}

// readBody reads and returns the body from an io.Reader
func (t *HTTPTransport) readBody(reader io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(reader, MaxBodySize))
	if err != nil {
		return nil, errors.Wrapf(transport.ErrTransport, "failed to read response body: %s", err.Error())
	}
	return body, nil
}
