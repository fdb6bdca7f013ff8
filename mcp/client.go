// Package mcp provides the MCP protocol client.
//
// The client speaks JSON-RPC 2.0 over a hybrid transport: a persistent push
// channel opened with Connect, and ad hoc POST requests for each call.
// The reply to a call may arrive directly in the POST response body, as a frame
// embedded in that body, or later on the push channel.
//
//	client := mcp.NewClient("http://localhost:3001/sse")
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if _, err := client.Initialize(ctx); err != nil {
//	    return err
//	}
//	tools, err := client.ListTools(ctx)
package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/mcp/internal/protocol"
	"github.com/effective-security/mcpbot/mcp/transport"
	"github.com/effective-security/mcpbot/mcp/transport/httptransport"
	"github.com/effective-security/mcpbot/mcp/transport/sse"
	"github.com/effective-security/mcpbot/pkg/metricskey"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot", "mcp")

// DefaultClientName is the client name sent on initialize
const DefaultClientName = "mcpbot"

// DefaultClientVersion is the client version sent on initialize
const DefaultClientVersion = "1.0.0"

// maxListPages limits the tools/list pagination
const maxListPages = 100

// Client is the MCP protocol client.
// It is safe for concurrent use, all conversations share one client.
type Client struct {
	url            string
	httpClient     *http.Client
	headers        map[string]string
	requestTimeout time.Duration
	connectTimeout time.Duration
	clientInfo     ImplementationInfo

	push       transport.PushChannel
	poster     transport.Poster
	correlator *protocol.Correlator

	initLock   sync.Mutex
	initResult *InitializeResult
}

// NewClient returns a client for the server URL.
// The URL is used for the push channel, and for POST requests until the
// server announces a different endpoint.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		headers:        map[string]string{},
		requestTimeout: protocol.DefaultRequestTimeout,
		connectTimeout: sse.DefaultConnectTimeout,
		clientInfo: ImplementationInfo{
			Name:    DefaultClientName,
			Version: DefaultClientVersion,
		},
		correlator: protocol.NewCorrelator(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.push == nil {
		sopts := []sse.Option{
			sse.WithHeaders(c.headers),
			sse.WithConnectTimeout(c.connectTimeout),
		}
		if c.httpClient != nil {
			sopts = append(sopts, sse.WithHTTPClient(c.httpClient))
		}
		c.push = sse.NewSession(url, sopts...)
	}
	if c.poster == nil {
		popts := []httptransport.Option{
			httptransport.WithHeaders(c.headers),
		}
		if c.httpClient != nil {
			popts = append(popts, httptransport.WithHTTPClient(c.httpClient))
		}
		c.poster = httptransport.NewHTTPTransport(url, popts...)
	}

	c.push.SetMessageHandler(func(_ context.Context, msg *transport.Message) {
		c.correlator.Deliver(msg)
	})
	c.push.SetErrorHandler(c.onChannelLost)
	c.push.SetEndpointHandler(c.poster.SetEndpoint)

	return c
}

// URL returns the server URL
func (c *Client) URL() string {
	return c.url
}

// SetNotificationHandler registers a handler for server notifications,
// use "*" for the fallback handler.
func (c *Client) SetNotificationHandler(method string, handler func(method string, params json.RawMessage)) {
	if handler == nil {
		c.correlator.SetNotificationHandler(method, nil)
		return
	}
	c.correlator.SetNotificationHandler(method, func(msg *transport.Message) {
		handler(msg.Method, msg.Params)
	})
}

// Connect opens the push channel and blocks until it is ready or failed.
// The session must be initialized again after Connect,
// unless the channel was already ready.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsReady() {
		return nil
	}
	c.resetSession()
	if err := c.push.Connect(ctx); err != nil {
		return err
	}
	logger.ContextKV(ctx, xlog.INFO, "status", "connected", "url", c.url)
	return nil
}

// State returns the state of the push channel
func (c *Client) State() transport.ConnectionState {
	return c.push.State()
}

// IsReady returns true if the push channel is ready
func (c *Client) IsReady() bool {
	return c.push.State() == transport.StateReady
}

// IsInitialized returns true if the initialize handshake completed on the current session
func (c *Client) IsInitialized() bool {
	c.initLock.Lock()
	defer c.initLock.Unlock()
	return c.initResult != nil
}

// Pending returns the number of calls awaiting a reply
func (c *Client) Pending() int {
	return c.correlator.Pending()
}

func (c *Client) resetSession() {
	c.initLock.Lock()
	c.initResult = nil
	c.initLock.Unlock()

	if r, ok := c.poster.(interface{ ResetSession() }); ok {
		r.ResetSession()
	}
}

func (c *Client) onChannelLost(err error) {
	// fail first, Initialize may hold initLock while waiting for a reply
	count := c.correlator.FailAll(err)

	c.initLock.Lock()
	c.initResult = nil
	c.initLock.Unlock()

	logger.KV(xlog.ERROR,
		"status", "channel_lost",
		"url", c.url,
		"failed_calls", count,
		"err", err.Error(),
	)
}

// Initialize performs the initialize handshake, and sends the initialized notification.
// Subsequent calls on the same session return the cached result.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	c.initLock.Lock()
	defer c.initLock.Unlock()

	if c.initResult != nil {
		return c.initResult, nil
	}

	params := &InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ClientCapabilities{
			Roots:    &RootsCapability{ListChanged: true},
			Sampling: &SamplingCapability{},
		},
		ClientInfo: c.clientInfo,
	}

	raw, err := c.Call(ctx, "initialize", params)
	if err != nil {
		return nil, errors.WithMessage(err, "initialize failed")
	}

	res := new(InitializeResult)
	if err = json.Unmarshal(raw, res); err != nil {
		return nil, errors.Wrap(err, "failed to decode initialize result")
	}

	if err = c.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, errors.WithMessage(err, "initialized notification failed")
	}

	c.initResult = res
	logger.ContextKV(ctx, xlog.INFO,
		"status", "initialized",
		"server", res.ServerInfo.Name,
		"version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion,
	)
	return res, nil
}

// Call sends the request and waits for its reply.
// Remote failures are returned as *RemoteError.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !c.IsReady() {
		metricskey.StatsMCPCallsFailed.IncrCounter(1, method)
		return nil, errors.WithMessagef(ErrNotConnected, "unable to call %s", method)
	}

	id := uuid.NewString()
	msg, err := transport.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch, err := c.correlator.Register(id)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer metricskey.PerfMCPCall.MeasureSince(started, method)

	logger.ContextKV(ctx, xlog.DEBUG, "method", method, "id", id)

	// the timeout covers the POST exchange and the wait for the reply
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.poster.Post(callCtx, msg)
	if err != nil {
		c.correlator.Discard(id)
		if ctx.Err() != nil {
			metricskey.StatsMCPCallsFailed.IncrCounter(1, method)
			return nil, errors.WithStack(ctx.Err())
		}
		if callCtx.Err() != nil {
			return nil, c.timeoutError(ctx, method, id)
		}
		metricskey.StatsMCPCallsFailed.IncrCounter(1, method)
		logger.ContextKV(ctx, xlog.ERROR,
			"method", method,
			"id", id,
			"err", err.Error(),
		)
		return nil, err
	}

	if c.correlator.DeliverBody(id, resp.Body) {
		logger.ContextKV(ctx, xlog.DEBUG, "status", "settled_by_body", "method", method, "id", id)
	}

	var out protocol.Outcome
	select {
	case out = <-ch:
	case <-callCtx.Done():
		if !c.correlator.Discard(id) {
			// settled concurrently
			out = <-ch
			break
		}
		if ctx.Err() != nil {
			metricskey.StatsMCPCallsFailed.IncrCounter(1, method)
			return nil, errors.WithStack(ctx.Err())
		}
		return nil, c.timeoutError(ctx, method, id)
	}

	if out.Err != nil {
		metricskey.StatsMCPCallsFailed.IncrCounter(1, method)
		logger.ContextKV(ctx, xlog.DEBUG,
			"method", method,
			"id", id,
			"err", out.Err.Error(),
		)
		return nil, out.Err
	}

	metricskey.StatsMCPCallsSucceeded.IncrCounter(1, method)
	logger.ContextKV(ctx, xlog.DEBUG,
		"method", method,
		"id", id,
		"result", slices.StringUpto(string(out.Result), 128),
	)
	return out.Result, nil
}

func (c *Client) timeoutError(ctx context.Context, method, id string) error {
	metricskey.StatsMCPTimeouts.IncrCounter(1, method)
	logger.ContextKV(ctx, xlog.WARNING,
		"status", "timeout",
		"method", method,
		"id", id,
		"timeout", c.requestTimeout.String(),
	)
	return errors.WithMessagef(ErrTimeout, "%s after %s", method, c.requestTimeout)
}

// Notify sends a notification, only the transport failures are returned.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if !c.IsReady() {
		return errors.WithMessagef(ErrNotConnected, "unable to notify %s", method)
	}

	msg, err := transport.NewNotification(method, params)
	if err != nil {
		return err
	}

	resp, err := c.poster.Post(ctx, msg)
	if err != nil {
		return err
	}
	// frames embedded in the response may carry replies for other calls
	if transport.HasFrames(resp.Body) {
		for _, m := range transport.EmbeddedFrames(resp.Body) {
			c.correlator.Deliver(m)
		}
	}
	return nil
}

func (c *Client) checkSession() error {
	if !c.IsReady() {
		return ErrNotConnected
	}
	if !c.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

// ListTools returns the tool catalog, following the pagination cursor.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if err := c.checkSession(); err != nil {
		return nil, errors.WithMessage(err, "unable to list tools")
	}

	var tools []ToolDescriptor
	cursor := ""
	for range maxListPages {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}

		raw, err := c.Call(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}

		var res ListToolsResult
		if err = json.Unmarshal(raw, &res); err != nil {
			return nil, errors.Wrap(err, "failed to decode tools/list result")
		}
		tools = append(tools, res.Tools...)

		if res.NextCursor == "" || res.NextCursor == cursor {
			break
		}
		cursor = res.NextCursor
	}

	logger.ContextKV(ctx, xlog.DEBUG, "status", "tools_listed", "count", len(tools))
	return tools, nil
}

// CallTool invokes the tool with arguments.
// A tool failure reported by the server is returned as result with IsError set.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if err := c.checkSession(); err != nil {
		return nil, errors.WithMessagef(err, "unable to call tool %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}

	raw, err := c.Call(ctx, "tools/call", &CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	res := new(CallToolResult)
	if err = json.Unmarshal(raw, res); err != nil {
		return nil, errors.Wrapf(err, "failed to decode tools/call result for %s", name)
	}
	return res, nil
}

// Close closes the push channel, and fails all pending calls with ErrNotConnected
func (c *Client) Close() error {
	err := c.push.Close()
	c.correlator.FailAll(ErrNotConnected)
	c.resetSession()
	logger.KV(xlog.INFO, "status", "closed", "url", c.url)
	return err
}
