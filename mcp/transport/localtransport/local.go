// Package localtransport provides an in-process MCP server loopback,
// implementing both the push channel and the ad hoc request channel.
// It is used to run the client against local handlers without a network.
package localtransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot/mcp/transport", "localtransport")

// ReplyMode specifies how replies are returned to the client
type ReplyMode int

const (
	// ReplyDirect returns the reply as the JSON body of the POST response
	ReplyDirect ReplyMode = iota
	// ReplyEmbedded returns the reply as a `data:` frame in the POST response
	ReplyEmbedded
	// ReplyPush accepts the POST, and sends the reply on the push channel
	ReplyPush
)

// Handler handles a request and returns its result.
// Return *transport.RemoteError to reply with a specific JSON-RPC error.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Router maps methods to handlers
type Router map[string]Handler

// Transport is the loopback transport
type Transport struct {
	router Router

	mode  atomic.Int32
	state atomic.Int32

	mu              sync.RWMutex
	messageHandler  transport.MessageHandler
	errorHandler    func(error)
	endpointHandler func(string)
	endpoint        string
	connectErr      error
	received        []*transport.Message
}

var (
	_ transport.PushChannel = (*Transport)(nil)
	_ transport.Poster      = (*Transport)(nil)
)

// New returns the loopback transport serving the router
func New(router Router) *Transport {
	return &Transport{
		router:   router,
		endpoint: "local://mcp",
	}
}

// SetReplyMode changes how subsequent replies are returned
func (t *Transport) SetReplyMode(mode ReplyMode) {
	t.mode.Store(int32(mode))
}

// SetConnectError makes subsequent Connect calls fail with err, or succeed if nil
func (t *Transport) SetConnectError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

// Connect implements PushChannel.Connect
func (t *Transport) Connect(_ context.Context) error {
	t.mu.RLock()
	err := t.connectErr
	t.mu.RUnlock()

	if err != nil {
		t.state.Store(int32(transport.StateFailed))
		return errors.Wrapf(transport.ErrTransport, "failed to open push channel: %s", err.Error())
	}
	t.state.Store(int32(transport.StateReady))
	return nil
}

// State implements PushChannel.State
func (t *Transport) State() transport.ConnectionState {
	return transport.ConnectionState(t.state.Load())
}

// Close implements PushChannel.Close
func (t *Transport) Close() error {
	t.state.Store(int32(transport.StateDisconnected))
	return nil
}

// Drop simulates the loss of the push channel
func (t *Transport) Drop(reason string) {
	t.state.Store(int32(transport.StateFailed))

	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(errors.Wrapf(transport.ErrTransport, "push channel lost: %s", reason))
	}
}

// SetMessageHandler implements PushChannel.SetMessageHandler
func (t *Transport) SetMessageHandler(handler transport.MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

// SetErrorHandler implements PushChannel.SetErrorHandler
func (t *Transport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetEndpointHandler implements PushChannel.SetEndpointHandler
func (t *Transport) SetEndpointHandler(handler func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpointHandler = handler
}

// SetEndpoint implements Poster.SetEndpoint
func (t *Transport) SetEndpoint(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoint = endpoint
}

// Endpoint implements Poster.Endpoint
func (t *Transport) Endpoint() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endpoint
}

// Push sends the message to the client on the push channel
func (t *Transport) Push(ctx context.Context, msg *transport.Message) {
	t.mu.RLock()
	handler := t.messageHandler
	t.mu.RUnlock()
	if handler != nil && t.State() == transport.StateReady {
		handler(ctx, msg)
	}
}

// Announce sends the `endpoint` event to the client
func (t *Transport) Announce(endpoint string) {
	t.mu.RLock()
	handler := t.endpointHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(endpoint)
	}
}

// Received returns the methods received by the server, in order
func (t *Transport) Received() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := make([]string, 0, len(t.received))
	for _, m := range t.received {
		list = append(list, m.Method)
	}
	return list
}

// Post implements Poster.Post
func (t *Transport) Post(ctx context.Context, msg *transport.Message) (*transport.PostResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(transport.ErrTransport, err.Error())
	}

	t.mu.Lock()
	t.received = append(t.received, msg)
	t.mu.Unlock()

	if msg.Type() != transport.MessageTypeRequest {
		return &transport.PostResponse{StatusCode: http.StatusAccepted}, nil
	}

	reply := t.serve(ctx, msg)
	switch ReplyMode(t.mode.Load()) {
	case ReplyPush:
		go t.Push(context.Background(), reply)
		return &transport.PostResponse{
			StatusCode: http.StatusAccepted,
			Body:       []byte("Accepted"),
		}, nil
	case ReplyEmbedded:
		js, err := json.Marshal(reply)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return &transport.PostResponse{
			StatusCode:  http.StatusOK,
			ContentType: "text/event-stream",
			Body:        fmt.Appendf(nil, "event: message\ndata: %s\n\n", js),
		}, nil
	default:
		js, err := json.Marshal(reply)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return &transport.PostResponse{
			StatusCode:  http.StatusOK,
			ContentType: "application/json",
			Body:        js,
		}, nil
	}
}

func (t *Transport) serve(ctx context.Context, msg *transport.Message) *transport.Message {
	reply := &transport.Message{
		JSONRPC: transport.Version,
		ID:      msg.ID,
	}

	handler := t.router[msg.Method]
	if handler == nil {
		reply.Error = &transport.RPCError{Code: -32601, Message: "Method not found: " + msg.Method}
		return reply
	}

	result, err := handler(ctx, msg.Params)
	if err != nil {
		logger.KV(xlog.DEBUG, "method", msg.Method, "err", err.Error())
		var remote *transport.RemoteError
		if errors.As(err, &remote) {
			reply.Error = &transport.RPCError{Code: remote.Code, Message: remote.Message, Data: remote.Data}
		} else {
			reply.Error = &transport.RPCError{Code: -32603, Message: err.Error()}
		}
		return reply
	}

	js, err := json.Marshal(result)
	if err != nil {
		reply.Error = &transport.RPCError{Code: -32603, Message: err.Error()}
		return reply
	}
	reply.Result = js
	return reply
}
