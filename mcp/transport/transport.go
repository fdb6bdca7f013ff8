package transport

import (
	"context"
	"net/http"
)

// MaxFrameSize is the maximum size of a single push frame line.
const MaxFrameSize = 4 * 1024 * 1024

// ConnectionState is the lifecycle state of the push channel.
type ConnectionState int32

const (
	// StateDisconnected is the initial state, and the state after Close.
	StateDisconnected ConnectionState = iota
	// StateConnecting is set while the push channel is being opened.
	StateConnecting
	// StateReady is set once the push channel is opened.
	StateReady
	// StateFailed is set when the channel errored, before or after ready.
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// MessageHandler is called for every message received on the push channel.
type MessageHandler func(ctx context.Context, msg *Message)

// PushChannel is the persistent server-to-client channel.
type PushChannel interface {
	// Connect opens the channel and blocks until it is ready or failed.
	Connect(ctx context.Context) error
	// State returns the current connection state.
	State() ConnectionState
	// SetMessageHandler sets the handler for inbound messages.
	SetMessageHandler(handler MessageHandler)
	// SetErrorHandler sets the handler for channel failures after ready.
	SetErrorHandler(handler func(error))
	// SetEndpointHandler sets the handler for `endpoint` events,
	// the value is the absolute URL for the ad hoc requests.
	SetEndpointHandler(handler func(endpoint string))
	// Close closes the channel.
	Close() error
}

// PostResponse is the response of an ad hoc request.
type PostResponse struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// Poster is the ad hoc request channel: a point-to-point send that
// returns a single response body.
type Poster interface {
	// Post sends the message and returns the response body.
	Post(ctx context.Context, msg *Message) (*PostResponse, error)
	// SetEndpoint changes the target URL for subsequent requests.
	SetEndpoint(endpoint string)
	// Endpoint returns the current target URL.
	Endpoint() string
}
