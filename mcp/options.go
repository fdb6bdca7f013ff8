package mcp

import (
	"net/http"
	"time"

	"github.com/effective-security/mcpbot/mcp/transport"
)

// Option configures the Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used by both channels.
// The client must not have a global Timeout, as the push channel is long lived.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithHeader adds a header sent on both channels
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithHeaders adds headers sent on both channels
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithRequestTimeout sets the time to wait for a reply
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.requestTimeout = timeout
		}
	}
}

// WithConnectTimeout sets the time to wait for the push channel to become ready
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.connectTimeout = timeout
		}
	}
}

// WithClientInfo sets the client name and version sent on initialize
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientInfo = ImplementationInfo{Name: name, Version: version}
	}
}

// WithPushChannel sets the push channel, by default the SSE session is used
func WithPushChannel(push transport.PushChannel) Option {
	return func(c *Client) {
		c.push = push
	}
}

// WithPoster sets the ad hoc request channel, by default HTTP POST is used
func WithPoster(poster transport.Poster) Option {
	return func(c *Client) {
		c.poster = poster
	}
}
