package mcp

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/mcp/transport"
)

var (
	// ErrNotConnected is returned when a call is attempted while the push channel is not ready
	ErrNotConnected = errors.New("MCP server is not connected")
	// ErrNotInitialized is returned when a tool operation is attempted before Initialize
	ErrNotInitialized = errors.New("MCP session is not initialized")
	// ErrTimeout is returned when no reply arrived within the request timeout
	ErrTimeout = errors.New("MCP request timed out")
	// ErrTransport is returned when the channel failed
	ErrTransport = transport.ErrTransport
)

// RemoteError is the JSON-RPC error returned by the server
type RemoteError = transport.RemoteError

// IsRemoteError returns the RemoteError if err has one in its chain
func IsRemoteError(err error) (*RemoteError, bool) {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote, true
	}
	return nil, false
}
