// Package transport defines the JSON-RPC 2.0 message model shared by the
// push channel, the ad hoc request channel and the request correlator.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Version is the JSON-RPC protocol version carried in every envelope.
const Version = "2.0"

// ErrTransport is the sentinel for channel-level failures.
// Use errors.Is(err, ErrTransport) to test for it.
var ErrTransport = errors.New("mcp transport error")

// RequestID is a JSON-RPC id. The server may echo ids as strings or numbers,
// both are normalized to the string form.
type RequestID string

// UnmarshalJSON accepts both string and numeric ids.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "invalid request id")
		}
		*id = RequestID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrap(err, "invalid request id")
	}
	*id = RequestID(n.String())
	return nil
}

// String returns the id as string
func (id RequestID) String() string {
	return string(id)
}

// MessageType is the classification of an inbound JSON-RPC message.
type MessageType int

const (
	// MessageTypeInvalid is a message that is neither a request, a notification or a response.
	MessageTypeInvalid MessageType = iota
	// MessageTypeRequest is a server to client request with id and method.
	MessageTypeRequest
	// MessageTypeNotification is a message with method and without id.
	MessageTypeNotification
	// MessageTypeResponse is a successful reply with id and result.
	MessageTypeResponse
	// MessageTypeError is a failed reply with id and error.
	MessageTypeError
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeNotification:
		return "notification"
	case MessageTypeResponse:
		return "response"
	case MessageTypeError:
		return "error"
	}
	return "invalid"
}

// Message is a JSON-RPC 2.0 envelope.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a JSON-RPC reply.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Type returns the classification of the message
func (m *Message) Type() MessageType {
	hasID := m.ID != nil && *m.ID != ""
	switch {
	case m.Method != "" && hasID:
		return MessageTypeRequest
	case m.Method != "":
		return MessageTypeNotification
	case hasID && m.Error != nil:
		return MessageTypeError
	case hasID:
		return MessageTypeResponse
	}
	return MessageTypeInvalid
}

// MessageID returns the id of the message, or empty string for notifications
func (m *Message) MessageID() string {
	if m.ID == nil {
		return ""
	}
	return string(*m.ID)
}

// NewRequest returns a request envelope
func NewRequest(id string, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	rid := RequestID(id)
	return &Message{
		JSONRPC: Version,
		ID:      &rid,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewNotification returns a notification envelope
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}
	return raw, nil
}

// ParseMessage decodes a single JSON-RPC envelope.
func ParseMessage(data []byte) (*Message, error) {
	msg := new(Message)
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errors.Wrap(err, "malformed JSON-RPC message")
	}
	if msg.Type() == MessageTypeInvalid {
		return nil, errors.New("malformed JSON-RPC message: missing id and method")
	}
	return msg, nil
}

// RemoteError is a JSON-RPC error object returned by the remote server.
type RemoteError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

// NewRemoteError returns RemoteError from the RPC error object
func NewRemoteError(e *RPCError) *RemoteError {
	return &RemoteError{
		Code:    e.Code,
		Message: e.Message,
		Data:    e.Data,
	}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
