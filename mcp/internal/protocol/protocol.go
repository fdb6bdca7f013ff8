// Package protocol implements the request correlator: the table of in-flight
// JSON-RPC calls keyed by request id.
//
// A call is registered before its request is sent, and is settled exactly once
// by whichever reply arrives first: a direct reply in the POST response body,
// a frame embedded in that body, or a message on the push channel.
// Late and duplicate replies are dropped.
//
// Usage:
//
//	c := protocol.NewCorrelator()
//	ch, err := c.Register(id)
//	// send the request, then
//	c.DeliverBody(id, responseBody)
//	select {
//	case out := <-ch:
//	case <-time.After(timeout):
//	    c.Discard(id)
//	}
package protocol

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot/mcp/internal", "protocol")

// DefaultRequestTimeout is the default time to wait for a reply
const DefaultRequestTimeout = 60 * time.Second

// ErrInvariantViolation is returned when a request id is registered twice
var ErrInvariantViolation = errors.New("invariant violation")

// Outcome is the settled result of a call: exactly one of Result or Err
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// NotificationHandler is called for notifications received from the server
type NotificationHandler func(msg *transport.Message)

// Correlator matches replies to pending calls.
// It is safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan Outcome

	hmu                  sync.RWMutex
	notificationHandlers map[string]NotificationHandler
}

// NewCorrelator returns an empty Correlator
func NewCorrelator() *Correlator {
	return &Correlator{
		pending:              make(map[string]chan Outcome),
		notificationHandlers: make(map[string]NotificationHandler),
	}
}

// Register creates a pending call for id.
// The returned channel receives exactly one Outcome, unless the call is discarded.
func (c *Correlator) Register(id string) (<-chan Outcome, error) {
	if id == "" {
		return nil, errors.WithMessage(ErrInvariantViolation, "empty request id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; ok {
		return nil, errors.WithMessagef(ErrInvariantViolation, "duplicate request id: %s", id)
	}
	ch := make(chan Outcome, 1)
	c.pending[id] = ch
	return ch, nil
}

// take removes and returns the pending entry
func (c *Correlator) take(id string) chan Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return ch
}

// Resolve settles the call with result.
// Returns false if id is not pending.
func (c *Correlator) Resolve(id string, result json.RawMessage) bool {
	ch := c.take(id)
	if ch == nil {
		return false
	}
	ch <- Outcome{Result: result}
	return true
}

// Fail settles the call with err.
// Returns false if id is not pending.
func (c *Correlator) Fail(id string, err error) bool {
	ch := c.take(id)
	if ch == nil {
		return false
	}
	ch <- Outcome{Err: err}
	return true
}

// Discard removes the call without settling it.
// Replies arriving afterwards are dropped.
func (c *Correlator) Discard(id string) bool {
	return c.take(id) != nil
}

// FailAll settles every pending call with err, and returns the number of calls failed
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan Outcome)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- Outcome{Err: err}
	}
	if len(pending) > 0 {
		logger.KV(xlog.NOTICE, "status", "failed_pending", "count", len(pending), "err", err.Error())
	}
	return len(pending)
}

// Pending returns the number of pending calls
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsPending returns true if id is pending
func (c *Correlator) IsPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// SetNotificationHandler registers a handler to invoke when a notification
// with the given method is received.
// Use "*" to register the fallback handler.
func (c *Correlator) SetNotificationHandler(method string, handler NotificationHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	if handler == nil {
		delete(c.notificationHandlers, method)
		return
	}
	c.notificationHandlers[method] = handler
}

// Deliver routes an inbound message.
// Returns true if the message settled a pending call.
func (c *Correlator) Deliver(msg *transport.Message) bool {
	switch msg.Type() {
	case transport.MessageTypeResponse:
		if c.Resolve(msg.MessageID(), msg.Result) {
			return true
		}
	case transport.MessageTypeError:
		if c.Fail(msg.MessageID(), transport.NewRemoteError(msg.Error)) {
			return true
		}
	case transport.MessageTypeNotification:
		c.handleNotification(msg)
		return false
	case transport.MessageTypeRequest:
		logger.KV(xlog.DEBUG, "status", "unsupported_request", "method", msg.Method, "id", msg.MessageID())
		return false
	default:
		logger.KV(xlog.WARNING, "status", "malformed_message")
		return false
	}

	logger.KV(xlog.DEBUG, "status", "uncorrelated", "id", msg.MessageID())
	return false
}

func (c *Correlator) handleNotification(msg *transport.Message) {
	logger.KV(xlog.DEBUG, "status", "notification", "method", msg.Method)

	c.hmu.RLock()
	handler := c.notificationHandlers[msg.Method]
	if handler == nil {
		handler = c.notificationHandlers["*"]
	}
	c.hmu.RUnlock()

	if handler != nil {
		handler(msg)
	}
}

// DeliverBody applies the ad hoc response body for the call id:
// embedded frames are delivered first, in order; if id is still pending,
// the body is tried as a direct reply with the same id.
// Otherwise the call stays pending for the push channel.
// Returns true if the call was settled by the body.
func (c *Correlator) DeliverBody(id string, body []byte) bool {
	if transport.HasFrames(body) {
		wasPending := c.IsPending(id)
		for _, msg := range transport.EmbeddedFrames(body) {
			c.Deliver(msg)
		}
		return wasPending && !c.IsPending(id)
	}

	if transport.PeekID(body) != id {
		return false
	}
	msg := transport.DirectMessage(body)
	if msg == nil {
		return false
	}
	return c.Deliver(msg)
}
